// Package batch fans generation out across many base nodes with a bounded
// number of workers.
package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/gencanvas/internal/metrics"
	"github.com/user/gencanvas/internal/orchestrator"
	"github.com/user/gencanvas/internal/types"
)

const (
	MinConcurrency     = 1
	MaxConcurrency     = 6
	DefaultConcurrency = 3
)

// Generator runs one base node. *orchestrator.Orchestrator satisfies it.
type Generator interface {
	GenerateFromNode(ctx context.Context, baseID types.NodeID, opts orchestrator.Options) (*orchestrator.Result, error)
}

// NodeSource is the read and selection surface of the graph store.
type NodeSource interface {
	Node(id types.NodeID) (*types.Node, bool)
	SetSelection(ids []types.NodeID)
}

type Options struct {
	Concurrency int
	Mode        orchestrator.Mode
}

// Summary reports what one batch run did. Succeeded, Failed and Incomplete
// together cover every base that produced children.
type Summary struct {
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	Incomplete     int            `json:"incomplete"`
	SkippedEmpty   int            `json:"skipped_empty"`
	SkippedMissing int            `json:"skipped_missing"`
	Errored        int            `json:"errored"`
	Workers        int            `json:"workers"`
	Elapsed        time.Duration  `json:"elapsed"`
	ChildIDs       []types.NodeID `json:"child_ids"`
}

type Scheduler struct {
	gen    Generator
	nodes  NodeSource
	logger *slog.Logger
}

func New(gen Generator, nodes NodeSource) *Scheduler {
	return &Scheduler{gen: gen, nodes: nodes, logger: slog.Default()}
}

// ClampConcurrency maps n into [MinConcurrency, MaxConcurrency]; zero or
// less means DefaultConcurrency.
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	}
	return n
}

// Partition deals ids round-robin into min(workers, len(ids)) queues.
func Partition(ids []types.NodeID, workers int) [][]types.NodeID {
	if workers > len(ids) {
		workers = len(ids)
	}
	if workers <= 0 {
		return nil
	}
	queues := make([][]types.NodeID, workers)
	for i, id := range ids {
		queues[i%workers] = append(queues[i%workers], id)
	}
	return queues
}

type outcome struct {
	children []types.NodeID
	result   string
}

// Run generates from every runnable id. Missing nodes and nodes without an
// effective prompt are skipped and counted. Queues are fixed before any
// call starts; each worker drains its own queue one base at a time. When
// all workers are done the produced children become the selection.
func (s *Scheduler) Run(ctx context.Context, ids []types.NodeID, opts Options) (*Summary, error) {
	start := time.Now()
	if opts.Mode == "" {
		opts.Mode = orchestrator.ModeGenerate
	}
	sum := &Summary{}

	seen := make(map[types.NodeID]bool, len(ids))
	var runnable []types.NodeID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		n, ok := s.nodes.Node(id)
		switch {
		case !ok || n.Archived:
			sum.SkippedMissing++
		case !types.HasEffectivePrompt(n.Prompt, n.PromptParts):
			sum.SkippedEmpty++
		default:
			runnable = append(runnable, id)
		}
	}

	queues := Partition(runnable, ClampConcurrency(opts.Concurrency))
	sum.Workers = len(queues)
	metrics.BatchWorkers.Set(float64(sum.Workers))

	index := make(map[types.NodeID]int, len(runnable))
	for i, id := range runnable {
		index[id] = i
	}
	outcomes := make([]outcome, len(runnable))

	var g errgroup.Group
	for w, queue := range queues {
		g.Go(func() error {
			for _, id := range queue {
				outcomes[index[id]] = s.runOne(ctx, w, id, opts.Mode)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		sum.ChildIDs = append(sum.ChildIDs, o.children...)
		switch o.result {
		case "succeeded":
			sum.Succeeded++
		case "failed":
			sum.Failed++
		case "incomplete":
			sum.Incomplete++
		default:
			sum.Errored++
		}
		metrics.BatchBasesTotal.WithLabelValues(o.result).Inc()
	}
	metrics.BatchBasesTotal.WithLabelValues("skipped_empty").Add(float64(sum.SkippedEmpty))
	metrics.BatchBasesTotal.WithLabelValues("skipped_missing").Add(float64(sum.SkippedMissing))

	if len(sum.ChildIDs) > 0 {
		s.nodes.SetSelection(sum.ChildIDs)
	}
	sum.Elapsed = time.Since(start)

	s.logger.Info("batch finished",
		"mode", opts.Mode,
		"workers", sum.Workers,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"incomplete", sum.Incomplete,
		"skipped_empty", sum.SkippedEmpty,
		"skipped_missing", sum.SkippedMissing,
		"errored", sum.Errored,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

func (s *Scheduler) runOne(ctx context.Context, worker int, id types.NodeID, mode orchestrator.Mode) outcome {
	res, err := s.gen.GenerateFromNode(ctx, id, orchestrator.Options{Mode: mode, Silent: true})
	if err != nil {
		s.logger.Warn("batch base failed to start", "worker", worker, "node_id", id, "error", err)
		return outcome{result: "errored"}
	}
	if len(res.ChildIDs) == 0 {
		return outcome{result: "errored"}
	}
	return outcome{children: res.ChildIDs, result: s.classify(res.ChildIDs)}
}

// classify reads the children's current status: any completed child makes
// the base succeeded, any unsettled or vanished child makes it incomplete.
func (s *Scheduler) classify(children []types.NodeID) string {
	incomplete := false
	for _, id := range children {
		n, ok := s.nodes.Node(id)
		if !ok {
			incomplete = true
			continue
		}
		switch n.Status {
		case types.NodeStatusCompleted:
			return "succeeded"
		case types.NodeStatusFailed:
		default:
			incomplete = true
		}
	}
	if incomplete {
		return "incomplete"
	}
	return "failed"
}
