// Package analysis runs best-effort prompt and image annotation off the
// generation path. Nothing it does can fail a generation.
package analysis

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/gencanvas/internal/metrics"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

const defaultQueueSize = 64

// Task asks for annotations of one completed node.
type Task struct {
	NodeID types.NodeID
	Prompt string
	Images []types.Image
}

// NodeUpdater writes annotations back. It must drop updates for nodes that
// no longer exist.
type NodeUpdater interface {
	UpdateNode(id types.NodeID, fn func(n *types.Node)) bool
}

// ImageResolver fetches the bytes behind an image URL.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (imagegen.Blob, error)
}

// Worker drains a task channel sequentially.
type Worker struct {
	analyzer imagegen.Analyzer
	resolver ImageResolver
	nodes    NodeUpdater
	now      func() time.Time

	mu      sync.Mutex
	tasks   chan Task
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewWorker(analyzer imagegen.Analyzer, resolver ImageResolver, nodes NodeUpdater) *Worker {
	return &Worker{
		analyzer: analyzer,
		resolver: resolver,
		nodes:    nodes,
		now:      time.Now,
		tasks:    make(chan Task, defaultQueueSize),
	}
}

// Start launches the consumer goroutine. It stops when ctx is done or Stop
// is called.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop closes the queue and waits for queued tasks to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Enqueue offers a task without blocking. It reports false when the task
// was dropped because the queue is full or stopped.
func (w *Worker) Enqueue(t Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		metrics.AnalysisTotal.WithLabelValues("task", "dropped").Inc()
		return false
	}
	select {
	case w.tasks <- t:
		return true
	default:
		metrics.AnalysisTotal.WithLabelValues("task", "dropped").Inc()
		slog.Warn("analysis queue full, dropping task", "node_id", t.NodeID)
		return false
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			w.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, t Task) {
	if prompt := strings.TrimSpace(t.Prompt); prompt != "" {
		summary, err := w.analyzer.AnalyzePrompt(ctx, prompt)
		if err != nil {
			metrics.AnalysisTotal.WithLabelValues("prompt", "error").Inc()
			slog.Warn("prompt analysis failed", "node_id", t.NodeID, "error", err)
		} else {
			metrics.AnalysisTotal.WithLabelValues("prompt", "ok").Inc()
			at := w.now()
			w.nodes.UpdateNode(t.NodeID, func(n *types.Node) {
				n.PromptAnalysis = &types.PromptAnalysis{Summary: summary, At: at}
			})
		}
	}

	for _, img := range t.Images {
		blob, err := w.resolver.Resolve(ctx, img.URL)
		if err != nil {
			metrics.AnalysisTotal.WithLabelValues("image", "error").Inc()
			slog.Warn("image analysis skipped", "node_id", t.NodeID, "image_id", img.ID, "error", err)
			continue
		}
		caption, err := w.analyzer.DescribeImage(ctx, blob)
		if err != nil {
			metrics.AnalysisTotal.WithLabelValues("image", "error").Inc()
			slog.Warn("image analysis failed", "node_id", t.NodeID, "image_id", img.ID, "error", err)
			continue
		}
		metrics.AnalysisTotal.WithLabelValues("image", "ok").Inc()
		entry := types.ImageAnalysis{ImageID: img.ID, Caption: caption, At: w.now()}
		w.nodes.UpdateNode(t.NodeID, func(n *types.Node) {
			for i, a := range n.ImageAnalyses {
				if a.ImageID == entry.ImageID {
					n.ImageAnalyses[i] = entry
					return
				}
			}
			n.ImageAnalyses = append(n.ImageAnalyses, entry)
		})
	}
}
