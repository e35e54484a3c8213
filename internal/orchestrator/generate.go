package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/gencanvas/internal/analysis"
	ctxengine "github.com/user/gencanvas/internal/context"
	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/metrics"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

const referenceFallbackNotice = "reference image unavailable, generated from the prompt only"

// Options tune one GenerateFromNode call.
type Options struct {
	Mode      Mode
	Overrides graph.Overrides
	// ReferenceImageID is tried first when the merged node uses image mode.
	ReferenceImageID types.ImageID
	// Contents replaces the flat prompt with a pre-built conversation.
	Contents []imagegen.Content
	// Silent logs at debug level; used by batch runs.
	Silent bool
	// AutoSelect selects the new children once they are created.
	AutoSelect bool
}

// job is one dispatched generation call and the nodes its attempts map to.
type job struct {
	baseID  types.NodeID
	mode    Mode
	kind    types.BatchKind
	batchID types.BatchID
	jobID   types.JobID
	nodes   []types.NodeID
	req     *imagegen.Request
	prompt  string
	size    types.ImageSize
	aspect  types.AspectRatio
	refID   types.ImageID
	silent  bool
	started time.Time
}

// GenerateFromNode creates count children under baseID, one per attempt,
// and runs a single generation call for them. Regenerate first archives
// the base's earlier regenerate batches.
func (o *Orchestrator) GenerateFromNode(ctx context.Context, baseID types.NodeID, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeGenerate
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("unknown generation mode %q", opts.Mode)
	}
	base, ok := o.store.Node(baseID)
	if !ok || base.Archived {
		return nil, fmt.Errorf("generate from %s: %w", baseID, graph.ErrNodeNotFound)
	}

	merged := base.Clone()
	opts.Overrides.Apply(merged)
	if !types.HasEffectivePrompt(merged.Prompt, merged.PromptParts) {
		return nil, ErrEmptyPrompt
	}

	res := &Result{}
	req := &imagegen.Request{
		Count:       merged.Count,
		ImageSize:   string(merged.ImageSize),
		AspectRatio: string(merged.AspectRatio),
	}
	refID := merged.ReferenceImageID
	if len(opts.Contents) > 0 {
		req.Contents = opts.Contents
	} else {
		req.Parts = ctxengine.PromptParts(merged)
		if merged.BaseMode == types.BaseModeImage {
			candidates := []types.ImageID{opts.ReferenceImageID}
			if first, ok := base.FirstImage(); ok {
				candidates = append(candidates, first.ID)
			}
			candidates = append(candidates, merged.ReferenceImageID)
			blob, id, tried := o.resolveReference(ctx, candidates)
			switch {
			case blob != nil:
				req.InputImage = blob
				refID = id
			case tried:
				res.Notice = referenceFallbackNotice
			}
		}
	}

	if opts.Mode == ModeRegenerate {
		if n := o.store.ArchiveRegenerateBatches(baseID); n > 0 {
			o.log(opts.Silent, "archived previous regenerate batches", "node_id", baseID, "archived", n)
		}
	}

	j := &job{
		baseID:  baseID,
		mode:    opts.Mode,
		kind:    opts.Mode.batchKind(),
		batchID: types.NewBatchID(),
		jobID:   types.NewJobID(),
		req:     req,
		prompt:  promptText(merged),
		size:    merged.ImageSize,
		aspect:  merged.AspectRatio,
		refID:   refID,
		silent:  opts.Silent,
		started: o.now(),
	}

	children := make([]*types.Node, 0, merged.Count)
	for i := 0; i < merged.Count; i++ {
		startedAt := j.started
		children = append(children, &types.Node{
			Prompt:           merged.Prompt,
			PromptParts:      types.ClonePromptParts(merged.PromptParts),
			Count:            merged.Count,
			ImageSize:        merged.ImageSize,
			AspectRatio:      merged.AspectRatio,
			BaseMode:         merged.BaseMode,
			ReferenceImageID: refID,
			Tags:             append([]string(nil), merged.Tags...),
			Status:           types.NodeStatusRunning,
			BatchID:          j.batchID,
			BatchKind:        j.kind,
			BatchAttempt:     i + 1,
			LastRunAt:        &startedAt,
		})
	}
	ids, err := o.store.AddChildren(baseID, children)
	if err != nil {
		return nil, err
	}
	j.nodes = ids
	res.ChildIDs = ids
	if opts.AutoSelect {
		o.store.SetSelection(ids)
	}

	o.log(opts.Silent, "generation started",
		"node_id", baseID,
		"mode", opts.Mode,
		"batch_id", j.batchID,
		"count", len(ids),
	)
	resp, err := o.dispatch(ctx, j)
	if err != nil {
		o.failAll(j, err, res)
		return res, nil
	}
	o.reconcile(ctx, j, resp, res)
	return res, nil
}

// resolveReference tries candidates in order and returns the first image
// whose bytes could be fetched. tried reports whether any candidate named a
// known image.
func (o *Orchestrator) resolveReference(ctx context.Context, candidates []types.ImageID) (*imagegen.Blob, types.ImageID, bool) {
	seen := make(map[types.ImageID]bool, len(candidates))
	tried := false
	for _, id := range candidates {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		img, ok := o.store.FindImage(id)
		if !ok {
			continue
		}
		tried = true
		blob, err := o.resolver.Resolve(ctx, img.URL)
		if err != nil {
			o.logger.Warn("reference image unavailable", "image_id", id, "error", err)
			continue
		}
		return &blob, id, true
	}
	return nil, "", tried
}

func (o *Orchestrator) dispatch(ctx context.Context, j *job) (*imagegen.Response, error) {
	start := time.Now()
	resp, err := o.service.Generate(ctx, j.req)
	metrics.GenerationSeconds.WithLabelValues(string(j.mode)).Observe(time.Since(start).Seconds())
	return resp, err
}

// failAll marks every node of j failed with the call-level error.
func (o *Orchestrator) failAll(j *job, err error, res *Result) {
	res.CallErr = err
	metrics.CallsTotal.WithLabelValues(string(j.mode), "error").Inc()
	dur := o.now().Sub(j.started).Milliseconds()
	for _, id := range j.nodes {
		ok := o.store.UpdateNode(id, func(n *types.Node) {
			n.Status = types.NodeStatusFailed
			n.Error = err.Error()
			n.Stalled = false
			n.LastRunDurationMs = dur
		})
		if ok {
			res.Failed++
			metrics.AttemptsTotal.WithLabelValues(string(j.mode), "failed").Inc()
		}
	}
	o.logger.Error("generation failed",
		"batch_id", j.batchID,
		"mode", j.mode,
		"error", err,
	)
	o.record(j, res)
}

// reconcile maps each attempt slot onto its node in attempt order. Nodes
// deleted while the call was in flight are skipped.
func (o *Orchestrator) reconcile(ctx context.Context, j *job, resp *imagegen.Response, res *Result) {
	slots := resp.Slots()
	dur := o.now().Sub(j.started).Milliseconds()
	var gallery []types.Image
	var completed []analysis.Task

	for i, id := range j.nodes {
		slot := imagegen.Slot{Attempt: i + 1, Err: "no result for attempt"}
		if i < len(slots) {
			slot = slots[i]
		}

		if slot.Image != nil {
			img, err := o.storeImage(ctx, j, id, slot)
			if err != nil {
				slot = imagegen.Slot{Attempt: slot.Attempt, Err: err.Error()}
			} else {
				ok := o.store.UpdateNode(id, func(n *types.Node) {
					n.Status = types.NodeStatusCompleted
					n.Error = ""
					n.Stalled = false
					n.Images = []types.Image{img}
					n.LastRunDurationMs = dur
				})
				if !ok {
					o.logger.Debug("dropping result for deleted node", "node_id", id)
					continue
				}
				gallery = append(gallery, img)
				completed = append(completed, analysis.Task{NodeID: id, Prompt: j.prompt, Images: []types.Image{img}})
				res.Succeeded++
				metrics.AttemptsTotal.WithLabelValues(string(j.mode), "completed").Inc()
				continue
			}
		}

		ok := o.store.UpdateNode(id, func(n *types.Node) {
			n.Status = types.NodeStatusFailed
			n.Error = slot.Err
			n.Stalled = false
			n.LastRunDurationMs = dur
		})
		if !ok {
			o.logger.Debug("dropping result for deleted node", "node_id", id)
			continue
		}
		res.Failed++
		metrics.AttemptsTotal.WithLabelValues(string(j.mode), "failed").Inc()
	}

	o.store.AppendGallery(gallery...)

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	metrics.CallsTotal.WithLabelValues(string(j.mode), outcome).Inc()
	o.log(j.silent, "generation finished",
		"batch_id", j.batchID,
		"mode", j.mode,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"duration_ms", dur,
	)

	o.record(j, res)

	if o.analysis != nil && o.preferences().AutoAnalyze {
		for _, t := range completed {
			o.analysis.Enqueue(t)
		}
	}
}

// record appends the outcome of j to the run journal. Journal failures are
// logged only.
func (o *Orchestrator) record(j *job, res *Result) {
	if o.journal == nil {
		return
	}
	rec := &types.RunRecord{
		At:        j.started,
		CanvasID:  o.store.CanvasID(),
		Mode:      string(j.mode),
		NodeID:    j.baseID,
		BatchID:   j.batchID,
		ChildIDs:  j.nodes,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Notice:    res.Notice,
		Error:     res.CallError(),
		Duration:  o.now().Sub(j.started).Milliseconds(),
	}
	if err := o.journal.Append(context.Background(), rec); err != nil {
		o.logger.Warn("failed to journal run", "batch_id", j.batchID, "error", err)
	}
}

func (o *Orchestrator) storeImage(ctx context.Context, j *job, nodeID types.NodeID, slot imagegen.Slot) (types.Image, error) {
	url, err := o.sink.Store(ctx, slot.Image.Data, slot.Image.MimeType)
	if err != nil {
		return types.Image{}, fmt.Errorf("storing image: %w", err)
	}
	return types.Image{
		ID:     types.NewImageID(),
		NodeID: nodeID,
		JobID:  j.jobID,
		URL:    url,
		Meta: &types.ImageMeta{
			Prompt:               j.prompt,
			Model:                slot.Image.Model,
			ImageSize:            j.size,
			AspectRatio:          j.aspect,
			ReferenceImageID:     j.refID,
			BatchID:              j.batchID,
			BatchKind:            j.kind,
			BatchAttempt:         slot.Attempt,
			ThoughtSignature:     slot.Image.ThoughtSignature,
			ThoughtText:          slot.Image.ThoughtText,
			ThoughtTextSignature: slot.Image.ThoughtTextSignature,
			CreatedAt:            o.now(),
		},
	}, nil
}

func (o *Orchestrator) log(silent bool, msg string, args ...any) {
	level := slog.LevelInfo
	if silent {
		level = slog.LevelDebug
	}
	o.logger.Log(context.Background(), level, msg, args...)
}

// promptText flattens the text segments of a node's effective prompt.
func promptText(n *types.Node) string {
	var texts []string
	for _, p := range types.EffectiveParts(n.Prompt, n.PromptParts) {
		if p.Kind == types.PartText && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, strings.TrimSpace(p.Text))
		}
	}
	return strings.Join(texts, "\n")
}

// IsContinuationTokenError reports whether err is the model rejecting
// replayed continuation state.
func IsContinuationTokenError(err error) bool {
	return errors.Is(err, imagegen.ErrContinuationToken)
}
