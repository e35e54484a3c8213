package orchestrator

import (
	"context"
	"fmt"

	ctxengine "github.com/user/gencanvas/internal/context"
	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/metrics"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

const (
	historyFallbackNotice = "history unavailable, continued from the image alone"
	downgradeNotice       = "continuation state rejected, retried as a single-image continuation"
)

// ContinueFromImage branches nodeID with imageID as the new reference and
// generates one image in place on the branch. Multi mode replays the
// ancestry as a conversation and falls back to single mode once if the
// model rejects the replayed continuation state.
func (o *Orchestrator) ContinueFromImage(ctx context.Context, nodeID types.NodeID, imageID types.ImageID, mode ContinueMode, overrides graph.Overrides) (*Result, error) {
	src, ok := o.store.Node(nodeID)
	if !ok || src.Archived {
		return nil, fmt.Errorf("continue from %s: %w", nodeID, graph.ErrNodeNotFound)
	}
	img, ok := o.store.FindImage(imageID)
	if !ok {
		return nil, fmt.Errorf("continue from %s: %w", imageID, ErrImageNotFound)
	}
	if mode == "" {
		mode = o.preferences().ContinueMode
	}

	overrides.BaseMode = graph.Ptr(types.BaseModeImage)
	overrides.ReferenceImageID = graph.Ptr(imageID)
	preview := src.Clone()
	overrides.Apply(preview)
	if !types.HasEffectivePrompt(preview.Prompt, preview.PromptParts) {
		return nil, ErrEmptyPrompt
	}

	childID, err := o.store.BranchNode(nodeID, overrides)
	if err != nil {
		return nil, err
	}
	j := &job{
		baseID:  nodeID,
		mode:    ModeContinue,
		kind:    types.BatchKindGenerate,
		batchID: types.NewBatchID(),
		jobID:   types.NewJobID(),
		nodes:   []types.NodeID{childID},
		prompt:  promptText(preview),
		size:    preview.ImageSize,
		aspect:  preview.AspectRatio,
		refID:   imageID,
		started: o.now(),
	}
	o.store.UpdateNode(childID, func(n *types.Node) {
		startedAt := j.started
		n.Status = types.NodeStatusRunning
		n.Error = ""
		n.BatchID = j.batchID
		n.BatchKind = j.kind
		n.BatchAttempt = 1
		n.LastRunAt = &startedAt
	})
	res := &Result{ChildIDs: []types.NodeID{childID}}
	child, ok := o.store.Node(childID)
	if !ok {
		return res, nil
	}

	o.log(false, "continuation started",
		"node_id", nodeID,
		"child_id", childID,
		"image_id", imageID,
		"mode", mode,
	)

	if mode == ContinueMulti {
		req, err := o.multiTurnRequest(ctx, child)
		if err != nil {
			o.logger.Warn("multi-turn history unavailable", "node_id", childID, "error", err)
			res.Notice = historyFallbackNotice
			res.Downgraded = true
		} else {
			j.req = req
			resp, err := o.dispatch(ctx, j)
			switch {
			case err == nil:
				o.reconcile(ctx, j, resp, res)
				return res, nil
			case !IsContinuationTokenError(err):
				o.failAll(j, err, res)
				return res, nil
			}
			metrics.DowngradesTotal.Inc()
			o.logger.Warn("continuation token rejected, retrying as single image",
				"node_id", childID,
				"error", err,
			)
			res.Notice = downgradeNotice
			res.Downgraded = true
		}
	}

	j.req = o.singleImageRequest(ctx, child, img, res)
	resp, err := o.dispatch(ctx, j)
	if err != nil {
		o.failAll(j, err, res)
		return res, nil
	}
	o.reconcile(ctx, j, resp, res)
	return res, nil
}

func (o *Orchestrator) multiTurnRequest(ctx context.Context, child *types.Node) (*imagegen.Request, error) {
	if o.contexts == nil {
		return nil, ErrNoContextStage
	}
	conv, err := o.contexts.BuildConversation(ctx, o.store, child, o.preferences().HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("building conversation: %w", err)
	}
	o.logger.Debug("built continuation history",
		"node_id", child.ID,
		"turns", len(conv.Contents),
		"skipped_images", conv.Skipped,
		"text_tokens", conv.TextTokens,
	)
	return &imagegen.Request{
		Contents:    conv.Contents,
		Count:       1,
		ImageSize:   string(child.ImageSize),
		AspectRatio: string(child.AspectRatio),
	}, nil
}

func (o *Orchestrator) singleImageRequest(ctx context.Context, child *types.Node, img types.Image, res *Result) *imagegen.Request {
	req := &imagegen.Request{
		Parts:       ctxengine.PromptParts(child),
		Count:       1,
		ImageSize:   string(child.ImageSize),
		AspectRatio: string(child.AspectRatio),
	}
	blob, err := o.resolver.Resolve(ctx, img.URL)
	if err != nil {
		o.logger.Warn("reference image unavailable", "image_id", img.ID, "error", err)
		res.Notice = joinNotice(res.Notice, referenceFallbackNotice)
		return req
	}
	req.InputImage = &blob
	return req
}

// RestoreRevision rolls a node back to one of its revisions and, when
// autoGenerate is set, generates new children from the restored prompt.
func (o *Orchestrator) RestoreRevision(ctx context.Context, nodeID types.NodeID, revisionID types.RevisionID, autoGenerate bool) (*Result, error) {
	if err := o.store.RestoreNodeRevision(nodeID, revisionID); err != nil {
		return nil, err
	}
	if !autoGenerate {
		return &Result{}, nil
	}
	return o.GenerateFromNode(ctx, nodeID, Options{Mode: ModeContinue, AutoSelect: true})
}

func joinNotice(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
