package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/gencanvas/internal/analysis"
	"github.com/user/gencanvas/internal/batch"
	"github.com/user/gencanvas/internal/config"
	ctxengine "github.com/user/gencanvas/internal/context"
	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/imageref"
	"github.com/user/gencanvas/internal/orchestrator"
	"github.com/user/gencanvas/internal/state"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/internal/view"
	"github.com/user/gencanvas/pkg/imagegen"
	"github.com/user/gencanvas/pkg/imagegen/gemini"
)

// app is one opened canvas with everything needed to edit and generate.
type app struct {
	cfg       *config.Config
	graph     *graph.Store
	canvases  types.CanvasStore
	journal   *state.Journal
	client    *gemini.Client
	resolver  *imageref.Resolver
	orch      *orchestrator.Orchestrator
	scheduler *batch.Scheduler
	analysis  *analysis.Worker
	closers   []func() error
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{cfg: cfg, journal: state.NewJournal(cfg.DataDir)}

	switch cfg.Storage.Canvas {
	case "sqlite":
		db, err := state.OpenSQLiteCanvasStore(filepath.Join(cfg.DataDir, "canvases.db"))
		if err != nil {
			return nil, err
		}
		a.canvases = db
		a.closers = append(a.closers, db.Close)
	default:
		a.canvases = state.NewJSONCanvasStore(cfg.DataDir)
	}

	var blobs types.BlobStore
	switch cfg.Storage.Blobs {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Storage.RedisAddr, err)
		}
		blobs = state.NewRedisBlobStore(client, time.Duration(cfg.Storage.RedisTTLHours)*time.Hour)
		a.closers = append(a.closers, client.Close)
	case "local":
		blobs = state.NewLocalBlobStore(filepath.Join(cfg.DataDir, "blobs"))
	}

	a.graph = graph.New(types.CanvasID(cfg.CanvasID), graph.WithLayout(layoutFor(cfg.Preferences)))
	snap, err := a.canvases.Load(ctx, types.CanvasID(cfg.CanvasID))
	switch {
	case err == nil:
		a.graph.Load(snap)
	case errors.Is(err, state.ErrCanvasNotFound):
		slog.Debug("starting new canvas", "canvas_id", cfg.CanvasID)
	default:
		a.Close()
		return nil, fmt.Errorf("load canvas: %w", err)
	}

	retry := imagegen.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Gemini.RetryAttempts
	a.client = gemini.New(&imagegen.Config{
		BaseURL:       cfg.Gemini.BaseURL,
		APIKey:        cfg.Gemini.APIKey,
		Model:         cfg.Gemini.Model,
		AnalysisModel: cfg.Gemini.AnalysisModel,
		Timeout:       time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
	}, gemini.WithRetryPolicy(retry))
	a.resolver = imageref.NewDefault(nil, blobs)

	engineOpts := []ctxengine.Option{}
	if enc, err := ctxengine.LoadTokenizer(cfg.Gemini.Model); err == nil {
		engineOpts = append(engineOpts, ctxengine.WithTokenizer(enc))
	} else {
		slog.Warn("token estimates disabled", "error", err)
	}

	a.analysis = analysis.NewWorker(a.client, a.resolver, a.graph)
	a.orch = orchestrator.New(a.graph, a.client, a.resolver, imageref.NewSink(blobs),
		orchestrator.WithContextEngine(ctxengine.New(a.resolver, engineOpts...)),
		orchestrator.WithAnalysis(a.analysis),
		orchestrator.WithJournal(a.journal),
		orchestrator.WithPreferences(orchestratorPrefs(cfg.Preferences)),
	)
	a.scheduler = batch.New(a.orch, a.graph)
	return a, nil
}

// save writes the current canvas immediately.
func (a *app) save(ctx context.Context) error {
	snap := a.graph.Snapshot()
	snap.SavedAt = time.Now()
	if err := a.canvases.Save(ctx, snap); err != nil {
		return fmt.Errorf("save canvas: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// applyPreferences pushes reloaded preferences into the running components.
func (a *app) applyPreferences(p config.Preferences) {
	a.graph.SetLayout(layoutFor(p))
	a.orch.SetPreferences(orchestratorPrefs(p))
}

func layoutFor(p config.Preferences) graph.Layout {
	l := graph.DefaultLayout()
	if p.Direction == "right" {
		l.Direction = graph.DirectionRight
	}
	return l
}

func orchestratorPrefs(p config.Preferences) orchestrator.Preferences {
	return orchestrator.Preferences{
		AutoAnalyze:  p.AutoAnalyze,
		ContinueMode: orchestrator.ContinueMode(p.ContinueMode),
		HistoryDepth: p.HistoryDepth,
	}
}

func viewPrefs(p config.Preferences) view.Prefs {
	return view.Prefs{
		LatestLevels:  p.LatestLevels,
		PreviewImages: p.CollapsePreviews,
		PreviewDepth:  p.PreviewDepth,
	}
}

// newNodeDefaults fills unset generation parameters from preferences.
func newNodeDefaults(n *types.Node, p config.Preferences) {
	if n.Count == 0 {
		n.Count = p.DefaultCount
	}
	if n.ImageSize == "" {
		n.ImageSize = types.ImageSize(p.DefaultImageSize)
	}
	if n.AspectRatio == "" {
		n.AspectRatio = types.AspectRatio(p.DefaultAspectRatio)
	}
}
