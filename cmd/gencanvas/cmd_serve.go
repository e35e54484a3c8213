package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/gencanvas/internal/api"
	"github.com/user/gencanvas/internal/config"
	"github.com/user/gencanvas/internal/state"
	"github.com/user/gencanvas/internal/watchdog"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the canvas over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "gencanvas.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Autosave
	saver := state.NewAutosaver(a.canvases, state.DefaultSaveDelay)
	saver.Attach(a.graph)
	saver.Start(ctx)
	defer func() {
		if err := saver.Stop(); err != nil {
			slog.Error("final canvas save failed", "error", err)
		}
	}()

	a.analysis.Start(ctx)
	defer a.analysis.Stop()

	// Stall watchdog
	dog := watchdog.New(a.graph, time.Duration(cfg.Preferences.StallAfterSeconds)*time.Second)
	if err := dog.Start(); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	defer dog.Stop()

	srv := api.NewServer(a.orch, a.scheduler, cfg.MaxConcurrent,
		api.WithJournal(a.journal),
		api.WithViewPrefs(viewPrefs(cfg.Preferences)),
	)

	// Hot reload of preferences
	loader.OnChange(func(next *config.Config) {
		a.applyPreferences(next.Preferences)
		srv.SetViewPrefs(viewPrefs(next.Preferences))
		dog.SetStallAfter(time.Duration(next.Preferences.StallAfterSeconds) * time.Second)
		slog.Info("preferences reloaded", "continue_mode", next.Preferences.ContinueMode)
	})
	if err := loader.Watch(); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		defer loader.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-loader.Errors():
					slog.Warn("config reload failed", "error", err)
				}
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("gencanvas started",
		"data_dir", cfg.DataDir,
		"canvas_id", cfg.CanvasID,
		"nodes", len(a.graph.Nodes()),
		"canvas_store", cfg.Storage.Canvas,
		"blob_store", cfg.Storage.Blobs,
		"model", cfg.Gemini.Model,
		"max_concurrent", cfg.MaxConcurrent,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}
