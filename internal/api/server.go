// Package api serves a canvas over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/user/gencanvas/internal/batch"
	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/orchestrator"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/internal/view"
)

// Server is the HTTP surface of one canvas.
type Server struct {
	store     *graph.Store
	orch      *orchestrator.Orchestrator
	scheduler *batch.Scheduler
	journal   types.RunJournal
	sem       *semaphore.Weighted
	logger    *slog.Logger
	mux       *http.ServeMux

	mu    sync.RWMutex
	prefs view.Prefs
}

// Option configures a Server.
type Option func(*Server)

func WithJournal(j types.RunJournal) Option {
	return func(s *Server) { s.journal = j }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithViewPrefs(p view.Prefs) Option {
	return func(s *Server) { s.prefs = p }
}

// NewServer creates a Server. maxConcurrent bounds how many single-node
// generations run at once; further requests wait for a slot or their
// context.
func NewServer(orch *orchestrator.Orchestrator, scheduler *batch.Scheduler, maxConcurrent int, opts ...Option) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Server{
		store:     orch.Store(),
		orch:      orch,
		scheduler: scheduler,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		logger:    slog.Default(),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/canvas", s.handleCanvas)
	s.mux.HandleFunc("GET /api/canvas/tree", s.handleTree)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)

	s.mux.HandleFunc("POST /api/nodes", s.handleCreateNode)
	s.mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	s.mux.HandleFunc("PATCH /api/nodes/{id}", s.handleEditNode)
	s.mux.HandleFunc("DELETE /api/nodes/{id}", s.handleDeleteNode)
	s.mux.HandleFunc("POST /api/nodes/{id}/branch", s.handleBranch)
	s.mux.HandleFunc("POST /api/nodes/{id}/duplicate", s.handleDuplicate)
	s.mux.HandleFunc("POST /api/nodes/{id}/collapse", s.handleCollapse)
	s.mux.HandleFunc("POST /api/nodes/{id}/favorite", s.handleFavorite)
	s.mux.HandleFunc("POST /api/nodes/{id}/select", s.handleSelect)
	s.mux.HandleFunc("POST /api/nodes/{id}/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/nodes/{id}/continue", s.handleContinue)
	s.mux.HandleFunc("POST /api/nodes/{id}/restore", s.handleRestore)
	s.mux.HandleFunc("POST /api/images/{id}/favorite", s.handleImageFavorite)
	s.mux.HandleFunc("POST /api/batch", s.handleBatch)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetViewPrefs replaces the default projection preferences.
func (s *Server) SetViewPrefs(p view.Prefs) {
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
}

func (s *Server) viewPrefs() view.Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// projectionPrefs applies ?latest=, ?preview= and ?depth= over the defaults.
func (s *Server) projectionPrefs(r *http.Request) view.Prefs {
	p := s.viewPrefs()
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("latest")); err == nil {
		p.LatestLevels = v
	}
	if v, err := strconv.ParseBool(q.Get("preview")); err == nil {
		p.PreviewImages = v
	}
	if v, err := strconv.Atoi(q.Get("depth")); err == nil {
		p.PreviewDepth = v
	}
	return p
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	p := view.Project(s.store.Nodes(), s.store.Edges(), s.projectionPrefs(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"canvas_id":  s.store.CanvasID(),
		"selected":   s.store.SelectedNodeID(),
		"projection": p,
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	p := view.Project(s.store.Nodes(), s.store.Edges(), s.projectionPrefs(r))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := view.Render(w, p); err != nil {
		s.logger.Error("render tree failed", "error", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "run journal not configured")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.journal.Recent(r.Context(), s.store.CanvasID(), limit)
	if err != nil {
		s.logger.Error("read run journal failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []*types.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOpError maps domain errors onto status codes.
func (s *Server) writeOpError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, graph.ErrRevisionNotFound),
		errors.Is(err, orchestrator.ErrImageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
