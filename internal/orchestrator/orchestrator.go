// Package orchestrator turns generate, regenerate and continue intents into
// child nodes, dispatches the generation call and folds per-attempt results
// back into node state.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/gencanvas/internal/analysis"
	ctxengine "github.com/user/gencanvas/internal/context"
	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

var (
	ErrEmptyPrompt    = errors.New("prompt is empty")
	ErrImageNotFound  = errors.New("image not found")
	ErrNoContextStage = errors.New("multi-turn continuation is not configured")
)

// Mode selects how GenerateFromNode treats existing children.
type Mode string

const (
	ModeGenerate   Mode = "generate"
	ModeRegenerate Mode = "regenerate"
	ModeContinue   Mode = "continue"
)

func (m Mode) Valid() bool {
	return m == ModeGenerate || m == ModeRegenerate || m == ModeContinue
}

func (m Mode) batchKind() types.BatchKind {
	if m == ModeRegenerate {
		return types.BatchKindRegenerate
	}
	return types.BatchKindGenerate
}

// ContinueMode selects how ContinueFromImage frames the chosen image.
type ContinueMode string

const (
	ContinueSingle ContinueMode = "single"
	ContinueMulti  ContinueMode = "multi"
)

// Preferences are the read-only settings the orchestrator consults.
type Preferences struct {
	AutoAnalyze  bool
	ContinueMode ContinueMode
	HistoryDepth int
}

// ImageResolver fetches the bytes behind an image URL.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (imagegen.Blob, error)
}

// ImageSink stores generated bytes and returns the URL to keep.
type ImageSink interface {
	Store(ctx context.Context, data []byte, mimeType string) (string, error)
}

// AnalysisQueue accepts best-effort annotation tasks without blocking.
type AnalysisQueue interface {
	Enqueue(t analysis.Task) bool
}

// Orchestrator owns the generation state machine for one canvas.
type Orchestrator struct {
	store    *graph.Store
	service  imagegen.Service
	resolver ImageResolver
	sink     ImageSink
	contexts *ctxengine.Engine
	analysis AnalysisQueue
	journal  types.RunJournal
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	prefs Preferences
}

type Option func(*Orchestrator)

func WithContextEngine(e *ctxengine.Engine) Option {
	return func(o *Orchestrator) { o.contexts = e }
}

func WithAnalysis(q AnalysisQueue) Option {
	return func(o *Orchestrator) { o.analysis = q }
}

// WithJournal records a summary of every finished call.
func WithJournal(j types.RunJournal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithPreferences(p Preferences) Option {
	return func(o *Orchestrator) { o.prefs = p }
}

// New wires an orchestrator. Without WithContextEngine, multi-turn
// continuations run as single-image ones.
func New(store *graph.Store, service imagegen.Service, resolver ImageResolver, sink ImageSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		service:  service,
		resolver: resolver,
		sink:     sink,
		logger:   slog.Default(),
		now:      time.Now,
		prefs: Preferences{
			ContinueMode: ContinueSingle,
			HistoryDepth: ctxengine.DefaultDepth,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetPreferences replaces the settings used by subsequent calls.
func (o *Orchestrator) SetPreferences(p Preferences) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prefs = p
}

func (o *Orchestrator) preferences() Preferences {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.prefs
}

// Store returns the graph store the orchestrator writes to.
func (o *Orchestrator) Store() *graph.Store {
	return o.store
}

// Result summarizes one orchestrator call. Partial and total generation
// failures are reported here as terminal node states, not as errors.
type Result struct {
	ChildIDs  []types.NodeID `json:"child_ids"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	// CallErr is set when the generation call failed as a whole.
	CallErr error `json:"-"`
	// Notice describes a degraded path that was taken, if any.
	Notice     string `json:"notice,omitempty"`
	Downgraded bool   `json:"downgraded,omitempty"`
}

// CallError returns the call-level error text for serialization.
func (r *Result) CallError() string {
	if r.CallErr == nil {
		return ""
	}
	return r.CallErr.Error()
}
