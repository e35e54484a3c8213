// Package watchdog flags generation nodes that have been running for too
// long as possibly interrupted.
package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/gencanvas/internal/metrics"
	"github.com/user/gencanvas/internal/types"
)

const (
	DefaultSchedule   = "*/30 * * * * *"
	DefaultStallAfter = 10 * time.Minute
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Graph is the part of the graph store the watchdog reads and marks.
type Graph interface {
	Nodes() []*types.Node
	UpdateNode(id types.NodeID, fn func(n *types.Node)) bool
}

// Watchdog sweeps the graph on a cron schedule. It only ever sets the
// stalled flag; status is left to the orchestrator.
type Watchdog struct {
	graph    Graph
	schedule string
	now      func() time.Time
	cron     *cron.Cron

	mu         sync.RWMutex
	stallAfter time.Duration
}

type Option func(*Watchdog)

func WithSchedule(expr string) Option {
	return func(w *Watchdog) { w.schedule = expr }
}

func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// New creates a watchdog. A non-positive stallAfter means DefaultStallAfter.
func New(g Graph, stallAfter time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		graph:    g,
		schedule: DefaultSchedule,
		now:      time.Now,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
	w.SetStallAfter(stallAfter)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetStallAfter changes the threshold used by subsequent sweeps.
func (w *Watchdog) SetStallAfter(d time.Duration) {
	if d <= 0 {
		d = DefaultStallAfter
	}
	w.mu.Lock()
	w.stallAfter = d
	w.mu.Unlock()
}

// Start registers the sweep and starts the cron ticker.
func (w *Watchdog) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() { w.Sweep() }); err != nil {
		return err
	}
	slog.Info("stall watchdog started", "schedule", w.schedule)
	w.cron.Start()
	return nil
}

// Stop stops the cron ticker and waits for a running sweep.
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
}

// Sweep flags running nodes whose last run started more than the
// threshold ago and returns how many were newly flagged.
func (w *Watchdog) Sweep() int {
	w.mu.RLock()
	threshold := w.stallAfter
	w.mu.RUnlock()
	now := w.now()

	flagged, stalled := 0, 0
	for _, n := range w.graph.Nodes() {
		if n.Status != types.NodeStatusRunning || n.Archived {
			continue
		}
		started := n.UpdatedAt
		if n.LastRunAt != nil {
			started = *n.LastRunAt
		}
		if now.Sub(started) < threshold {
			continue
		}
		stalled++
		if n.Stalled {
			continue
		}
		ok := w.graph.UpdateNode(n.ID, func(c *types.Node) {
			if c.Status == types.NodeStatusRunning {
				c.Stalled = true
			}
		})
		if ok {
			flagged++
			slog.Warn("node possibly interrupted",
				"node_id", n.ID,
				"running_for", now.Sub(started).Round(time.Second),
			)
		}
	}
	metrics.StalledNodes.Set(float64(stalled))
	return flagged
}
