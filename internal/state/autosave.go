package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/types"
)

// DefaultSaveDelay is how long the autosaver waits for further changes
// before writing.
const DefaultSaveDelay = 500 * time.Millisecond

// Autosaver persists the latest graph snapshot in the background.
// Snapshots that arrive while a write is pending replace each other, so a
// burst of mutations costs one write.
type Autosaver struct {
	store  types.CanvasStore
	delay  time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	pending *types.CanvasSnapshot
	saved   int64
	notify  chan struct{}

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

// NewAutosaver creates an autosaver writing through store. A delay of
// zero writes as soon as the loop wakes.
func NewAutosaver(store types.CanvasStore, delay time.Duration) *Autosaver {
	return &Autosaver{
		store:  store,
		delay:  delay,
		now:    time.Now,
		logger: slog.Default(),
		notify: make(chan struct{}, 1),
	}
}

// Attach subscribes to g so every committed mutation is offered.
func (a *Autosaver) Attach(g *graph.Store) {
	a.unsubscribe = g.Subscribe(a.Offer)
}

// Offer records snap as the next snapshot to write. Snapshots older than
// the pending or last written version are ignored. It never blocks.
func (a *Autosaver) Offer(snap *types.CanvasSnapshot) {
	a.mu.Lock()
	if snap.Version <= a.saved || (a.pending != nil && snap.Version < a.pending.Version) {
		a.mu.Unlock()
		return
	}
	a.pending = snap
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Start runs the write loop until Stop or ctx is cancelled.
func (a *Autosaver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
}

// Stop detaches from the graph, ends the loop and writes whatever is
// still pending.
func (a *Autosaver) Stop() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return a.Flush(context.Background())
}

func (a *Autosaver) loop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.notify:
		}
		if a.delay > 0 {
			timer := time.NewTimer(a.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := a.Flush(ctx); err != nil {
			a.logger.Error("autosave failed", "error", err)
		}
	}
}

// Flush writes the pending snapshot, if any. On failure the snapshot stays
// pending unless a newer one has arrived.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	snap := a.pending
	a.pending = nil
	a.mu.Unlock()
	if snap == nil {
		return nil
	}

	out := *snap
	out.SavedAt = a.now()
	if err := a.store.Save(ctx, &out); err != nil {
		a.mu.Lock()
		if a.pending == nil {
			a.pending = snap
		}
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	if out.Version > a.saved {
		a.saved = out.Version
	}
	a.mu.Unlock()
	a.logger.Debug("canvas saved",
		"canvas_id", out.CanvasID,
		"version", out.Version,
		"nodes", len(out.Nodes),
	)
	return nil
}
