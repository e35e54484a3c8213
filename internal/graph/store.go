// Package graph owns the in-memory node/edge/gallery collections of a canvas.
//
// Every write replaces the affected top-level slice and the affected node
// value instead of mutating in place, so a snapshot handed out earlier stays
// consistent forever. Nodes reachable from a snapshot must be treated as
// read-only.
package graph

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/user/gencanvas/internal/types"
)

var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrRevisionNotFound = errors.New("revision not found")
)

// Listener receives a snapshot after every mutation.
type Listener func(snap *types.CanvasSnapshot)

// Store is the single writer of a canvas graph.
type Store struct {
	mu         sync.RWMutex
	canvasID   types.CanvasID
	nodes      []*types.Node
	edges      []types.Edge
	gallery    []types.Image
	selectedID types.NodeID
	version    int64
	layout     Layout
	now        func() time.Time

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLayout sets the placement rules for branched and generated nodes.
func WithLayout(l Layout) Option {
	return func(s *Store) { s.layout = l }
}

// New creates an empty store for the given canvas.
func New(canvasID types.CanvasID, opts ...Option) *Store {
	s := &Store{
		canvasID:  canvasID,
		layout:    DefaultLayout(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanvasID returns the canvas this store belongs to.
func (s *Store) CanvasID() types.CanvasID {
	return s.canvasID
}

// SetLayout changes placement for subsequently created nodes.
func (s *Store) SetLayout(l Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = l
}

// Load replaces the whole graph with the contents of snap. Listeners are not
// notified; the loaded state is already persisted.
func (s *Store) Load(snap *types.CanvasSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.canvasID = snap.CanvasID
	s.nodes = make([]*types.Node, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		c := n.Clone()
		c.Count = types.ClampCount(c.Count)
		s.nodes = append(s.nodes, c)
	}
	s.edges = slices.Clone(snap.Edges)
	s.gallery = slices.Clone(snap.Gallery)
	s.selectedID = snap.SelectedNodeID
	s.version = snap.Version
}

// Snapshot returns the current collections. The slices are never written
// again by the store.
func (s *Store) Snapshot() *types.CanvasSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *types.CanvasSnapshot {
	return &types.CanvasSnapshot{
		CanvasID:       s.canvasID,
		Nodes:          s.nodes,
		Edges:          s.edges,
		Gallery:        s.gallery,
		SelectedNodeID: s.selectedID,
		Version:        s.version,
		SavedAt:        s.now(),
	}
}

// Subscribe registers fn to be called after each mutation and returns a
// function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

// commit bumps the version and returns the snapshot to publish. Caller must
// hold the write lock.
func (s *Store) commit() *types.CanvasSnapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) publish(snap *types.CanvasSnapshot) {
	if snap == nil {
		return
	}
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id types.NodeID) (*types.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return s.nodes[i].Clone(), true
}

// Nodes returns every node, archived ones included.
func (s *Store) Nodes() []*types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes
}

func (s *Store) Edges() []types.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edges
}

func (s *Store) Gallery() []types.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gallery
}

// SelectedNodeID returns the primary selection, or "" when none or many.
func (s *Store) SelectedNodeID() types.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// FindImage looks an image up among node results first, then the gallery.
func (s *Store) FindImage(id types.ImageID) (types.Image, bool) {
	if id == "" {
		return types.Image{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if img, ok := n.ImageByID(id); ok {
			return img, true
		}
	}
	for _, img := range s.gallery {
		if img.ID == id {
			return img, true
		}
	}
	return types.Image{}, false
}

// Parent returns the first active parent of id.
func (s *Store) Parent(id types.NodeID) (*types.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges {
		if e.Target != id {
			continue
		}
		i := s.indexOf(e.Source)
		if i >= 0 && !s.nodes[i].Archived {
			return s.nodes[i], true
		}
	}
	return nil, false
}

// ActiveChildren returns the non-archived children of id in edge order.
func (s *Store) ActiveChildren(id types.NodeID) []*types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChildrenLocked(id)
}

func (s *Store) activeChildrenLocked(id types.NodeID) []*types.Node {
	var out []*types.Node
	for _, e := range s.edges {
		if e.Source != id {
			continue
		}
		i := s.indexOf(e.Target)
		if i >= 0 && !s.nodes[i].Archived {
			out = append(out, s.nodes[i])
		}
	}
	return out
}

func (s *Store) indexOf(id types.NodeID) int {
	for i, n := range s.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// replaceNode swaps in a new node value at index i on a fresh slice.
func (s *Store) replaceNode(i int, n *types.Node) {
	nodes := slices.Clone(s.nodes)
	nodes[i] = n
	s.nodes = nodes
}
