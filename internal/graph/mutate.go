package graph

import (
	"fmt"
	"slices"
	"time"

	"github.com/user/gencanvas/internal/types"
)

// AddNode appends n as given, filling only identity, timestamps and the
// count clamp. It returns the node id.
func (s *Store) AddNode(n *types.Node) types.NodeID {
	s.mu.Lock()
	c := n.Clone()
	now := s.now()
	if c.ID == "" {
		c.ID = types.NewNodeID()
	}
	if c.CanvasID == "" {
		c.CanvasID = s.canvasID
	}
	if c.Status == "" {
		c.Status = types.NodeStatusIdle
	}
	if c.Images == nil {
		c.Images = []types.Image{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	c.Count = types.ClampCount(c.Count)

	s.nodes = append(slices.Clip(s.nodes), c)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return c.ID
}

// RemoveNode deletes the node and every edge touching it. Children become
// roots; gallery copies of its images are kept.
func (s *Store) RemoveNode(id types.NodeID) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove node %s: %w", id, ErrNodeNotFound)
	}
	nodes := make([]*types.Node, 0, len(s.nodes)-1)
	nodes = append(nodes, s.nodes[:i]...)
	nodes = append(nodes, s.nodes[i+1:]...)
	s.nodes = nodes

	edges := make([]types.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	s.edges = edges

	if s.selectedID == id {
		s.selectedID = ""
	}
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// DuplicateNode places an unconnected copy of the node next to it with a
// fresh lifecycle.
func (s *Store) DuplicateNode(id types.NodeID) (types.NodeID, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("duplicate node %s: %w", id, ErrNodeNotFound)
	}
	c := s.nodes[i].Clone()
	resetInstance(c, s.now())
	c.Position.X += duplicateOffset
	c.Position.Y += duplicateOffset

	s.nodes = append(slices.Clip(s.nodes), c)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return c.ID, nil
}

// BranchNode forks a new child from the source: source data is copied,
// overrides applied, instance state stripped, and exactly one edge added.
// A collapsed source is expanded and the new node becomes the only
// selection.
func (s *Store) BranchNode(id types.NodeID, overrides Overrides) (types.NodeID, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 || s.nodes[i].Archived {
		s.mu.Unlock()
		return "", fmt.Errorf("branch node %s: %w", id, ErrNodeNotFound)
	}
	src := s.nodes[i]
	index := len(s.activeChildrenLocked(id))

	child := src.Clone()
	overrides.Apply(child)
	resetInstance(child, s.now())
	child.Position = s.layout.childPosition(src.Position, index)

	if src.Collapsed {
		expanded := src.Clone()
		expanded.Collapsed = false
		s.replaceNode(i, expanded)
	}
	s.nodes = append(slices.Clip(s.nodes), child)
	s.edges = append(slices.Clip(s.edges), types.Edge{
		ID:     types.NewEdgeID(),
		Source: id,
		Target: child.ID,
	})
	s.selectOnlyLocked(child.ID)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return child.ID, nil
}

// AddChildren attaches pre-built children below parentID, fanning them out
// after the parent's existing active children. Each child gets a fresh id
// if it has none and exactly one edge from the parent.
func (s *Store) AddChildren(parentID types.NodeID, children []*types.Node) ([]types.NodeID, error) {
	s.mu.Lock()
	i := s.indexOf(parentID)
	if i < 0 || s.nodes[i].Archived {
		s.mu.Unlock()
		return nil, fmt.Errorf("add children to %s: %w", parentID, ErrNodeNotFound)
	}
	parent := s.nodes[i]
	base := len(s.activeChildrenLocked(parentID))
	now := s.now()

	nodes := slices.Clip(s.nodes)
	edges := slices.Clip(s.edges)
	ids := make([]types.NodeID, 0, len(children))
	for k, ch := range children {
		c := ch.Clone()
		if c.ID == "" {
			c.ID = types.NewNodeID()
		}
		c.CanvasID = parent.CanvasID
		c.Count = types.ClampCount(c.Count)
		if c.Images == nil {
			c.Images = []types.Image{}
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		c.Position = s.layout.childPosition(parent.Position, base+k)
		nodes = append(nodes, c)
		edges = append(edges, types.Edge{ID: types.NewEdgeID(), Source: parentID, Target: c.ID})
		ids = append(ids, c.ID)
	}
	s.nodes = nodes
	s.edges = edges

	if parent.Collapsed {
		expanded := parent.Clone()
		expanded.Collapsed = false
		s.replaceNode(i, expanded)
	}
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return ids, nil
}

// UpdateNode applies fn to a clone of the node and stores the result. It
// reports false, without error, when the node no longer exists, so late
// results for deleted nodes are dropped silently.
func (s *Store) UpdateNode(id types.NodeID, fn func(n *types.Node)) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	next := s.nodes[i].Clone()
	fn(next)
	next.Count = types.ClampCount(next.Count)
	next.UpdatedAt = s.now()
	s.replaceNode(i, next)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// ArchiveRegenerateBatches archives the whole descendant subtree of every
// active child of parentID that belongs to a regenerate batch. It returns
// how many nodes were archived.
func (s *Store) ArchiveRegenerateBatches(parentID types.NodeID) int {
	s.mu.Lock()
	var queue []types.NodeID
	for _, c := range s.activeChildrenLocked(parentID) {
		if c.BatchKind == types.BatchKindRegenerate {
			queue = append(queue, c.ID)
		}
	}
	if len(queue) == 0 {
		s.mu.Unlock()
		return 0
	}

	reached := make(map[types.NodeID]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		reached[id] = true
		for _, c := range s.activeChildrenLocked(id) {
			if !reached[c.ID] {
				queue = append(queue, c.ID)
			}
		}
	}

	now := s.now()
	nodes := slices.Clone(s.nodes)
	for k, n := range nodes {
		if !reached[n.ID] {
			continue
		}
		c := n.Clone()
		c.Archived = true
		c.Selected = false
		c.UpdatedAt = now
		nodes[k] = c
	}
	s.nodes = nodes
	if reached[s.selectedID] {
		s.selectedID = ""
	}
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return len(reached)
}

// AppendGallery adds images to the global gallery list.
func (s *Store) AppendGallery(images ...types.Image) {
	if len(images) == 0 {
		return
	}
	s.mu.Lock()
	s.gallery = append(slices.Clip(s.gallery), images...)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
}

// SetCollapsed toggles the view-only collapse flag.
func (s *Store) SetCollapsed(id types.NodeID, collapsed bool) error {
	if !s.UpdateNode(id, func(n *types.Node) { n.Collapsed = collapsed }) {
		return fmt.Errorf("collapse node %s: %w", id, ErrNodeNotFound)
	}
	return nil
}

func (s *Store) SetFavorite(id types.NodeID, favorite bool) error {
	if !s.UpdateNode(id, func(n *types.Node) { n.Favorite = favorite }) {
		return fmt.Errorf("favorite node %s: %w", id, ErrNodeNotFound)
	}
	return nil
}

// ToggleImageFavorite flips the favorite flag on every copy of the image,
// in its node and in the gallery.
func (s *Store) ToggleImageFavorite(imageID types.ImageID) bool {
	s.mu.Lock()
	found := false
	nodes := slices.Clone(s.nodes)
	for k, n := range nodes {
		for j, img := range n.Images {
			if img.ID != imageID {
				continue
			}
			c := n.Clone()
			c.Images[j].IsFavorite = !img.IsFavorite
			nodes[k] = c
			found = true
			break
		}
	}
	gallery := slices.Clone(s.gallery)
	for k, img := range gallery {
		if img.ID == imageID {
			gallery[k].IsFavorite = !img.IsFavorite
			found = true
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	s.nodes = nodes
	s.gallery = gallery
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// resetInstance strips everything tied to a node's previous runs and gives
// it a fresh identity.
func resetInstance(n *types.Node, now time.Time) {
	n.ID = types.NewNodeID()
	n.Status = types.NodeStatusIdle
	n.Error = ""
	n.Images = []types.Image{}
	n.Favorite = false
	n.Revisions = nil
	n.PromptAnalysis = nil
	n.ImageAnalyses = nil
	n.AIChats = nil
	n.Archived = false
	n.Collapsed = false
	n.Selected = false
	n.Stalled = false
	n.BatchID = ""
	n.BatchKind = ""
	n.BatchAttempt = 0
	n.CreatedAt = now
	n.UpdatedAt = now
	n.LastRunAt = nil
	n.LastRunDurationMs = 0
}
