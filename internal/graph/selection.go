package graph

import (
	"fmt"
	"slices"

	"github.com/user/gencanvas/internal/types"
)

// SelectOnlyNode makes id the single selected node.
func (s *Store) SelectOnlyNode(id types.NodeID) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 || s.nodes[i].Archived {
		s.mu.Unlock()
		return fmt.Errorf("select node %s: %w", id, ErrNodeNotFound)
	}
	s.selectOnlyLocked(id)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// ClearSelection deselects every node.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.setSelectedLocked(nil)
	s.selectedID = ""
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
}

// SetSelection selects exactly the given active nodes. The primary
// selection is set only when one node ends up selected.
func (s *Store) SetSelection(ids []types.NodeID) {
	s.mu.Lock()
	want := make(map[types.NodeID]bool, len(ids))
	for _, id := range ids {
		if i := s.indexOf(id); i >= 0 && !s.nodes[i].Archived {
			want[id] = true
		}
	}
	s.setSelectedLocked(want)
	s.selectedID = ""
	if len(want) == 1 {
		for id := range want {
			s.selectedID = id
		}
	}
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Store) selectOnlyLocked(id types.NodeID) {
	s.setSelectedLocked(map[types.NodeID]bool{id: true})
	s.selectedID = id
}

// setSelectedLocked rewrites only the nodes whose flag changes.
func (s *Store) setSelectedLocked(want map[types.NodeID]bool) {
	var nodes []*types.Node
	for k, n := range s.nodes {
		sel := want[n.ID]
		if n.Selected == sel {
			continue
		}
		if nodes == nil {
			nodes = slices.Clone(s.nodes)
		}
		c := n.Clone()
		c.Selected = sel
		nodes[k] = c
	}
	if nodes != nil {
		s.nodes = nodes
	}
}
