package graph

import (
	"fmt"
	"slices"

	"github.com/user/gencanvas/internal/types"
)

// Patch lists editable node fields; nil means unchanged.
type Patch struct {
	Prompt      *string
	PromptParts *[]types.PromptPart
	Count       *int
	ImageSize   *types.ImageSize
	AspectRatio *types.AspectRatio
	Tags        *[]string
	Notes       *string
}

// Overrides extends Patch with the fields a branch or generation may
// replace on the copied source data.
type Overrides struct {
	Patch
	BaseMode         *types.BaseMode
	ReferenceImageID *types.ImageID
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}

// Apply writes every set field of p onto n, clamping count.
func (p Patch) Apply(n *types.Node) {
	if p.Prompt != nil {
		n.Prompt = *p.Prompt
	}
	if p.PromptParts != nil {
		n.PromptParts = types.ClonePromptParts(*p.PromptParts)
	}
	if p.Count != nil {
		n.Count = *p.Count
	}
	n.Count = types.ClampCount(n.Count)
	if p.ImageSize != nil {
		n.ImageSize = *p.ImageSize
	}
	if p.AspectRatio != nil {
		n.AspectRatio = *p.AspectRatio
	}
	if p.Tags != nil {
		n.Tags = slices.Clone(*p.Tags)
	}
	if p.Notes != nil {
		n.Notes = *p.Notes
	}
}

func (o Overrides) Apply(n *types.Node) {
	o.Patch.Apply(n)
	if o.BaseMode != nil {
		n.BaseMode = *o.BaseMode
	}
	if o.ReferenceImageID != nil {
		n.ReferenceImageID = *o.ReferenceImageID
	}
}

// trackedChanged reports whether applying p to n would change any field
// that is captured in revisions.
func (p Patch) trackedChanged(n *types.Node) bool {
	if p.Prompt != nil && *p.Prompt != n.Prompt {
		return true
	}
	if p.PromptParts != nil && !types.PromptPartsEqual(*p.PromptParts, n.PromptParts) {
		return true
	}
	if p.Count != nil && types.ClampCount(*p.Count) != n.Count {
		return true
	}
	if p.ImageSize != nil && *p.ImageSize != n.ImageSize {
		return true
	}
	if p.AspectRatio != nil && *p.AspectRatio != n.AspectRatio {
		return true
	}
	return false
}

func (p Patch) annotationsChanged(n *types.Node) bool {
	if p.Tags != nil && !slices.Equal(*p.Tags, n.Tags) {
		return true
	}
	return p.Notes != nil && *p.Notes != n.Notes
}

// CommitNodeEdit applies patch to the node. When a tracked field changes the
// pre-edit values are pushed as a revision first. A patch that changes
// nothing leaves the node, including UpdatedAt, untouched. The returned bool
// reports whether anything changed.
func (s *Store) CommitNodeEdit(id types.NodeID, patch Patch, source types.RevisionSource) (bool, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("commit edit %s: %w", id, ErrNodeNotFound)
	}
	cur := s.nodes[i]
	tracked := patch.trackedChanged(cur)
	if !tracked && !patch.annotationsChanged(cur) {
		s.mu.Unlock()
		return false, nil
	}

	now := s.now()
	next := cur.Clone()
	if tracked {
		rev := types.Revision{
			ID:          types.NewRevisionID(),
			Source:      source,
			At:          now,
			Prompt:      cur.Prompt,
			PromptParts: types.ClonePromptParts(cur.PromptParts),
			Count:       cur.Count,
			ImageSize:   cur.ImageSize,
			AspectRatio: cur.AspectRatio,
		}
		revs := make([]types.Revision, 0, len(next.Revisions)+1)
		revs = append(revs, rev)
		revs = append(revs, next.Revisions...)
		if len(revs) > types.MaxRevisions {
			revs = revs[:types.MaxRevisions]
		}
		next.Revisions = revs
	}
	patch.Apply(next)
	next.UpdatedAt = now
	s.replaceNode(i, next)
	snap := s.commit()
	s.mu.Unlock()

	s.publish(snap)
	return true, nil
}

// RestoreNodeRevision re-applies a stored revision as a rollback edit.
func (s *Store) RestoreNodeRevision(id types.NodeID, revisionID types.RevisionID) error {
	n, ok := s.Node(id)
	if !ok {
		return fmt.Errorf("restore revision on %s: %w", id, ErrNodeNotFound)
	}
	var rev *types.Revision
	for i := range n.Revisions {
		if n.Revisions[i].ID == revisionID {
			rev = &n.Revisions[i]
			break
		}
	}
	if rev == nil {
		return fmt.Errorf("restore revision %s: %w", revisionID, ErrRevisionNotFound)
	}

	parts := types.ClonePromptParts(rev.PromptParts)
	if parts == nil {
		parts = []types.PromptPart{}
	}
	_, err := s.CommitNodeEdit(id, Patch{
		Prompt:      Ptr(rev.Prompt),
		PromptParts: &parts,
		Count:       Ptr(rev.Count),
		ImageSize:   Ptr(rev.ImageSize),
		AspectRatio: Ptr(rev.AspectRatio),
	}, types.RevisionRollback)
	return err
}
