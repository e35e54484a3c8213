package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gencanvas/internal/types"
)

// fakeClock advances one second per call so timestamps are distinguishable.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New("canvas-1", WithClock(clock.Now)), clock
}

func addPromptNode(s *Store, prompt string) types.NodeID {
	return s.AddNode(&types.Node{
		Prompt:      prompt,
		Count:       1,
		ImageSize:   types.ImageSize1K,
		AspectRatio: types.AspectSquare,
		BaseMode:    types.BaseModePrompt,
	})
}

func TestAddNodeClampsCount(t *testing.T) {
	s, _ := newTestStore()

	id := s.AddNode(&types.Node{Prompt: "x", Count: 42})
	n, ok := s.Node(id)
	require.True(t, ok)
	assert.Equal(t, types.MaxCount, n.Count)
	assert.Equal(t, types.NodeStatusIdle, n.Status)
	assert.Equal(t, types.CanvasID("canvas-1"), n.CanvasID)

	id = s.AddNode(&types.Node{Prompt: "y", Count: 0})
	n, _ = s.Node(id)
	assert.Equal(t, types.MinCount, n.Count)
}

func TestRemoveNodeDropsEdgesAndSelection(t *testing.T) {
	s, _ := newTestStore()
	root := addPromptNode(s, "root")
	child, err := s.BranchNode(root, Overrides{})
	require.NoError(t, err)
	grandchild, err := s.BranchNode(child, Overrides{})
	require.NoError(t, err)
	require.Equal(t, grandchild, s.SelectedNodeID())

	require.NoError(t, s.RemoveNode(child))
	assert.Empty(t, s.Edges(), "both edges touching the removed node should be gone")
	_, ok := s.Node(grandchild)
	assert.True(t, ok, "descendants are not cascaded")

	require.NoError(t, s.RemoveNode(grandchild))
	assert.Equal(t, types.NodeID(""), s.SelectedNodeID())

	assert.ErrorIs(t, s.RemoveNode("missing"), ErrNodeNotFound)
}

func TestDuplicateNodeResetsLifecycle(t *testing.T) {
	s, _ := newTestStore()
	id := addPromptNode(s, "cat")
	s.UpdateNode(id, func(n *types.Node) {
		n.Status = types.NodeStatusCompleted
		n.Images = []types.Image{{ID: "img-1", URL: "data:"}}
		n.Error = "old"
		n.Position = types.Position{X: 10, Y: 20}
	})
	_, err := s.CommitNodeEdit(id, Patch{Prompt: Ptr("dog")}, types.RevisionManual)
	require.NoError(t, err)

	dup, err := s.DuplicateNode(id)
	require.NoError(t, err)
	n, _ := s.Node(dup)

	assert.NotEqual(t, id, dup)
	assert.Equal(t, "dog", n.Prompt)
	assert.Equal(t, types.NodeStatusIdle, n.Status)
	assert.Empty(t, n.Images)
	assert.Empty(t, n.Revisions)
	assert.Empty(t, n.Error)
	assert.Equal(t, types.Position{X: 50, Y: 60}, n.Position)
	assert.Empty(t, s.Edges(), "duplicates are not connected")
}

func TestSnapshotIsCopyOnWrite(t *testing.T) {
	s, _ := newTestStore()
	id := addPromptNode(s, "before")
	snap := s.Snapshot()

	_, err := s.CommitNodeEdit(id, Patch{Prompt: Ptr("after")}, types.RevisionManual)
	require.NoError(t, err)
	addPromptNode(s, "another")

	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "before", snap.Nodes[0].Prompt)
	assert.Len(t, s.Snapshot().Nodes, 2)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s, _ := newTestStore()
	var versions []int64
	unsubscribe := s.Subscribe(func(snap *types.CanvasSnapshot) {
		versions = append(versions, snap.Version)
	})

	addPromptNode(s, "a")
	addPromptNode(s, "b")
	unsubscribe()
	addPromptNode(s, "c")

	assert.Equal(t, []int64{1, 2}, versions)
}

func TestUpdateMissingNodeIsNoop(t *testing.T) {
	s, _ := newTestStore()
	called := false
	ok := s.UpdateNode("gone", func(n *types.Node) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestSelection(t *testing.T) {
	s, _ := newTestStore()
	a := addPromptNode(s, "a")
	b := addPromptNode(s, "b")

	require.NoError(t, s.SelectOnlyNode(a))
	na, _ := s.Node(a)
	nb, _ := s.Node(b)
	assert.True(t, na.Selected)
	assert.False(t, nb.Selected)
	assert.Equal(t, a, s.SelectedNodeID())

	s.SetSelection([]types.NodeID{a, b})
	assert.Equal(t, types.NodeID(""), s.SelectedNodeID())
	for _, n := range s.Nodes() {
		assert.True(t, n.Selected)
	}

	s.ClearSelection()
	for _, n := range s.Nodes() {
		assert.False(t, n.Selected)
	}
}

func TestToggleImageFavoriteUpdatesNodeAndGallery(t *testing.T) {
	s, _ := newTestStore()
	id := addPromptNode(s, "a")
	img := types.Image{ID: "img-1", NodeID: id}
	s.UpdateNode(id, func(n *types.Node) { n.Images = []types.Image{img} })
	s.AppendGallery(img)

	require.True(t, s.ToggleImageFavorite("img-1"))
	n, _ := s.Node(id)
	assert.True(t, n.Images[0].IsFavorite)
	assert.True(t, s.Gallery()[0].IsFavorite)
	assert.False(t, s.ToggleImageFavorite("nope"))
}
