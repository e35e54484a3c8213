package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/gencanvas/internal/types"
)

func sampleSnapshot(id types.CanvasID, version int64) *types.CanvasSnapshot {
	return &types.CanvasSnapshot{
		CanvasID: id,
		Nodes: []*types.Node{
			{ID: "n1", CanvasID: id, Prompt: "a lighthouse", Count: 2, Status: types.NodeStatusCompleted,
				Images: []types.Image{{ID: "i1", NodeID: "n1", URL: "blob:abc.png"}}},
			{ID: "n2", CanvasID: id, Prompt: "at dusk", Count: 1, Status: types.NodeStatusIdle, Images: []types.Image{}},
		},
		Edges:          []types.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
		Gallery:        []types.Image{{ID: "i1", NodeID: "n1", URL: "blob:abc.png"}},
		SelectedNodeID: "n2",
		Version:        version,
		SavedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// runCanvasStoreTests exercises any CanvasStore implementation.
func runCanvasStoreTests(t *testing.T, store types.CanvasStore) {
	ctx := context.Background()

	t.Run("missing canvas", func(t *testing.T) {
		_, err := store.Load(ctx, "nope")
		if !errors.Is(err, ErrCanvasNotFound) {
			t.Errorf("expected ErrCanvasNotFound, got %v", err)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		if err := store.Save(ctx, sampleSnapshot("c1", 3)); err != nil {
			t.Fatal(err)
		}
		got, err := store.Load(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Nodes) != 2 || got.Nodes[0].Prompt != "a lighthouse" {
			t.Errorf("unexpected nodes %+v", got.Nodes)
		}
		if len(got.Edges) != 1 || got.Edges[0].Target != "n2" {
			t.Errorf("unexpected edges %+v", got.Edges)
		}
		if got.SelectedNodeID != "n2" || got.Version != 3 {
			t.Errorf("unexpected selection/version %s/%d", got.SelectedNodeID, got.Version)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		snap := sampleSnapshot("c1", 4)
		snap.Nodes = snap.Nodes[:1]
		if err := store.Save(ctx, snap); err != nil {
			t.Fatal(err)
		}
		got, err := store.Load(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != 4 || len(got.Nodes) != 1 {
			t.Errorf("expected overwritten snapshot, got version %d with %d nodes", got.Version, len(got.Nodes))
		}
	})

	t.Run("list", func(t *testing.T) {
		if err := store.Save(ctx, sampleSnapshot("a0", 1)); err != nil {
			t.Fatal(err)
		}
		ids, err := store.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 2 || ids[0] != "a0" || ids[1] != "c1" {
			t.Errorf("unexpected ids %v", ids)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		if err := store.Save(ctx, &types.CanvasSnapshot{}); err == nil {
			t.Error("expected error for empty canvas id")
		}
	})
}

func TestJSONCanvasStore(t *testing.T) {
	runCanvasStoreTests(t, NewJSONCanvasStore(t.TempDir()))
}

func TestSQLiteCanvasStore(t *testing.T) {
	store, err := OpenSQLiteCanvasStore(filepath.Join(t.TempDir(), "canvas.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runCanvasStoreTests(t, store)
}

func TestSQLiteCanvasStoreInMemory(t *testing.T) {
	store, err := OpenSQLiteCanvasStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, sampleSnapshot("m", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "m"); err != nil {
		t.Fatal(err)
	}
}
