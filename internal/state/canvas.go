package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/gencanvas/internal/types"
)

// ErrCanvasNotFound is returned by canvas stores for unknown ids.
var ErrCanvasNotFound = errors.New("canvas not found")

// JSONCanvasStore keeps one JSON document per canvas at
// canvases/<canvasID>.json under root.
type JSONCanvasStore struct {
	root string
	mu   sync.RWMutex
}

// NewJSONCanvasStore creates a file-backed canvas store rooted at the given directory.
func NewJSONCanvasStore(root string) *JSONCanvasStore {
	return &JSONCanvasStore{root: root}
}

func (s *JSONCanvasStore) canvasDir() string {
	return filepath.Join(s.root, "canvases")
}

func (s *JSONCanvasStore) canvasPath(id types.CanvasID) string {
	return filepath.Join(s.canvasDir(), string(id)+".json")
}

// Save writes the snapshot atomically, replacing any previous one.
func (s *JSONCanvasStore) Save(_ context.Context, snap *types.CanvasSnapshot) error {
	if snap.CanvasID == "" {
		return errors.New("save canvas: empty canvas id")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal canvas: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.canvasDir(), 0o755); err != nil {
		return fmt.Errorf("create canvas dir: %w", err)
	}
	// Atomic write: write to temp file then rename
	path := s.canvasPath(snap.CanvasID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp canvas: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp canvas: %w", err)
	}
	return nil
}

// Load reads the snapshot for id.
func (s *JSONCanvasStore) Load(_ context.Context, id types.CanvasID) (*types.CanvasSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.canvasPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load canvas %s: %w", id, ErrCanvasNotFound)
		}
		return nil, fmt.Errorf("read canvas: %w", err)
	}
	var snap types.CanvasSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal canvas: %w", err)
	}
	return &snap, nil
}

// List returns the ids of all stored canvases, sorted.
func (s *JSONCanvasStore) List(_ context.Context) ([]types.CanvasID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.canvasDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []types.CanvasID{}, nil
		}
		return nil, fmt.Errorf("read canvas dir: %w", err)
	}
	ids := make([]types.CanvasID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, types.CanvasID(strings.TrimSuffix(name, ".json")))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
