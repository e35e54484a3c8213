package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/gencanvas/internal/types"
)

// maxRecordSize bounds one journal line; records carry ids, not image data.
const maxRecordSize = 1 << 20

// Journal is a JSONL-backed append-only run log.
// Records are stored per canvas in journal/<canvasID>.jsonl.
type Journal struct {
	root  string
	mu    sync.Mutex
	locks map[types.CanvasID]*sync.Mutex
}

// NewJournal creates a file-backed Journal rooted at the given directory.
func NewJournal(root string) *Journal {
	return &Journal{
		root:  root,
		locks: make(map[types.CanvasID]*sync.Mutex),
	}
}

// getLock returns the per-canvas mutex, creating one if it doesn't exist.
func (j *Journal) getLock(canvasID types.CanvasID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()

	if lock, ok := j.locks[canvasID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[canvasID] = lock
	return lock
}

func (j *Journal) journalPath(canvasID types.CanvasID) string {
	return filepath.Join(j.root, "journal", string(canvasID)+".jsonl")
}

// Append adds a record to the canvas's journal.
func (j *Journal) Append(_ context.Context, rec *types.RunRecord) error {
	lock := j.getLock(rec.CanvasID)
	lock.Lock()
	defer lock.Unlock()

	path := j.journalPath(rec.CanvasID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Recent returns the last limit records for the canvas, oldest first.
// A limit of zero or less returns every record.
func (j *Journal) Recent(_ context.Context, canvasID types.CanvasID, limit int) ([]*types.RunRecord, error) {
	lock := j.getLock(canvasID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(j.journalPath(canvasID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []*types.RunRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	for scanner.Scan() {
		var rec types.RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
