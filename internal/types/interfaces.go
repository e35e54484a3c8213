package types

import (
	"context"
	"io"
)

// CanvasStore persists whole-canvas snapshots.
type CanvasStore interface {
	Save(ctx context.Context, snap *CanvasSnapshot) error
	Load(ctx context.Context, id CanvasID) (*CanvasSnapshot, error)
	List(ctx context.Context) ([]CanvasID, error)
}

// BlobStore holds raw image bytes addressed by key.
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// RunJournal is an append-only log of orchestrator runs per canvas.
type RunJournal interface {
	Append(ctx context.Context, rec *RunRecord) error
	Recent(ctx context.Context, canvasID CanvasID, limit int) ([]*RunRecord, error)
}
