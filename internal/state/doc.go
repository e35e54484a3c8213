// Package state provides the persistence collaborators of a canvas: canvas
// snapshot stores, image blob stores, the run journal and the autosaver.
package state

import "github.com/user/gencanvas/internal/types"

// Compile-time interface compliance checks.
var _ types.CanvasStore = (*JSONCanvasStore)(nil)
var _ types.CanvasStore = (*SQLiteCanvasStore)(nil)
var _ types.BlobStore = (*LocalBlobStore)(nil)
var _ types.BlobStore = (*RedisBlobStore)(nil)
var _ types.RunJournal = (*Journal)(nil)
