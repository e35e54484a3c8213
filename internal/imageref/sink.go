package imageref

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/user/gencanvas/internal/types"
)

// Sink stores generated image bytes and returns the reference to keep on the
// node. With a blob store the reference is a blob:<key> token, otherwise the
// bytes are inlined as a data URI.
type Sink struct {
	blobs types.BlobStore
}

func NewSink(blobs types.BlobStore) *Sink {
	return &Sink{blobs: blobs}
}

func (s *Sink) Store(ctx context.Context, data []byte, mime string) (string, error) {
	if s == nil || s.blobs == nil {
		return EncodeDataURI(mime, data), nil
	}
	key := uuid.New().String() + extension(mime)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("storing image: %w", err)
	}
	return PrefixBlob + key, nil
}

func extension(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
