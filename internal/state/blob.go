package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBlobNotFound is returned by blob stores for unknown keys.
var ErrBlobNotFound = errors.New("blob not found")

// LocalBlobStore keeps image bytes as files under a root directory.
type LocalBlobStore struct {
	rootPath string
}

// NewLocalBlobStore creates a new LocalBlobStore with the given root directory.
func NewLocalBlobStore(rootPath string) *LocalBlobStore {
	return &LocalBlobStore{rootPath: rootPath}
}

func (s *LocalBlobStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.rootPath, clean), nil
}

// Put writes the content through a temp file and renames it into place.
func (s *LocalBlobStore) Put(_ context.Context, key string, reader io.Reader) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, reader); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempFile.Name(), fullPath); err != nil {
		os.Remove(tempFile.Name())
		return fmt.Errorf("rename temp file to %s: %w", fullPath, err)
	}
	return nil
}

func (s *LocalBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return file, nil
}

func (s *LocalBlobStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", key, ErrBlobNotFound)
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

const redisBlobPrefix = "gencanvas:blob:"

// RedisBlobStore keeps image bytes as Redis string values, optionally with
// an expiry.
type RedisBlobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBlobStore wraps client. A zero ttl keeps blobs forever.
func NewRedisBlobStore(client *redis.Client, ttl time.Duration) *RedisBlobStore {
	return &RedisBlobStore{client: client, ttl: ttl}
}

func (s *RedisBlobStore) makeKey(key string) string {
	return redisBlobPrefix + key
}

func (s *RedisBlobStore) Put(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.makeKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("SET %s: %w", key, err)
	}
	return nil
}

func (s *RedisBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.client.Get(ctx, s.makeKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("get %s: %w", key, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("GET %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.makeKey(key)).Result()
	if err != nil {
		return fmt.Errorf("DEL %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", key, ErrBlobNotFound)
	}
	return nil
}
