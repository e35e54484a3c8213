// Package imageref turns opaque image references back into bytes and stores
// freshly generated bytes under a reference.
package imageref

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

const (
	PrefixData  = "data:"
	PrefixHTTP  = "http://"
	PrefixHTTPS = "https://"
	PrefixBlob  = "blob:"

	// maxFetchBytes bounds remote downloads.
	maxFetchBytes = 32 << 20
)

var ErrUnsupportedRef = errors.New("unsupported image reference")

// Handler resolves references that start with the prefix it is registered
// under.
type Handler func(ctx context.Context, ref string) (imagegen.Blob, error)

// Resolver routes a reference to the handler registered for its prefix.
// The longest matching prefix wins.
type Resolver struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	prefixes []string
}

func NewResolver() *Resolver {
	return &Resolver{
		handlers: make(map[string]Handler),
	}
}

// NewDefault registers data URIs, http(s) URLs and, when blobs is non-nil,
// blob: tokens.
func NewDefault(client *http.Client, blobs types.BlobStore) *Resolver {
	r := NewResolver()
	r.Register(PrefixData, DataURIHandler)
	fetch := HTTPHandler(client)
	r.Register(PrefixHTTP, fetch)
	r.Register(PrefixHTTPS, fetch)
	if blobs != nil {
		r.Register(PrefixBlob, BlobHandler(blobs))
	}
	return r
}

// Register adds a handler for references starting with prefix.
func (r *Resolver) Register(prefix string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		slices.SortFunc(r.prefixes, func(a, b string) int { return len(b) - len(a) })
	}
	r.handlers[prefix] = h
}

// Resolve fetches the bytes behind ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (imagegen.Blob, error) {
	r.mu.RLock()
	var h Handler
	for _, p := range r.prefixes {
		if strings.HasPrefix(ref, p) {
			h = r.handlers[p]
			break
		}
	}
	r.mu.RUnlock()
	if h == nil {
		return imagegen.Blob{}, fmt.Errorf("%w: %s", ErrUnsupportedRef, abbreviate(ref))
	}
	blob, err := h(ctx, ref)
	if err != nil {
		return imagegen.Blob{}, fmt.Errorf("resolve %s: %w", abbreviate(ref), err)
	}
	return blob, nil
}

// DataURIHandler decodes base64 data URIs.
func DataURIHandler(_ context.Context, ref string) (imagegen.Blob, error) {
	return ParseDataURI(ref)
}

// HTTPHandler downloads remote images with client, or a 30s default client
// when nil.
func HTTPHandler(client *http.Client) Handler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, ref string) (imagegen.Blob, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return imagegen.Blob{}, fmt.Errorf("creating request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return imagegen.Blob{}, fmt.Errorf("fetching: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return imagegen.Blob{}, fmt.Errorf("fetching: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
		if err != nil {
			return imagegen.Blob{}, fmt.Errorf("reading body: %w", err)
		}
		if len(data) > maxFetchBytes {
			return imagegen.Blob{}, fmt.Errorf("image exceeds %d bytes", maxFetchBytes)
		}
		mime := resp.Header.Get("Content-Type")
		if i := strings.IndexByte(mime, ';'); i >= 0 {
			mime = mime[:i]
		}
		if !strings.HasPrefix(mime, "image/") {
			mime = http.DetectContentType(data)
		}
		return imagegen.Blob{MimeType: mime, Data: data}, nil
	}
}

// BlobHandler reads blob:<key> tokens from store.
func BlobHandler(store types.BlobStore) Handler {
	return func(ctx context.Context, ref string) (imagegen.Blob, error) {
		rc, err := store.Get(ctx, strings.TrimPrefix(ref, PrefixBlob))
		if err != nil {
			return imagegen.Blob{}, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return imagegen.Blob{}, fmt.Errorf("reading blob: %w", err)
		}
		return imagegen.Blob{MimeType: http.DetectContentType(data), Data: data}, nil
	}
}

// ParseDataURI decodes a data:<mime>;base64,<payload> reference.
func ParseDataURI(ref string) (imagegen.Blob, error) {
	rest, ok := strings.CutPrefix(ref, PrefixData)
	if !ok {
		return imagegen.Blob{}, errors.New("not a data URI")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return imagegen.Blob{}, errors.New("malformed data URI")
	}
	mime, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return imagegen.Blob{}, errors.New("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return imagegen.Blob{}, fmt.Errorf("decoding data URI: %w", err)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return imagegen.Blob{MimeType: mime, Data: data}, nil
}

func EncodeDataURI(mime string, data []byte) string {
	return PrefixData + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func abbreviate(ref string) string {
	if len(ref) > 48 {
		return ref[:48] + "..."
	}
	return ref
}
