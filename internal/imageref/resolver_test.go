package imageref

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/user/gencanvas/pkg/imagegen"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestResolveDataURI(t *testing.T) {
	r := NewDefault(nil, nil)
	ref := EncodeDataURI("image/webp", []byte("pixels"))

	blob, err := r.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob.MimeType != "image/webp" || string(blob.Data) != "pixels" {
		t.Errorf("got %s %q", blob.MimeType, blob.Data)
	}
}

func TestResolveMalformedDataURI(t *testing.T) {
	r := NewDefault(nil, nil)
	for _, ref := range []string{"data:image/png,notbase64", "data:image/png;base64", "data:image/png;base64,!!!"} {
		if _, err := r.Resolve(context.Background(), ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}

func TestResolveHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write([]byte("jpegbytes"))
	}))
	defer server.Close()

	r := NewDefault(server.Client(), nil)
	blob, err := r.Resolve(context.Background(), server.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob.MimeType != "image/jpeg" || string(blob.Data) != "jpegbytes" {
		t.Errorf("got %s %q", blob.MimeType, blob.Data)
	}

	if _, err := r.Resolve(context.Background(), server.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestResolveBlob(t *testing.T) {
	blobs := newMemBlobs()
	blobs.data["abc.png"] = pngHeader

	r := NewDefault(nil, blobs)
	blob, err := r.Resolve(context.Background(), "blob:abc.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blob.MimeType != "image/png" {
		t.Errorf("expected sniffed image/png, got %s", blob.MimeType)
	}

	if _, err := r.Resolve(context.Background(), "blob:gone"); err == nil {
		t.Error("expected error for missing blob")
	}
}

func TestResolveUnsupported(t *testing.T) {
	r := NewDefault(nil, nil)
	_, err := r.Resolve(context.Background(), "blob:abc")
	if !errors.Is(err, ErrUnsupportedRef) {
		t.Errorf("expected ErrUnsupportedRef without a blob store, got %v", err)
	}
	_, err = r.Resolve(context.Background(), "ftp://example.com/a.png")
	if !errors.Is(err, ErrUnsupportedRef) {
		t.Errorf("expected ErrUnsupportedRef, got %v", err)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	r := NewResolver()
	var got string
	r.Register("blob:", func(_ context.Context, ref string) (imagegen.Blob, error) {
		got = "short"
		return imagegen.Blob{}, nil
	})
	r.Register("blob:thumb/", func(_ context.Context, ref string) (imagegen.Blob, error) {
		got = "long"
		return imagegen.Blob{}, nil
	})

	r.Resolve(context.Background(), "blob:thumb/1")
	if got != "long" {
		t.Errorf("expected long prefix handler, got %s", got)
	}
	r.Resolve(context.Background(), "blob:full/1")
	if got != "short" {
		t.Errorf("expected short prefix handler, got %s", got)
	}
}

func TestSinkWithoutBlobsInlines(t *testing.T) {
	ref, err := NewSink(nil).Store(context.Background(), []byte("img"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "data:image/png;base64,") {
		t.Errorf("expected data URI, got %q", ref)
	}
}

func TestSinkRoundTripsThroughBlobStore(t *testing.T) {
	blobs := newMemBlobs()
	sink := NewSink(blobs)

	ref, err := sink.Store(context.Background(), pngHeader, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "blob:") || !strings.HasSuffix(ref, ".png") {
		t.Fatalf("unexpected ref %q", ref)
	}

	blob, err := NewDefault(nil, blobs).Resolve(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob.Data, pngHeader) {
		t.Error("round trip mismatch")
	}
}
