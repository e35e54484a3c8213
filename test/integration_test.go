//go:build integration

package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/gencanvas/internal/batch"
	ctxengine "github.com/user/gencanvas/internal/context"
	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/imageref"
	"github.com/user/gencanvas/internal/orchestrator"
	"github.com/user/gencanvas/internal/state"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
	"github.com/user/gencanvas/pkg/imagegen/gemini"
)

// fakeGemini answers every generateContent call with one signed image.
func fakeGemini(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		prompt := ""
		if contents, ok := body["contents"].([]any); ok && len(contents) > 0 {
			last := contents[len(contents)-1].(map[string]any)
			for _, p := range last["parts"].([]any) {
				if text, ok := p.(map[string]any)["text"].(string); ok {
					prompt = text
					break
				}
			}
		}
		if strings.Contains(prompt, "forbidden") {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream down"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{
						// "aGk=" is base64 for "hi".
						{"inlineData": map[string]any{"mimeType": "image/png", "data": "aGk="}, "thoughtSignature": "sig-" + string(rune('a'+n%26))},
					},
				},
				"finishReason": "STOP",
			}},
		})
	}))
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var calls atomic.Int32
	server := fakeGemini(t, &calls)
	defer server.Close()

	canvases, err := state.OpenSQLiteCanvasStore(filepath.Join(dir, "canvases.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer canvases.Close()
	blobs := state.NewLocalBlobStore(filepath.Join(dir, "blobs"))
	journal := state.NewJournal(dir)

	g := graph.New("e2e")
	saver := state.NewAutosaver(canvases, 20*time.Millisecond)
	saver.Attach(g)
	saver.Start(ctx)

	client := gemini.New(&imagegen.Config{BaseURL: server.URL, APIKey: "k"},
		gemini.WithRetryPolicy(&imagegen.RetryPolicy{MaxAttempts: 1}))
	resolver := imageref.NewDefault(server.Client(), blobs)
	orch := orchestrator.New(g, client, resolver, imageref.NewSink(blobs),
		orchestrator.WithContextEngine(ctxengine.New(resolver)),
		orchestrator.WithJournal(journal),
	)

	root := g.AddNode(&types.Node{Prompt: "a lighthouse on a cliff", Count: 2, BaseMode: types.BaseModePrompt})
	res, err := orch.GenerateFromNode(ctx, root, orchestrator.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 2 || len(res.ChildIDs) != 2 {
		t.Fatalf("expected 2 completed children, got %+v", res)
	}

	child, _ := g.Node(res.ChildIDs[0])
	if len(child.Images) != 1 || !strings.HasPrefix(child.Images[0].URL, "blob:") {
		t.Fatalf("expected image stored as blob, got %+v", child.Images)
	}
	if child.Images[0].Meta == nil || child.Images[0].Meta.ThoughtSignature == "" {
		t.Fatal("expected thought signature to be kept")
	}

	// Multi-turn continuation replays the ancestry with signatures.
	cont, err := orch.ContinueFromImage(ctx, child.ID, child.Images[0].ID, orchestrator.ContinueMulti,
		graph.Overrides{Patch: graph.Patch{Prompt: graph.Ptr("same lighthouse in a storm")}})
	if err != nil {
		t.Fatal(err)
	}
	if cont.Succeeded != 1 || cont.Downgraded {
		t.Fatalf("unexpected continuation result %+v", cont)
	}

	// Batch over two bases, one of which fails upstream.
	bad := g.AddNode(&types.Node{Prompt: "something forbidden", Count: 1, BaseMode: types.BaseModePrompt})
	sum, err := batch.New(orch, g).Run(ctx, []types.NodeID{root, bad}, batch.Options{Concurrency: 2})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected batch summary %+v", sum)
	}

	if err := saver.Stop(); err != nil {
		t.Fatal(err)
	}

	// Reload from disk and compare.
	snap, err := canvases.Load(ctx, "e2e")
	if err != nil {
		t.Fatal(err)
	}
	reloaded := graph.New("e2e")
	reloaded.Load(snap)
	if len(reloaded.Nodes()) != len(g.Nodes()) || len(reloaded.Edges()) != len(g.Edges()) {
		t.Fatalf("reloaded canvas differs: %d/%d nodes, %d/%d edges",
			len(reloaded.Nodes()), len(g.Nodes()), len(reloaded.Edges()), len(g.Edges()))
	}
	if len(reloaded.Gallery()) != len(g.Gallery()) {
		t.Errorf("gallery not persisted")
	}

	records, err := journal.Recent(ctx, "e2e", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Errorf("expected 4 journaled runs, got %d", len(records))
	}
}
