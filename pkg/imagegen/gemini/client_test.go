package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/gencanvas/pkg/imagegen"
)

func imageReply(data string, signature string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role": "model",
				"parts": []map[string]any{
					{"text": "thinking about composition", "thought": true, "thoughtSignature": "text-sig"},
					{"inlineData": map[string]any{"mimeType": "image/png", "data": data}, "thoughtSignature": signature},
				},
			},
			"finishReason": "STOP",
		}},
	}
}

func TestGenerate(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("missing or invalid api key header")
		}
		if r.URL.Path != "/models/image-model:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		// "aGk=" is base64 for "hi".
		json.NewEncoder(w).Encode(imageReply("aGk=", "img-sig"))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL, APIKey: "test-key", Model: "image-model"})
	resp, err := client.Generate(context.Background(), &imagegen.Request{
		Parts: []imagegen.Part{{Text: "a red bicycle"}},
		Count: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if resp.RequestedCount != 3 || len(resp.Images) != 3 {
		t.Fatalf("expected 3 images, got %d (requested %d)", len(resp.Images), resp.RequestedCount)
	}
	img := resp.Images[0]
	if string(img.Data) != "hi" || img.MimeType != "image/png" {
		t.Errorf("unexpected image %q %s", img.Data, img.MimeType)
	}
	if img.ThoughtSignature != "img-sig" {
		t.Errorf("expected image signature, got %q", img.ThoughtSignature)
	}
	if img.ThoughtText != "thinking about composition" || img.ThoughtTextSignature != "text-sig" {
		t.Errorf("unexpected thought text %q / %q", img.ThoughtText, img.ThoughtTextSignature)
	}
}

func TestGenerateRequestFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)

		contents := req["contents"].([]any)
		if len(contents) != 1 {
			t.Fatalf("expected one content, got %d", len(contents))
		}
		parts := contents[0].(map[string]any)["parts"].([]any)
		if len(parts) != 2 {
			t.Fatalf("expected text + input image parts, got %d", len(parts))
		}
		if _, ok := parts[1].(map[string]any)["inlineData"]; !ok {
			t.Error("expected input image as inlineData")
		}
		cfg := req["generationConfig"].(map[string]any)["imageConfig"].(map[string]any)
		if cfg["aspectRatio"] != "16:9" || cfg["imageSize"] != "2K" {
			t.Errorf("unexpected image config %v", cfg)
		}
		json.NewEncoder(w).Encode(imageReply("aGk=", ""))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL, APIKey: "k"})
	_, err := client.Generate(context.Background(), &imagegen.Request{
		Parts:       []imagegen.Part{{Text: "same scene at night"}},
		Count:       1,
		ImageSize:   "2K",
		AspectRatio: "16:9",
		InputImage:  &imagegen.Blob{MimeType: "image/png", Data: []byte{1, 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGenerateMultiTurnKeepsSignatures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"thoughtSignature":"sig-1"`) {
			t.Errorf("signature not forwarded: %s", body)
		}
		if !strings.Contains(string(body), `"role":"model"`) {
			t.Errorf("model turn missing: %s", body)
		}
		json.NewEncoder(w).Encode(imageReply("aGk=", "sig-2"))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), &imagegen.Request{
		Contents: []imagegen.Content{
			{Role: imagegen.RoleUser, Parts: []imagegen.Part{{Text: "a fox"}}},
			{Role: imagegen.RoleModel, Parts: []imagegen.Part{{
				InlineData:       &imagegen.Blob{MimeType: "image/png", Data: []byte{9}},
				ThoughtSignature: "sig-1",
			}}},
			{Role: imagegen.RoleUser, Parts: []imagegen.Part{{Text: "make it winter"}}},
		},
		Count: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGeneratePartialFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"candidates": []map[string]any{{
					"content":      map[string]any{"parts": []map[string]any{{"text": "I can't draw that"}}},
					"finishReason": "IMAGE_SAFETY",
				}},
			})
			return
		}
		json.NewEncoder(w).Encode(imageReply("aGk=", ""))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL})
	resp, err := client.Generate(context.Background(), &imagegen.Request{
		Parts: []imagegen.Part{{Text: "x"}},
		Count: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Images) != 1 || len(resp.PartialErrors) != 1 {
		t.Fatalf("expected 1 image and 1 partial error, got %d/%d", len(resp.Images), len(resp.PartialErrors))
	}
	if !strings.Contains(resp.PartialErrors[0].Message, "IMAGE_SAFETY") {
		t.Errorf("unexpected message %q", resp.PartialErrors[0].Message)
	}
}

func TestGenerateContinuationTokenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    400,
				"message": "Image part is missing a thought_signature in content position 2",
				"status":  "INVALID_ARGUMENT",
			},
		})
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), &imagegen.Request{
		Contents: []imagegen.Content{{Role: imagegen.RoleUser, Parts: []imagegen.Part{{Text: "x"}}}},
		Count:    2,
	})
	if !errors.Is(err, imagegen.ErrContinuationToken) {
		t.Fatalf("expected ErrContinuationToken, got %v", err)
	}
}

func TestGenerateTotalFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL}, WithRetryPolicy(&imagegen.RetryPolicy{MaxAttempts: 1}))
	resp, err := client.Generate(context.Background(), &imagegen.Request{
		Parts: []imagegen.Part{{Text: "x"}},
		Count: 2,
	})
	if err != nil {
		t.Fatalf("per-attempt failures should be reported in the response, got %v", err)
	}
	if len(resp.Images) != 0 || len(resp.PartialErrors) != 2 {
		t.Fatalf("expected 2 partial errors and no images, got %d/%d", len(resp.PartialErrors), len(resp.Images))
	}
	for i, pe := range resp.PartialErrors {
		if pe.Attempt != i+1 {
			t.Errorf("expected attempt %d, got %d", i+1, pe.Attempt)
		}
		if !strings.Contains(pe.Message, "status 500") {
			t.Errorf("unexpected message %q", pe.Message)
		}
	}
}

func TestGenerateAllAttemptsBlockedKeepsEachReason(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := "SAFETY"
		if calls.Add(1) == 2 {
			reason = "OTHER"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"promptFeedback": map[string]any{"blockReason": reason},
		})
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL})
	resp, err := client.Generate(context.Background(), &imagegen.Request{
		Parts: []imagegen.Part{{Text: "x"}},
		Count: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.PartialErrors) != 2 {
		t.Fatalf("expected 2 partial errors, got %d", len(resp.PartialErrors))
	}
	seen := map[string]bool{}
	for _, pe := range resp.PartialErrors {
		seen[pe.Message] = true
	}
	for _, want := range []string{"prompt blocked: SAFETY", "prompt blocked: OTHER"} {
		if !seen[want] {
			t.Errorf("missing %q in %v", want, resp.PartialErrors)
		}
	}
}

func TestGenerateCancelledFailsWholeCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(imageReply("aGk=", ""))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := New(&imagegen.Config{BaseURL: server.URL})
	_, err := client.Generate(ctx, &imagegen.Request{
		Parts: []imagegen.Part{{Text: "x"}},
		Count: 2,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("overloaded"))
			return
		}
		json.NewEncoder(w).Encode(imageReply("aGk=", "sig"))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL}, WithRetryPolicy(&imagegen.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     time.Millisecond,
	}))
	resp, err := client.Generate(context.Background(), &imagegen.Request{
		Parts: []imagegen.Part{{Text: "x"}},
		Count: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Images) != 1 || calls.Load() != 2 {
		t.Errorf("expected one image after one retry, got %d images in %d calls", len(resp.Images), calls.Load())
	}
}

func TestGenerateDoesNotRetryContinuationError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"missing thought_signature"}}`))
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), &imagegen.Request{
		Contents: []imagegen.Content{{Role: imagegen.RoleUser, Parts: []imagegen.Part{{Text: "x"}}}},
		Count:    1,
	})
	if !errors.Is(err, imagegen.ErrContinuationToken) {
		t.Fatalf("expected ErrContinuationToken, got %v", err)
	}
	var se *imagegen.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("expected a 400 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/analysis-model:generateContent") {
			t.Errorf("analysis should use the analysis model, got %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": " A quiet harbor. "}}},
			}},
		})
	}))
	defer server.Close()

	client := New(&imagegen.Config{BaseURL: server.URL, AnalysisModel: "analysis-model"})
	got, err := client.DescribeImage(context.Background(), imagegen.Blob{MimeType: "image/png", Data: []byte{1}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "A quiet harbor." {
		t.Errorf("unexpected caption %q", got)
	}

	got, err = client.AnalyzePrompt(context.Background(), "harbor at dawn")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected analysis text")
	}
}
