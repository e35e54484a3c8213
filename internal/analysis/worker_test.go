package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

type fakeAnalyzer struct {
	promptErr error
	imageErr  error
}

func (f *fakeAnalyzer) AnalyzePrompt(_ context.Context, prompt string) (string, error) {
	if f.promptErr != nil {
		return "", f.promptErr
	}
	return "summary of " + prompt, nil
}

func (f *fakeAnalyzer) DescribeImage(_ context.Context, img imagegen.Blob) (string, error) {
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return "caption " + string(img.Data), nil
}

type okResolver struct{}

func (okResolver) Resolve(_ context.Context, ref string) (imagegen.Blob, error) {
	if ref == "broken" {
		return imagegen.Blob{}, errors.New("unreadable")
	}
	return imagegen.Blob{MimeType: "image/png", Data: []byte(ref)}, nil
}

func seedNode(t *testing.T, s *graph.Store) (types.NodeID, []types.Image) {
	t.Helper()
	id := s.AddNode(&types.Node{Prompt: "a lighthouse", Count: 1})
	images := []types.Image{
		{ID: "img-1", NodeID: id, URL: "u1"},
		{ID: "img-2", NodeID: id, URL: "broken"},
	}
	s.UpdateNode(id, func(n *types.Node) { n.Images = images })
	return id, images
}

func TestWorkerAnnotatesNode(t *testing.T) {
	s := graph.New("c")
	id, images := seedNode(t, s)

	w := NewWorker(&fakeAnalyzer{}, okResolver{}, s)
	w.Start(context.Background())
	require.True(t, w.Enqueue(Task{NodeID: id, Prompt: "a lighthouse", Images: images}))
	w.Stop()

	n, ok := s.Node(id)
	require.True(t, ok)
	require.NotNil(t, n.PromptAnalysis)
	assert.Equal(t, "summary of a lighthouse", n.PromptAnalysis.Summary)
	require.Len(t, n.ImageAnalyses, 1, "unreadable image is skipped")
	assert.Equal(t, types.ImageID("img-1"), n.ImageAnalyses[0].ImageID)
	assert.Equal(t, "caption u1", n.ImageAnalyses[0].Caption)
	assert.Equal(t, types.NodeStatusIdle, n.Status, "analysis never touches status")
}

func TestWorkerSwallowsFailures(t *testing.T) {
	s := graph.New("c")
	id, images := seedNode(t, s)
	before, _ := s.Node(id)

	w := NewWorker(&fakeAnalyzer{promptErr: errors.New("quota"), imageErr: errors.New("quota")}, okResolver{}, s)
	w.Start(context.Background())
	w.Enqueue(Task{NodeID: id, Prompt: "a lighthouse", Images: images})
	w.Stop()

	after, _ := s.Node(id)
	assert.Nil(t, after.PromptAnalysis)
	assert.Empty(t, after.ImageAnalyses)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestWorkerIgnoresDeletedNode(t *testing.T) {
	s := graph.New("c")
	id, images := seedNode(t, s)
	require.NoError(t, s.RemoveNode(id))

	w := NewWorker(&fakeAnalyzer{}, okResolver{}, s)
	w.Start(context.Background())
	w.Enqueue(Task{NodeID: id, Prompt: "x", Images: images})
	w.Stop()

	assert.Empty(t, s.Nodes())
}

func TestEnqueueNeverBlocks(t *testing.T) {
	w := NewWorker(&fakeAnalyzer{}, okResolver{}, graph.New("c"))
	// Not started: the buffer fills and further tasks are dropped.
	accepted := 0
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+10; i++ {
			if w.Enqueue(Task{NodeID: "n"}) {
				accepted++
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked")
	}
	assert.Equal(t, defaultQueueSize, accepted)

	w.Stop()
	assert.False(t, w.Enqueue(Task{NodeID: "n"}), "stopped worker drops tasks")
}
