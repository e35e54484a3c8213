package context

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

// chainGraph maps a child id to its parent.
type chainGraph map[types.NodeID]*types.Node

func (g chainGraph) Parent(id types.NodeID) (*types.Node, bool) {
	p, ok := g[id]
	return p, ok
}

func link(g chainGraph, parent, child *types.Node) {
	g[child.ID] = parent
}

// mapResolver serves image URLs from a map.
type mapResolver map[string]imagegen.Blob

func (m mapResolver) Resolve(_ context.Context, ref string) (imagegen.Blob, error) {
	b, ok := m[ref]
	if !ok {
		return imagegen.Blob{}, errors.New("not found")
	}
	return b, nil
}

func node(id, prompt string, images ...types.Image) *types.Node {
	return &types.Node{ID: types.NodeID(id), Prompt: prompt, Count: 1, Images: images}
}

func image(id, url, signature string) types.Image {
	img := types.Image{ID: types.ImageID(id), URL: url}
	if signature != "" {
		img.Meta = &types.ImageMeta{
			ThoughtSignature:     signature,
			ThoughtText:          "planning " + id,
			ThoughtTextSignature: "text-" + signature,
		}
	}
	return img
}

func TestBuildConversationFallsBackForUnsignedImage(t *testing.T) {
	root := node("root", "a fox in a meadow", image("i1", "u1", "sig-1"))
	mid := node("mid", "make it winter", image("i2", "u2", ""))
	leaf := node("leaf", "add northern lights", image("i3", "u3", "sig-3"))
	target := node("target", "zoom out")

	g := chainGraph{}
	link(g, root, mid)
	link(g, mid, leaf)
	link(g, leaf, target)

	res := mapResolver{
		"u1": {MimeType: "image/png", Data: []byte("one")},
		"u2": {MimeType: "image/png", Data: []byte("two")},
		"u3": {MimeType: "image/png", Data: []byte("three")},
	}
	conv, err := New(res).BuildConversation(context.Background(), g, target, 6)
	if err != nil {
		t.Fatal(err)
	}

	wantRoles := []string{"user", "model", "user", "user", "user", "model", "user"}
	if len(conv.Contents) != len(wantRoles) {
		t.Fatalf("expected %d turns, got %d", len(wantRoles), len(conv.Contents))
	}
	for i, want := range wantRoles {
		if conv.Contents[i].Role != want {
			t.Errorf("turn %d: expected role %s, got %s", i, want, conv.Contents[i].Role)
		}
	}

	// Signed image: thought text precedes the image, both carry signatures.
	model := conv.Contents[1]
	if len(model.Parts) != 2 {
		t.Fatalf("expected thought text + image parts, got %d", len(model.Parts))
	}
	if model.Parts[0].Text != "planning i1" || model.Parts[0].ThoughtSignature != "text-sig-1" {
		t.Errorf("unexpected thought part %+v", model.Parts[0])
	}
	if model.Parts[1].ThoughtSignature != "sig-1" || string(model.Parts[1].InlineData.Data) != "one" {
		t.Errorf("unexpected image part %+v", model.Parts[1])
	}

	// Unsigned image: user turn with an explanatory note.
	fallback := conv.Contents[3]
	if !strings.HasPrefix(fallback.Parts[0].Text, "Reference to previous result") {
		t.Errorf("expected note first, got %q", fallback.Parts[0].Text)
	}
	if fallback.Parts[1].InlineData == nil || fallback.Parts[1].ThoughtSignature != "" {
		t.Errorf("fallback image must be inline and unsigned: %+v", fallback.Parts[1])
	}

	last := conv.Contents[len(conv.Contents)-1]
	if last.Parts[0].Text != "zoom out" {
		t.Errorf("final turn should be the target prompt, got %q", last.Parts[0].Text)
	}
	if len(conv.Chain) != 3 || conv.Chain[0] != "root" || conv.Chain[2] != "leaf" {
		t.Errorf("unexpected chain %v", conv.Chain)
	}
	if conv.TextTokens <= 0 {
		t.Error("expected a token estimate")
	}
}

func TestBuildConversationTruncatesToRecentAncestors(t *testing.T) {
	g := chainGraph{}
	nodes := []*types.Node{
		node("n0", "zero"), node("n1", "one"), node("n2", "two"), node("n3", "three"),
	}
	for i := 1; i < len(nodes); i++ {
		link(g, nodes[i-1], nodes[i])
	}
	target := node("t", "next")
	link(g, nodes[3], target)

	conv, err := New(mapResolver{}).BuildConversation(context.Background(), g, target, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Chain) != 2 || conv.Chain[0] != "n2" || conv.Chain[1] != "n3" {
		t.Fatalf("expected [n2 n3], got %v", conv.Chain)
	}
	if conv.Contents[0].Parts[0].Text != "two" {
		t.Errorf("expected first turn from n2, got %q", conv.Contents[0].Parts[0].Text)
	}
}

func TestBuildConversationSkipsUnreadableImages(t *testing.T) {
	parent := node("p", "castle", image("i1", "missing", "sig"))
	target := node("t", "at night")
	g := chainGraph{}
	link(g, parent, target)

	conv, err := New(mapResolver{}).BuildConversation(context.Background(), g, target, 6)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Skipped != 1 {
		t.Errorf("expected 1 skipped image, got %d", conv.Skipped)
	}
	if len(conv.Contents) != 2 {
		t.Errorf("expected prompt turns only, got %d", len(conv.Contents))
	}
}

func TestBuildConversationUsesReferencedImage(t *testing.T) {
	parent := node("p", "portraits", image("first", "u-first", "s1"), image("chosen", "u-chosen", "s2"))
	target := node("t", "more like this")
	target.ReferenceImageID = "chosen"
	g := chainGraph{}
	link(g, parent, target)

	res := mapResolver{
		"u-first":  {MimeType: "image/png", Data: []byte("first")},
		"u-chosen": {MimeType: "image/png", Data: []byte("chosen")},
	}
	conv, err := New(res).BuildConversation(context.Background(), g, target, 6)
	if err != nil {
		t.Fatal(err)
	}
	parts := conv.Contents[1].Parts
	if got := string(parts[len(parts)-1].InlineData.Data); got != "chosen" {
		t.Errorf("expected the referenced image, got %q", got)
	}
}

func TestPromptPartsWithAnnotations(t *testing.T) {
	n := &types.Node{
		PromptParts: []types.PromptPart{
			types.TextPart("use this pose"),
			types.ImagePart("ref", "image/jpeg", []byte{1, 2}, "keep the raised arm"),
			types.TextPart("   "),
		},
	}
	parts := PromptParts(n)
	if len(parts) != 3 {
		t.Fatalf("expected text, image, note; got %d parts", len(parts))
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/jpeg" {
		t.Errorf("expected inline image, got %+v", parts[1])
	}
	if !strings.Contains(parts[2].Text, "keep the raised arm") {
		t.Errorf("expected annotation note, got %q", parts[2].Text)
	}
}

func TestBuildConversationRejectsEmptyTarget(t *testing.T) {
	_, err := New(mapResolver{}).BuildConversation(context.Background(), chainGraph{}, node("t", "  "), 6)
	if !errors.Is(err, ErrNoPrompt) {
		t.Errorf("expected ErrNoPrompt, got %v", err)
	}
}

func TestClampDepth(t *testing.T) {
	for in, want := range map[int]int{0: DefaultDepth, -1: MinDepth, 1: 1, 12: 12, 40: MaxDepth} {
		if got := ClampDepth(in); got != want {
			t.Errorf("ClampDepth(%d) = %d, want %d", in, got, want)
		}
	}
}
