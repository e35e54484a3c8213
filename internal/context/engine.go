// Package context rebuilds the multi-turn conversation that leads to a node
// from its ancestry.
package context

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/gencanvas/internal/types"
	"github.com/user/gencanvas/pkg/imagegen"
)

const (
	DefaultDepth = 6
	MinDepth     = 1
	MaxDepth     = 12

	// previousResultNote prefixes an earlier output that cannot be replayed
	// as a model turn because it has no thought signature.
	previousResultNote = "Reference to previous result:"
)

var ErrNoPrompt = errors.New("target node has no prompt")

// GraphReader is the read side of the graph store needed to walk ancestry.
type GraphReader interface {
	Parent(id types.NodeID) (*types.Node, bool)
}

// ImageResolver fetches the bytes behind an image URL.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (imagegen.Blob, error)
}

// Engine assembles conversations from node chains.
type Engine struct {
	resolver  ImageResolver
	tokenizer *tiktoken.Tiktoken
	logger    *slog.Logger
}

type Option func(*Engine)

// WithTokenizer enables exact token counts for the text of a conversation.
func WithTokenizer(enc *tiktoken.Tiktoken) Option {
	return func(e *Engine) { e.tokenizer = enc }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine that resolves images with resolver.
func New(resolver ImageResolver, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadTokenizer returns the encoding for model, falling back to cl100k_base
// for unknown models.
func LoadTokenizer(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return enc, nil
}

// Conversation is an ordered multi-turn request body.
type Conversation struct {
	Contents []imagegen.Content
	// Chain is the ancestor ids used, root-most first.
	Chain []types.NodeID
	// Skipped counts output images that could not be resolved.
	Skipped    int
	TextTokens int
}

// ClampDepth bounds a history depth to [MinDepth, MaxDepth]; zero selects
// DefaultDepth.
func ClampDepth(depth int) int {
	switch {
	case depth == 0:
		return DefaultDepth
	case depth < MinDepth:
		return MinDepth
	case depth > MaxDepth:
		return MaxDepth
	}
	return depth
}

// Ancestors returns up to depth ancestors of id, nearest last.
func Ancestors(g GraphReader, id types.NodeID, depth int) []*types.Node {
	seen := map[types.NodeID]bool{id: true}
	var chain []*types.Node
	cur := id
	for {
		p, ok := g.Parent(cur)
		if !ok || seen[p.ID] {
			break
		}
		seen[p.ID] = true
		chain = append(chain, p)
		cur = p.ID
	}
	if len(chain) > depth {
		chain = chain[:depth]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// BuildConversation walks up from target and emits, per ancestor, a user
// turn with its prompt followed by a turn carrying the image it produced.
// A final user turn holds target's own prompt.
func (e *Engine) BuildConversation(ctx context.Context, g GraphReader, target *types.Node, depth int) (*Conversation, error) {
	if !types.HasEffectivePrompt(target.Prompt, target.PromptParts) {
		return nil, ErrNoPrompt
	}
	chain := Ancestors(g, target.ID, ClampDepth(depth))

	conv := &Conversation{}
	for i, n := range chain {
		conv.Chain = append(conv.Chain, n.ID)
		if parts := promptParts(n); len(parts) > 0 {
			conv.Contents = append(conv.Contents, imagegen.Content{Role: imagegen.RoleUser, Parts: parts})
		}

		next := target
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		img, ok := outputImage(n, next)
		if !ok {
			continue
		}
		turn, err := e.imageTurn(ctx, img)
		if err != nil {
			conv.Skipped++
			e.logger.Warn("skipping unreadable image in history",
				"node_id", n.ID,
				"image_id", img.ID,
				"error", err,
			)
			continue
		}
		conv.Contents = append(conv.Contents, turn)
	}

	conv.Contents = append(conv.Contents, imagegen.Content{
		Role:  imagegen.RoleUser,
		Parts: promptParts(target),
	})
	conv.TextTokens = e.countTokens(conv.Contents)
	return conv, nil
}

// outputImage picks the image of n that the chain continues from: the one
// next references when n owns it, otherwise n's first image.
func outputImage(n, next *types.Node) (types.Image, bool) {
	if next != nil && next.ReferenceImageID != "" {
		if img, ok := n.ImageByID(next.ReferenceImageID); ok {
			return img, true
		}
	}
	return n.FirstImage()
}

func (e *Engine) imageTurn(ctx context.Context, img types.Image) (imagegen.Content, error) {
	blob, err := e.resolver.Resolve(ctx, img.URL)
	if err != nil {
		return imagegen.Content{}, err
	}

	if img.Meta == nil || img.Meta.ThoughtSignature == "" {
		return imagegen.Content{
			Role: imagegen.RoleUser,
			Parts: []imagegen.Part{
				{Text: previousResultNote},
				{InlineData: &blob},
			},
		}, nil
	}

	var parts []imagegen.Part
	if img.Meta.ThoughtText != "" {
		parts = append(parts, imagegen.Part{
			Text:             img.Meta.ThoughtText,
			ThoughtSignature: img.Meta.ThoughtTextSignature,
		})
	}
	parts = append(parts, imagegen.Part{
		InlineData:       &blob,
		ThoughtSignature: img.Meta.ThoughtSignature,
	})
	return imagegen.Content{Role: imagegen.RoleModel, Parts: parts}, nil
}

// promptParts converts a node's effective prompt into request parts. Image
// segments are followed by their annotation as a separate note.
func promptParts(n *types.Node) []imagegen.Part {
	var out []imagegen.Part
	for _, p := range types.EffectiveParts(n.Prompt, n.PromptParts) {
		switch p.Kind {
		case types.PartText:
			if strings.TrimSpace(p.Text) != "" {
				out = append(out, imagegen.Part{Text: p.Text})
			}
		case types.PartImage:
			if p.Image == nil || len(p.Image.Data) == 0 {
				continue
			}
			out = append(out, imagegen.Part{InlineData: &imagegen.Blob{
				MimeType: p.Image.MimeType,
				Data:     p.Image.Data,
			}})
			if a := strings.TrimSpace(p.Image.Annotation); a != "" {
				out = append(out, imagegen.Part{Text: "Note about the image above: " + a})
			}
		}
	}
	return out
}

// PromptParts exposes the single-turn conversion for flat requests.
func PromptParts(n *types.Node) []imagegen.Part {
	return promptParts(n)
}

func (e *Engine) countTokens(contents []imagegen.Content) int {
	total := 0
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.Text == "" {
				continue
			}
			if e.tokenizer != nil {
				total += len(e.tokenizer.Encode(p.Text, nil, nil))
			} else {
				total += (len(p.Text) + 3) / 4
			}
		}
	}
	return total
}
