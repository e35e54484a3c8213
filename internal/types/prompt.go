package types

import (
	"bytes"
	"strings"
)

type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// PromptPart is a tagged variant: exactly one of Text or Image is meaningful,
// selected by Kind.
type PromptPart struct {
	Kind  PartKind     `json:"kind"`
	Text  string       `json:"text,omitempty"`
	Image *InlineImage `json:"image,omitempty"`
}

// InlineImage is a literal image payload embedded in a prompt.
type InlineImage struct {
	ID         string `json:"id"`
	MimeType   string `json:"mime_type"`
	Data       []byte `json:"data"`
	Annotation string `json:"annotation,omitempty"`
}

func TextPart(text string) PromptPart {
	return PromptPart{Kind: PartText, Text: text}
}

func ImagePart(id, mimeType string, data []byte, annotation string) PromptPart {
	return PromptPart{Kind: PartImage, Image: &InlineImage{
		ID:         id,
		MimeType:   mimeType,
		Data:       data,
		Annotation: annotation,
	}}
}

// Equal compares two parts variant by variant. Image parts compare payload
// bytes and annotation as well as identity.
func (p PromptPart) Equal(o PromptPart) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case PartText:
		return p.Text == o.Text
	case PartImage:
		if p.Image == nil || o.Image == nil {
			return p.Image == nil && o.Image == nil
		}
		return p.Image.ID == o.Image.ID &&
			p.Image.MimeType == o.Image.MimeType &&
			p.Image.Annotation == o.Image.Annotation &&
			bytes.Equal(p.Image.Data, o.Image.Data)
	default:
		return false
	}
}

// PromptPartsEqual compares two part sequences in order. A nil and an empty
// sequence are equal.
func PromptPartsEqual(a, b []PromptPart) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func ClonePromptParts(in []PromptPart) []PromptPart {
	if in == nil {
		return nil
	}
	out := make([]PromptPart, len(in))
	for i, p := range in {
		out[i] = p
		if p.Image != nil {
			img := *p.Image
			img.Data = append([]byte(nil), p.Image.Data...)
			out[i].Image = &img
		}
	}
	return out
}

// HasEffectivePrompt reports whether a prompt carries at least one
// non-whitespace text segment or at least one image segment.
func HasEffectivePrompt(prompt string, parts []PromptPart) bool {
	return len(EffectiveParts(prompt, parts)) > 0
}

// EffectiveParts returns the ordered segments to submit for a node: the
// structured parts when any of them has content, otherwise the plain prompt
// as one text part.
func EffectiveParts(prompt string, parts []PromptPart) []PromptPart {
	if partsHaveContent(parts) {
		return parts
	}
	if strings.TrimSpace(prompt) == "" {
		return nil
	}
	return []PromptPart{TextPart(prompt)}
}

func partsHaveContent(parts []PromptPart) bool {
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		case PartImage:
			if p.Image != nil {
				return true
			}
		}
	}
	return false
}

// ClampCount forces a generation count into [MinCount, MaxCount].
func ClampCount(n int) int {
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}
