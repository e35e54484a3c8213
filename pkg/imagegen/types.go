package imagegen

import (
	"errors"
	"fmt"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// MaxCount is the largest number of attempts one request may ask for.
const MaxCount = 8

// Blob is raw inline media.
type Blob struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Part is one segment of a turn. Exactly one of Text or InlineData is set.
// ThoughtSignature is opaque model state that must be replayed verbatim on
// the part it arrived with.
type Part struct {
	Text             string `json:"text,omitempty"`
	InlineData       *Blob  `json:"inline_data,omitempty"`
	Thought          bool   `json:"thought,omitempty"`
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// Content is one turn of a conversation.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Request describes one generation call. Parts (a flat prompt, optionally
// with InputImage) and Contents (a pre-built conversation) are mutually
// exclusive.
type Request struct {
	Parts       []Part
	Contents    []Content
	Count       int
	ImageSize   string
	AspectRatio string
	InputImage  *Blob
}

func (r *Request) Validate() error {
	switch {
	case len(r.Parts) > 0 && len(r.Contents) > 0:
		return errors.New("request has both prompt parts and contents")
	case len(r.Parts) == 0 && len(r.Contents) == 0:
		return errors.New("request has no prompt")
	case len(r.Contents) > 0 && r.InputImage != nil:
		return errors.New("input image is only valid with prompt parts")
	case r.Count < 1 || r.Count > MaxCount:
		return fmt.Errorf("count %d out of range [1,%d]", r.Count, MaxCount)
	}
	return nil
}

// Image is one successful attempt.
type Image struct {
	MimeType             string
	Data                 []byte
	Model                string
	ThoughtSignature     string
	ThoughtText          string
	ThoughtTextSignature string
}

// AttemptError reports a failed attempt by its 1-based number.
type AttemptError struct {
	Attempt int
	Message string
}

// Response lists successful images in attempt order, skipping failed
// attempts.
type Response struct {
	RequestedCount int
	Images         []Image
	PartialErrors  []AttemptError
}

// Slot is the outcome of one attempt: either Image or Err is set.
type Slot struct {
	Attempt int
	Image   *Image
	Err     string
}

// Slots pairs every attempt 1..RequestedCount with its outcome. Attempts
// listed in PartialErrors fail with their message; the rest consume Images
// in order. An attempt left without an image fails with a generic message.
func (r *Response) Slots() []Slot {
	failed := make(map[int]string, len(r.PartialErrors))
	for _, e := range r.PartialErrors {
		failed[e.Attempt] = e.Message
	}
	slots := make([]Slot, 0, r.RequestedCount)
	next := 0
	for attempt := 1; attempt <= r.RequestedCount; attempt++ {
		if msg, ok := failed[attempt]; ok {
			slots = append(slots, Slot{Attempt: attempt, Err: msg})
			continue
		}
		if next >= len(r.Images) {
			slots = append(slots, Slot{Attempt: attempt, Err: "no image returned"})
			continue
		}
		img := r.Images[next]
		next++
		slots = append(slots, Slot{Attempt: attempt, Image: &img})
	}
	return slots
}
