package types

import (
	"time"
)

// NodeStatus is the lifecycle state of a generation node.
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusQueued    NodeStatus = "queued"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// BaseMode decides whether a reference image is attached to a generation.
type BaseMode string

const (
	BaseModeImage  BaseMode = "image"
	BaseModePrompt BaseMode = "prompt"
)

type BatchKind string

const (
	BatchKindGenerate   BatchKind = "generate"
	BatchKindRegenerate BatchKind = "regenerate"
)

type ImageSize string

const (
	ImageSize1K ImageSize = "1K"
	ImageSize2K ImageSize = "2K"
	ImageSize4K ImageSize = "4K"
)

// Valid reports whether s is one of the supported sizes.
func (s ImageSize) Valid() bool {
	switch s {
	case ImageSize1K, ImageSize2K, ImageSize4K:
		return true
	}
	return false
}

type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectPortrait  AspectRatio = "2:3"
	AspectLandscape AspectRatio = "3:2"
	Aspect3x4       AspectRatio = "3:4"
	Aspect4x3       AspectRatio = "4:3"
	Aspect4x5       AspectRatio = "4:5"
	Aspect5x4       AspectRatio = "5:4"
	Aspect9x16      AspectRatio = "9:16"
	Aspect16x9      AspectRatio = "16:9"
	Aspect21x9      AspectRatio = "21:9"
)

var aspectRatios = map[AspectRatio]bool{
	AspectSquare: true, AspectPortrait: true, AspectLandscape: true,
	Aspect3x4: true, Aspect4x3: true, Aspect4x5: true, Aspect5x4: true,
	Aspect9x16: true, Aspect16x9: true, Aspect21x9: true,
}

func (a AspectRatio) Valid() bool {
	return aspectRatios[a]
}

// RevisionSource tags what kind of edit produced a revision.
type RevisionSource string

const (
	RevisionManual     RevisionSource = "manual"
	RevisionAsset      RevisionSource = "asset"
	RevisionSuggestion RevisionSource = "suggestion"
	RevisionRollback   RevisionSource = "rollback"
)

const (
	MinCount     = 1
	MaxCount     = 8
	MaxRevisions = 30
)

// Position is the canvas coordinate of a node's top-left corner.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one unit of creative work on a canvas.
type Node struct {
	ID               NodeID          `json:"id"`
	CanvasID         CanvasID        `json:"canvas_id"`
	Position         Position        `json:"position"`
	Prompt           string          `json:"prompt"`
	PromptParts      []PromptPart    `json:"prompt_parts,omitempty"`
	Count            int             `json:"count"`
	ImageSize        ImageSize       `json:"image_size"`
	AspectRatio      AspectRatio     `json:"aspect_ratio"`
	BaseMode         BaseMode        `json:"generation_base_mode"`
	ReferenceImageID ImageID         `json:"reference_image_id,omitempty"`
	Status           NodeStatus      `json:"status"`
	Error            string          `json:"error,omitempty"`
	Images           []Image         `json:"images"`
	Favorite         bool            `json:"favorite"`
	Tags             []string        `json:"tags,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	Revisions        []Revision      `json:"revisions,omitempty"`
	PromptAnalysis   *PromptAnalysis `json:"prompt_analysis,omitempty"`
	ImageAnalyses    []ImageAnalysis `json:"image_analyses,omitempty"`
	AIChats          []ChatMessage   `json:"ai_chats,omitempty"`
	Archived         bool            `json:"archived"`
	Collapsed        bool            `json:"collapsed"`
	Selected         bool            `json:"selected"`
	Stalled          bool            `json:"stalled,omitempty"`

	BatchID      BatchID   `json:"batch_id,omitempty"`
	BatchKind    BatchKind `json:"batch_kind,omitempty"`
	BatchAttempt int       `json:"batch_attempt,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastRunDurationMs int64      `json:"last_run_duration_ms,omitempty"`
}

// Clone returns a deep copy of n. Stores treat nodes as immutable values and
// always mutate a clone.
func (n *Node) Clone() *Node {
	c := *n
	c.PromptParts = ClonePromptParts(n.PromptParts)
	c.Images = cloneImages(n.Images)
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	if n.Revisions != nil {
		c.Revisions = make([]Revision, len(n.Revisions))
		for i, r := range n.Revisions {
			c.Revisions[i] = r
			c.Revisions[i].PromptParts = ClonePromptParts(r.PromptParts)
		}
	}
	if n.PromptAnalysis != nil {
		pa := *n.PromptAnalysis
		c.PromptAnalysis = &pa
	}
	if n.ImageAnalyses != nil {
		c.ImageAnalyses = append([]ImageAnalysis(nil), n.ImageAnalyses...)
	}
	if n.AIChats != nil {
		c.AIChats = append([]ChatMessage(nil), n.AIChats...)
	}
	if n.LastRunAt != nil {
		t := *n.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}

// FirstImage returns the node's first produced image, if any.
func (n *Node) FirstImage() (Image, bool) {
	if len(n.Images) == 0 {
		return Image{}, false
	}
	return n.Images[0], true
}

// ImageByID finds one of the node's own images.
func (n *Node) ImageByID(id ImageID) (Image, bool) {
	for _, img := range n.Images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}

// Edge is a directed parent -> child relation.
type Edge struct {
	ID     EdgeID `json:"id"`
	Source NodeID `json:"source"`
	Target NodeID `json:"target"`
}

// Image is one generation result.
type Image struct {
	ID         ImageID    `json:"id"`
	NodeID     NodeID     `json:"node_id"`
	JobID      JobID      `json:"job_id"`
	URL        string     `json:"url"`
	IsFavorite bool       `json:"is_favorite"`
	Meta       *ImageMeta `json:"meta,omitempty"`
}

// ImageMeta records how an image was produced. The thought fields are opaque
// continuation state returned by the model and must be replayed verbatim.
type ImageMeta struct {
	Prompt               string      `json:"prompt,omitempty"`
	Model                string      `json:"model,omitempty"`
	ImageSize            ImageSize   `json:"image_size,omitempty"`
	AspectRatio          AspectRatio `json:"aspect_ratio,omitempty"`
	ReferenceImageID     ImageID     `json:"reference_image_id,omitempty"`
	BatchID              BatchID     `json:"batch_id,omitempty"`
	BatchKind            BatchKind   `json:"batch_kind,omitempty"`
	BatchAttempt         int         `json:"batch_attempt,omitempty"`
	ThoughtSignature     string      `json:"thought_signature,omitempty"`
	ThoughtText          string      `json:"thought_text,omitempty"`
	ThoughtTextSignature string      `json:"thought_text_signature,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
}

func cloneImages(in []Image) []Image {
	if in == nil {
		return nil
	}
	out := make([]Image, len(in))
	for i, img := range in {
		out[i] = img
		if img.Meta != nil {
			m := *img.Meta
			out[i].Meta = &m
		}
	}
	return out
}

// Revision is an immutable snapshot of a node's tracked fields taken before
// an edit changed them.
type Revision struct {
	ID          RevisionID     `json:"id"`
	Source      RevisionSource `json:"source"`
	At          time.Time      `json:"at"`
	Prompt      string         `json:"prompt"`
	PromptParts []PromptPart   `json:"prompt_parts,omitempty"`
	Count       int            `json:"count"`
	ImageSize   ImageSize      `json:"image_size"`
	AspectRatio AspectRatio    `json:"aspect_ratio"`
}

type PromptAnalysis struct {
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

type ImageAnalysis struct {
	ImageID ImageID   `json:"image_id"`
	Caption string    `json:"caption"`
	At      time.Time `json:"at"`
}

type ChatMessage struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// CanvasSnapshot is a consistent, read-only view of one canvas.
type CanvasSnapshot struct {
	CanvasID       CanvasID  `json:"canvas_id"`
	Nodes          []*Node   `json:"nodes"`
	Edges          []Edge    `json:"edges"`
	Gallery        []Image   `json:"gallery"`
	SelectedNodeID NodeID    `json:"selected_node_id,omitempty"`
	Version        int64     `json:"version"`
	SavedAt        time.Time `json:"saved_at"`
}

// RunRecord summarizes one orchestrator call for the run journal.
type RunRecord struct {
	At        time.Time `json:"at"`
	CanvasID  CanvasID  `json:"canvas_id"`
	Mode      string    `json:"mode"`
	NodeID    NodeID    `json:"node_id"`
	BatchID   BatchID   `json:"batch_id,omitempty"`
	ChildIDs  []NodeID  `json:"child_ids,omitempty"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Notice    string    `json:"notice,omitempty"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
}
