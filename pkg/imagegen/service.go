package imagegen

import (
	"context"
	"errors"
	"time"
)

// ErrContinuationToken is returned when the backend rejects a multi-turn
// request because a model turn is missing its thought signature or carries an
// invalid one.
var ErrContinuationToken = errors.New("continuation token rejected")

// Service generates images from a flat prompt or a multi-turn conversation.
type Service interface {
	// Generate runs Count independent attempts. Attempts that fail are
	// reported in Response.PartialErrors; an error is returned only when the
	// call as a whole failed.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Analyzer produces best-effort annotations. It is never on the critical
// path of a generation.
type Analyzer interface {
	AnalyzePrompt(ctx context.Context, prompt string) (string, error)
	DescribeImage(ctx context.Context, image Blob) (string, error)
}

// Config holds common configuration for image backends.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	AnalysisModel string
	Timeout       time.Duration
}
