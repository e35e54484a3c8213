package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/gencanvas/pkg/imagegen"
)

const (
	DefaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel         = "gemini-3-pro-image-preview"
	DefaultAnalysisModel = "gemini-2.5-flash"
)

var (
	_ imagegen.Service  = (*Client)(nil)
	_ imagegen.Analyzer = (*Client)(nil)
)

// Client implements imagegen.Service and imagegen.Analyzer for the
// generateContent API.
type Client struct {
	config     *imagegen.Config
	httpClient *http.Client
	retry      *imagegen.RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy replaces the default retry policy applied to each call.
func WithRetryPolicy(p *imagegen.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithHTTPClient replaces the HTTP client. Its timeout is left as is.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a client. Empty config fields fall back to the defaults.
func New(config *imagegen.Config, opts ...Option) *Client {
	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	c := &Client{
		config: &cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry: imagegen.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string      `json:"text,omitempty"`
	InlineData       *inlineData `json:"inlineData,omitempty"`
	Thought          bool        `json:"thought,omitempty"`
	ThoughtSignature string      `json:"thoughtSignature,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate fans req.Count single-image calls out in parallel and collects
// them in attempt order. Failed attempts are reported in PartialErrors with
// their own message, even when none succeeded. It fails as a whole only when
// ctx is done or every attempt was rejected with ErrContinuationToken.
func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	body := generateRequest{
		Contents: toContents(req),
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig: &imageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.ImageSize,
			},
		},
	}

	type outcome struct {
		image *imagegen.Image
		err   error
	}
	outcomes := make([]outcome, req.Count)

	var g errgroup.Group
	for i := 0; i < req.Count; i++ {
		g.Go(func() error {
			img, err := c.attempt(ctx, body)
			outcomes[i] = outcome{image: img, err: err}
			return nil
		})
	}
	_ = g.Wait()

	resp := &imagegen.Response{RequestedCount: req.Count}
	var tokenErr error
	tokenFailures := 0
	for i, o := range outcomes {
		if o.err != nil {
			if errors.Is(o.err, imagegen.ErrContinuationToken) {
				tokenErr = o.err
				tokenFailures++
			}
			resp.PartialErrors = append(resp.PartialErrors, imagegen.AttemptError{
				Attempt: i + 1,
				Message: o.err.Error(),
			})
			continue
		}
		resp.Images = append(resp.Images, *o.image)
	}
	if len(resp.Images) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if tokenFailures == req.Count {
			return nil, tokenErr
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, body generateRequest) (*imagegen.Image, error) {
	var out generateResponse
	if err := c.post(ctx, c.config.Model, body, &out); err != nil {
		return nil, err
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return nil, errors.New("no candidates in response")
	}

	cand := out.Candidates[0]
	img := &imagegen.Image{Model: c.config.Model}
	if out.ModelVersion != "" {
		img.Model = out.ModelVersion
	}
	var text string
	for _, p := range cand.Content.Parts {
		switch {
		case p.InlineData != nil && !p.Thought:
			img.MimeType = p.InlineData.MimeType
			img.Data = p.InlineData.Data
			img.ThoughtSignature = p.ThoughtSignature
		case p.Text != "":
			text = p.Text
			if p.Thought || p.ThoughtSignature != "" {
				img.ThoughtText = p.Text
				img.ThoughtTextSignature = p.ThoughtSignature
			}
		}
	}
	if len(img.Data) == 0 {
		msg := "model returned no image"
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			msg += " (" + cand.FinishReason + ")"
		}
		if text != "" {
			msg += ": " + text
		}
		return nil, errors.New(msg)
	}
	return img, nil
}

// AnalyzePrompt asks the analysis model for a short critique of a prompt.
func (c *Client) AnalyzePrompt(ctx context.Context, prompt string) (string, error) {
	body := generateRequest{Contents: []content{{
		Role: imagegen.RoleUser,
		Parts: []part{
			{Text: "Summarize the subject, style and composition of this image prompt in two sentences, then suggest one improvement."},
			{Text: prompt},
		},
	}}}
	return c.analyze(ctx, body)
}

// DescribeImage asks the analysis model for a one-paragraph caption.
func (c *Client) DescribeImage(ctx context.Context, image imagegen.Blob) (string, error) {
	body := generateRequest{Contents: []content{{
		Role: imagegen.RoleUser,
		Parts: []part{
			{InlineData: &inlineData{MimeType: image.MimeType, Data: image.Data}},
			{Text: "Describe this image in one short paragraph."},
		},
	}}}
	return c.analyze(ctx, body)
}

func (c *Client) analyze(ctx context.Context, body generateRequest) (string, error) {
	var out generateResponse
	if err := c.post(ctx, c.config.AnalysisModel, body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		if p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("empty analysis")
	}
	return strings.TrimSpace(sb.String()), nil
}

// post sends one generateContent call, retrying transient failures.
func (c *Client) post(ctx context.Context, model string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return c.retry.Execute(ctx, func() error {
		return c.send(ctx, model, body, out)
	})
}

func (c *Client) send(ctx context.Context, model string, body []byte, out any) error {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.config.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// apiError turns a non-200 reply into an error, mapping thought signature
// rejections to imagegen.ErrContinuationToken.
func apiError(status int, body []byte) error {
	msg := string(body)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}
	se := &imagegen.StatusError{Code: status, Message: msg}
	if status == http.StatusBadRequest && isSignatureError(msg) {
		return fmt.Errorf("%w: %w", se, imagegen.ErrContinuationToken)
	}
	return se
}

func isSignatureError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "thought_signature") ||
		strings.Contains(m, "thoughtsignature") ||
		strings.Contains(m, "thought signature")
}

func toContents(req *imagegen.Request) []content {
	if len(req.Contents) > 0 {
		out := make([]content, 0, len(req.Contents))
		for _, c := range req.Contents {
			out = append(out, content{Role: c.Role, Parts: toParts(c.Parts)})
		}
		return out
	}
	parts := toParts(req.Parts)
	if req.InputImage != nil {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: req.InputImage.MimeType,
			Data:     req.InputImage.Data,
		}})
	}
	return []content{{Role: imagegen.RoleUser, Parts: parts}}
}

func toParts(in []imagegen.Part) []part {
	out := make([]part, 0, len(in))
	for _, p := range in {
		q := part{
			Text:             p.Text,
			Thought:          p.Thought,
			ThoughtSignature: p.ThoughtSignature,
		}
		if p.InlineData != nil {
			q.InlineData = &inlineData{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}
		}
		out = append(out, q)
	}
	return out
}
