// Package gemini is a thin client for the Gemini API used as an inference
// backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const maxRetries = 2

// contentGenerator is the subset of *genai.Models the client needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Turn is one conversational message. Role is "user" or "model".
type Turn struct {
	Role string
	Text string
}

// Request is a single generation call.
type Request struct {
	Model  string
	System string
	Turns  []Turn
	// JSON requests an application/json response.
	JSON bool
}

// Client sends generation requests to Gemini, retrying transient failures.
type Client struct {
	models       contentGenerator
	defaultModel string
	backoff      func() backoff.BackOff
}

// New creates a Client for the Gemini API backend.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithGenerator(client.Models, model), nil
}

func newWithGenerator(models contentGenerator, model string) *Client {
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultModel
	}
	return &Client{
		models:       models,
		defaultModel: model,
		backoff: func() backoff.BackOff {
			exp := backoff.NewExponentialBackOff()
			exp.InitialInterval = 500 * time.Millisecond
			exp.MaxInterval = 5 * time.Second
			return backoff.WithMaxRetries(exp, maxRetries)
		},
	}
}

// Model returns the model used when a request does not name one.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.defaultModel
}

// Generate runs req and returns the concatenated text of the response.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil || c.models == nil {
		return "", errors.New("gemini client is not initialized")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}

	var contents []*genai.Content
	for _, t := range req.Turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		role := genai.RoleUser
		if t.Role == genai.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text}},
		})
	}
	if len(contents) == 0 {
		return "", errors.New("prompt must not be empty")
	}

	cfg := &genai.GenerateContentConfig{}
	if sys := strings.TrimSpace(req.System); sys != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sys}}}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	var output string
	op := func() error {
		resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			if isTemporary(err) {
				return fmt.Errorf("generate content: %w", err)
			}
			return backoff.Permanent(fmt.Errorf("generate content: %w", err))
		}
		text, err := responseText(resp)
		if err != nil {
			return backoff.Permanent(err)
		}
		output = text
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.backoff(), ctx)); err != nil {
		return "", err
	}
	return output, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}

// isTemporary reports whether err is worth retrying: rate limiting or a
// server-side failure.
func isTemporary(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Code >= http.StatusInternalServerError
	}
	return false
}
