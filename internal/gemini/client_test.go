package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int

	lastModel    string
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.lastModel = model
	f.lastContents = contents
	f.lastConfig = config

	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return textResponse("ok"), nil
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}},
	}
}

func newTestClient(gen contentGenerator) *Client {
	c := newWithGenerator(gen, "")
	c.backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
	}
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for blank api key")
	}
}

func TestModelDefault(t *testing.T) {
	if got := newWithGenerator(&fakeGenerator{}, "").Model(); got != DefaultModel {
		t.Errorf("Model() = %q, want %q", got, DefaultModel)
	}
	if got := newWithGenerator(&fakeGenerator{}, " gemini-pro ").Model(); got != "gemini-pro" {
		t.Errorf("Model() = %q, want gemini-pro", got)
	}
}

func TestGenerate_BuildsRequest(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse(`{"games":[]}`)}}
	c := newTestClient(gen)

	out, err := c.Generate(context.Background(), Request{
		System: "be terse",
		Turns: []Turn{
			{Role: "user", Text: "hello"},
			{Role: "model", Text: "hi"},
			{Role: "user", Text: "   "},
			{Role: "user", Text: "what do I like?"},
		},
		JSON: true,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if out != `{"games":[]}` {
		t.Errorf("output = %q", out)
	}
	if gen.lastModel != DefaultModel {
		t.Errorf("model = %q, want %q", gen.lastModel, DefaultModel)
	}
	if len(gen.lastContents) != 3 {
		t.Fatalf("got %d contents, want 3 (blank turn dropped)", len(gen.lastContents))
	}
	if gen.lastContents[1].Role != genai.RoleModel {
		t.Errorf("second turn role = %q, want model", gen.lastContents[1].Role)
	}
	if gen.lastConfig.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", gen.lastConfig.ResponseMIMEType)
	}
	if gen.lastConfig.SystemInstruction == nil || gen.lastConfig.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("SystemInstruction = %+v", gen.lastConfig.SystemInstruction)
	}
}

func TestGenerate_RequestModelOverrides(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestClient(gen)

	if _, err := c.Generate(context.Background(), Request{Model: "gemini-pro", Turns: []Turn{{Text: "x"}}}); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if gen.lastModel != "gemini-pro" {
		t.Errorf("model = %q, want gemini-pro", gen.lastModel)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestClient(gen)

	if _, err := c.Generate(context.Background(), Request{Turns: []Turn{{Text: " "}}}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestGenerate_RetriesTemporaryErrors(t *testing.T) {
	gen := &fakeGenerator{
		errs: []error{
			genai.APIError{Code: 503, Message: "overloaded"},
			&genai.APIError{Code: 429, Message: "slow down"},
		},
	}
	c := newTestClient(gen)

	out, err := c.Generate(context.Background(), Request{Turns: []Turn{{Text: "x"}}})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if out != "ok" {
		t.Errorf("output = %q, want ok", out)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
}

func TestGenerate_PermanentErrorNotRetried(t *testing.T) {
	gen := &fakeGenerator{errs: []error{genai.APIError{Code: 400, Message: "bad request"}}}
	c := newTestClient(gen)

	_, err := c.Generate(context.Background(), Request{Turns: []Turn{{Text: "x"}}})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 {
		t.Errorf("error = %v, want wrapped APIError 400", err)
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
}

func TestGenerate_GivesUpAfterMaxRetries(t *testing.T) {
	busy := genai.APIError{Code: 500}
	gen := &fakeGenerator{errs: []error{busy, busy, busy, busy}}
	c := newTestClient(gen)

	if _, err := c.Generate(context.Background(), Request{Turns: []Turn{{Text: "x"}}}); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if gen.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", gen.calls, maxRetries+1)
	}
}

func TestGenerate_EmptyResponse(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse("  ")}}
	c := newTestClient(gen)

	if _, err := c.Generate(context.Background(), Request{Turns: []Turn{{Text: "x"}}}); err == nil {
		t.Fatal("expected error for empty response")
	}
	if gen.calls != 1 {
		t.Errorf("empty response retried: calls = %d", gen.calls)
	}
}

func TestResponseText_JoinsParts(t *testing.T) {
	got, err := responseText(textResponse("a", "", "b"))
	if err != nil {
		t.Fatalf("responseText error: %v", err)
	}
	if got != "a\nb" {
		t.Errorf("responseText = %q, want %q", got, "a\nb")
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{genai.APIError{Code: 429}, true},
		{genai.APIError{Code: 500}, true},
		{&genai.APIError{Code: 502}, true},
		{genai.APIError{Code: 404}, false},
		{errors.New("dial tcp: refused"), false},
	}
	for _, tt := range tests {
		if got := isTemporary(tt.err); got != tt.want {
			t.Errorf("isTemporary(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
