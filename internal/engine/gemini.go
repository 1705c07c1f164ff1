package engine

import (
	"context"
	"strings"

	"github.com/kalambet/emobot/internal/gemini"
)

// generator is the subset of *gemini.Client used by GeminiEngine.
type generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// GeminiEngine adapts the internal/gemini.Client to the Engine interface.
// System messages become the system instruction; assistant messages are
// sent with the "model" role.
type GeminiEngine struct {
	client generator
}

// NewGeminiEngine wraps an existing Gemini client.
func NewGeminiEngine(client *gemini.Client) *GeminiEngine {
	return &GeminiEngine{client: client}
}

func (e *GeminiEngine) Name() string { return ProviderGemini }

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := gemini.Request{Model: model, JSON: jsonSchema != nil}

	var system []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			req.Turns = append(req.Turns, gemini.Turn{Role: "model", Text: m.Content})
		default:
			req.Turns = append(req.Turns, gemini.Turn{Role: "user", Text: m.Content})
		}
	}
	req.System = strings.Join(system, "\n\n")

	return e.client.Generate(ctx, req)
}

// IsRunning reports whether a client is configured. The Gemini API has no
// cheap liveness probe.
func (e *GeminiEngine) IsRunning(context.Context) bool {
	return e.client != nil
}
