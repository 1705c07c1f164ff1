package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/emobot/internal/gemini"
)

// Provider names accepted by Detect.
const (
	ProviderAuto   = "auto"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	GeminiAPIKey  string
	GeminiModel   string
}

// Detect returns the engine named by cfg.Provider. With "auto" (or empty),
// Gemini is used when an API key is configured and Ollama otherwise.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" || provider == ProviderAuto {
		provider = ProviderOllama
		if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
			provider = ProviderGemini
		}
	}

	switch provider {
	case ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderGemini:
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return NewGeminiEngine(client), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

// DefaultOllamaModel is used with Ollama when no model is configured.
const DefaultOllamaModel = "llama3.2"

// ModelFor returns model, or the default for e when model is empty. Remote
// engines apply their own default and get "".
func ModelFor(e Engine, model string) string {
	if model = strings.TrimSpace(model); model != "" {
		return model
	}
	if e.Name() == ProviderOllama {
		return DefaultOllamaModel
	}
	return ""
}
