// Package interests turns buffered chat text into candidate profile items
// using an inference engine.
package interests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/engine"
	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/metrics"
	"github.com/kalambet/emobot/internal/profile"
)

const (
	// MaxFragments is how many of the most recent fragments are sent.
	MaxFragments = 20
	// MaxPerCategory caps the candidates returned per category.
	MaxPerCategory = 3
	// DefaultTimeout bounds a single extraction call.
	DefaultTimeout = 60 * time.Second

	logResponseLimit = 300
)

// Chatter is the subset of engine.Engine the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Options configures an Extractor. Zero values select defaults.
type Options struct {
	Model    string
	Provider string
	Timeout  time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Extractor asks an inference engine for new interests found in a member's
// messages.
type Extractor struct {
	client  Chatter
	model   string
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewExtractor(client Chatter, opts Options) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Extractor{
		client:  client,
		model:   opts.Model,
		timeout: opts.Timeout,
		log: logger.WithFields(opts.Logger,
			logger.FieldComponent, "extractor",
			logger.FieldAIProvider, opts.Provider,
			logger.FieldAIModel, opts.Model,
		),
		metrics: opts.Metrics,
	}
}

type extraction struct {
	Games     []string `json:"games"`
	Artists   []string `json:"artists"`
	Interests []string `json:"interests"`
}

// Extract returns at most MaxPerCategory candidates per category. It never
// fails: timeouts, engine errors and malformed answers yield empty
// categories and are logged with outcome=failed, distinct from a legitimate
// empty answer (outcome=empty).
func (e *Extractor) Extract(ctx context.Context, fragments []string, existing *profile.Profile) profile.Categories {
	log := e.log
	if existing != nil {
		log = log.With(zap.String(logger.FieldIdentity, existing.Identity))
	}

	if len(fragments) == 0 {
		return profile.Categories{}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(fragments, existing), interestSchema())
	if err != nil {
		reason := "engine error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		e.fail(log, reason, err, "")
		return profile.Categories{}
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		e.fail(log, "malformed response", err, raw)
		return profile.Categories{}
	}

	out := capCandidates(parsed)
	outcome := metrics.OutcomeFound
	if out.Empty() {
		outcome = metrics.OutcomeEmpty
	}
	e.metrics.Extraction(outcome)
	log.Debug("interest extraction finished",
		zap.String(logger.FieldOutcome, outcome),
		zap.Int("fragments", len(fragments)),
		zap.Int("candidates", out.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out
}

func (e *Extractor) fail(log *zap.Logger, reason string, err error, raw string) {
	e.metrics.Extraction(metrics.OutcomeFailed)
	fields := []zap.Field{
		zap.String(logger.FieldOutcome, metrics.OutcomeFailed),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if raw != "" {
		fields = append(fields, zap.String("response", logger.TruncateForLog(raw, logResponseLimit)))
	}
	log.Warn("interest extraction failed", fields...)
}

// parseResponse unwraps an optional fenced code block and decodes the JSON
// object.
func parseResponse(raw string) (extraction, error) {
	content := unwrapFence(raw)
	if content == "" {
		return extraction{}, errors.New("empty response")
	}

	var out extraction
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return extraction{}, fmt.Errorf("decoding extraction: %w", err)
	}
	return out, nil
}

func unwrapFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json" on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if tag := strings.TrimSpace(s[:i]); !strings.ContainsAny(tag, "{[") {
			s = s[i+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func capCandidates(in extraction) profile.Categories {
	var out profile.Categories
	for _, c := range []struct {
		cat   profile.Category
		items []string
	}{
		{profile.Games, in.Games},
		{profile.Artists, in.Artists},
		{profile.Interests, in.Interests},
	} {
		for _, item := range c.items {
			if len(out.List(c.cat)) == MaxPerCategory {
				break
			}
			out.Add(c.cat, item)
		}
	}
	return out
}
