// Package api exposes the interactive profile commands, message intake and
// enrichment control over HTTP and MCP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/enrichment"
	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/matchmaker"
	"github.com/kalambet/emobot/internal/metrics"
	"github.com/kalambet/emobot/internal/profile"
)

// Profiles is the command surface of *matchmaker.Service.
type Profiles interface {
	View(ctx context.Context, identity string) (profile.Profile, error)
	AddItem(ctx context.Context, identity, displayName string, category profile.Category, item string) (matchmaker.AddResult, error)
	RemoveItem(ctx context.Context, identity string, category profile.Category, item string) (profile.Profile, error)
	SetScanning(ctx context.Context, identity, displayName string, enabled bool) (profile.Profile, error)
	Matches(ctx context.Context, identity string) ([]matching.Match, error)
}

// Enricher controls the enrichment scheduler.
type Enricher interface {
	Trigger()
	RunOnce(ctx context.Context) (enrichment.Report, error)
	State() enrichment.State
	LastReport() (enrichment.Report, bool)
}

// Recorder accepts inbound message text. buffer.Buffer satisfies it.
type Recorder interface {
	Record(identity, text string)
	Len() int
}

// Deps holds everything the HTTP handler serves.
type Deps struct {
	Profiles   Profiles
	Buffer     Recorder
	Enrichment Enricher
	Token      string
	Metrics    *metrics.Metrics
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = logger.WithFields(deps.Logger, logger.FieldComponent, "api")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", handleHealth)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/messages", handleMessage(deps))
		r.Route("/profiles/{identity}", func(r chi.Router) {
			r.Get("/", handleGetProfile(deps))
			r.Post("/items", handleAddItem(deps))
			r.Delete("/items", handleRemoveItem(deps))
			r.Put("/scanning", handleSetScanning(deps))
			r.Get("/matches", handleMatches(deps))
		})
		r.Post("/enrichment/run", handleRunEnrichment(deps))
		r.Get("/enrichment/status", handleEnrichmentStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
