package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/enrichment"
	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/profile"
)

// MessageRequest is an ordinary chat message forwarded by the gateway.
type MessageRequest struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
	// Bot marks text authored by a bot, including emobot itself.
	Bot bool `json:"bot"`
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Identity) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "identity is required")
			return
		}
		if req.Bot || strings.TrimSpace(req.Text) == "" {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}

		deps.Buffer.Record(req.Identity, req.Text)
		deps.Metrics.SetBuffered(deps.Buffer.Len())
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "buffered"})
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.View(r.Context(), chi.URLParam(r, "identity"))
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ItemRequest adds an item to a profile category.
type ItemRequest struct {
	Category    string `json:"category"`
	Item        string `json:"item"`
	DisplayName string `json:"display_name"`
}

func handleAddItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ItemRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cat, err := profile.ParseCategory(req.Category)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}

		res, err := deps.Profiles.AddItem(r.Context(), chi.URLParam(r, "identity"), req.DisplayName, cat, req.Item)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleRemoveItem takes the category and item from the query string:
// DELETE /profiles/{identity}/items?category=games&item=Chess
func handleRemoveItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cat, err := profile.ParseCategory(q.Get("category"))
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		item := q.Get("item")
		if item == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "item is required")
			return
		}

		p, err := deps.Profiles.RemoveItem(r.Context(), chi.URLParam(r, "identity"), cat, item)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ScanningRequest toggles automatic interest extraction.
type ScanningRequest struct {
	Enabled     *bool  `json:"enabled"`
	DisplayName string `json:"display_name"`
}

func handleSetScanning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanningRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Enabled == nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "enabled is required")
			return
		}

		identity := chi.URLParam(r, "identity")
		p, err := deps.Profiles.SetScanning(r.Context(), identity, req.DisplayName, *req.Enabled)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		deps.Logger.Info("scanning updated",
			zap.String(logger.FieldIdentity, identity),
			zap.Bool("enabled", *req.Enabled),
		)
		writeJSON(w, http.StatusOK, p)
	}
}

func handleMatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, err := deps.Profiles.Matches(r.Context(), chi.URLParam(r, "identity"))
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		if matches == nil {
			matches = []matching.Match{}
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

// handleRunEnrichment triggers a cycle in the background, or runs one and
// returns its report when called with ?wait=true.
func handleRunEnrichment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			deps.Enrichment.Trigger()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
			return
		}

		rep, err := deps.Enrichment.RunOnce(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// EnrichmentStatus is the body of GET /enrichment/status.
type EnrichmentStatus struct {
	State      enrichment.State   `json:"state"`
	LastReport *enrichment.Report `json:"last_report,omitempty"`
}

func handleEnrichmentStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, enrichmentStatus(deps.Enrichment))
	}
}

func enrichmentStatus(e Enricher) EnrichmentStatus {
	st := EnrichmentStatus{State: e.State()}
	if rep, ok := e.LastReport(); ok {
		st.LastReport = &rep
	}
	return st
}
