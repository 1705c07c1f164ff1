package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/enrichment"
	"github.com/kalambet/emobot/internal/matchmaker"
	"github.com/kalambet/emobot/internal/profile"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var body ErrorBody
	body.Error.Message = fmt.Sprintf(format, args...)
	body.Error.Type = errType
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return false
	}
	return true
}

// serviceError maps domain errors to statuses. User-input errors are
// reported as-is; anything else is logged and hidden behind a 500.
func serviceError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, profile.ErrInvalidCategory), errors.Is(err, matchmaker.ErrEmptyItem):
		httpError(w, http.StatusBadRequest, "invalid_request", "%v", err)
	case errors.Is(err, matchmaker.ErrNoProfile), errors.Is(err, profile.ErrItemNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, enrichment.ErrCycleInProgress):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	default:
		log.Error("request failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
