// Package history serves the signature occurrence query used by the
// history UI.
package history

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *apiError `json:"error"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: &apiError{Code: code, Message: message}})
}

// DefaultLookbackHours is used when the request does not name a window.
// It matches the default retention horizon, so the default query spans
// everything the store still holds.
const DefaultLookbackHours = 48

// QueryResponse is the fixed read contract with the history UI. The body
// is the object itself, not wrapped in the envelope the other endpoints
// use; UI clients predate the envelope and parse this shape directly.
type QueryResponse struct {
	Signature       string `json:"signature"`
	LookbackHours   int    `json:"lookback_hours"`
	OccurrenceCount int64  `json:"occurrence_count"`
}

// Handler answers occurrence queries against the signature store.
type Handler struct {
	signatures   storage.SignatureRepository
	queryTimeout time.Duration
}

func NewHandler(signatures storage.SignatureRepository, queryTimeout time.Duration) *Handler {
	return &Handler{signatures: signatures, queryTimeout: queryTimeout}
}

// Query handles GET /api/v1/history. It sums the hourly bucket counts for
// one signature over the lookback window. A signature never seen before
// answers zero, not an error: "nothing on record" is a valid answer for
// the UI to render.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	levelStr := q.Get("level")
	if levelStr == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "level is required")
		return
	}
	level, err := models.ParseLevel(levelStr)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest,
			"level must be one of CRITICAL, FATAL, ERROR, WARNING, INFO, SERVICE, DEBUG, TRACE")
		return
	}

	message := q.Get("message")
	if message == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "message is required")
		return
	}

	hours := DefaultLookbackHours
	if hoursStr := q.Get("hours"); hoursStr != "" {
		hours, err = strconv.Atoi(hoursStr)
		if err != nil || hours < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "hours must be a positive integer")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	sig := models.Signature{Level: level, Message: message}
	count, err := h.signatures.QueryOccurrences(ctx, sig, hours)
	if err != nil {
		log.Printf("query occurrences error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(QueryResponse{
		Signature:       sig.String(),
		LookbackHours:   hours,
		OccurrenceCount: count,
	})
}
