// Package signatures provides HTTP handlers for signature history listings
// and archived-event drill-down.
package signatures

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// Response helpers (local to avoid import cycle with api package)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// Handler serves signature history and its archived events.
type Handler struct {
	signatures   storage.SignatureRepository
	archive      storage.EventRepository
	queryTimeout time.Duration
}

func NewHandler(signatures storage.SignatureRepository, archive storage.EventRepository, queryTimeout time.Duration) *Handler {
	return &Handler{signatures: signatures, archive: archive, queryTimeout: queryTimeout}
}

// SignatureSummary is one history record in listings. Buckets are collapsed
// to a count; the full series is internal to the anomaly filter.
type SignatureSummary struct {
	Key              string  `json:"key"`
	Level            string  `json:"level"`
	Message          string  `json:"message"`
	TotalOccurrences int64   `json:"total_occurrences"`
	BaselineRate     float64 `json:"baseline_rate"`
	BucketCount      int     `json:"bucket_count"`
	FirstSeenAt      string  `json:"first_seen_at"`
	UpdatedAt        string  `json:"updated_at"`
	LastAlertAt      string  `json:"last_alert_at,omitempty"`
}

type ListResponse struct {
	Items   []*SignatureSummary `json:"items"`
	Total   int64               `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

// EventResponse is one archived occurrence of a signature.
type EventResponse struct {
	ID              string `json:"id"`
	OccurrenceCount int64  `json:"occurrence_count"`
	ObservedAt      string `json:"observed_at"`
	DecidedAt       string `json:"decided_at"`
	Anomalous       bool   `json:"anomalous"`
	Reason          string `json:"reason,omitempty"`
	SampleContext   string `json:"sample_context,omitempty"`
}

type EventsResponse struct {
	SignatureKey string           `json:"signature_key"`
	Items        []*EventResponse `json:"items"`
	Total        int64            `json:"total"`
	HasMore      bool             `json:"has_more"`
	Page         int              `json:"page"`
	PerPage      int              `json:"per_page"`
}

// List handles GET /api/v1/signatures.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, perPage, ok := parsePagination(w, q.Get("page"), q.Get("per_page"))
	if !ok {
		return
	}

	level := ""
	if levelStr := q.Get("level"); levelStr != "" {
		parsed, err := models.ParseLevel(levelStr)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "unknown level")
			return
		}
		level = string(parsed)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	recs, total, err := h.signatures.List(ctx, storage.ListOptions{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
		Level:  level,
	})
	if err != nil {
		log.Printf("list signatures error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	items := make([]*SignatureSummary, len(recs))
	for i, rec := range recs {
		items[i] = recordToSummary(rec)
	}

	jsonOK(w, &ListResponse{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// Events handles GET /api/v1/signatures/{key}/events, the archive
// drill-down behind a signature row in the UI.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "event archive not configured")
		return
	}

	key := chi.URLParam(r, "key")
	if key == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "signature key is required")
		return
	}

	q := r.URL.Query()

	page, perPage, ok := parsePagination(w, q.Get("page"), q.Get("per_page"))
	if !ok {
		return
	}

	hours := 24
	if hoursStr := q.Get("hours"); hoursStr != "" {
		v, err := strconv.Atoi(hoursStr)
		if err != nil || v < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "hours must be a positive integer")
			return
		}
		hours = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	now := time.Now().UTC()
	result, err := h.archive.Query(ctx, &storage.EventFilter{
		StartTime:    now.Add(-time.Duration(hours) * time.Hour),
		EndTime:      now,
		SignatureKey: key,
		Limit:        perPage,
		Offset:       (page - 1) * perPage,
	})
	if err != nil {
		log.Printf("query archived events error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	items := make([]*EventResponse, len(result.Entries))
	for i, rec := range result.Entries {
		items[i] = eventToResponse(rec)
	}

	jsonOK(w, &EventsResponse{
		SignatureKey: key,
		Items:        items,
		Total:        result.Total,
		HasMore:      result.HasMore,
		Page:         page,
		PerPage:      perPage,
	})
}

func parsePagination(w http.ResponseWriter, pageStr, perPageStr string) (page, perPage int, ok bool) {
	page = 1
	if pageStr != "" {
		v, err := strconv.Atoi(pageStr)
		if err != nil || v < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid page number")
			return 0, 0, false
		}
		page = v
	}

	perPage = 50
	if perPageStr != "" {
		v, err := strconv.Atoi(perPageStr)
		if err != nil || v < 1 || v > 500 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "per_page must be between 1 and 500")
			return 0, 0, false
		}
		perPage = v
	}
	return page, perPage, true
}

func recordToSummary(rec *models.HistoryRecord) *SignatureSummary {
	s := &SignatureSummary{
		Key:              rec.Signature.Key(),
		Level:            string(rec.Signature.Level),
		Message:          rec.Signature.Message,
		TotalOccurrences: rec.TotalOccurrences,
		BaselineRate:     rec.BaselineRate,
		BucketCount:      len(rec.Buckets),
		FirstSeenAt:      rec.FirstSeenAt.Format(time.RFC3339),
		UpdatedAt:        rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.LastAlertAt != nil {
		s.LastAlertAt = rec.LastAlertAt.Format(time.RFC3339)
	}
	return s
}

func eventToResponse(rec *storage.EventRecord) *EventResponse {
	return &EventResponse{
		ID:              rec.ID,
		OccurrenceCount: rec.OccurrenceCount,
		ObservedAt:      rec.ObservedAt.Format(time.RFC3339),
		DecidedAt:       rec.DecidedAt.Format(time.RFC3339),
		Anomalous:       rec.Anomalous,
		Reason:          rec.Reason,
		SampleContext:   rec.SampleContext,
	}
}
