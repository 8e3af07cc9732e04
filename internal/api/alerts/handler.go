// Package alerts serves the published-alert ledger.
package alerts

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

// Response helpers, local to avoid an import cycle with the api package.
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// AlertResponse is one published decision in the ledger.
type AlertResponse struct {
	SignatureKey    string `json:"signature_key"`
	Level           string `json:"level"`
	Message         string `json:"message"`
	ObservedAt      string `json:"observed_at"`
	OccurrenceCount int64  `json:"occurrence_count"`
	Reason          string `json:"reason"`
	DecidedAt       string `json:"decided_at"`
	PublishedAt     string `json:"published_at"`
	Delivered       bool   `json:"delivered"`
	DeliveredAt     string `json:"delivered_at,omitempty"`
	Attempts        int    `json:"attempts"`
	LastError       string `json:"last_error,omitempty"`
}

type ListResponse struct {
	Items   []*AlertResponse `json:"items"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// Handler handles published-alert endpoints.
type Handler struct {
	ledger       storage.AlertRepository
	queryTimeout time.Duration
}

func NewHandler(ledger storage.AlertRepository, queryTimeout time.Duration) *Handler {
	return &Handler{ledger: ledger, queryTimeout: queryTimeout}
}

// List returns recent published alerts, newest first. The undelivered
// query flag restricts the listing to alerts that exhausted their send
// retries.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := 1
	perPage := 50
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if pp := r.URL.Query().Get("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 && v <= 500 {
			perPage = v
		}
	}

	undelivered := false
	if u := r.URL.Query().Get("undelivered"); u != "" {
		v, err := strconv.ParseBool(u)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "undelivered must be a boolean")
			return
		}
		undelivered = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	opts := storage.AlertListOptions{
		Limit:           perPage,
		Offset:          (page - 1) * perPage,
		UndeliveredOnly: undelivered,
	}
	alerts, total, err := h.ledger.List(ctx, opts)
	if err != nil {
		log.Printf("list alerts error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	items := make([]*AlertResponse, len(alerts))
	for i, a := range alerts {
		items[i] = alertToResponse(a)
	}

	jsonOK(w, ListResponse{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

func alertToResponse(a *models.PublishedAlert) *AlertResponse {
	resp := &AlertResponse{
		SignatureKey:    a.SignatureKey,
		Level:           string(a.Signature.Level),
		Message:         a.Signature.Message,
		ObservedAt:      a.ObservedAt.Format(time.RFC3339),
		OccurrenceCount: a.OccurrenceCount,
		Reason:          string(a.Reason),
		DecidedAt:       a.DecidedAt.Format(time.RFC3339),
		PublishedAt:     a.PublishedAt.Format(time.RFC3339),
		Delivered:       a.Delivered,
		Attempts:        a.Attempts,
		LastError:       a.LastError,
	}
	if a.DeliveredAt != nil {
		resp.DeliveredAt = a.DeliveredAt.Format(time.RFC3339)
	}
	return resp
}
