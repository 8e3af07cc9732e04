// Package events provides the HTTP ingest boundary for cluster events.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/emberwatch/emberwatch/internal/metrics"
	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/pipeline"
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
	errCodeBadRequest = "BAD_REQUEST"
	errCodeQueueFull  = "QUEUE_FULL"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func jsonAccepted(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(apiResponse{Data: data})
}

// Enqueuer hands validated events to the processing pipeline.
type Enqueuer interface {
	Enqueue(event *models.ClusterEvent) error
}

// Handler handles event ingestion.
type Handler struct {
	queue        Enqueuer
	maxBatchSize int
}

func NewHandler(queue Enqueuer, maxBatchSize int) *Handler {
	return &Handler{queue: queue, maxBatchSize: maxBatchSize}
}

// RejectedEvent reports one event from the batch that failed validation.
type RejectedEvent struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestResponse summarizes a batch hand-off.
type IngestResponse struct {
	Accepted int              `json:"accepted"`
	Rejected []*RejectedEvent `json:"rejected,omitempty"`
}

// Ingest handles POST /api/v1/events. The batch is processed per event:
// malformed events are reported back by index while the rest are enqueued,
// so one broken producer entry never blocks a whole hand-off. A saturated
// queue fails the request with 503; the dedup ledger absorbs any events
// from the partial batch when the producer retries.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid JSON body")
		return
	}
	if len(req.Events) == 0 {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "events must contain at least one entry")
		return
	}
	if len(req.Events) > h.maxBatchSize {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest,
			fmt.Sprintf("batch exceeds %d events", h.maxBatchSize))
		return
	}

	resp := &IngestResponse{}
	for i := range req.Events {
		event, err := req.Events[i].toEvent()
		if err != nil {
			metrics.IngestEventsRejected.Inc()
			resp.Rejected = append(resp.Rejected, &RejectedEvent{Index: i, Reason: err.Error()})
			continue
		}

		if err := h.queue.Enqueue(event); err != nil {
			if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrQueueClosed) {
				w.Header().Set("Retry-After", "5")
				jsonError(w, http.StatusServiceUnavailable, errCodeQueueFull, "ingest queue is full, retry later")
				return
			}
			log.Printf("enqueue event error: %v", err)
			jsonError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			return
		}
		metrics.IngestEventsReceived.Inc()
		resp.Accepted++
	}

	jsonAccepted(w, resp)
}
