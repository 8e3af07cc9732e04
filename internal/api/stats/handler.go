// Package stats serves pipeline and archive aggregates for dashboards.
package stats

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberwatch/emberwatch/internal/anomaly"
	"github.com/emberwatch/emberwatch/internal/pipeline"
	"github.com/emberwatch/emberwatch/internal/publisher"
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

// Stat sources. The pipeline components expose in-memory snapshots; only
// the store and archive need queries.

type queueStatser interface {
	Stats() pipeline.QueueStats
}

type filterStatser interface {
	Stats() anomaly.FilterStatsSnapshot
}

type publisherStatser interface {
	Stats() publisher.PublisherStatsSnapshot
}

// Handler aggregates statistics across the store, the archive, and the
// running pipeline.
type Handler struct {
	signatures   storage.SignatureRepository
	archive      storage.EventRepository
	queue        queueStatser
	filter       filterStatser
	publisher    publisherStatser
	queryTimeout time.Duration
}

func NewHandler(signatures storage.SignatureRepository, archive storage.EventRepository, queue queueStatser, filter filterStatser, pub publisherStatser, queryTimeout time.Duration) *Handler {
	return &Handler{
		signatures:   signatures,
		archive:      archive,
		queue:        queue,
		filter:       filter,
		publisher:    pub,
		queryTimeout: queryTimeout,
	}
}

// QueueSection reports ingest queue counters.
type QueueSection struct {
	Depth        int   `json:"depth"`
	Enqueued     int64 `json:"enqueued"`
	Redelivered  int64 `json:"redelivered"`
	DeadLettered int64 `json:"dead_lettered"`
}

// FilterSection reports anomaly filter counters.
type FilterSection struct {
	EventsProcessed int64 `json:"events_processed"`
	Anomalies       int64 `json:"anomalies"`
	Duplicates      int64 `json:"duplicates"`
	Muted           int64 `json:"muted"`
	InvalidEvents   int64 `json:"invalid_events"`
	Conflicts       int64 `json:"conflicts"`
	Retries         int64 `json:"retries"`
	Failures        int64 `json:"failures"`
}

// PublisherSection reports alert publisher counters.
type PublisherSection struct {
	Published  int64 `json:"published"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
	Retries    int64 `json:"retries"`
}

// PipelineSection groups the in-memory pipeline counters.
type PipelineSection struct {
	Queue     QueueSection     `json:"queue"`
	Filter    FilterSection    `json:"filter"`
	Publisher PublisherSection `json:"publisher"`
}

// TopSignature is one row of the busiest-signatures aggregate.
type TopSignature struct {
	SignatureKey string `json:"signature_key"`
	Level        string `json:"level"`
	Message      string `json:"message"`
	Occurrences  int64  `json:"occurrences"`
	Events       int64  `json:"events"`
	LastSeenAt   string `json:"last_seen_at"`
}

// ArchiveSection reports archive aggregates over the requested window.
// Present only when an event archive is configured.
type ArchiveSection struct {
	EventsArchived    int64            `json:"events_archived"`
	TopSignatures     []*TopSignature  `json:"top_signatures"`
	AnomaliesByReason map[string]int64 `json:"anomalies_by_reason"`
}

// OverviewResponse is the GET /api/v1/stats body.
type OverviewResponse struct {
	WindowHours       int              `json:"window_hours"`
	TrackedSignatures int64            `json:"tracked_signatures"`
	Pipeline          *PipelineSection `json:"pipeline"`
	Archive           *ArchiveSection  `json:"archive,omitempty"`
}

const topSignatureLimit = 10

// Overview handles GET /api/v1/stats. The store and archive queries run
// in parallel; the pipeline counters are read from memory.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
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
	since := now.Add(-time.Duration(hours) * time.Hour)

	var (
		tracked       int64
		archivedTotal int64
		top           []*storage.SignatureVolume
		byReason      map[string]int64
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		tracked, err = h.signatures.Count(gCtx)
		if err != nil {
			log.Printf("count signatures error: %v", err)
		}
		return err
	})

	if h.archive != nil {
		g.Go(func() error {
			var err error
			archivedTotal, err = h.archive.Count(gCtx, &storage.EventFilter{StartTime: since, EndTime: now})
			if err != nil {
				log.Printf("count archived events error: %v", err)
			}
			return err
		})

		g.Go(func() error {
			var err error
			top, err = h.archive.TopSignatures(gCtx, since, topSignatureLimit)
			if err != nil {
				log.Printf("top signatures error: %v", err)
			}
			return err
		})

		g.Go(func() error {
			var err error
			byReason, err = h.archive.CountByReason(gCtx, since)
			if err != nil {
				log.Printf("count by reason error: %v", err)
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	queueStats := h.queue.Stats()
	filterStats := h.filter.Stats()
	pubStats := h.publisher.Stats()

	resp := &OverviewResponse{
		WindowHours:       hours,
		TrackedSignatures: tracked,
		Pipeline: &PipelineSection{
			Queue: QueueSection{
				Depth:        queueStats.Depth,
				Enqueued:     queueStats.Enqueued,
				Redelivered:  queueStats.Redelivered,
				DeadLettered: queueStats.DeadLettered,
			},
			Filter: FilterSection{
				EventsProcessed: filterStats.EventsProcessed,
				Anomalies:       filterStats.Anomalies,
				Duplicates:      filterStats.Duplicates,
				Muted:           filterStats.Muted,
				InvalidEvents:   filterStats.InvalidEvents,
				Conflicts:       filterStats.Conflicts,
				Retries:         filterStats.Retries,
				Failures:        filterStats.Failures,
			},
			Publisher: PublisherSection{
				Published:  pubStats.Published,
				Duplicates: pubStats.Duplicates,
				Failed:     pubStats.Failed,
				Retries:    pubStats.Retries,
			},
		},
	}

	if h.archive != nil {
		section := &ArchiveSection{
			EventsArchived:    archivedTotal,
			TopSignatures:     make([]*TopSignature, len(top)),
			AnomaliesByReason: byReason,
		}
		for i, row := range top {
			section.TopSignatures[i] = &TopSignature{
				SignatureKey: row.SignatureKey,
				Level:        row.Level,
				Message:      row.Message,
				Occurrences:  row.Occurrences,
				Events:       row.Events,
				LastSeenAt:   row.LastSeenAt.Format(time.RFC3339),
			}
		}
		resp.Archive = section
	}

	jsonOK(w, resp)
}
