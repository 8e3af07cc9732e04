package events

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/emberwatch/emberwatch/internal/models"
)

type ingestRequest struct {
	Events []eventInput `json:"events"`
}

type signatureInput struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// eventInput is the wire form of one batch entry. Timestamps arrive as
// strings so a single garbled entry is rejected by index instead of
// failing the whole batch decode.
type eventInput struct {
	ID              string         `json:"id"`
	Signature       signatureInput `json:"signature"`
	OccurrenceCount int64          `json:"occurrence_count"`
	ObservedAt      string         `json:"observed_at"`
	SampleContext   string         `json:"sample_context"`
}

const maxSampleContextBytes = 4096

// toEvent validates the input and converts it to a ClusterEvent. Events
// without an id get one minted here; the id only matters for tracing, the
// dedup ledger keys on signature and observation time.
func (in *eventInput) toEvent() (*models.ClusterEvent, error) {
	level, err := models.ParseLevel(in.Signature.Level)
	if err != nil {
		return nil, errors.New("signature.level must be a known severity")
	}
	if in.Signature.Message == "" {
		return nil, errors.New("signature.message is required")
	}
	if in.OccurrenceCount <= 0 {
		return nil, errors.New("occurrence_count must be positive")
	}
	if in.ObservedAt == "" {
		return nil, errors.New("observed_at is required")
	}
	observedAt, err := time.Parse(time.RFC3339, in.ObservedAt)
	if err != nil {
		return nil, errors.New("observed_at must be RFC3339")
	}
	if len(in.SampleContext) > maxSampleContextBytes {
		return nil, errors.New("sample_context exceeds 4096 bytes")
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &models.ClusterEvent{
		ID:              id,
		Signature:       models.Signature{Level: level, Message: in.Signature.Message},
		OccurrenceCount: in.OccurrenceCount,
		ObservedAt:      observedAt.UTC(),
		SampleContext:   in.SampleContext,
	}, nil
}
