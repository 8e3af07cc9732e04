package models

import (
	"encoding/json"
	"time"
)

// DecisionReason explains why an event was judged anomalous. The reasons are
// evaluated in a fixed priority order; the first matching rule wins.
type DecisionReason string

const (
	// ReasonNewSignature fires on the first-ever sighting of a signature.
	ReasonNewSignature DecisionReason = "NEW_SIGNATURE"
	// ReasonRateSpike fires when a count exceeds the signature's own
	// baseline by the configured spike factor.
	ReasonRateSpike DecisionReason = "RATE_SPIKE"
	// ReasonVolumeThreshold fires on raw volume regardless of baseline.
	ReasonVolumeThreshold DecisionReason = "VOLUME_THRESHOLD"
	// ReasonRecurring fires when a signature that alerted recently keeps
	// repeating above the lower repeat threshold.
	ReasonRecurring DecisionReason = "RECURRING"
)

// AlertDecision is the filter's verdict on one cluster event. Decisions are
// ephemeral: a positive one is handed to the publisher exactly once and
// retained only inside the dedup ledger window.
type AlertDecision struct {
	Signature       Signature      `json:"signature"`
	OccurrenceCount int64          `json:"occurrence_count"`
	LookbackHours   int            `json:"lookback_hours"`
	IsAnomalous     bool           `json:"is_anomalous"`
	Reason          DecisionReason `json:"reason,omitempty"`
	DecidedAt       time.Time      `json:"decided_at"`
	ObservedAt      time.Time      `json:"observed_at"`
	BaselineRate    float64        `json:"baseline_rate"`
	SampleContext   string         `json:"sample_context,omitempty"`

	// Muted marks a decision suppressed by an operator mute rule: history
	// still accumulated, nothing published.
	Muted bool `json:"muted,omitempty"`
	// MutedBy names the rule that suppressed the decision.
	MutedBy string `json:"muted_by,omitempty"`
	// Duplicate marks a redelivered event swallowed by the dedup ledger:
	// no counts merged, nothing published.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Publishable reports whether the decision should be handed downstream.
func (d *AlertDecision) Publishable() bool {
	return d.IsAnomalous && !d.Muted && !d.Duplicate
}

// JSON returns the decision as JSON bytes.
func (d *AlertDecision) JSON() ([]byte, error) {
	return json.Marshal(d)
}
