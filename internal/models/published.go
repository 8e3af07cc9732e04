package models

import "time"

// PublishedAlert is one row of the published-alert ledger: a positive
// decision that won its (signature, observed_at) dedup claim. Rows expire
// with the dedup window; until then they make delivery failures observable.
type PublishedAlert struct {
	SignatureKey    string         `json:"signature_key"`
	Signature       Signature      `json:"signature"`
	ObservedAt      time.Time      `json:"observed_at"`
	OccurrenceCount int64          `json:"occurrence_count"`
	Reason          DecisionReason `json:"reason"`
	DecidedAt       time.Time      `json:"decided_at"`
	PublishedAt     time.Time      `json:"published_at"`
	Delivered       bool           `json:"delivered"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	Attempts        int            `json:"attempts"`
	LastError       string         `json:"last_error,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// NewPublishedAlert builds a ledger row from a positive decision.
func NewPublishedAlert(d *AlertDecision, now, expiresAt time.Time) *PublishedAlert {
	return &PublishedAlert{
		SignatureKey:    d.Signature.Key(),
		Signature:       d.Signature,
		ObservedAt:      d.ObservedAt.UTC(),
		OccurrenceCount: d.OccurrenceCount,
		Reason:          d.Reason,
		DecidedAt:       d.DecidedAt.UTC(),
		PublishedAt:     now.UTC(),
		ExpiresAt:       expiresAt.UTC(),
	}
}
