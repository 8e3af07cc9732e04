package models

import (
	"time"
)

// Bucket aggregates a signature's occurrences over one hour.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

// HistoryRecord is the durable per-signature history the anomaly filter
// decides against. One record per signature, created on first sighting and
// never deleted; cold signatures simply stop accumulating buckets.
//
// TotalOccurrences counts every occurrence ever merged and never decreases.
// Buckets holds the retained hourly window ordered by start time; buckets
// older than the retention horizon are evicted on write. BaselineRate is the
// mean count per retained bucket excluding the bucket written last, so a
// burst never inflates its own baseline. Version backs the conditional-write
// discipline in the store.
type HistoryRecord struct {
	Signature        Signature  `json:"signature"`
	TotalOccurrences int64      `json:"total_occurrences"`
	Buckets          []Bucket   `json:"buckets"`
	BaselineRate     float64    `json:"baseline_rate"`
	LastAlertAt      *time.Time `json:"last_alert_at,omitempty"`
	FirstSeenAt      time.Time  `json:"first_seen_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// OccurrencesBetween sums bucket counts whose start falls within [from, to].
func (r *HistoryRecord) OccurrencesBetween(from, to time.Time) int64 {
	var total int64
	for _, b := range r.Buckets {
		if b.Start.Before(from) || b.Start.After(to) {
			continue
		}
		total += b.Count
	}
	return total
}

// BucketCount returns the count recorded for the bucket starting at start,
// or zero when no such bucket is retained.
func (r *HistoryRecord) BucketCount(start time.Time) int64 {
	for _, b := range r.Buckets {
		if b.Start.Equal(start) {
			return b.Count
		}
	}
	return 0
}

// Clone returns a deep copy so merge arithmetic never aliases the caller's
// bucket slice.
func (r *HistoryRecord) Clone() *HistoryRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Buckets = make([]Bucket, len(r.Buckets))
	copy(out.Buckets, r.Buckets)
	if r.LastAlertAt != nil {
		t := *r.LastAlertAt
		out.LastAlertAt = &t
	}
	return &out
}
