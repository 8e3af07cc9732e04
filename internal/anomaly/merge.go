package anomaly

import (
	"sort"
	"time"

	"github.com/emberwatch/emberwatch/internal/models"
)

// ApplyEvent folds a cluster event into a copy of the previous history
// record and returns the merged record ready for a conditional write.
// prev may be nil (first sighting). The result is deterministic: eviction is
// anchored at the newest retained bucket rather than the wall clock, so a
// late event merges into the bucket matching its own observed_at no matter
// when it arrives.
//
// The merged record's BaselineRate is the mean count per retained bucket
// excluding the event's own bucket, so a burst never inflates the baseline
// it is judged against. TotalOccurrences counts every merge ever applied,
// including counts whose buckets were already evicted.
func ApplyEvent(prev *models.HistoryRecord, event *models.ClusterEvent, retention time.Duration, now time.Time) *models.HistoryRecord {
	bucket := event.BucketStart()

	if prev == nil {
		return &models.HistoryRecord{
			Signature:        event.Signature,
			TotalOccurrences: event.OccurrenceCount,
			Buckets:          []models.Bucket{{Start: bucket, Count: event.OccurrenceCount}},
			BaselineRate:     0,
			FirstSeenAt:      event.ObservedAt.UTC(),
			UpdatedAt:        now.UTC(),
			Version:          1,
		}
	}

	rec := prev.Clone()
	rec.TotalOccurrences += event.OccurrenceCount
	rec.Buckets = mergeBucket(rec.Buckets, bucket, event.OccurrenceCount)
	rec.Buckets = evict(rec.Buckets, retention)
	rec.BaselineRate = baselineRate(rec.Buckets, bucket)
	rec.UpdatedAt = now.UTC()
	rec.Version = prev.Version + 1
	return rec
}

// mergeBucket adds count into the bucket starting at start, inserting a new
// bucket if none exists, and keeps the slice ordered by start time.
func mergeBucket(buckets []models.Bucket, start time.Time, count int64) []models.Bucket {
	for i := range buckets {
		if buckets[i].Start.Equal(start) {
			buckets[i].Count += count
			return buckets
		}
	}

	buckets = append(buckets, models.Bucket{Start: start, Count: count})
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})
	return buckets
}

// evict drops buckets at or beyond the retention horizon behind the newest
// retained bucket, keeping at most retention's worth of hourly buckets.
func evict(buckets []models.Bucket, retention time.Duration) []models.Bucket {
	if len(buckets) == 0 {
		return buckets
	}

	newest := buckets[len(buckets)-1].Start
	cutoff := newest.Add(-retention)

	kept := buckets[:0]
	for _, b := range buckets {
		if b.Start.After(cutoff) {
			kept = append(kept, b)
		}
	}
	return kept
}

// baselineRate is the mean count per bucket excluding the bucket starting at
// exclude. Zero when no other buckets remain.
func baselineRate(buckets []models.Bucket, exclude time.Time) float64 {
	var sum int64
	var n int
	for _, b := range buckets {
		if b.Start.Equal(exclude) {
			continue
		}
		sum += b.Count
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
