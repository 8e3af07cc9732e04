package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/emberwatch/emberwatch/internal/backoff"
	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// Store is the slice of the signature store the filter needs: a point read
// and the conditional merge write. Both must isolate signatures from each
// other; ApplyMerge must be atomic per signature.
type Store interface {
	Get(ctx context.Context, sig models.Signature) (*models.HistoryRecord, error)
	ApplyMerge(ctx context.Context, rec *models.HistoryRecord, expectedVersion int64, claim storage.EventClaim) error
}

// FilterOptions configures the filter's retry discipline.
type FilterOptions struct {
	// MaxAttempts bounds the read-classify-merge-write cycles per event,
	// covering both version conflicts and transient store failures.
	MaxAttempts int

	// RetryBackoff schedules the delay between attempts.
	RetryBackoff backoff.Backoff

	// StoreTimeout bounds each individual store call.
	StoreTimeout time.Duration
}

// DefaultFilterOptions returns the default retry discipline.
func DefaultFilterOptions() *FilterOptions {
	return &FilterOptions{
		MaxAttempts: 5,
		RetryBackoff: backoff.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.2,
		},
		StoreTimeout: 3 * time.Second,
	}
}

// Filter is the anomaly decision engine. Every cluster event passes through
// Decide, which classifies it against the signature's own history and merges
// its counts in one conditional write. Filters are safe for concurrent use;
// the store's per-signature atomicity is the only synchronization.
type Filter struct {
	store  Store
	policy atomic.Pointer[Policy]
	opts   *FilterOptions
	stats  *FilterStats
}

// FilterStats tracks filter statistics using atomic operations for lock-free access.
type FilterStats struct {
	EventsProcessed atomic.Int64
	Anomalies       atomic.Int64
	Duplicates      atomic.Int64
	Muted           atomic.Int64
	InvalidEvents   atomic.Int64
	Conflicts       atomic.Int64
	Retries         atomic.Int64
	Failures        atomic.Int64
}

// FilterStatsSnapshot is a point-in-time copy of filter statistics.
type FilterStatsSnapshot struct {
	EventsProcessed int64
	Anomalies       int64
	Duplicates      int64
	Muted           int64
	InvalidEvents   int64
	Conflicts       int64
	Retries         int64
	Failures        int64
}

// NewFilter creates a filter over the given store. A nil policy means
// DefaultPolicy; a nil opts means DefaultFilterOptions. The policy must
// already be validated.
func NewFilter(store Store, policy *Policy, opts *FilterOptions) *Filter {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if opts == nil {
		opts = DefaultFilterOptions()
	}

	f := &Filter{
		store: store,
		opts:  opts,
		stats: &FilterStats{},
	}
	f.policy.Store(policy)
	return f
}

// Policy returns the currently active policy.
func (f *Filter) Policy() *Policy {
	return f.policy.Load()
}

// ReloadPolicy validates the new policy and swaps it in atomically.
// In-flight decisions finish under the policy they started with.
func (f *Filter) ReloadPolicy(policy *Policy) error {
	if policy == nil {
		return fmt.Errorf("policy is nil")
	}
	policy.applyDefaults()
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	f.policy.Store(policy)
	return nil
}

// Decide classifies a cluster event and durably merges its counts.
func (f *Filter) Decide(ctx context.Context, event *models.ClusterEvent) (*models.AlertDecision, error) {
	return f.DecideAt(ctx, event, time.Now().UTC())
}

// DecideAt is Decide with an injected clock (useful for testing).
//
// The cycle per attempt: read the record, classify against pre-merge state,
// fold the event's counts into a merged copy, then write conditionally on
// the version observed at read time. A conflict means another worker won the
// race for this signature; the cycle re-reads fresh state and re-classifies,
// because the winner may have changed the verdict (a signature that was new
// a moment ago is now recurring). Redelivered events are caught by the
// processed-event claim inside the same write and swallowed without
// touching counts.
func (f *Filter) DecideAt(ctx context.Context, event *models.ClusterEvent, now time.Time) (*models.AlertDecision, error) {
	if err := event.Validate(); err != nil {
		f.stats.InvalidEvents.Add(1)
		return nil, err
	}

	policy := f.policy.Load()

	var lastErr error
	for attempt := 0; attempt < f.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			f.stats.Retries.Add(1)
			if err := backoff.Sleep(ctx, f.opts.RetryBackoff.Duration(attempt-1)); err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
			}
		}

		decision, err := f.attempt(ctx, event, policy, now)
		switch {
		case err == nil:
			f.recordOutcome(decision)
			return decision, nil
		case errors.Is(err, models.ErrStoreConflict):
			f.stats.Conflicts.Add(1)
			lastErr = err
		case errors.Is(err, models.ErrStoreUnavailable):
			lastErr = err
		default:
			return nil, err
		}
	}

	f.stats.Failures.Add(1)
	return nil, fmt.Errorf("%w: decide %q: attempts exhausted: %v",
		models.ErrStoreUnavailable, event.Signature.String(), lastErr)
}

// attempt runs one read-classify-merge-write cycle.
func (f *Filter) attempt(ctx context.Context, event *models.ClusterEvent, policy *Policy, now time.Time) (*models.AlertDecision, error) {
	getCtx, cancel := context.WithTimeout(ctx, f.opts.StoreTimeout)
	prev, err := f.store.Get(getCtx, event.Signature)
	cancel()
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	merged := ApplyEvent(prev, event, policy.Retention(), now)
	anomalous, reason := policy.Classify(prev, merged, event)

	decision := &models.AlertDecision{
		Signature:       event.Signature,
		OccurrenceCount: event.OccurrenceCount,
		LookbackHours:   policy.RetentionHours,
		IsAnomalous:     anomalous,
		Reason:          reason,
		DecidedAt:       now.UTC(),
		ObservedAt:      event.ObservedAt.UTC(),
		BaselineRate:    merged.BaselineRate,
		SampleContext:   event.SampleContext,
	}

	if anomalous {
		if name, muted := policy.Mute(decision); muted {
			decision.Muted = true
			decision.MutedBy = name
		}
	}

	// A published alert is what RECURRING keys off, so last_alert_at moves
	// only for decisions that will actually be handed downstream, and in
	// the same conditional write that merges the counts.
	if decision.Publishable() {
		alertAt := event.ObservedAt.UTC()
		merged.LastAlertAt = &alertAt
	}

	var expectedVersion int64
	if prev != nil {
		expectedVersion = prev.Version
	}

	claim := storage.EventClaim{
		SignatureKey:    event.Signature.Key(),
		ObservedAt:      event.ObservedAt.UTC(),
		OccurrenceCount: event.OccurrenceCount,
		Reason:          reason,
		Anomalous:       decision.Publishable(),
		ExpiresAt:       now.Add(policy.DedupWindow()).UTC(),
	}

	putCtx, cancel := context.WithTimeout(ctx, f.opts.StoreTimeout)
	err = f.store.ApplyMerge(putCtx, merged, expectedVersion, claim)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEvent) {
			return &models.AlertDecision{
				Signature:       event.Signature,
				OccurrenceCount: event.OccurrenceCount,
				LookbackHours:   policy.RetentionHours,
				DecidedAt:       now.UTC(),
				ObservedAt:      event.ObservedAt.UTC(),
				Duplicate:       true,
			}, nil
		}
		return nil, err
	}

	return decision, nil
}

func (f *Filter) recordOutcome(decision *models.AlertDecision) {
	f.stats.EventsProcessed.Add(1)
	switch {
	case decision.Duplicate:
		f.stats.Duplicates.Add(1)
	case decision.Muted:
		f.stats.Muted.Add(1)
	case decision.IsAnomalous:
		f.stats.Anomalies.Add(1)
	}
}

// Stats returns a snapshot of filter statistics.
func (f *Filter) Stats() FilterStatsSnapshot {
	return FilterStatsSnapshot{
		EventsProcessed: f.stats.EventsProcessed.Load(),
		Anomalies:       f.stats.Anomalies.Load(),
		Duplicates:      f.stats.Duplicates.Load(),
		Muted:           f.stats.Muted.Load(),
		InvalidEvents:   f.stats.InvalidEvents.Load(),
		Conflicts:       f.stats.Conflicts.Load(),
		Retries:         f.stats.Retries.Load(),
		Failures:        f.stats.Failures.Load(),
	}
}
