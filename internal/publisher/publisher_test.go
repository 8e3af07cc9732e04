package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/backoff"
	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// fakeLedger is an in-memory AlertRepository honoring the claim contract:
// the first insert of a (signature, observed_at) pair wins, every later one
// loses.
type fakeLedger struct {
	mu       sync.Mutex
	rows     map[string]*models.PublishedAlert
	claimErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]*models.PublishedAlert)}
}

func ledgerKey(signatureKey string, observedAt time.Time) string {
	return fmt.Sprintf("%s|%d", signatureKey, observedAt.UTC().UnixNano())
}

func (l *fakeLedger) Claim(ctx context.Context, alert *models.PublishedAlert) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.claimErr != nil {
		return false, l.claimErr
	}

	key := ledgerKey(alert.SignatureKey, alert.ObservedAt)
	if _, ok := l.rows[key]; ok {
		return false, nil
	}
	cp := *alert
	l.rows[key] = &cp
	return true, nil
}

func (l *fakeLedger) MarkDelivered(ctx context.Context, signatureKey string, observedAt time.Time, deliveredAt time.Time, attempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[ledgerKey(signatureKey, observedAt)]
	if !ok {
		return models.ErrNotFound
	}
	row.Delivered = true
	at := deliveredAt.UTC()
	row.DeliveredAt = &at
	row.Attempts = attempts
	row.LastError = ""
	return nil
}

func (l *fakeLedger) MarkFailed(ctx context.Context, signatureKey string, observedAt time.Time, attempts int, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[ledgerKey(signatureKey, observedAt)]
	if !ok {
		return models.ErrNotFound
	}
	row.Attempts = attempts
	row.LastError = lastError
	return nil
}

func (l *fakeLedger) List(ctx context.Context, opts storage.AlertListOptions) ([]*models.PublishedAlert, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var alerts []*models.PublishedAlert
	for _, row := range l.rows {
		if opts.UndeliveredOnly && row.Delivered {
			continue
		}
		cp := *row
		alerts = append(alerts, &cp)
	}
	return alerts, int64(len(alerts)), nil
}

func (l *fakeLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var purged int64
	for key, row := range l.rows {
		if row.ExpiresAt.Before(now) {
			delete(l.rows, key)
			purged++
		}
	}
	return purged, nil
}

func (l *fakeLedger) get(signatureKey string, observedAt time.Time) *models.PublishedAlert {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[ledgerKey(signatureKey, observedAt)]
	if !ok {
		return nil
	}
	cp := *row
	return &cp
}

func spikeDecision(message string, count int64, observedAt time.Time) *models.AlertDecision {
	return &models.AlertDecision{
		Signature:       models.Signature{Level: models.LevelError, Message: message},
		OccurrenceCount: count,
		LookbackHours:   48,
		IsAnomalous:     true,
		Reason:          models.ReasonRateSpike,
		DecidedAt:       observedAt.UTC(),
		ObservedAt:      observedAt.UTC(),
		BaselineRate:    2.5,
	}
}

func fastPublisherOptions() *Options {
	return &Options{
		MaxAttempts: 3,
		RetryBackoff: backoff.Backoff{
			Initial:    time.Millisecond,
			Max:        5 * time.Millisecond,
			Multiplier: 2.0,
		},
		StoreTimeout: time.Second,
		DedupWindow:  time.Hour,
	}
}

func TestPublisherDeliversDecision(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink"}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	decision := spikeDecision("connection refused", 12, now)

	if err := pub.PublishAt(context.Background(), decision, now); err != nil {
		t.Fatalf("PublishAt failed: %v", err)
	}

	if sink.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", sink.sentCount())
	}

	row := ledger.get(decision.Signature.Key(), now)
	if row == nil {
		t.Fatal("expected ledger row")
	}
	if !row.Delivered {
		t.Error("row should be marked delivered")
	}
	if row.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", row.Attempts)
	}
	if row.DeliveredAt == nil {
		t.Error("delivered_at should be set")
	}
	if row.Reason != models.ReasonRateSpike {
		t.Errorf("reason = %s, want RATE_SPIKE", row.Reason)
	}
	if !row.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expires_at = %v, want %v", row.ExpiresAt, now.Add(time.Hour))
	}

	stats := pub.Stats()
	if stats.Published != 1 {
		t.Errorf("published = %d, want 1", stats.Published)
	}
}

func TestPublisherSwallowsDuplicate(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink"}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	decision := spikeDecision("connection refused", 12, now)

	if err := pub.PublishAt(context.Background(), decision, now); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	// Redelivered decision for the same (signature, observed_at): the claim
	// loses and nothing goes out, even with a different count.
	redelivered := spikeDecision("connection refused", 99, now)
	if err := pub.PublishAt(context.Background(), redelivered, now.Add(time.Minute)); err != nil {
		t.Fatalf("duplicate publish should not error: %v", err)
	}

	if sink.sentCount() != 1 {
		t.Errorf("sent = %d, want 1 (duplicate must not send)", sink.sentCount())
	}

	row := ledger.get(decision.Signature.Key(), now)
	if row.OccurrenceCount != 12 {
		t.Errorf("row count = %d, want 12 (original claim untouched)", row.OccurrenceCount)
	}
	if row.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", row.Attempts)
	}

	stats := pub.Stats()
	if stats.Published != 1 {
		t.Errorf("published = %d, want 1", stats.Published)
	}
	if stats.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicates)
	}
}

func TestPublisherRetriesTransientFailure(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink", failures: 1}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	decision := spikeDecision("disk full", 20, now)

	if err := pub.PublishAt(context.Background(), decision, now); err != nil {
		t.Fatalf("PublishAt failed: %v", err)
	}

	if sink.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", sink.sentCount())
	}

	row := ledger.get(decision.Signature.Key(), now)
	if !row.Delivered {
		t.Error("row should be marked delivered after retry")
	}
	if row.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", row.Attempts)
	}

	stats := pub.Stats()
	if stats.Published != 1 {
		t.Errorf("published = %d, want 1", stats.Published)
	}
	if stats.Retries != 1 {
		t.Errorf("retries = %d, want 1", stats.Retries)
	}
}

func TestPublisherMarksUndelivered(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink", shouldErr: true}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	decision := spikeDecision("upstream timeout", 30, now)

	err := pub.PublishAt(context.Background(), decision, now)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !errors.Is(err, models.ErrPublishFailure) {
		t.Errorf("expected ErrPublishFailure, got %v", err)
	}

	row := ledger.get(decision.Signature.Key(), now)
	if row == nil {
		t.Fatal("claim row should exist even when delivery failed")
	}
	if row.Delivered {
		t.Error("row should not be marked delivered")
	}
	if row.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", row.Attempts)
	}
	if !strings.Contains(row.LastError, "mock send error") {
		t.Errorf("last_error should name the cause, got %q", row.LastError)
	}

	undelivered, total, err := ledger.List(context.Background(), storage.AlertListOptions{UndeliveredOnly: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(undelivered) != 1 {
		t.Errorf("undelivered = %d, want 1", total)
	}

	stats := pub.Stats()
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if stats.Retries != 2 {
		t.Errorf("retries = %d, want 2", stats.Retries)
	}
}

func TestPublisherSkipsNonPublishable(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink"}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)

	muted := spikeDecision("staging noise", 12, now)
	muted.Muted = true
	muted.MutedBy = "quiet-staging"

	duplicate := spikeDecision("replayed", 5, now)
	duplicate.Duplicate = true

	quiet := spikeDecision("background hum", 2, now)
	quiet.IsAnomalous = false
	quiet.Reason = ""

	for _, decision := range []*models.AlertDecision{muted, duplicate, quiet, nil} {
		if err := pub.PublishAt(context.Background(), decision, now); err != nil {
			t.Errorf("non-publishable decision should be a no-op, got %v", err)
		}
	}

	if sink.sentCount() != 0 {
		t.Errorf("sent = %d, want 0", sink.sentCount())
	}
	if _, total, _ := ledger.List(context.Background(), storage.AlertListOptions{}); total != 0 {
		t.Errorf("ledger rows = %d, want 0", total)
	}
}

func TestPublisherIsolatesFailures(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink", failSubstring: "flaky"}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	failing := spikeDecision("flaky upstream", 10, now)
	healthy := spikeDecision("connection refused", 15, now)

	if err := pub.PublishAt(context.Background(), failing, now); err == nil {
		t.Fatal("expected failure for flaky signature")
	}

	// The failed signature must not block a different one.
	if err := pub.PublishAt(context.Background(), healthy, now); err != nil {
		t.Fatalf("healthy signature should deliver: %v", err)
	}

	if row := ledger.get(failing.Signature.Key(), now); row.Delivered {
		t.Error("flaky row should stay undelivered")
	}
	if row := ledger.get(healthy.Signature.Key(), now); !row.Delivered {
		t.Error("healthy row should be delivered")
	}
}

func TestPublisherClaimErrorSurfaces(t *testing.T) {
	ledger := newFakeLedger()
	ledger.claimErr = models.ErrStoreUnavailable
	sink := &mockNotifier{name: "sink"}
	dispatcher := NewDispatcher()
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	err := pub.PublishAt(context.Background(), spikeDecision("connection refused", 12, now), now)
	if err == nil {
		t.Fatal("expected claim error to surface")
	}
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if sink.sentCount() != 0 {
		t.Errorf("sent = %d, want 0 (no send without a claim)", sink.sentCount())
	}
}

func TestPublisherRateLimitExhaustion(t *testing.T) {
	ledger := newFakeLedger()
	sink := &mockNotifier{name: "sink"}
	dispatcher := NewDispatcherWithRateLimit(RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      true,
	})
	dispatcher.Register(sink)
	pub := NewPublisher(ledger, dispatcher, fastPublisherOptions())

	now := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
	first := spikeDecision("connection refused", 12, now)
	second := spikeDecision("disk full", 20, now.Add(time.Minute))

	if err := pub.PublishAt(context.Background(), first, now); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	err := pub.PublishAt(context.Background(), second, now.Add(time.Minute))
	if err == nil {
		t.Fatal("expected rate-limited publish to fail")
	}
	if !errors.Is(err, models.ErrPublishFailure) {
		t.Errorf("expected ErrPublishFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should name the rate limit, got %q", err.Error())
	}

	// Still observable: the claim exists, marked undelivered.
	row := ledger.get(second.Signature.Key(), second.ObservedAt)
	if row == nil {
		t.Fatal("expected ledger row for rate-limited alert")
	}
	if row.Delivered {
		t.Error("rate-limited row should stay undelivered")
	}
	if !strings.Contains(row.LastError, "rate limited") {
		t.Errorf("last_error should name the rate limit, got %q", row.LastError)
	}
}
