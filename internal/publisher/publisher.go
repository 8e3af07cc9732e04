package publisher

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/emberwatch/emberwatch/internal/backoff"
	"github.com/emberwatch/emberwatch/internal/metrics"
	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// Options configures the publisher's delivery discipline.
type Options struct {
	// MaxAttempts bounds send attempts per alert.
	MaxAttempts int

	// RetryBackoff schedules the delay between send attempts.
	RetryBackoff backoff.Backoff

	// StoreTimeout bounds each ledger call.
	StoreTimeout time.Duration

	// DedupWindow is how long a (signature, observed_at) pair stays claimed.
	// A second positive decision for the same pair inside the window is
	// swallowed.
	DedupWindow time.Duration
}

// DefaultOptions returns the default delivery discipline.
func DefaultOptions() *Options {
	return &Options{
		MaxAttempts: 3,
		RetryBackoff: backoff.Backoff{
			Initial:    500 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.2,
		},
		StoreTimeout: 3 * time.Second,
		DedupWindow:  time.Hour,
	}
}

// Publisher turns positive alert decisions into at-most-one delivery each.
// The ledger claim is the single-publication gate: whoever inserts the
// (signature, observed_at) row owns the send, every other worker that
// reaches Publish with the same pair backs off silently. Send failures
// retry with backoff; exhaustion marks the ledger row undelivered so the
// alert stays visible instead of vanishing.
type Publisher struct {
	ledger     storage.AlertRepository
	dispatcher *Dispatcher
	opts       *Options
	stats      *PublisherStats
}

// PublisherStats tracks publish statistics using atomic operations.
type PublisherStats struct {
	Published  atomic.Int64
	Duplicates atomic.Int64
	Failed     atomic.Int64
	Retries    atomic.Int64
}

// PublisherStatsSnapshot is a point-in-time copy of publish statistics.
type PublisherStatsSnapshot struct {
	Published  int64
	Duplicates int64
	Failed     int64
	Retries    int64
}

// NewPublisher creates a publisher over the given ledger and dispatcher.
// A nil opts means DefaultOptions.
func NewPublisher(ledger storage.AlertRepository, dispatcher *Dispatcher, opts *Options) *Publisher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Publisher{
		ledger:     ledger,
		dispatcher: dispatcher,
		opts:       opts,
		stats:      &PublisherStats{},
	}
}

// Publish delivers one positive decision downstream.
func (p *Publisher) Publish(ctx context.Context, decision *models.AlertDecision) error {
	return p.PublishAt(ctx, decision, time.Now().UTC())
}

// PublishAt is Publish with an injected clock (useful for testing).
//
// Claim-then-send: the ledger insert happens before the first send attempt,
// so a redelivered decision can never produce a second notification no
// matter how the previous attempt ended. The price is that a crash between
// claim and send loses that one delivery; the undelivered row in the ledger
// keeps the loss observable.
func (p *Publisher) PublishAt(ctx context.Context, decision *models.AlertDecision, now time.Time) error {
	if decision == nil || !decision.Publishable() {
		return nil
	}

	alert := models.NewPublishedAlert(decision, now, now.Add(p.opts.DedupWindow))

	claimCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	won, err := p.ledger.Claim(claimCtx, alert)
	cancel()
	if err != nil {
		return fmt.Errorf("claim alert: %w", err)
	}
	if !won {
		p.stats.Duplicates.Add(1)
		metrics.AlertsSuppressedTotal.WithLabelValues("duplicate").Inc()
		log.Printf("[publisher] suppressed duplicate alert signature=%s observed_at=%s",
			shortKey(alert.SignatureKey), alert.ObservedAt.Format(time.RFC3339))
		return nil
	}

	var lastErr error
	attempts := 0
	for attempts < p.opts.MaxAttempts {
		if attempts > 0 {
			p.stats.Retries.Add(1)
			metrics.PublishRetriesTotal.Inc()
			if err := backoff.Sleep(ctx, p.opts.RetryBackoff.Duration(attempts-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		if err := p.dispatcher.Dispatch(ctx, alert); err != nil {
			lastErr = err
			log.Printf("[publisher] send attempt %d/%d failed signature=%s: %v",
				attempts, p.opts.MaxAttempts, shortKey(alert.SignatureKey), err)
			continue
		}

		p.markDelivered(alert, attempts)
		p.stats.Published.Add(1)
		metrics.AlertsPublishedTotal.WithLabelValues(string(alert.Reason)).Inc()
		log.Printf("[publisher] delivered alert reason=%s signature=%s count=%d attempts=%d",
			alert.Reason, shortKey(alert.SignatureKey), alert.OccurrenceCount, attempts)
		return nil
	}

	p.markFailed(alert, attempts, lastErr)
	p.stats.Failed.Add(1)
	metrics.AlertsUndeliveredTotal.Inc()
	return fmt.Errorf("%w: deliver alert %q: %v",
		models.ErrPublishFailure, alert.Signature.String(), lastErr)
}

// markDelivered records a successful delivery. The write uses a fresh
// context: the ledger must reflect what actually went out even when the
// caller's context died right after the send.
func (p *Publisher) markDelivered(alert *models.PublishedAlert, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.StoreTimeout)
	defer cancel()

	if err := p.ledger.MarkDelivered(ctx, alert.SignatureKey, alert.ObservedAt, time.Now().UTC(), attempts); err != nil {
		log.Printf("[publisher] failed to record delivery signature=%s: %v",
			shortKey(alert.SignatureKey), err)
	}
}

// markFailed records an exhausted delivery so the alert surfaces as
// undelivered instead of disappearing.
func (p *Publisher) markFailed(alert *models.PublishedAlert, attempts int, lastErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.StoreTimeout)
	defer cancel()

	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}
	if err := p.ledger.MarkFailed(ctx, alert.SignatureKey, alert.ObservedAt, attempts, msg); err != nil {
		log.Printf("[publisher] failed to record undelivered alert signature=%s: %v",
			shortKey(alert.SignatureKey), err)
	}
}

// Stats returns a snapshot of publish statistics.
func (p *Publisher) Stats() PublisherStatsSnapshot {
	return PublisherStatsSnapshot{
		Published:  p.stats.Published.Load(),
		Duplicates: p.stats.Duplicates.Load(),
		Failed:     p.stats.Failed.Load(),
		Retries:    p.stats.Retries.Load(),
	}
}

// shortKey abbreviates a signature key for log lines.
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
