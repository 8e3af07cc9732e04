package pipeline

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"

	"github.com/emberwatch/emberwatch/internal/metrics"
	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// Decider turns a cluster event into an alert decision. *anomaly.Filter
// implements it.
type Decider interface {
	Decide(ctx context.Context, event *models.ClusterEvent) (*models.AlertDecision, error)
}

// AlertPublisher hands positive decisions downstream. *publisher.Publisher
// implements it.
type AlertPublisher interface {
	Publish(ctx context.Context, decision *models.AlertDecision) error
}

// Archiver receives processed events for long-term storage.
// *storage.ArchiveBuffer implements it.
type Archiver interface {
	AddBatch(records []*storage.EventRecord) error
}

// WorkerPool runs the decide-archive-publish cycle over queued events.
// Workers pull from the queue until the context is canceled or the queue
// closes and drains. An invalid event is dropped on the spot, a transient
// failure sends the delivery back to the queue, and a publish failure is
// final because the alert ledger already holds the undelivered row.
type WorkerPool struct {
	workers   int
	queue     *Queue
	decider   Decider
	publisher AlertPublisher
	archive   Archiver

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool over the queue. Workers defaults to the number
// of CPUs when zero or negative. The archiver may be nil when archiving is
// disabled.
func NewWorkerPool(workers int, queue *Queue, decider Decider, pub AlertPublisher, archive Archiver) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:   workers,
		queue:     queue,
		decider:   decider,
		publisher: pub,
		archive:   archive,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	log.Printf("[pipeline] started %d workers", p.workers)
}

// Wait blocks until every worker has exited. For a drain-then-stop shutdown,
// close the queue first and Wait with a live context.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context) {
	for {
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		p.process(ctx, delivery)
	}
}

// process runs one delivery through the filter and hands the outcome on.
// Only transient failures go back to the queue: an invalid event can never
// heal, and a duplicate was already applied the first time around.
func (p *WorkerPool) process(ctx context.Context, delivery *Delivery) {
	decision, err := p.decider.Decide(ctx, delivery.Event)
	if err != nil {
		if errors.Is(err, models.ErrInvalidEvent) {
			metrics.EventsProcessedTotal.WithLabelValues("invalid").Inc()
			log.Printf("[pipeline] rejected event signature=%q: %v",
				delivery.Event.Signature.String(), err)
			return
		}
		metrics.EventsProcessedTotal.WithLabelValues("failed").Inc()
		log.Printf("[pipeline] decide failed signature=%q attempt=%d: %v",
			delivery.Event.Signature.String(), delivery.Attempt, err)
		p.queue.Nack(delivery)
		return
	}

	p.recordOutcome(decision)
	p.archiveDecision(delivery.Event, decision)

	if decision.Publishable() {
		if err := p.publisher.Publish(ctx, decision); err != nil {
			// The ledger carries this failure as an undelivered row; a
			// redelivery here would only be swallowed as a duplicate.
			log.Printf("[pipeline] publish failed signature=%q: %v",
				delivery.Event.Signature.String(), err)
		}
	}
}

func (p *WorkerPool) recordOutcome(decision *models.AlertDecision) {
	if decision.IsAnomalous {
		metrics.DecisionsTotal.WithLabelValues(string(decision.Reason)).Inc()
	}

	switch {
	case decision.Duplicate:
		metrics.EventsProcessedTotal.WithLabelValues("duplicate").Inc()
	case decision.Muted:
		metrics.EventsProcessedTotal.WithLabelValues("muted").Inc()
		metrics.AlertsSuppressedTotal.WithLabelValues("muted").Inc()
	case decision.IsAnomalous:
		metrics.EventsProcessedTotal.WithLabelValues("anomalous").Inc()
	default:
		metrics.EventsProcessedTotal.WithLabelValues("quiet").Inc()
	}
}

// archiveDecision appends the processed event to the archive. Duplicates are
// skipped so redeliveries cannot inflate the archived occurrence sums, and
// archive errors never touch the decision path.
func (p *WorkerPool) archiveDecision(event *models.ClusterEvent, decision *models.AlertDecision) {
	if p.archive == nil || decision.Duplicate {
		return
	}

	rec := &storage.EventRecord{
		ID:              event.ID,
		SignatureKey:    event.Signature.Key(),
		Level:           string(event.Signature.Level),
		Message:         event.Signature.Message,
		OccurrenceCount: event.OccurrenceCount,
		ObservedAt:      event.ObservedAt.UTC(),
		DecidedAt:       decision.DecidedAt,
		Anomalous:       decision.IsAnomalous,
		Reason:          string(decision.Reason),
		SampleContext:   event.SampleContext,
	}
	if err := p.archive.AddBatch([]*storage.EventRecord{rec}); err != nil {
		log.Printf("[pipeline] archive append failed signature=%q: %v",
			event.Signature.String(), err)
	}
}
