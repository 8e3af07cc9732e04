// Package pipeline moves cluster events from the ingest boundary through the
// anomaly filter to the publisher. The queue between them is the load-shedding
// point: ingest never blocks on a slow store, and a delivery that keeps
// failing is dead-lettered after a bounded number of attempts instead of
// cycling forever.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberwatch/emberwatch/internal/metrics"
	"github.com/emberwatch/emberwatch/internal/models"
)

var (
	// ErrQueueFull is returned when the queue cannot accept another event.
	// Producers translate it into backpressure at the ingest boundary.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueClosed is returned once the queue has shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// QueueConfig holds queue tuning knobs.
type QueueConfig struct {
	// Capacity is the maximum number of queued deliveries.
	Capacity int

	// MaxDeliveries is how many times one event is handed to a worker
	// before it is dead-lettered.
	MaxDeliveries int

	// RequeueDelay is how long a nacked delivery waits before it comes back.
	RequeueDelay time.Duration
}

// DefaultQueueConfig returns the default queue tuning.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:      1000,
		MaxDeliveries: 5,
		RequeueDelay:  500 * time.Millisecond,
	}
}

// Delivery is one handoff of an event to a worker. Attempt starts at 1 and
// counts every handoff of the same event, including redeliveries.
type Delivery struct {
	Event   *models.ClusterEvent
	Attempt int
}

// Queue is the bounded at-least-once handoff between ingest and the workers.
// Enqueue never blocks; a full queue is the producer's signal to back off and
// retry. A nacked delivery comes back after RequeueDelay until its attempts
// are spent, then it is dead-lettered with a log line.
type Queue struct {
	config QueueConfig
	ch     chan *Delivery

	mu     sync.Mutex
	closed bool

	enqueued     atomic.Int64
	redelivered  atomic.Int64
	deadLettered atomic.Int64
}

// NewQueue creates a queue. Zero or negative config fields fall back to the
// defaults.
func NewQueue(config QueueConfig) *Queue {
	def := DefaultQueueConfig()
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = def.MaxDeliveries
	}
	if config.RequeueDelay <= 0 {
		config.RequeueDelay = def.RequeueDelay
	}

	return &Queue{
		config: config,
		ch:     make(chan *Delivery, config.Capacity),
	}
}

// Enqueue hands one event to the pipeline. It never blocks: a full queue
// returns ErrQueueFull so the producer can shed load.
func (q *Queue) Enqueue(event *models.ClusterEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- &Delivery{Event: event, Attempt: 1}:
		q.enqueued.Add(1)
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a delivery is available, the context is canceled, or
// the queue closes and drains.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return d, nil
	}
}

// Nack schedules a failed delivery for another attempt, or dead-letters it
// when the attempts are spent. The redelivery is delayed so a struggling
// store gets room to recover before the same event hits it again.
func (q *Queue) Nack(d *Delivery) {
	if d.Attempt >= q.config.MaxDeliveries {
		q.deadLetter(d, "attempts exhausted")
		return
	}

	next := &Delivery{Event: d.Event, Attempt: d.Attempt + 1}
	q.redelivered.Add(1)
	metrics.QueueRedeliveredTotal.Inc()
	time.AfterFunc(q.config.RequeueDelay, func() {
		q.requeue(next)
	})
}

// requeue puts a redelivery back on the channel. A redelivery that finds the
// queue closed is dropped quietly; one that finds it full is dead-lettered,
// because unlike the producer it has nowhere to back off to.
func (q *Queue) requeue(d *Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		log.Printf("[pipeline] dropping redelivery on shutdown signature=%q attempt=%d",
			d.Event.Signature.String(), d.Attempt)
		return
	}

	select {
	case q.ch <- d:
		metrics.QueueDepth.Set(float64(len(q.ch)))
	default:
		q.deadLetter(d, "queue full")
	}
}

func (q *Queue) deadLetter(d *Delivery, cause string) {
	q.deadLettered.Add(1)
	metrics.QueueDeadLetteredTotal.Inc()
	log.Printf("[pipeline] dead-lettered event signature=%q count=%d attempts=%d: %s",
		d.Event.Signature.String(), d.Event.OccurrenceCount, d.Attempt, cause)
}

// Depth returns the number of deliveries currently waiting.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Close stops the queue. Queued deliveries can still be dequeued; new
// enqueues fail with ErrQueueClosed. Redeliveries still in their delay are
// dropped when they fire.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Depth        int
	Enqueued     int64
	Redelivered  int64
	DeadLettered int64
}

// Stats returns a snapshot of queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Depth:        len(q.ch),
		Enqueued:     q.enqueued.Load(),
		Redelivered:  q.redelivered.Load(),
		DeadLettered: q.deadLettered.Load(),
	}
}
