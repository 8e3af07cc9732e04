package storage

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberwatch/emberwatch/internal/metrics"
)

// ArchiveBuffer buffers event records for batch insertion.
// It flushes on either batch size threshold or time interval,
// whichever comes first. It implements backpressure by dropping
// oldest records when the buffer reaches max capacity.
type ArchiveBuffer struct {
	repo          EventRepository
	batchSize     int
	flushInterval time.Duration
	maxSize       int

	mu       sync.Mutex
	buffer   []*EventRecord
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

// ArchiveBufferConfig holds ArchiveBuffer configuration.
type ArchiveBufferConfig struct {
	// BatchSize is the number of records to trigger a flush.
	BatchSize int

	// FlushInterval is the time interval to trigger a flush.
	FlushInterval time.Duration

	// MaxSize is the maximum buffer size. When reached, oldest records are dropped.
	MaxSize int
}

// NewArchiveBuffer creates a new archive buffer.
func NewArchiveBuffer(repo EventRepository, config *ArchiveBufferConfig) *ArchiveBuffer {
	// Apply defaults
	if config.BatchSize == 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxSize == 0 {
		config.MaxSize = 50000
	}

	b := &ArchiveBuffer{
		repo:          repo,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		buffer:        make([]*EventRecord, 0, config.BatchSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go b.flushLoop()
	return b
}

// Add adds an event record to the buffer.
func (b *ArchiveBuffer) Add(rec *EventRecord) error {
	return b.AddBatch([]*EventRecord{rec})
}

// AddBatch adds multiple event records to the buffer.
func (b *ArchiveBuffer) AddBatch(records []*EventRecord) error {
	if b.stopped.Load() {
		return nil
	}

	b.mu.Lock()

	// Check if we need to drop old records (backpressure)
	newLen := len(b.buffer) + len(records)
	if newLen > b.maxSize {
		// Calculate how many to drop
		toDrop := newLen - b.maxSize
		if toDrop >= len(b.buffer) {
			// Drop all existing + some new (extreme case)
			b.dropped.Add(int64(len(b.buffer)))
			b.buffer = b.buffer[:0]
			// Only keep records that fit
			keep := b.maxSize
			if keep > len(records) {
				keep = len(records)
			}
			drop := len(records) - keep
			b.dropped.Add(int64(drop))
			records = records[drop:]
			metrics.ArchiveDroppedTotal.Add(float64(toDrop))
			log.Printf("warning: archive buffer overflow, dropped %d records", toDrop)
		} else {
			// Drop oldest from existing buffer
			b.dropped.Add(int64(toDrop))
			b.buffer = b.buffer[toDrop:]
			metrics.ArchiveDroppedTotal.Add(float64(toDrop))
			log.Printf("warning: archive buffer overflow, dropped %d oldest records", toDrop)
		}
	}

	b.buffer = append(b.buffer, records...)
	metrics.ArchivePending.Set(float64(len(b.buffer)))
	shouldFlush := len(b.buffer) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush()
	}
	return nil
}

// Flush forces a flush of the current buffer.
func (b *ArchiveBuffer) Flush() error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}

	toFlush := b.buffer
	b.buffer = make([]*EventRecord, 0, b.batchSize)
	metrics.ArchivePending.Set(0)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.repo.InsertBatch(ctx, toFlush); err != nil {
		metrics.ArchiveFlushErrors.Inc()
		// Put records back on error (at front so they're flushed next)
		b.mu.Lock()
		b.buffer = append(toFlush, b.buffer...)
		// Apply max size limit again
		if len(b.buffer) > b.maxSize {
			excess := len(b.buffer) - b.maxSize
			b.dropped.Add(int64(excess))
			metrics.ArchiveDroppedTotal.Add(float64(excess))
			b.buffer = b.buffer[excess:]
		}
		metrics.ArchivePending.Set(float64(len(b.buffer)))
		b.mu.Unlock()
		return err
	}

	b.flushed.Add(1)
	b.inserted.Add(int64(len(toFlush)))
	metrics.ArchiveFlushesTotal.Inc()
	metrics.ArchiveInsertedTotal.Add(float64(len(toFlush)))
	return nil
}

// flushLoop periodically flushes the buffer.
func (b *ArchiveBuffer) flushLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				log.Printf("archive buffer flush error: %v", err)
			}
		case <-b.stopCh:
			// Final flush on shutdown
			if err := b.Flush(); err != nil {
				log.Printf("archive buffer final flush error: %v", err)
			}
			return
		}
	}
}

// Close stops the buffer and flushes remaining records.
func (b *ArchiveBuffer) Close() error {
	if b.stopped.Swap(true) {
		return nil // Already stopped
	}
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Stats returns buffer statistics.
func (b *ArchiveBuffer) Stats() ArchiveBufferStats {
	b.mu.Lock()
	pending := len(b.buffer)
	b.mu.Unlock()

	return ArchiveBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}

// ArchiveBufferStats contains buffer statistics.
type ArchiveBufferStats struct {
	// Pending is the number of records waiting to be flushed.
	Pending int

	// Dropped is the total number of records dropped due to backpressure.
	Dropped int64

	// Flushed is the total number of flush operations.
	Flushed int64

	// Inserted is the total number of records successfully inserted.
	Inserted int64
}
