package storage

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Unit tests (no ClickHouse required)

func TestEventFilter_BuildQuery(t *testing.T) {
	repo := &clickhouseEventRepo{}
	now := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   *EventFilter
		contains []string
		args     int
	}{
		{
			name:     "time range only",
			filter:   &EventFilter{StartTime: now.Add(-time.Hour), EndTime: now},
			contains: []string{"observed_at >= ?", "observed_at <= ?", "ORDER BY observed_at DESC", "LIMIT 100"},
			args:     2,
		},
		{
			name:     "signature filter",
			filter:   &EventFilter{SignatureKey: "abc123"},
			contains: []string{"signature_key = ?"},
			args:     1,
		},
		{
			name:     "anomalous only with paging",
			filter:   &EventFilter{AnomalousOnly: true, Level: "ERROR", Limit: 20, Offset: 40},
			contains: []string{"anomalous = 1", "level = ?", "LIMIT 20", "OFFSET 40"},
			args:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := repo.buildQuery(tt.filter, false)
			for _, want := range tt.contains {
				if !strings.Contains(query, want) {
					t.Errorf("expected query to contain %q, got:\n%s", want, query)
				}
			}
			if len(args) != tt.args {
				t.Errorf("expected %d args, got %d", tt.args, len(args))
			}
		})
	}
}

func TestEventFilter_BuildQueryCount(t *testing.T) {
	repo := &clickhouseEventRepo{}
	filter := &EventFilter{SignatureKey: "abc", Limit: 5}

	query, _ := repo.buildQuery(filter, true)
	if !strings.HasPrefix(query, "SELECT count()") {
		t.Errorf("expected count query, got: %s", query)
	}
	if strings.Contains(query, "LIMIT") {
		t.Errorf("count query must not page: %s", query)
	}
	if strings.Contains(query, "ORDER BY") {
		t.Errorf("count query must not order: %s", query)
	}
}

// ArchiveBuffer unit tests

func TestArchiveBuffer_AddBatch(t *testing.T) {
	// Create a mock repository
	mock := &mockEventRepo{
		insertBatchCalls: 0,
	}

	config := &ArchiveBufferConfig{
		BatchSize:     3,
		FlushInterval: time.Hour, // Long interval so timer doesn't trigger
		MaxSize:       100,
	}

	buffer := NewArchiveBuffer(mock, config)
	defer buffer.Close()

	// Add records below batch size
	err := buffer.AddBatch([]*EventRecord{
		{ID: "1", Message: "test1"},
		{ID: "2", Message: "test2"},
	})
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Should not have flushed yet
	if mock.insertBatchCalls != 0 {
		t.Errorf("expected 0 insertBatch calls, got %d", mock.insertBatchCalls)
	}

	// Add more to trigger batch size
	err = buffer.AddBatch([]*EventRecord{
		{ID: "3", Message: "test3"},
	})
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Should have flushed
	if mock.insertBatchCalls != 1 {
		t.Errorf("expected 1 insertBatch call, got %d", mock.insertBatchCalls)
	}
	if mock.lastBatchSize != 3 {
		t.Errorf("expected batch size 3, got %d", mock.lastBatchSize)
	}
}

func TestArchiveBuffer_Flush(t *testing.T) {
	mock := &mockEventRepo{}

	config := &ArchiveBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}

	buffer := NewArchiveBuffer(mock, config)
	defer buffer.Close()

	// Add some records
	buffer.AddBatch([]*EventRecord{
		{ID: "1", Message: "test1"},
	})

	// Manual flush
	err := buffer.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if mock.insertBatchCalls != 1 {
		t.Errorf("expected 1 insertBatch call, got %d", mock.insertBatchCalls)
	}
}

func TestArchiveBuffer_Backpressure(t *testing.T) {
	mock := &mockEventRepo{
		insertBatchErr: nil,
	}

	config := &ArchiveBufferConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxSize:       5, // Small max size to test backpressure
	}

	buffer := NewArchiveBuffer(mock, config)
	defer buffer.Close()

	// Add more than max size
	records := make([]*EventRecord, 10)
	for i := 0; i < 10; i++ {
		records[i] = &EventRecord{ID: strconv.Itoa(i), Message: "test"}
	}

	err := buffer.AddBatch(records)
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	stats := buffer.Stats()
	if stats.Dropped == 0 {
		t.Error("expected some records to be dropped")
	}
}

func TestArchiveBuffer_Stats(t *testing.T) {
	mock := &mockEventRepo{}

	config := &ArchiveBufferConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}

	buffer := NewArchiveBuffer(mock, config)
	defer buffer.Close()

	// Add records to trigger flush
	buffer.AddBatch([]*EventRecord{
		{ID: "1", Message: "test1"},
		{ID: "2", Message: "test2"},
	})

	stats := buffer.Stats()
	if stats.Flushed != 1 {
		t.Errorf("expected 1 flush, got %d", stats.Flushed)
	}
	if stats.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", stats.Inserted)
	}
}

// Mock repository for testing
type mockEventRepo struct {
	insertBatchCalls int
	lastBatchSize    int
	insertBatchErr   error
}

func (m *mockEventRepo) InsertBatch(ctx context.Context, records []*EventRecord) error {
	m.insertBatchCalls++
	m.lastBatchSize = len(records)
	return m.insertBatchErr
}

func (m *mockEventRepo) Query(ctx context.Context, filter *EventFilter) (*EventQueryResult, error) {
	return &EventQueryResult{Entries: nil, Total: 0}, nil
}

func (m *mockEventRepo) Count(ctx context.Context, filter *EventFilter) (int64, error) {
	return 0, nil
}

func (m *mockEventRepo) TopSignatures(ctx context.Context, since time.Time, limit int) ([]*SignatureVolume, error) {
	return nil, nil
}

func (m *mockEventRepo) CountByReason(ctx context.Context, since time.Time) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (m *mockEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// Integration tests are in clickhouse_integration_test.go
// Run with: go test -tags=integration ./internal/storage/...
