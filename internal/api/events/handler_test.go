package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emberwatch/emberwatch/internal/models"
	"github.com/emberwatch/emberwatch/internal/pipeline"
)

type mockQueue struct {
	events     []*models.ClusterEvent
	failAfter  int
	enqueueErr error
}

func (m *mockQueue) Enqueue(event *models.ClusterEvent) error {
	if m.enqueueErr != nil && len(m.events) >= m.failAfter {
		return m.enqueueErr
	}
	m.events = append(m.events, event)
	return nil
}

func ingestBody(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return ingestBodyInto(t, &mockQueue{}, body)
}

func ingestBodyInto(t *testing.T, queue *mockQueue, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewHandler(queue, 500)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Ingest(w, req)
	return w
}

func TestIngest_AcceptsBatch(t *testing.T) {
	queue := &mockQueue{}
	w := ingestBodyInto(t, queue, `{
		"events": [
			{"signature": {"level": "ERROR", "message": "disk full"}, "occurrence_count": 3, "observed_at": "2025-06-01T12:00:00Z"},
			{"signature": {"level": "warning", "message": "slow query"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z", "sample_context": "SELECT ..."}
		]
	}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data IngestResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Accepted != 2 {
		t.Errorf("expected 2 accepted, got %d", resp.Data.Accepted)
	}
	if len(resp.Data.Rejected) != 0 {
		t.Errorf("expected no rejects, got %+v", resp.Data.Rejected)
	}

	if len(queue.events) != 2 {
		t.Fatalf("expected 2 enqueued events, got %d", len(queue.events))
	}
	first := queue.events[0]
	if first.ID == "" {
		t.Error("expected a minted event id")
	}
	if first.Signature.Level != models.LevelError || first.Signature.Message != "disk full" {
		t.Errorf("unexpected signature: %+v", first.Signature)
	}
	if queue.events[1].Signature.Level != models.LevelWarning {
		t.Errorf("expected level normalized to WARNING, got %s", queue.events[1].Signature.Level)
	}
}

func TestIngest_PreservesClientID(t *testing.T) {
	queue := &mockQueue{}
	w := ingestBodyInto(t, queue, `{
		"events": [
			{"id": "run-42", "signature": {"level": "ERROR", "message": "x"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}
		]
	}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", w.Code)
	}
	if queue.events[0].ID != "run-42" {
		t.Errorf("expected client id preserved, got %s", queue.events[0].ID)
	}
}

func TestIngest_RejectsByIndex(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		wantReason string
	}{
		{
			name:       "unknown level",
			event:      `{"signature": {"level": "LOUD", "message": "x"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}`,
			wantReason: "signature.level must be a known severity",
		},
		{
			name:       "empty message",
			event:      `{"signature": {"level": "ERROR", "message": ""}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}`,
			wantReason: "signature.message is required",
		},
		{
			name:       "zero count",
			event:      `{"signature": {"level": "ERROR", "message": "x"}, "occurrence_count": 0, "observed_at": "2025-06-01T12:00:00Z"}`,
			wantReason: "occurrence_count must be positive",
		},
		{
			name:       "negative count",
			event:      `{"signature": {"level": "ERROR", "message": "x"}, "occurrence_count": -2, "observed_at": "2025-06-01T12:00:00Z"}`,
			wantReason: "occurrence_count must be positive",
		},
		{
			name:       "missing observed_at",
			event:      `{"signature": {"level": "ERROR", "message": "x"}, "occurrence_count": 1}`,
			wantReason: "observed_at is required",
		},
		{
			name:       "garbled observed_at",
			event:      `{"signature": {"level": "ERROR", "message": "x"}, "occurrence_count": 1, "observed_at": "yesterday"}`,
			wantReason: "observed_at must be RFC3339",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &mockQueue{}
			// Pair the broken event with a valid one so the batch
			// partially succeeds.
			w := ingestBodyInto(t, queue, `{"events": [`+tt.event+`,
				{"signature": {"level": "ERROR", "message": "ok"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}]}`)

			if w.Code != http.StatusAccepted {
				t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
			}

			var resp struct {
				Data IngestResponse `json:"data"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Data.Accepted != 1 {
				t.Errorf("expected 1 accepted, got %d", resp.Data.Accepted)
			}
			if len(resp.Data.Rejected) != 1 {
				t.Fatalf("expected 1 reject, got %+v", resp.Data.Rejected)
			}
			if resp.Data.Rejected[0].Index != 0 {
				t.Errorf("expected reject at index 0, got %d", resp.Data.Rejected[0].Index)
			}
			if resp.Data.Rejected[0].Reason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, resp.Data.Rejected[0].Reason)
			}
			if len(queue.events) != 1 {
				t.Errorf("expected only the valid event enqueued, got %d", len(queue.events))
			}
		})
	}
}

func TestIngest_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"events": [`},
		{"empty batch", `{"events": []}`},
		{"missing events", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ingestBody(t, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			var resp apiResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != errCodeBadRequest {
				t.Errorf("expected BAD_REQUEST error, got %+v", resp.Error)
			}
		})
	}
}

func TestIngest_BatchTooLarge(t *testing.T) {
	handler := NewHandler(&mockQueue{}, 2)

	body := `{"events": [
		{"signature": {"level": "ERROR", "message": "a"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"},
		{"signature": {"level": "ERROR", "message": "b"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"},
		{"signature": {"level": "ERROR", "message": "c"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Ingest(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestIngest_QueueFull(t *testing.T) {
	queue := &mockQueue{failAfter: 1, enqueueErr: pipeline.ErrQueueFull}
	w := ingestBodyInto(t, queue, `{
		"events": [
			{"signature": {"level": "ERROR", "message": "a"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"},
			{"signature": {"level": "ERROR", "message": "b"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}
		]
	}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var resp apiResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != errCodeQueueFull {
		t.Errorf("expected QUEUE_FULL error, got %+v", resp.Error)
	}
}

func TestIngest_QueueClosed(t *testing.T) {
	queue := &mockQueue{failAfter: 0, enqueueErr: pipeline.ErrQueueClosed}
	w := ingestBodyInto(t, queue, `{
		"events": [
			{"signature": {"level": "ERROR", "message": "a"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}
		]
	}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}
