package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func resetSendFlags() {
	sendLevel = ""
	sendMessage = ""
	sendCount = 1
	sendObservedAt = ""
	sendContext = ""
	sendFile = ""
}

func TestBuildEvents_FromFlags(t *testing.T) {
	resetSendFlags()
	sendLevel = "ERROR"
	sendMessage = "connection refused"
	sendCount = 3
	sendContext = "dial tcp 10.0.0.1:5432: connection refused"

	events, err := buildEvents()
	if err != nil {
		t.Fatalf("buildEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	e := events[0]
	if e.Signature.Level != "ERROR" || e.Signature.Message != "connection refused" {
		t.Errorf("signature = %+v", e.Signature)
	}
	if e.OccurrenceCount != 3 {
		t.Errorf("OccurrenceCount = %d, want 3", e.OccurrenceCount)
	}
	if e.SampleContext == "" {
		t.Error("SampleContext should be set")
	}
	// observed_at defaults to now
	observed, err := time.Parse(time.RFC3339, e.ObservedAt)
	if err != nil {
		t.Fatalf("ObservedAt %q is not RFC3339: %v", e.ObservedAt, err)
	}
	if time.Since(observed) > time.Minute {
		t.Errorf("ObservedAt %v should default to now", observed)
	}
}

func TestBuildEvents_ExplicitTimestamp(t *testing.T) {
	resetSendFlags()
	sendLevel = "WARNING"
	sendMessage = "disk usage above 90%"
	sendObservedAt = "2026-08-22T10:00:00Z"

	events, err := buildEvents()
	if err != nil {
		t.Fatalf("buildEvents: %v", err)
	}
	if events[0].ObservedAt != "2026-08-22T10:00:00Z" {
		t.Errorf("ObservedAt = %q", events[0].ObservedAt)
	}
}

func TestBuildEvents_MissingSignature(t *testing.T) {
	resetSendFlags()
	sendLevel = "ERROR"

	if _, err := buildEvents(); err == nil {
		t.Fatal("expected error when --message is missing")
	}
}

func TestBuildEvents_FromFile(t *testing.T) {
	resetSendFlags()

	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	content := `[
  {"signature": {"level": "ERROR", "message": "connection refused"},
   "occurrence_count": 3,
   "observed_at": "2026-08-22T10:00:00Z"},
  {"id": "run-42",
   "signature": {"level": "WARNING", "message": "slow query"},
   "occurrence_count": 1,
   "observed_at": "2026-08-22T10:00:00Z",
   "sample_context": "SELECT * FROM events"}
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write events file: %v", err)
	}
	sendFile = path

	events, err := buildEvents()
	if err != nil {
		t.Fatalf("buildEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].ID != "run-42" {
		t.Errorf("ID = %q, want run-42", events[1].ID)
	}
	if events[1].SampleContext != "SELECT * FROM events" {
		t.Errorf("SampleContext = %q", events[1].SampleContext)
	}
}

func TestBuildEvents_EmptyFile(t *testing.T) {
	resetSendFlags()

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(path, []byte("[]"), 0o600); err != nil {
		t.Fatalf("write events file: %v", err)
	}
	sendFile = path

	if _, err := buildEvents(); err == nil {
		t.Fatal("expected error for empty events file")
	}
}

func TestBuildEvents_MissingFile(t *testing.T) {
	resetSendFlags()
	sendFile = "/nonexistent/events.json"

	if _, err := buildEvents(); err == nil {
		t.Fatal("expected error for missing events file")
	}
}
