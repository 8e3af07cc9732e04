package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/emberwatch/emberwatch/internal/anomaly"
	"github.com/emberwatch/emberwatch/internal/api/auth"
	"github.com/emberwatch/emberwatch/internal/pipeline"
	"github.com/emberwatch/emberwatch/internal/publisher"
	"github.com/emberwatch/emberwatch/internal/storage"
)

// testServer creates a server over a temp SQLite store and a real, idle
// pipeline. No workers run; events posted in tests stay queued.
func testServer(t *testing.T) (*Server, storage.Storage, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "emberwatch-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	tmpFile.Close()

	store := storage.NewSQLiteStorage(tmpFile.Name())
	if err := store.Open(); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.Remove(tmpFile.Name())
		t.Fatalf("migrate storage: %v", err)
	}

	queue := pipeline.NewQueue(pipeline.DefaultQueueConfig())
	filter := anomaly.NewFilter(store.Signatures(), nil, nil)
	pub := publisher.NewPublisher(store.Alerts(), publisher.NewDispatcher(), nil)

	cfg := &Config{
		Address:     ":0",
		JWTSecret:   []byte("test-jwt-secret-32-bytes-long!!"),
		IngestRate:  1000,
		IngestBurst: 1000,
		QueryRate:   1000,
		QueryBurst:  1000,
		Verbose:     false,
	}

	srv, err := New(cfg, store, nil, &Pipeline{Queue: queue, Filter: filter, Publisher: pub})
	if err != nil {
		store.Close()
		os.Remove(tmpFile.Name())
		t.Fatalf("create server: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(tmpFile.Name())
	}

	return srv, store, cleanup
}

// mintToken issues a bearer token with the given scopes against the test
// server's secret.
func mintToken(t testing.TB, srv *Server, name string, scopes []string) string {
	t.Helper()

	tokens := auth.NewTokenService(srv.config.JWTSecret, 0)
	token, err := tokens.Generate(name, scopes, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestLivenessAndReadiness(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d; body: %s", path, rec.Code, http.StatusOK, rec.Body.String())
		}
	}
}

func TestNotFound_JSONBody(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/v1/nope", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND error body, got %+v", resp.Error)
	}
}

func TestProtectedEndpoint_NoToken(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/v1/history?level=ERROR&message=x", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestProtectedEndpoint_WrongScope(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	// An ingest-only token must not read history, and a read-only token
	// must not post events.
	ingestToken := mintToken(t, srv, "producer", []string{auth.ScopeIngest})
	readToken := mintToken(t, srv, "dashboard", []string{auth.ScopeRead})

	req := httptest.NewRequest("GET", "/api/v1/history?level=ERROR&message=x", nil)
	req.Header.Set("Authorization", "Bearer "+ingestToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("read with ingest scope: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	body := `{"events": [{"signature": {"level": "ERROR", "message": "x"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}]}`
	req = httptest.NewRequest("POST", "/api/v1/events", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("ingest with read scope: status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestIngestAndStats(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	ingestToken := mintToken(t, srv, "producer", []string{auth.ScopeIngest})
	readToken := mintToken(t, srv, "dashboard", []string{auth.ScopeRead})

	body := `{"events": [
		{"signature": {"level": "ERROR", "message": "disk full"}, "occurrence_count": 3, "observed_at": "2025-06-01T12:00:00Z"},
		{"signature": {"level": "WARNING", "message": "slow query"}, "occurrence_count": 1, "observed_at": "2025-06-01T12:00:00Z"}
	]}`
	req := httptest.NewRequest("POST", "/api/v1/events", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+ingestToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("ingest: status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var ingestResp struct {
		Data struct {
			Accepted int `json:"accepted"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&ingestResp); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}
	if ingestResp.Data.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", ingestResp.Data.Accepted)
	}

	// No workers are draining the queue, so the two events show up as
	// queue depth in stats.
	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var statsResp struct {
		Data struct {
			Pipeline struct {
				Queue struct {
					Depth    int   `json:"depth"`
					Enqueued int64 `json:"enqueued"`
				} `json:"queue"`
			} `json:"pipeline"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&statsResp); err != nil {
		t.Fatalf("decode stats response: %v", err)
	}
	if statsResp.Data.Pipeline.Queue.Enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", statsResp.Data.Pipeline.Queue.Enqueued)
	}
	if statsResp.Data.Pipeline.Queue.Depth != 2 {
		t.Errorf("depth = %d, want 2", statsResp.Data.Pipeline.Queue.Depth)
	}
}

func TestHistoryQuery_EmptyStore(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	readToken := mintToken(t, srv, "dashboard", []string{auth.ScopeRead})

	req := httptest.NewRequest("GET", "/api/v1/history?level=ERROR&message=never+seen&hours=24", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Signature       string `json:"signature"`
		LookbackHours   int    `json:"lookback_hours"`
		OccurrenceCount int64  `json:"occurrence_count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Signature != "ERROR: never seen" {
		t.Errorf("signature = %q, want %q", resp.Signature, "ERROR: never seen")
	}
	if resp.OccurrenceCount != 0 {
		t.Errorf("occurrence_count = %d, want 0", resp.OccurrenceCount)
	}
}

func TestSignaturesAndAlerts_Empty(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	readToken := mintToken(t, srv, "dashboard", []string{auth.ScopeRead})

	for _, path := range []string{"/api/v1/signatures", "/api/v1/alerts"} {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("Authorization", "Bearer "+readToken)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d; body: %s", path, rec.Code, http.StatusOK, rec.Body.String())
		}
	}
}

func TestSignatureEvents_NotMountedWithoutArchive(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	readToken := mintToken(t, srv, "dashboard", []string{auth.ScopeRead})

	req := httptest.NewRequest("GET", "/api/v1/signatures/abc123/events", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	readToken := mintToken(t, srv, "dashboard", []string{auth.ScopeRead})

	req := httptest.NewRequest("DELETE", "/api/v1/history", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotAllowed {
		t.Errorf("expected METHOD_NOT_ALLOWED error body, got %+v", resp.Error)
	}
}

func TestInvalidToken(t *testing.T) {
	srv, _, cleanup := testServer(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/v1/signatures", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
