package backoff

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Duration(t *testing.T) {
	b := Backoff{
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 2 * time.Second}, // capped
		{-1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := b.Duration(tt.attempt); got != tt.expected {
			t.Errorf("Duration(%d): expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{
		Initial:    1 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}

	for i := 0; i < 50; i++ {
		d := b.Duration(0)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 1s", d)
		}
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep did not return promptly on cancel: %v", elapsed)
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
