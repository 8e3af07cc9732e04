package publisher

import (
	"testing"
	"time"
)

func TestRateLimiterBasic(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 3,
		Window:       time.Second,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	// First 3 should be allowed
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Errorf("delivery %d should be allowed", i+1)
		}
	}

	// 4th should be denied
	if rl.Allow() {
		t.Error("4th delivery should be denied")
	}

	if dropped := rl.Dropped(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 2,
		Window:       100 * time.Millisecond,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	rl.Allow()
	rl.Allow()

	if rl.Allow() {
		t.Error("should be denied before window expires")
	}

	time.Sleep(150 * time.Millisecond)

	if !rl.Allow() {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Second,
		Enabled:      false,
	}
	rl := NewRateLimiter(config)

	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Errorf("delivery %d should be allowed when disabled", i+1)
		}
	}

	if dropped := rl.Dropped(); dropped != 0 {
		t.Errorf("dropped = %d, want 0 when disabled", dropped)
	}
}

func TestRateLimiterRelease(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 3,
		Window:       time.Minute,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	rl.Allow()
	rl.Allow()

	stats := rl.Stats()
	if stats.CurrentCount != 2 {
		t.Errorf("current count = %d, want 2", stats.CurrentCount)
	}

	rl.Release()

	stats = rl.Stats()
	if stats.CurrentCount != 1 {
		t.Errorf("current count after release = %d, want 1", stats.CurrentCount)
	}

	// One token held, two free again
	if !rl.Allow() {
		t.Error("should allow after release")
	}
	if !rl.Allow() {
		t.Error("should allow 2nd after release")
	}
	if rl.Allow() {
		t.Error("should deny when at max")
	}
}

func TestRateLimiterReleaseEmpty(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimitConfig())

	// Release on empty should not panic
	rl.Release()

	if stats := rl.Stats(); stats.CurrentCount != 0 {
		t.Errorf("current count = %d, want 0", stats.CurrentCount)
	}
}

func TestRateLimiterStats(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 5,
		Window:       time.Minute,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	rl.Allow()
	rl.Allow()
	rl.Allow()

	stats := rl.Stats()
	if stats.CurrentCount != 3 {
		t.Errorf("current count = %d, want 3", stats.CurrentCount)
	}
	if stats.MaxPerWindow != 5 {
		t.Errorf("max per window = %d, want 5", stats.MaxPerWindow)
	}
	if stats.Window != time.Minute {
		t.Errorf("window = %v, want 1m", stats.Window)
	}
	if !stats.Enabled {
		t.Error("should be enabled")
	}
}

func TestRateLimiterReset(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 2,
		Window:       time.Minute,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	rl.Allow()
	rl.Allow()
	rl.Allow() // dropped

	if dropped := rl.Dropped(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	rl.Reset()

	stats := rl.Stats()
	if stats.CurrentCount != 0 {
		t.Errorf("current count after reset = %d, want 0", stats.CurrentCount)
	}
	if stats.Dropped != 0 {
		t.Errorf("dropped after reset = %d, want 0", stats.Dropped)
	}

	if !rl.Allow() {
		t.Error("should allow after reset")
	}
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true})

	stats := rl.Stats()
	if stats.MaxPerWindow != 10 {
		t.Errorf("should default to 10, got %d", stats.MaxPerWindow)
	}
	if stats.Window != time.Minute {
		t.Errorf("should default to 1m, got %v", stats.Window)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 3,
		Window:       200 * time.Millisecond,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	rl.Allow()
	rl.Allow()

	time.Sleep(100 * time.Millisecond)

	if !rl.Allow() {
		t.Error("3rd delivery should be allowed")
	}
	if rl.Allow() {
		t.Error("4th delivery should be denied")
	}

	// First two timestamps age out
	time.Sleep(100 * time.Millisecond)

	if !rl.Allow() {
		t.Error("should allow after partial expiry")
	}
	if !rl.Allow() {
		t.Error("should allow 2nd after partial expiry")
	}
}

func TestRateLimiterConcurrentAccess(t *testing.T) {
	config := RateLimitConfig{
		MaxPerWindow: 100,
		Window:       time.Second,
		Enabled:      true,
	}
	rl := NewRateLimiter(config)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				rl.Allow()
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	stats := rl.Stats()
	if total := int64(stats.CurrentCount) + stats.Dropped; total != 200 {
		t.Errorf("total processed = %d, want 200", total)
	}
	if stats.CurrentCount != 100 {
		t.Errorf("current count = %d, want 100", stats.CurrentCount)
	}
	if stats.Dropped != 100 {
		t.Errorf("dropped = %d, want 100", stats.Dropped)
	}
}
