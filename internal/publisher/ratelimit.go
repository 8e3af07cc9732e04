package publisher

import (
	"sync"
	"time"
)

// RateLimiter bounds alert deliveries with a sliding window. It exists so a
// misbehaving producer flooding the pipeline with distinct signatures cannot
// turn the webhook channel into a second incident.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	sent    []time.Time
	dropped int64
	enabled bool
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           // Maximum deliveries per window (default: 10)
	Window       time.Duration // Time window (default: 1 minute)
	Enabled      bool          // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &RateLimiter{
		limit:   config.MaxPerWindow,
		window:  config.Window,
		sent:    make([]time.Time, 0, config.MaxPerWindow),
		enabled: config.Enabled,
	}
}

// Allow consumes one delivery token. It returns false when the window is
// already full; the caller counts that as a dropped delivery.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.expire(now.Add(-r.window))

	if len(r.sent) >= r.limit {
		r.dropped++
		return false
	}

	r.sent = append(r.sent, now)
	return true
}

// Release refunds the most recently consumed token. Call it when a delivery
// failed entirely after Allow() returned true, so a dead webhook does not
// also eat the window.
func (r *RateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sent) > 0 {
		r.sent = r.sent[:len(r.sent)-1]
	}
}

// expire drops send timestamps older than the cutoff. Must be called with
// the mutex held.
func (r *RateLimiter) expire(cutoff time.Time) {
	idx := 0
	for idx < len(r.sent) && r.sent[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(r.sent, r.sent[idx:])
		r.sent = r.sent[:len(r.sent)-idx]
	}
}

// Dropped returns the number of deliveries denied by the limiter.
func (r *RateLimiter) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimitStats{
		Dropped:      r.dropped,
		CurrentCount: len(r.sent),
		MaxPerWindow: r.limit,
		Window:       r.window,
		Enabled:      r.enabled,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64         // Total deliveries denied
	CurrentCount int           // Tokens consumed in the current window
	MaxPerWindow int           // Maximum allowed per window
	Window       time.Duration // Window duration
	Enabled      bool          // Whether rate limiting is enabled
}

// Reset clears the rate limiter state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = r.sent[:0]
	r.dropped = 0
}
