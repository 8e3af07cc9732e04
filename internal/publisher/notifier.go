// Package publisher hands positive alert decisions to downstream sinks
// exactly once. The publish-dedup ledger gates publication; the dispatcher
// fans a claimed alert out to every registered notifier.
package publisher

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/emberwatch/emberwatch/internal/models"
)

// Notifier is the interface for a single delivery channel.
type Notifier interface {
	// Name returns the notifier name (e.g., "webhook", "log").
	Name() string
	// Send delivers one published alert.
	Send(ctx context.Context, alert *models.PublishedAlert) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a delivery is denied by the rate limiter.
var ErrRateLimited = fmt.Errorf("alert delivery rate limited")

// Dispatcher fans alerts out to the registered notifiers under a shared
// rate limit. Registration and dispatch are safe for concurrent use.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit
// configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch sends an alert to every registered notifier. It consumes one rate
// limit token per call and refunds it when nothing actually went out, so a
// dead sink does not also burn the delivery window. Returns ErrRateLimited
// when the token is denied, or an aggregate error when one or more sends
// failed.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.PublishedAlert) error {
	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		return ErrRateLimited
	}

	d.mu.RLock()
	notifiers := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		notifiers = append(notifiers, n)
	}
	d.mu.RUnlock()

	if len(notifiers) == 0 {
		if d.rateLimiter != nil {
			d.rateLimiter.Release()
		}
		return nil
	}

	var errs []error
	for _, n := range notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[publisher] %s send failed: %v", n.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}

	if len(errs) == len(notifiers) && d.rateLimiter != nil {
		// Every sink failed; hand the token back.
		d.rateLimiter.Release()
	}

	if len(errs) > 0 {
		return fmt.Errorf("delivery errors: %v", errs)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
