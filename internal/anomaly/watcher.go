package anomaly

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher hot-reloads a filter's policy when its YAML file changes.
// The watcher observes the containing directory rather than the file itself,
// so editors and config managers that replace the file via rename still
// trigger a reload. A policy that fails to parse or validate is rejected
// with a log line and the previous policy stays active.
type PolicyWatcher struct {
	path    string
	filter  *Filter
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPolicyWatcher creates a watcher for the given policy file.
func NewPolicyWatcher(path string, filter *Filter) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &PolicyWatcher{
		path:    path,
		filter:  filter,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. The initial load must have happened already; Start
// only reacts to subsequent changes.
func (w *PolicyWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go w.run(ctx)
	return nil
}

func (w *PolicyWatcher) run(ctx context.Context) {
	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[policy] watcher error: %v", err)
		}
	}
}

func (w *PolicyWatcher) reload() {
	policy, err := LoadPolicyFromFile(w.path)
	if err != nil {
		log.Printf("[policy] reload rejected, keeping previous policy: %v", err)
		return
	}
	if err := w.filter.ReloadPolicy(policy); err != nil {
		log.Printf("[policy] reload rejected, keeping previous policy: %v", err)
		return
	}
	log.Printf("[policy] reloaded from %s (spike_factor=%.1f min_threshold=%d mute_rules=%d)",
		w.path, policy.SpikeFactor, policy.AbsoluteMinThreshold, len(policy.MuteRules))
}

// Close stops the watcher.
func (w *PolicyWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return w.watcher.Close()
}
