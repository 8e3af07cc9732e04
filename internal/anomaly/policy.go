// Package anomaly implements the stateful anomaly filter: given a cluster
// event and the signature's own history, decide whether the pattern is worth
// alerting a human.
package anomaly

import (
	"fmt"
	"time"

	"github.com/emberwatch/emberwatch/internal/models"
)

// Default policy knobs. These are starting points, not constants; every one
// is tunable through the policy file.
const (
	DefaultSpikeFactor          = 3.0
	DefaultAbsoluteMinThreshold = 10
	DefaultRepeatThreshold      = 5
	DefaultRecurringWindowHours = 24
	DefaultRetentionHours       = 48
	DefaultDedupWindowHours     = 1
)

// Policy holds the tunable decision thresholds plus the operator mute rules.
// A Policy is immutable once validated; reloads swap the whole value.
type Policy struct {
	// SpikeFactor is the multiplier over a signature's baseline rate that
	// turns a count into a RATE_SPIKE.
	SpikeFactor float64 `yaml:"spike_factor"`

	// AbsoluteMinThreshold is the raw per-event count that alerts even
	// with no established baseline.
	AbsoluteMinThreshold int64 `yaml:"absolute_min_threshold"`

	// RepeatThreshold is the lower count floor for RECURRING alerts on
	// signatures that alerted recently.
	RepeatThreshold int64 `yaml:"repeat_threshold"`

	// RecurringWindowHours bounds how recent the previous alert must be
	// for RECURRING to apply.
	RecurringWindowHours int `yaml:"recurring_window_hours"`

	// RetentionHours is the bucket window horizon kept per signature.
	RetentionHours int `yaml:"retention_hours"`

	// DedupWindowHours bounds how long processed-event and published-alert
	// ledger entries live.
	DedupWindowHours int `yaml:"dedup_window_hours"`

	// MuteRules suppress publishing for matching decisions while history
	// still accumulates.
	MuteRules []*MuteRule `yaml:"mute_rules,omitempty"`
}

// DefaultPolicy returns a Policy with the default knobs and no mute rules.
func DefaultPolicy() *Policy {
	return &Policy{
		SpikeFactor:          DefaultSpikeFactor,
		AbsoluteMinThreshold: DefaultAbsoluteMinThreshold,
		RepeatThreshold:      DefaultRepeatThreshold,
		RecurringWindowHours: DefaultRecurringWindowHours,
		RetentionHours:       DefaultRetentionHours,
		DedupWindowHours:     DefaultDedupWindowHours,
	}
}

// applyDefaults fills zero-valued knobs so a sparse policy file only has to
// name what it changes.
func (p *Policy) applyDefaults() {
	if p.SpikeFactor == 0 {
		p.SpikeFactor = DefaultSpikeFactor
	}
	if p.AbsoluteMinThreshold == 0 {
		p.AbsoluteMinThreshold = DefaultAbsoluteMinThreshold
	}
	if p.RepeatThreshold == 0 {
		p.RepeatThreshold = DefaultRepeatThreshold
	}
	if p.RecurringWindowHours == 0 {
		p.RecurringWindowHours = DefaultRecurringWindowHours
	}
	if p.RetentionHours == 0 {
		p.RetentionHours = DefaultRetentionHours
	}
	if p.DedupWindowHours == 0 {
		p.DedupWindowHours = DefaultDedupWindowHours
	}
}

// Validate checks the knobs and compiles every mute rule.
func (p *Policy) Validate() error {
	if p.SpikeFactor <= 1 {
		return fmt.Errorf("spike_factor must be greater than 1, got %v", p.SpikeFactor)
	}
	if p.AbsoluteMinThreshold < 1 {
		return fmt.Errorf("absolute_min_threshold must be at least 1, got %d", p.AbsoluteMinThreshold)
	}
	if p.RepeatThreshold < 1 {
		return fmt.Errorf("repeat_threshold must be at least 1, got %d", p.RepeatThreshold)
	}
	if p.RecurringWindowHours < 1 {
		return fmt.Errorf("recurring_window_hours must be at least 1, got %d", p.RecurringWindowHours)
	}
	if p.RetentionHours < 2 {
		return fmt.Errorf("retention_hours must be at least 2, got %d", p.RetentionHours)
	}
	if p.DedupWindowHours < 1 {
		return fmt.Errorf("dedup_window_hours must be at least 1, got %d", p.DedupWindowHours)
	}
	for i, rule := range p.MuteRules {
		if err := rule.Compile(); err != nil {
			return fmt.Errorf("invalid mute rule at index %d: %w", i, err)
		}
	}
	return nil
}

// RecurringWindow returns the RECURRING recency bound as a duration.
func (p *Policy) RecurringWindow() time.Duration {
	return time.Duration(p.RecurringWindowHours) * time.Hour
}

// Retention returns the bucket window horizon as a duration.
func (p *Policy) Retention() time.Duration {
	return time.Duration(p.RetentionHours) * time.Hour
}

// DedupWindow returns the ledger entry lifetime as a duration.
func (p *Policy) DedupWindow() time.Duration {
	return time.Duration(p.DedupWindowHours) * time.Hour
}

// Classify applies the decision rules in priority order and returns the
// verdict with the first matching reason. prev is the record as it stood
// before this event (nil on first sighting); merged is the record with the
// event's counts already folded in, whose BaselineRate excludes the event's
// own bucket.
func (p *Policy) Classify(prev, merged *models.HistoryRecord, event *models.ClusterEvent) (bool, models.DecisionReason) {
	// Rule 1: a brand-new signature is always notable.
	if prev == nil {
		return true, models.ReasonNewSignature
	}

	// Rule 2: count spiking above the signature's own baseline. A baseline
	// built from fewer than two historical buckets is too noisy to trust.
	historical := len(merged.Buckets) - 1
	if historical >= 2 && merged.BaselineRate > 0 &&
		float64(event.OccurrenceCount) > merged.BaselineRate*p.SpikeFactor {
		return true, models.ReasonRateSpike
	}

	// Rule 3: raw volume floor, so a slow-building baseline can never mask
	// a real burst.
	if event.OccurrenceCount >= p.AbsoluteMinThreshold {
		return true, models.ReasonVolumeThreshold
	}

	// Rule 4: an ongoing issue that alerted recently and keeps repeating.
	if prev.LastAlertAt != nil &&
		!prev.LastAlertAt.Before(event.ObservedAt.Add(-p.RecurringWindow())) &&
		event.OccurrenceCount >= p.RepeatThreshold {
		return true, models.ReasonRecurring
	}

	return false, ""
}

// Mute evaluates the mute rules against a decision and returns the name of
// the first matching rule. Rules that fail at evaluation time are skipped;
// a broken mute rule must never swallow an alert.
func (p *Policy) Mute(decision *models.AlertDecision) (string, bool) {
	for _, rule := range p.MuteRules {
		matched, err := rule.Matches(decision)
		if err != nil {
			continue
		}
		if matched {
			return rule.Name, true
		}
	}
	return "", false
}
