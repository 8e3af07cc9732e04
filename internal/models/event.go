// Package models contains the core data structures for emberwatch.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level represents the severity level of an error signature.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelFatal    Level = "FATAL"
	LevelError    Level = "ERROR"
	LevelWarning  Level = "WARNING"
	LevelInfo     Level = "INFO"
	LevelService  Level = "SERVICE"
	LevelDebug    Level = "DEBUG"
	LevelTrace    Level = "TRACE"
)

// Levels lists every valid level, most severe first.
var Levels = []Level{
	LevelCritical,
	LevelFatal,
	LevelError,
	LevelWarning,
	LevelInfo,
	LevelService,
	LevelDebug,
	LevelTrace,
}

// Valid reports whether the level is one of the known severities.
func (l Level) Valid() bool {
	switch l {
	case LevelCritical, LevelFatal, LevelError, LevelWarning,
		LevelInfo, LevelService, LevelDebug, LevelTrace:
		return true
	}
	return false
}

// ParseLevel converts a string to a Level. Matching is case-insensitive;
// unknown values are an error because a producer sending them is broken.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: unknown level %q", ErrInvalidEvent, s)
	}
	return l, nil
}

// Signature identifies an error pattern: a severity level plus the message
// text used verbatim. Two clusters with the same level and message are the
// same signature no matter which producer emitted them.
type Signature struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// String renders the canonical "LEVEL: message" form used in query responses
// and notification payloads.
func (s Signature) String() string {
	return string(s.Level) + ": " + s.Message
}

// Key returns the stable storage key for the signature. The key depends only
// on level and message, so every producer derives the same key for the same
// pair regardless of field order or transport.
func (s Signature) Key() string {
	sum := sha256.Sum256([]byte(string(s.Level) + "\n" + s.Message))
	return hex.EncodeToString(sum[:])
}

// Validate checks that the signature names a known level and a non-empty message.
func (s Signature) Validate() error {
	if !s.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidEvent, string(s.Level))
	}
	if s.Message == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidEvent)
	}
	return nil
}

// ClusterEvent is one analysis run's observation of a signature: how many
// times it occurred in that run's batch and when. A single run emits each
// signature at most once.
type ClusterEvent struct {
	ID              string    `json:"id,omitempty"`
	Signature       Signature `json:"signature"`
	OccurrenceCount int64     `json:"occurrence_count"`
	ObservedAt      time.Time `json:"observed_at"`
	SampleContext   string    `json:"sample_context,omitempty"`
}

// Validate rejects events a correct producer can never emit. A zero
// occurrence count is a producer bug, not an empty observation.
func (e *ClusterEvent) Validate() error {
	if err := e.Signature.Validate(); err != nil {
		return err
	}
	if e.OccurrenceCount <= 0 {
		return fmt.Errorf("%w: occurrence_count must be positive, got %d", ErrInvalidEvent, e.OccurrenceCount)
	}
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("%w: observed_at is required", ErrInvalidEvent)
	}
	return nil
}

// BucketStart returns the start of the hourly bucket the event's counts
// belong to, independent of arrival order.
func (e *ClusterEvent) BucketStart() time.Time {
	return e.ObservedAt.UTC().Truncate(time.Hour)
}

// JSON returns the event as JSON bytes.
func (e *ClusterEvent) JSON() ([]byte, error) {
	return json.Marshal(e)
}
