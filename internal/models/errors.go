package models

import "errors"

// Error taxonomy for the processing pipeline. Callers classify failures with
// errors.Is and pick retry or surface behavior from the class, never from
// message text.
var (
	// ErrInvalidEvent marks malformed producer input. Rejected outright,
	// never persisted, never retried.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrStoreUnavailable marks a transient store failure. Retried with
	// backoff; exhaustion surfaces the event for upstream redelivery.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreConflict marks a concurrent-write race on a single record.
	// The read-merge-write cycle is retried transparently with bounded
	// attempts, then escalated as ErrStoreUnavailable.
	ErrStoreConflict = errors.New("store conflict")

	// ErrPublishFailure marks a decision that could not be delivered after
	// send retries. Surfaced as undelivered, never silently dropped.
	ErrPublishFailure = errors.New("publish failure")

	// ErrNotFound marks a signature with no history record.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEvent marks an event already processed within the dedup
	// window.
	ErrDuplicateEvent = errors.New("duplicate event")
)
