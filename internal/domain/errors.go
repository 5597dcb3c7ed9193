package domain

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is reported by key/value backends when a key is absent.
var ErrKeyNotFound = errors.New("key not found")

// PollError wraps a transport or parse failure from a poller. It is
// transient: the loop keeps the last known state and retries next cycle.
type PollError struct {
	Group  string
	Source string // "confirmed" or "pending"
	Err    error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s for %q: %v", e.Source, e.Group, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// MalformedRecordError marks a single record that failed shape validation.
// Such a record is dropped; the rest of its batch is still ingested.
type MalformedRecordError struct {
	ID     string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.ID == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record %s: %s", e.ID, e.Reason)
}

// PersistenceError describes a failed read or write against durable storage.
// It never leaves the persistence adapter.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
