// Package services holds the application layer between the HTTP handlers
// and the reconciliation loop. This file centralizes the service-level error
// values so handlers can map them to stable HTTP codes.
package services

import "errors"

var (
	// ErrUnknownGroup indicates the group is not tracked by this process.
	ErrUnknownGroup = errors.New("group not tracked")

	// ErrInvalidRecord is returned when a submitted record fails validation.
	// The concrete reason is wrapped.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrPayloadTooLarge is returned when a submitted payload exceeds the
	// configured byte limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnavailable is returned once the loop has been stopped.
	ErrUnavailable = errors.New("reconciliation stopped")
)
