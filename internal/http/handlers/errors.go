// Package handlers defines the error codes returned in the error envelope.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeUnknownGroup    = "unknown_group"
	ErrCodeInvalidRecord   = "invalid_record"
	ErrCodeInvalidState    = "invalid_state"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeUnavailable     = "unavailable"
)
