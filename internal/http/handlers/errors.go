// Package handlers defines HTTP-layer error codes used across all API
// endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes provide
// clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly
//     noted.
//   - Generic codes (e.g., bad_request, forbidden, conflict) mirror common
//     HTTP status semantics to aid interoperability.
//   - Domain-specific codes (no_tokens_waiting, invalid_transition, …) are
//     reserved for queue outcomes that cannot be conveyed by status alone.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeNoTokensWaiting   = "no_tokens_waiting"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeTokenIDTaken      = "token_id_taken"
	ErrCodeContention        = "queue_contention"
	ErrCodeIssueFailed       = "issue_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)
