// Package services defines the business logic for the token queue: issuance,
// queue ordering, lifecycle transitions, and QR verification. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrCategoryNotFound indicates that the referenced category does not
	// exist.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrTokenNotFound indicates that the requested token does not exist.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenIDTaken is returned when a manual code collides with an
	// existing token id, generated or manual.
	ErrTokenIDTaken = errors.New("token id already in use")

	// ErrInvalidTokenID is returned when a manual code is empty or
	// malformed.
	ErrInvalidTokenID = errors.New("invalid token id")

	// ErrInvalidCategory is returned when an operation is requested without
	// a usable category reference.
	ErrInvalidCategory = errors.New("category is required")

	// ErrNoTokensWaiting signals that call-next or resume found nobody in
	// the waiting state for the category. It is an expected outcome, not a
	// defect.
	ErrNoTokensWaiting = errors.New("no tokens waiting")

	// ErrInvalidTransition is returned when a lifecycle edge is not allowed
	// (e.g. completing an already-completed token). It is surfaced as a
	// no-op-with-explanation, never silently swallowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCalledSlotBusy is returned when a transition to called would place
	// a second token in the category's single-occupancy called slot.
	ErrCalledSlotBusy = errors.New("another token is already called")

	// ErrInvalidAction is returned for an unknown emergency action.
	ErrInvalidAction = errors.New("invalid emergency action")

	// ErrContention is returned when a category lock cannot be acquired
	// promptly. Callers may retry with backoff; the operation did not run.
	ErrContention = errors.New("queue contention, retry")

	// ErrForbidden is returned when the authorizer rejects the acting
	// identity for the requested operation.
	ErrForbidden = errors.New("operation not permitted")
)
