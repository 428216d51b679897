// Package services – capability checks
//
// Role and permission decisions are consulted exactly once per operation
// through the Authorizer contract, keeping the lifecycle engine itself free
// of per-request permission branching.
package services

import "context"

// Action identifies a guarded operation.
type Action string

// Guarded operations.
const (
	ActionIssue            Action = "issue"
	ActionManualEntry      Action = "manual_entry"
	ActionCallNext         Action = "call_next"
	ActionComplete         Action = "complete"
	ActionEmergency        Action = "emergency"
	ActionScan             Action = "scan"
	ActionManageCategories Action = "manage_categories"
)

// Authorizer decides whether an actor may perform an action, optionally
// scoped to one category (empty categoryID means global scope). A nil error
// grants; ErrForbidden (or a wrapped variant) denies.
type Authorizer interface {
	Allow(ctx context.Context, actor string, action Action, categoryID string) error
}

// AllowAll grants every request. It is the default in this core; deployments
// with staff accounts install their own Authorizer at wiring time.
type AllowAll struct{}

// Allow implements Authorizer.
func (AllowAll) Allow(context.Context, string, Action, string) error { return nil }
