// Package services – lifecycle event emission
//
// Every lifecycle transition ends with an explicit event emission step. The
// core only calls the Publisher contract; delivery (websocket fan-out,
// message broker, or plain logs) is a collaborator concern and lives outside
// this module.
package services

import (
	"context"

	"github.com/rs/zerolog"
)

// Event names emitted by the services layer.
const (
	EventTokenCreated = "token_created"
	EventTokenUpdated = "token_updated"
	EventQueueCleared = "queue_cleared"
	EventQRScanned    = "qr_scanned"
)

// Event describes an observable state change. It carries enough for a UI to
// refresh a queue display without a follow-up read.
type Event struct {
	Name          string `json:"event"`
	TokenID       string `json:"token_id,omitempty"`
	CategoryID    string `json:"category_id,omitempty"`
	Status        string `json:"status,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// Publisher delivers lifecycle events to interested collaborators.
// Implementations must be safe for concurrent use and must not block the
// calling operation; slow deliveries should buffer or drop.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// LogPublisher writes events to the structured log. It is the default
// delivery when no transport-level publisher is wired.
type LogPublisher struct {
	Log zerolog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, ev Event) {
	p.Log.Info().
		Str("event", ev.Name).
		Str("token_id", ev.TokenID).
		Str("category_id", ev.CategoryID).
		Str("status", ev.Status).
		Int("queue_position", ev.QueuePosition).
		Msg("queue event")
}

// NopPublisher discards events; useful in tests.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) {}
