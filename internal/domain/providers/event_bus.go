package providers

import (
	"context"

	"github.com/visitscribe/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.VisitEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.VisitEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for different event types
const (
	// EventChannelVisitUpdates is the channel for all visit pipeline updates
	EventChannelVisitUpdates = "visit:updates"

	// EventChannelVisitCompleted carries completed visits for the
	// post-commit orchestrator
	EventChannelVisitCompleted = "visit:completed"

	// EventChannelVisitPrefix is the prefix for visit-specific channels
	EventChannelVisitPrefix = "visit:"
)

// GetVisitChannel returns the channel name for a specific visit
func GetVisitChannel(visitID string) string {
	return EventChannelVisitPrefix + visitID
}
