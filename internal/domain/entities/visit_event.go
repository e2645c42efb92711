package entities

import (
	"time"
)

// VisitEventType identifies pipeline events published on the event bus
type VisitEventType string

const (
	VisitEventStatusChanged VisitEventType = "visit.status_changed"
	VisitEventCompleted     VisitEventType = "visit.completed"
	VisitEventFailed        VisitEventType = "visit.failed"
)

// VisitEvent is broadcast whenever the pipeline changes a visit's state.
// The worker uses visit.completed to start post-commit operations promptly;
// the periodic due scan covers lost messages.
type VisitEvent struct {
	ID               string           `json:"id"`
	Type             VisitEventType   `json:"type"`
	VisitID          string           `json:"visit_id"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Status           VisitStatus      `json:"status"`
	Timestamp        time.Time        `json:"timestamp"`
}
