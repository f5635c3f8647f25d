// Package pubsub provides a generic publish/subscribe event system used to
// fan out log entries and tree lifecycle changes to interested observers.
package pubsub

import "time"

// EventType classifies a published event.
type EventType string

const (
	CreatedEvent     EventType = "created"
	UpdatedEvent     EventType = "updated"
	DeletedEvent     EventType = "deleted"
	StateChangeEvent EventType = "state_change"
)

// Event carries a typed payload with the time it was published.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
