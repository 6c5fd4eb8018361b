package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the application.
const (
	// EventTypeTaskPoll requests that polling be started for an upstream
	// generation task.
	EventTypeTaskPoll = "task_poll"
)

// TaskPollPayload is the payload carried by EventTypeTaskPoll events.
type TaskPollPayload struct {
	TaskID string `json:"task_id"`
}

// Event is a request for asynchronous work, published by the service layer
// without direct knowledge of who handles it.
type Event struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type identifies what kind of work is being requested.
	Type string `json:"type"`

	// Payload contains the event-specific data serialized as JSON.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates an Event of the given type with the payload serialized
// to JSON.
func NewEvent(eventType string, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of
// handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
