package streaming

import (
	"context"
	"time"
)

// StreamEvent is a domain event published during workflow execution.
type StreamEvent struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	StepID      string         `json:"step_id,omitempty"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID  string   `json:"workflow_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for workflow events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// Emitter publishes named events. It matches engine.EventEmitter.
type Emitter interface {
	Emit(ctx context.Context, event string, payload map[string]any)
}

// Tee fans an event out to every emitter in order.
type Tee []Emitter

func (t Tee) Emit(ctx context.Context, event string, payload map[string]any) {
	for _, e := range t {
		if e != nil {
			e.Emit(ctx, event, payload)
		}
	}
}
