package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// StepTrace is a step's state rebuilt from the event log.
type StepTrace struct {
	StepID      string          `json:"step_id"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// ExecutionTrace is a run rebuilt from the event log.
type ExecutionTrace struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	StepOrder   []string               `json:"step_order"`
	Steps       map[string]*StepTrace  `json:"steps"`
	Events      int                    `json:"events"`
}

// Step trace statuses.
const (
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// EventLog provides history reconstruction on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// Append appends an event with the next per-execution sequence number.
func (el *EventLog) Append(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// Replay rebuilds a run from its events. A gap in the sequence is a STORE_ERROR.
func (el *EventLog) Replay(ctx context.Context, executionID string) (*ExecutionTrace, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storeNotFound("execution history", executionID)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
	}

	trace := &ExecutionTrace{
		ExecutionID: executionID,
		WorkflowID:  events[0].WorkflowID,
		Status:      schema.ExecutionPending,
		Steps:       make(map[string]*StepTrace),
		Events:      len(events),
	}

	for _, e := range events {
		ts := e.Timestamp
		switch e.Type {
		case schema.HistoryWorkflowStarted:
			trace.Status = schema.ExecutionRunning
			continue
		case schema.HistoryWorkflowCompleted:
			trace.Status = schema.ExecutionCompleted
			continue
		case schema.HistoryWorkflowError:
			trace.Status = schema.ExecutionFailed
			continue
		}
		if e.StepID == "" {
			continue
		}

		st, ok := trace.Steps[e.StepID]
		if !ok {
			st = &StepTrace{StepID: e.StepID}
			trace.Steps[e.StepID] = st
			trace.StepOrder = append(trace.StepOrder, e.StepID)
		}

		switch e.Type {
		case schema.HistoryStepStarted:
			st.Status = StepRunning
			st.StartedAt = &ts
		case schema.HistoryStepCompleted:
			st.Status = StepCompleted
			st.CompletedAt = &ts
			st.Output = e.Payload
			if st.StartedAt != nil {
				st.DurationMs = ts.Sub(*st.StartedAt).Milliseconds()
			}
		case schema.HistoryStepError:
			st.Status = StepFailed
			st.CompletedAt = &ts
			st.Error = e.Payload
		}
	}
	return trace, nil
}
