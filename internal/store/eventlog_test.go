package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

func appendAll(t *testing.T, s *LibSQLStore, events ...*Event) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, s.AppendEvent(context.Background(), e))
	}
}

func TestAppendEventSequencesPerExecution(t *testing.T) {
	s := newTestStore(t)

	e1 := &Event{ExecutionID: "x1", WorkflowID: "wf", Type: schema.HistoryWorkflowStarted}
	e2 := &Event{ExecutionID: "x1", WorkflowID: "wf", Type: schema.HistoryStepStarted, StepID: "a"}
	other := &Event{ExecutionID: "x2", WorkflowID: "wf", Type: schema.HistoryWorkflowStarted}
	appendAll(t, s, e1, e2, other)

	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(2), e2.Sequence)
	assert.Equal(t, int64(1), other.Sequence)
	assert.False(t, e1.Timestamp.IsZero())

	events, err := s.GetEvents(context.Background(), "x1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].StepID)
}

func TestAppendEventRequiresExecution(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent(context.Background(), &Event{Type: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAppendEventConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AppendEvent(ctx, &Event{ExecutionID: "x", WorkflowID: "wf", Type: schema.HistoryStepStarted, StepID: "a"})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := s.GetEvents(ctx, "x", 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestListEventsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	appendAll(t, s,
		&Event{ExecutionID: "x1", WorkflowID: "wf-1", Type: schema.HistoryWorkflowStarted, Timestamp: base},
		&Event{ExecutionID: "x1", WorkflowID: "wf-1", Type: schema.HistoryStepStarted, StepID: "a", Timestamp: base.Add(time.Second)},
		&Event{ExecutionID: "x2", WorkflowID: "wf-2", Type: schema.HistoryWorkflowStarted, Timestamp: base.Add(2 * time.Second)},
	)

	byWorkflow, err := s.ListEvents(ctx, EventFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	byType, err := s.ListEvents(ctx, EventFilter{EventType: schema.HistoryWorkflowStarted})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byStep, err := s.ListEvents(ctx, EventFilter{StepID: "a"})
	require.NoError(t, err)
	require.Len(t, byStep, 1)
	assert.Equal(t, "x1", byStep[0].ExecutionID)

	limited, err := s.ListEvents(ctx, EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, schema.HistoryWorkflowStarted, limited[0].Type)
}

func TestReplayRebuildsSteps(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for _, e := range []*Event{
		{Type: schema.HistoryWorkflowStarted, Timestamp: base},
		{Type: schema.HistoryStepStarted, StepID: "a", Timestamp: base},
		{Type: schema.HistoryStepCompleted, StepID: "a", Timestamp: base.Add(25 * time.Millisecond), Payload: json.RawMessage(`{"success":true}`)},
		{Type: schema.HistoryStepStarted, StepID: "b", Timestamp: base.Add(30 * time.Millisecond)},
		{Type: schema.HistoryStepError, StepID: "b", Timestamp: base.Add(40 * time.Millisecond), Payload: json.RawMessage(`{"error":"boom"}`)},
		{Type: schema.HistoryWorkflowError, Timestamp: base.Add(41 * time.Millisecond)},
	} {
		e.ExecutionID = "x1"
		e.WorkflowID = "wf"
		require.NoError(t, el.Append(ctx, e))
	}

	trace, err := el.Replay(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, "wf", trace.WorkflowID)
	assert.Equal(t, schema.ExecutionFailed, trace.Status)
	assert.Equal(t, []string{"a", "b"}, trace.StepOrder)
	assert.Equal(t, 6, trace.Events)

	a := trace.Steps["a"]
	assert.Equal(t, StepCompleted, a.Status)
	assert.Equal(t, int64(25), a.DurationMs)
	assert.JSONEq(t, `{"success":true}`, string(a.Output))

	b := trace.Steps["b"]
	assert.Equal(t, StepFailed, b.Status)
	assert.JSONEq(t, `{"error":"boom"}`, string(b.Error))
}

func TestReplayDetectsSequenceGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendAll(t, s,
		&Event{ExecutionID: "x1", WorkflowID: "wf", Type: schema.HistoryWorkflowStarted},
		&Event{ExecutionID: "x1", WorkflowID: "wf", Type: schema.HistoryStepStarted, StepID: "a"},
	)
	_, err := s.DB().ExecContext(ctx, `DELETE FROM events WHERE execution_id = ? AND sequence = 1`, "x1")
	require.NoError(t, err)

	_, err = NewEventLog(s).Replay(ctx, "x1")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestReplayUnknownExecution(t *testing.T) {
	s := newTestStore(t)
	_, err := NewEventLog(s).Replay(context.Background(), "nope")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}
