package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// --- Fakes ---

type fakeRunner struct {
	mu        sync.Mutex
	result    *schema.ExecutionResult
	submitErr error
	calls     []engine.Options
	submitted []engine.Options
	inFlight  []engine.RunInfo
}

func (f *fakeRunner) ExecuteWorkflow(_ context.Context, id string, opts engine.Options) *schema.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	res := *f.result
	res.WorkflowID = id
	return &res
}

func (f *fakeRunner) Submit(_ context.Context, _ string, opts engine.Options, _ func(*schema.ExecutionResult)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, opts)
	return opts.ExecutionID, nil
}

func (f *fakeRunner) InFlight() []engine.RunInfo { return f.inFlight }

type fakeValidator struct{ err error }

func (v fakeValidator) ValidateWorkflow(*schema.Workflow) error { return v.err }

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string][]map[string]any
}

func (n *recordingNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = make(map[string][]map[string]any)
	}
	n.calls[agentID] = append(n.calls[agentID], payload)
	return nil
}

func (n *recordingNotifier) count(agentID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls[agentID])
}

// --- Helpers ---

type fixture struct {
	srv      *Server
	store    *store.LibSQLStore
	runner   *fakeRunner
	breakers *resilience.Registry
	hub      *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		store:    s,
		runner:   &fakeRunner{result: &schema.ExecutionResult{Success: true, ExecutionID: "exec-1"}},
		breakers: resilience.NewRegistry(resilience.Config{}),
		hub:      streaming.NewMemoryHub(),
	}
	f.srv = NewServer(ServerDeps{
		Engine:    f.runner,
		Store:     s,
		Breakers:  f.breakers,
		Validator: fakeValidator{},
		Hub:       f.hub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, extractText(t, result))
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func saveWorkflow(t *testing.T, s *store.LibSQLStore, id string, status schema.WorkflowStatus) {
	t.Helper()
	require.NoError(t, s.Save(context.Background(), &schema.Workflow{
		ID:     id,
		Name:   "grade " + id,
		Status: status,
		Steps:  []schema.WorkflowStep{{ID: "start", Type: schema.StepTypeTrigger}},
	}))
}

// --- jaqflow.execute ---

func TestExecuteSync(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleExecute(context.Background(), buildRequest("jaqflow.execute", map[string]any{
		"workflow_id": "wf-1",
		"variables":   map[string]any{"student": "s-42"},
		"timeout":     "5s",
	}))
	require.NoError(t, err)

	var res schema.ExecutionResult
	unmarshalResult(t, result, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "wf-1", res.WorkflowID)

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, "s-42", f.runner.calls[0].Variables["student"])
	assert.Equal(t, 5*time.Second, f.runner.calls[0].Timeout)
}

func TestExecuteSyncFailureIsNotToolError(t *testing.T) {
	f := newFixture(t)
	f.runner.result = &schema.ExecutionResult{
		ExecutionID: "exec-2",
		FailedStep:  "grade",
		Error:       "grader unavailable",
		ErrorCode:   schema.ErrCodeStepFailed,
	}

	result, err := f.srv.handleExecute(context.Background(), buildRequest("jaqflow.execute", map[string]any{
		"workflow_id": "wf-1",
	}))
	require.NoError(t, err)

	var res schema.ExecutionResult
	unmarshalResult(t, result, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "grade", res.FailedStep)
}

func TestExecuteInvalidArgs(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleExecute(context.Background(), buildRequest("jaqflow.execute", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.srv.handleExecute(context.Background(), buildRequest("jaqflow.execute", map[string]any{
		"workflow_id": "wf-1",
		"timeout":     "soon",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "invalid timeout")
	assert.Empty(t, f.runner.calls)
}

func TestExecuteAsyncWatchesAgent(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleExecute(context.Background(), buildRequest("jaqflow.execute", map[string]any{
		"workflow_id": "wf-1",
		"async":       true,
		"agent_id":    "agent-1",
	}))
	require.NoError(t, err)

	var out map[string]any
	unmarshalResult(t, result, &out)
	execID, _ := out["execution_id"].(string)
	require.NotEmpty(t, execID)
	assert.Equal(t, "running", out["status"])

	require.Len(t, f.runner.submitted, 1)
	assert.Equal(t, execID, f.runner.submitted[0].ExecutionID)

	agentID, ok := f.srv.unwatch(execID)
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agentID)
}

func TestExecuteAsyncSubmitError(t *testing.T) {
	f := newFixture(t)
	f.runner.submitErr = schema.NewError(schema.ErrCodeShuttingDown, "engine is draining")

	result, err := f.srv.handleExecute(context.Background(), buildRequest("jaqflow.execute", map[string]any{
		"workflow_id": "wf-1",
		"async":       true,
		"agent_id":    "agent-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeShuttingDown)
	assert.Empty(t, f.srv.watchers)
}

// --- jaqflow.status ---

func TestStatusInFlight(t *testing.T) {
	f := newFixture(t)
	f.runner.inFlight = []engine.RunInfo{{
		ExecutionID: "exec-live",
		WorkflowID:  "wf-1",
		CurrentStep: "grade",
		StartedAt:   time.Now(),
	}}

	result, err := f.srv.handleStatus(context.Background(), buildRequest("jaqflow.status", map[string]any{
		"execution_id": "exec-live",
	}))
	require.NoError(t, err)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, "grade", out["current_step"])
}

func TestStatusFinished(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.store.RecordExecution(context.Background(), &schema.ExecutionResult{
		Success:       true,
		WorkflowID:    "wf-1",
		ExecutionID:   "exec-done",
		ExecutedSteps: []string{"start", "grade"},
		StartedAt:     now.Add(-time.Second),
		CompletedAt:   now,
	}, schema.ExecutionState{WorkflowID: "wf-1", ExecutionID: "exec-done", Status: schema.ExecutionCompleted}))

	result, err := f.srv.handleStatus(context.Background(), buildRequest("jaqflow.status", map[string]any{
		"execution_id": "exec-done",
	}))
	require.NoError(t, err)

	var rec store.ExecutionRecord
	unmarshalResult(t, result, &rec)
	assert.True(t, rec.Success)
	assert.Equal(t, []string{"start", "grade"}, rec.ExecutedSteps)
}

func TestStatusUnknown(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleStatus(context.Background(), buildRequest("jaqflow.status", map[string]any{
		"execution_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

// --- jaqflow.history ---

func TestHistoryExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, ok := range []bool{true, false} {
		id := []string{"exec-a", "exec-b"}[i]
		require.NoError(t, f.store.RecordExecution(ctx, &schema.ExecutionResult{
			Success:     ok,
			WorkflowID:  "wf-1",
			ExecutionID: id,
			StartedAt:   now,
			CompletedAt: now,
		}, schema.ExecutionState{WorkflowID: "wf-1", ExecutionID: id}))
	}

	result, err := f.srv.handleHistory(ctx, buildRequest("jaqflow.history", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"workflow_id": "wf-1", "success": false},
	}))
	require.NoError(t, err)

	var out struct {
		Executions []store.ExecutionRecord `json:"executions"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Executions, 1)
	assert.Equal(t, "exec-b", out.Executions[0].ExecutionID)
}

func TestHistoryEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, typ := range []string{schema.HistoryWorkflowStarted, schema.HistoryStepCompleted} {
		require.NoError(t, f.store.AppendEvent(ctx, &store.Event{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			Type:        typ,
		}))
	}

	result, err := f.srv.handleHistory(ctx, buildRequest("jaqflow.history", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"execution_id": "exec-1"},
	}))
	require.NoError(t, err)

	var out struct {
		Events []store.Event `json:"events"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Events, 2)
	assert.Equal(t, schema.HistoryWorkflowStarted, out.Events[0].Type)
}

func TestHistoryInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.srv.handleHistory(ctx, buildRequest("jaqflow.history", map[string]any{
		"resource": "agents",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.srv.handleHistory(ctx, buildRequest("jaqflow.history", map[string]any{
		"resource": "events",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "workflow_id")
}

// --- jaqflow.workflows ---

func TestWorkflowsList(t *testing.T) {
	f := newFixture(t)
	saveWorkflow(t, f.store, "wf-active", schema.WorkflowStatusActive)
	saveWorkflow(t, f.store, "wf-draft", schema.WorkflowStatusDraft)

	result, err := f.srv.handleWorkflows(context.Background(), buildRequest("jaqflow.workflows", map[string]any{
		"filter": map[string]any{"status": "active"},
	}))
	require.NoError(t, err)

	var out struct {
		Workflows []schema.Workflow `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Workflows, 1)
	assert.Equal(t, "wf-active", out.Workflows[0].ID)
}

func TestWorkflowsGetWithRevisions(t *testing.T) {
	f := newFixture(t)
	saveWorkflow(t, f.store, "wf-1", schema.WorkflowStatusActive)

	result, err := f.srv.handleWorkflows(context.Background(), buildRequest("jaqflow.workflows", map[string]any{
		"workflow_id": "wf-1",
	}))
	require.NoError(t, err)

	var out struct {
		Workflow  schema.Workflow          `json:"workflow"`
		Revisions []store.WorkflowRevision `json:"revisions"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "wf-1", out.Workflow.ID)
	assert.Equal(t, 1, out.Workflow.Version)
}

func TestWorkflowsInvalidStatus(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleWorkflows(context.Background(), buildRequest("jaqflow.workflows", map[string]any{
		"filter": map[string]any{"status": "retired"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- jaqflow.define ---

func TestDefineCreatesThenUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := map[string]any{
		"id":     "wf-new",
		"name":   "weekly digest",
		"status": "active",
		"steps":  []any{map[string]any{"id": "start", "type": "trigger"}},
	}

	result, err := f.srv.handleDefine(ctx, buildRequest("jaqflow.define", map[string]any{"workflow": def}))
	require.NoError(t, err)
	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["created"])
	assert.EqualValues(t, 1, out["version"])

	def["name"] = "weekly digest v2"
	result, err = f.srv.handleDefine(ctx, buildRequest("jaqflow.define", map[string]any{"workflow": def}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["created"])
	assert.EqualValues(t, 2, out["version"])

	wf, err := f.store.FindByID(ctx, "wf-new")
	require.NoError(t, err)
	assert.Equal(t, "weekly digest v2", wf.Name)
}

func TestDefineAssignsID(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleDefine(context.Background(), buildRequest("jaqflow.define", map[string]any{
		"workflow": map[string]any{"name": "anon", "steps": []any{}},
	}))
	require.NoError(t, err)
	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.NotEmpty(t, out["workflow_id"])
}

func TestDefineRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	f.srv.deps.Validator = fakeValidator{err: schema.NewError(schema.ErrCodeCycleDetected, "cycle between a and b")}

	result, err := f.srv.handleDefine(context.Background(), buildRequest("jaqflow.define", map[string]any{
		"workflow": map[string]any{"id": "wf-bad", "name": "bad"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeCycleDetected)

	exists, err := f.store.Exists(context.Background(), "wf-bad")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDefineMissingWorkflow(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleDefine(context.Background(), buildRequest("jaqflow.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- jaqflow.breakers ---

func TestBreakersListAndReset(t *testing.T) {
	f := newFixture(t)
	cb := f.breakers.Create("smtp", resilience.Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("smtp down") })
	require.Equal(t, resilience.StateOpen, cb.State())

	result, err := f.srv.handleBreakers(context.Background(), buildRequest("jaqflow.breakers", map[string]any{}))
	require.NoError(t, err)
	var out struct {
		Breakers []map[string]any `json:"breakers"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Breakers, 1)
	assert.Equal(t, "smtp", out.Breakers[0]["name"])

	result, err = f.srv.handleBreakers(context.Background(), buildRequest("jaqflow.breakers", map[string]any{
		"action": "reset",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestBreakersUnknownAction(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleBreakers(context.Background(), buildRequest("jaqflow.breakers", map[string]any{
		"action": "explode",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Completion forwarding ---

func TestForwardCompletionsNotifiesWatcher(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.srv.notifier = notifier
	f.srv.watch("exec-9", "agent-7")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ForwardCompletions(ctx) }()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-other",
		EventType:   schema.EventExecutionCompleted,
	}))
	require.NoError(t, f.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-9",
		EventType:   schema.EventExecutionCompleted,
	}))

	require.Eventually(t, func() bool { return notifier.count("agent-7") == 1 }, time.Second, 5*time.Millisecond)
	_, stillWatched := f.srv.unwatch("exec-9")
	assert.False(t, stillWatched)

	cancel()
	require.NoError(t, <-done)
}

func TestExtractInt(t *testing.T) {
	filter := map[string]any{"a": float64(5), "b": 7, "c": "9", "d": "x"}
	assert.Equal(t, 5, extractInt(filter, "a", 0))
	assert.Equal(t, 7, extractInt(filter, "b", 0))
	assert.Equal(t, 9, extractInt(filter, "c", 0))
	assert.Equal(t, 1, extractInt(filter, "d", 1))
	assert.Equal(t, 2, extractInt(nil, "a", 2))
}
