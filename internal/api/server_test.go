package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaqedu/jaqflow/internal/backup"
	"github.com/jaqedu/jaqflow/internal/config"
	"github.com/jaqedu/jaqflow/internal/deploy"
	"github.com/jaqedu/jaqflow/internal/engine"
	"github.com/jaqedu/jaqflow/internal/lifecycle"
	"github.com/jaqedu/jaqflow/internal/metrics"
	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/internal/streaming"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// fakeRunner records calls and returns canned results.
type fakeRunner struct {
	mu        sync.Mutex
	result    *schema.ExecutionResult
	submitErr error
	calls     []engine.Options
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
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = "exec-async"
	}
	return opts.ExecutionID, nil
}

func (f *fakeRunner) InFlight() []engine.RunInfo { return f.inFlight }

type fixture struct {
	srv      *Server
	handler  http.Handler
	store    *store.LibSQLStore
	runner   *fakeRunner
	health   *lifecycle.Health
	breakers *resilience.Registry
	hub      *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfgMgr, err := config.NewManager(config.Default(dir), logger)
	require.NoError(t, err)

	f := &fixture{
		store:    s,
		runner:   &fakeRunner{result: &schema.ExecutionResult{Success: true, ExecutionID: "exec-1"}},
		health:   lifecycle.NewHealth(time.Second),
		breakers: resilience.NewRegistry(resilience.Config{}),
		hub:      streaming.NewMemoryHub(),
	}
	f.health.Register("database", true, s.Ping)
	f.srv = NewServer(Deps{
		Store:    s,
		Engine:   f.runner,
		Traces:   store.NewEventLog(s),
		Hub:      f.hub,
		Breakers: f.breakers,
		Health:   f.health,
		Metrics:  metrics.NewCollector(metrics.DefaultConfig()),
		Backups:  backup.NewManager(s, filepath.Join(dir, "backups"), backup.Options{Logger: logger}),
		Deploy:   deploy.New(deploy.Options{InitialVersion: "1.0.0", Logger: logger}),
		Config:   cfgMgr,
		Logger:   logger,
	})
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sampleWorkflow(name string) map[string]any {
	return map[string]any{
		"name": name,
		"steps": []map[string]any{
			{"id": "a", "type": "action", "order": 1, "config": map[string]any{"action": "workflow.noop"}},
		},
	}
}

// --- Probes ---

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rep := decode[lifecycle.Report](t, rec)
	assert.Equal(t, lifecycle.StatusUp, rep.Status)
	assert.Contains(t, rep.Components, "database")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", nil).Code)

	f.health.SetDraining(true)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)
}

func TestHealthDownOnCriticalFailure(t *testing.T) {
	f := newFixture(t)
	f.health.Register("alerting", false, func(context.Context) error { return errors.New("smtp unreachable") })

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lifecycle.StatusDegraded, decode[lifecycle.Report](t, rec).Status)

	f.health.Register("database", true, func(context.Context) error { return errors.New("locked") })
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", nil).Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/workflows", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `jaqflow_http_requests_total{method="GET",route="GET /api/workflows",status_code="200"} 1`)
}

// --- Workflows ---

func TestWorkflowCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/workflows", sampleWorkflow("enrolment"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[schema.Workflow](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)

	rec = f.do(t, http.MethodGet, "/api/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "enrolment", decode[schema.Workflow](t, rec).Name)

	upd := sampleWorkflow("enrolment-v2")
	upd["version"] = 1
	rec = f.do(t, http.MethodPut, "/api/workflows/"+created.ID, upd)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[schema.Workflow](t, rec).Version)

	// Stale version.
	rec = f.do(t, http.MethodPut, "/api/workflows/"+created.ID, upd)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/workflows/"+created.ID+"/revisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	revs := decode[struct {
		Revisions []store.WorkflowRevision `json:"revisions"`
	}](t, rec)
	assert.Len(t, revs.Revisions, 2)

	rec = f.do(t, http.MethodGet, "/api/workflows?name=enrolment-v2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["count"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/workflows/"+created.ID, nil).Code)
	rec = f.do(t, http.MethodGet, "/api/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, schema.ErrCodeNotFound, decode[errorBody](t, rec).Code)
}

func TestCreateWorkflowRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/workflows", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/workflows?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type rejectAll struct{}

func (rejectAll) ValidateWorkflow(*schema.Workflow) error {
	return schema.NewError(schema.ErrCodeCycleDetected, "cycle a -> a")
}

func TestCreateWorkflowRunsValidator(t *testing.T) {
	f := newFixture(t)
	f.srv.deps.Validator = rejectAll{}
	rec := f.do(t, http.MethodPost, "/api/workflows", sampleWorkflow("loop"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, schema.ErrCodeCycleDetected, decode[errorBody](t, rec).Code)
}

// --- Execution ---

func TestExecuteSync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", map[string]any{
		"variables": map[string]any{"student": "s-1"},
		"timeout":   "5s",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[schema.ExecutionResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "wf-1", res.WorkflowID)

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, 5*time.Second, f.runner.calls[0].Timeout)
	assert.Equal(t, "s-1", f.runner.calls[0].Variables["student"])
}

func TestExecuteStatusMapping(t *testing.T) {
	f := newFixture(t)

	f.runner.result = &schema.ExecutionResult{ErrorCode: schema.ErrCodeStepFailed, FailedStep: "a", Error: "boom"}
	rec := f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "a failed run still returns its result")
	assert.Equal(t, "a", decode[schema.ExecutionResult](t, rec).FailedStep)

	f.runner.result = &schema.ExecutionResult{ErrorCode: schema.ErrCodeNotFound, Error: "workflow wf-1 not found"}
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", nil).Code)

	f.runner.result = &schema.ExecutionResult{ErrorCode: schema.ErrCodeShuttingDown}
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", nil).Code)

	rec = f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", map[string]any{"timeout": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteAsync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", map[string]any{"async": true, "execution_id": "run-7"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "run-7", body["execution_id"])
	assert.Equal(t, "/api/executions/run-7", body["status_url"])

	f.runner.submitErr = schema.NewError(schema.ErrCodeShuttingDown, "engine is shutting down")
	rec = f.do(t, http.MethodPost, "/api/workflows/wf-1/execute", map[string]any{"async": true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// --- Executions and history ---

func TestExecutionHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	execID := uuid.NewString()
	now := time.Now().UTC()

	require.NoError(t, f.store.RecordExecution(ctx, &schema.ExecutionResult{
		Success: true, WorkflowID: "wf-1", ExecutionID: execID,
		ExecutedSteps: []string{"a"}, StartedAt: now, CompletedAt: now,
	}, schema.ExecutionState{WorkflowID: "wf-1", ExecutionID: execID, Status: schema.ExecutionCompleted}))

	for _, typ := range []string{schema.HistoryWorkflowStarted, schema.HistoryStepStarted, schema.HistoryStepCompleted, schema.HistoryWorkflowCompleted} {
		ev := &store.Event{ExecutionID: execID, WorkflowID: "wf-1", Type: typ}
		if strings.HasPrefix(typ, "step_") {
			ev.StepID = "a"
		}
		require.NoError(t, f.store.AppendEvent(ctx, ev))
	}

	rec := f.do(t, http.MethodGet, "/api/executions?workflow_id=wf-1&success=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/api/executions/"+execID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, execID, decode[store.ExecutionRecord](t, rec).ExecutionID)

	rec = f.do(t, http.MethodGet, "/api/executions/"+execID+"/events?since=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[struct {
		Events []store.Event `json:"events"`
	}](t, rec)
	require.Len(t, events.Events, 2)
	assert.Equal(t, int64(3), events.Events[0].Sequence)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/executions/"+execID+"/events?since=-1", nil).Code)

	rec = f.do(t, http.MethodGet, "/api/executions/"+execID+"/trace", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	trace := decode[store.ExecutionTrace](t, rec)
	assert.Equal(t, []string{"a"}, trace.StepOrder)

	rec = f.do(t, http.MethodGet, "/api/workflows/wf-1/history?type="+schema.HistoryStepCompleted, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wfEvents := decode[struct {
		Events []store.Event `json:"events"`
	}](t, rec)
	assert.Len(t, wfEvents.Events, 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/executions/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/executions/missing/trace", nil).Code)
}

func TestRunningExecutions(t *testing.T) {
	f := newFixture(t)
	f.runner.inFlight = []engine.RunInfo{{ExecutionID: "r-1", WorkflowID: "wf-1", CurrentStep: "a"}}

	rec := f.do(t, http.MethodGet, "/api/executions/running", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"current_step":"a"`)
}

// --- Operations ---

func TestBreakers(t *testing.T) {
	f := newFixture(t)
	cb := f.breakers.Create("grading-service", resilience.Config{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })

	rec := f.do(t, http.MethodGet, "/api/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grading-service")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/breakers/reset", nil).Code)
	assert.Equal(t, resilience.StateClosed, cb.State())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/breakers/grading-service", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/breakers/grading-service", nil).Code)
}

func TestConfigRollback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/config/rollback", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "nothing to roll back to")

	next := f.srv.deps.Config.Current()
	next.Engine.PoolSize = 3
	_, err := f.srv.deps.Config.Apply(next)
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/config/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.srv.deps.Config.Current().Engine.PoolSize)

	rec = f.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret_access_key")
}

func TestBackups(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/workflows", sampleWorkflow("enrolment"))

	rec := f.do(t, http.MethodPost, "/api/backups", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	man := decode[backup.Manifest](t, rec)
	assert.Equal(t, 1, man.Counts["workflows"])

	rec = f.do(t, http.MethodGet, "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), man.ID)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/backups/"+man.ID+"/validate", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/backups/"+man.ID+"/restore", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/backups/nope/validate", nil).Code)
}

func TestDeploy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/deploy/traffic", map[string]any{"green_percent": 20})
	assert.Equal(t, http.StatusConflict, rec.Code, "green has no version yet")

	rec = f.do(t, http.MethodPost, "/api/deploy/switch", map[string]string{"version": "1.1.0"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, deploy.SlotGreen, decode[deploy.Record](t, rec).To)

	rec = f.do(t, http.MethodPut, "/api/deploy/traffic", map[string]any{"green_percent": 20})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, decode[deploy.Status](t, rec).GreenWeight)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/deploy/traffic", map[string]any{}).Code)

	rec = f.do(t, http.MethodPost, "/api/deploy/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, deploy.SlotBlue, decode[deploy.Status](t, f.do(t, http.MethodGet, "/api/deploy", nil)).Active)
}

func TestOptionalDepsReturnNotImplemented(t *testing.T) {
	s := NewServer(Deps{Engine: &fakeRunner{}})
	h := s.Handler()
	for _, path := range []string{"/api/breakers", "/api/backups", "/api/deploy", "/api/config"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, path)
	}
}

// --- SSE ---

func TestSSEStreamsExecutionEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse/executions/run-1", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	f.hub.Emit(ctx, schema.EventExecutionStarted, map[string]any{"workflowId": "wf-1", "executionId": "run-2"})
	f.hub.Emit(ctx, schema.EventExecutionStarted, map[string]any{"workflowId": "wf-1", "executionId": "run-1"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: "+schema.EventExecutionStarted, lines[0])
	assert.Contains(t, lines[1], `"execution_id":"run-1"`)
}

func TestWorkflowDiagram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, &schema.Workflow{
		ID: "wf-d", Name: "Diagrammed",
		Steps: []schema.WorkflowStep{
			{ID: "a", Type: schema.StepTypeAction, Order: 1, Config: json.RawMessage(`{"action":"workflow.noop"}`)},
			{ID: "b", Type: schema.StepTypeAction, Order: 2, DependsOn: []string{"a"}, Config: json.RawMessage(`{"action":"workflow.noop"}`)},
		},
	}))

	execID := uuid.NewString()
	for _, ev := range []store.Event{
		{Type: schema.HistoryWorkflowStarted},
		{Type: schema.HistoryStepStarted, StepID: "a"},
		{Type: schema.HistoryStepCompleted, StepID: "a"},
		{Type: schema.HistoryStepStarted, StepID: "b"},
		{Type: schema.HistoryStepError, StepID: "b"},
		{Type: schema.HistoryWorkflowError},
	} {
		ev.ExecutionID, ev.WorkflowID = execID, "wf-d"
		require.NoError(t, f.store.AppendEvent(ctx, &ev))
	}

	rec := f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.Contains(t, rec.Body.String(), "a --> b")
	assert.NotContains(t, rec.Body.String(), "class a")

	rec = f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram?execution_id="+execID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "class a completed")
	assert.Contains(t, rec.Body.String(), "class b failed")

	rec = f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram?format=ascii&execution_id="+execID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "=== Diagrammed ===")
	assert.Contains(t, rec.Body.String(), "[FAIL]")

	rec = f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram?format=png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes()[:4])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram?format=bmp", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/workflows/missing/diagram", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram?execution_id=missing", nil).Code)

	require.NoError(t, f.store.AppendEvent(ctx, &store.Event{ExecutionID: "other-exec", WorkflowID: "wf-other", Type: schema.HistoryWorkflowStarted}))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/workflows/wf-d/diagram?execution_id=other-exec", nil).Code)
}
