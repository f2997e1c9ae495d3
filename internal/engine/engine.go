package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jaqedu/jaqflow/internal/logging"
	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// DefaultStepTimeout bounds a single step when neither the call options nor
// the engine config set one.
const DefaultStepTimeout = 30 * time.Second

// DefaultPoolSize is the default number of concurrently submitted runs.
const DefaultPoolSize = 10

// RepositoryBreaker is the name of the breaker guarding workflow loads.
const RepositoryBreaker = "workflow-repository"

// Config holds engine tunables.
type Config struct {
	StepTimeout time.Duration
	PoolSize    int
}

// Deps are the engine's collaborators. Workflows and Steps are required;
// the rest are optional.
type Deps struct {
	Workflows WorkflowSource
	Steps     StepExecutor
	Logger    ExecutionLogger
	Events    EventEmitter
	Recorder  ExecutionRecorder
	Breakers  *resilience.Registry
	Log       *slog.Logger
}

// Options customize a single run.
type Options struct {
	// Timeout bounds each step of the run. Zero uses the engine default.
	Timeout time.Duration
	// Variables seed the run's context.
	Variables map[string]any
	// ExecutionID overrides the generated run ID.
	ExecutionID string
}

// RunInfo describes an in-flight run.
type RunInfo struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	CurrentStep string    `json:"current_step,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

type activeRun struct {
	ec     *ExecutionContext
	cancel context.CancelFunc
}

// Engine executes workflows step by step in dependency order.
type Engine struct {
	workflows WorkflowSource
	steps     StepExecutor
	logger    ExecutionLogger
	events    EventEmitter
	recorder  ExecutionRecorder
	breakers  *resilience.Registry
	repoCB    *resilience.CircuitBreaker
	log       *slog.Logger
	fsm       *RunFSM
	pool      *WorkerPool
	config    Config

	stepTimeout atomic.Int64

	mu       sync.Mutex
	draining bool
	runs     map[string]*activeRun
	wg       sync.WaitGroup
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	e := &Engine{
		workflows: deps.Workflows,
		steps:     deps.Steps,
		logger:    deps.Logger,
		events:    deps.Events,
		recorder:  deps.Recorder,
		breakers:  deps.Breakers,
		log:       deps.Log,
		fsm:       NewRunFSM(),
		pool:      NewWorkerPool(cfg.PoolSize),
		config:    cfg,
		runs:      make(map[string]*activeRun),
	}
	e.stepTimeout.Store(int64(cfg.StepTimeout))
	if e.logger == nil {
		e.logger = nopLogger{}
	}
	if e.events == nil {
		e.events = nopEmitter{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.breakers != nil {
		e.repoCB = e.breakers.Create(RepositoryBreaker, resilience.Config{
			ExpectedErrors: []resilience.ErrorMatcher{resilience.MessageMatcher(schema.ErrCodeNotFound)},
		})
	}
	return e
}

// SetStepTimeout changes the default step timeout for runs started after the
// call. Non-positive values are ignored.
func (e *Engine) SetStepTimeout(d time.Duration) {
	if d > 0 {
		e.stepTimeout.Store(int64(d))
	}
}

// FSM exposes the run state machine so callers can register hooks.
func (e *Engine) FSM() *RunFSM { return e.fsm }

// PoolMetrics returns a snapshot of the async worker pool.
func (e *Engine) PoolMetrics() PoolMetrics { return e.pool.Metrics() }

// ExecuteWorkflow runs the workflow to completion or first failure. It never
// returns an error and never panics: every failure is reported through the
// result.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, opts Options) (result *schema.ExecutionResult) {
	execID := opts.ExecutionID
	if execID == "" {
		execID = uuid.NewString()
	}
	ctx = logging.WithRun(ctx, workflowID, execID)
	ec := NewExecutionContext(workflowID, execID, opts.Variables)
	started := time.Now()

	runCtx, release, ok := e.enter(ctx, ec)
	if !ok {
		err := schema.NewError(schema.ErrCodeShuttingDown, "engine is shutting down")
		return e.buildResult(ec, "", err, started)
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			err := schema.NewErrorf(schema.ErrCodeExecution, "unexpected panic: %v", r)
			result = e.failInfra(runCtx, ec, ec.CurrentStep(), err, started)
		}
		e.record(runCtx, result, ec)
	}()

	return e.run(runCtx, ec, opts, started)
}

func (e *Engine) run(ctx context.Context, ec *ExecutionContext, opts Options, started time.Time) *schema.ExecutionResult {
	workflowID := ec.WorkflowID()

	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return e.failDefinition(ctx, ec, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", workflowID).WithCause(err), started)
		}
		return e.failInfra(ctx, ec, "", err, started)
	}

	e.safely(ctx, "log workflow start", func() { e.logger.LogWorkflowStart(ctx, workflowID, time.Now().UTC()) })
	e.emit(ctx, schema.EventExecutionStarted, map[string]any{
		"workflowId":  workflowID,
		"executionId": ec.ExecutionID(),
		"name":        wf.Name,
	})

	dag, err := ParseDAG(wf)
	if err != nil {
		return e.failDefinition(ctx, ec, err, started)
	}
	for _, id := range dag.Sorted {
		if err := e.steps.ValidateStep(dag.Steps[id]); err != nil {
			return e.failDefinition(ctx, ec, asEngineError(err, schema.ErrCodeValidation).WithStep(id), started)
		}
	}

	if err := e.fsm.Transition(ec, schema.ExecutionRunning); err != nil {
		return e.failInfra(ctx, ec, "", err, started)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(e.stepTimeout.Load())
	}

	for _, id := range dag.Sorted {
		if res := e.runStep(ctx, ec, dag.Steps[id], timeout, started); res != nil {
			return res
		}
	}

	return e.complete(ctx, ec, started)
}

// runStep executes one step and returns a non-nil result only when the run
// must stop.
func (e *Engine) runStep(ctx context.Context, ec *ExecutionContext, step schema.WorkflowStep, timeout time.Duration, started time.Time) *schema.ExecutionResult {
	workflowID := ec.WorkflowID()
	stepCtx := logging.WithStepID(ctx, step.ID)

	running := schema.ExecutionRunning
	current := step.ID
	ec.UpdateState(StatePatch{Status: &running, CurrentStep: &current})
	e.safely(stepCtx, "log step start", func() { e.logger.LogStepStart(stepCtx, workflowID, step.ID, time.Now().UTC()) })

	ready, err := e.steps.CanExecute(stepCtx, step, ec)
	if err != nil {
		return e.failInfra(stepCtx, ec, step.ID, err, started)
	}
	if !ready {
		stepErr := schema.NewErrorf(schema.ErrCodePrerequisites, "Prerequisites not met for step %s", step.ID).WithStep(step.ID)
		return e.failStep(stepCtx, ec, step.ID, stepErr, started)
	}

	res, err := e.executeStep(stepCtx, ec, step, timeout)
	if err != nil {
		var panicErr *stepPanicError
		if errors.As(err, &panicErr) {
			return e.failInfra(stepCtx, ec, step.ID, err, started)
		}
		err = asEngineError(err, schema.ErrCodeStepFailed).WithStep(step.ID)
		if schema.IsCode(err, schema.ErrCodeTimeout) {
			e.emit(stepCtx, schema.EventStepTimeout, map[string]any{
				"workflowId":  workflowID,
				"executionId": ec.ExecutionID(),
				"stepId":      step.ID,
				"timeout":     timeout.Milliseconds(),
			})
		}
		return e.failStep(stepCtx, ec, step.ID, err, started)
	}
	if res == nil || !res.Success {
		msg := "step returned no result"
		if res != nil && res.Error != "" {
			msg = res.Error
		} else if res != nil {
			msg = fmt.Sprintf("step %s failed", step.ID)
		}
		return e.failStep(stepCtx, ec, step.ID, schema.NewError(schema.ErrCodeStepFailed, msg).WithStep(step.ID), started)
	}

	for k, v := range res.Variables {
		ec.SetVariable(k, v)
	}
	ec.UpdateState(StatePatch{ExecutedStep: step.ID})
	e.safely(stepCtx, "log step complete", func() { e.logger.LogStepComplete(stepCtx, workflowID, step.ID, res, time.Now().UTC()) })
	return nil
}

// executeStep races the executor against the timeout. The step's context is
// cancelled when the race is decided so a losing executor can stop. Only
// executor errors and timeouts reach the step's breaker; a result with
// Success false is a business outcome.
func (e *Engine) executeStep(ctx context.Context, ec *ExecutionContext, step schema.WorkflowStep, timeout time.Duration) (*schema.StepExecutionResult, error) {
	call := func(ctx context.Context) (*schema.StepExecutionResult, error) {
		return e.raceTimeout(ctx, ec, step, timeout)
	}
	if e.breakers == nil {
		return call(ctx)
	}
	cb := e.breakers.Create(StepBreakerName(ec.WorkflowID(), step.ID), resilience.Config{})
	return resilience.ExecuteValue(ctx, cb, call)
}

// StepBreakerName names the breaker guarding one step of one workflow.
func StepBreakerName(workflowID, stepID string) string {
	return "step:" + workflowID + "/" + stepID
}

type stepPanicError struct {
	stepID string
	value  any
}

func (p *stepPanicError) Error() string {
	return fmt.Sprintf("step %s panicked: %v", p.stepID, p.value)
}

func (e *Engine) raceTimeout(ctx context.Context, ec *ExecutionContext, step schema.WorkflowStep, timeout time.Duration) (*schema.StepExecutionResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *schema.StepExecutionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &stepPanicError{stepID: step.ID, value: r}}
			}
		}()
		res, err := e.steps.Execute(stepCtx, step, ec)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.res, nil
		}
		if ctx.Err() != nil {
			return nil, cancelledError(step.ID, ctx.Err())
		}
		if errors.Is(o.err, context.DeadlineExceeded) && stepCtx.Err() != nil {
			return nil, timeoutError(step.ID, timeout)
		}
		return o.res, o.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, cancelledError(step.ID, ctx.Err())
		}
		return nil, timeoutError(step.ID, timeout)
	}
}

func cancelledError(stepID string, cause error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "step %s cancelled: %v", stepID, cause).
		WithStep(stepID).WithCause(cause)
}

func timeoutError(stepID string, timeout time.Duration) error {
	return schema.NewErrorf(schema.ErrCodeTimeout, "step %s execution timeout after %s", stepID, timeout).
		WithStep(stepID).WithCause(context.DeadlineExceeded)
}

func (e *Engine) complete(ctx context.Context, ec *ExecutionContext, started time.Time) *schema.ExecutionResult {
	workflowID := ec.WorkflowID()

	e.safely(ctx, "cleanup", e.steps.Cleanup)
	if err := e.fsm.Transition(ec, schema.ExecutionCompleted); err != nil {
		return e.failInfra(ctx, ec, "", err, started)
	}

	result := e.buildResult(ec, "", nil, started)
	result.Metrics = &schema.ExecutionMetrics{
		TotalExecutionTime: time.Since(started).Milliseconds(),
		StepCount:          len(result.ExecutedSteps),
		Executor:           e.steps.ExecutionMetrics(),
	}

	e.safely(ctx, "log workflow complete", func() { e.logger.LogWorkflowComplete(ctx, workflowID, result, time.Now().UTC()) })
	e.emit(ctx, schema.EventExecutionCompleted, map[string]any{
		"workflowId":    workflowID,
		"executionId":   ec.ExecutionID(),
		"executedSteps": result.ExecutedSteps,
	})
	e.emit(ctx, schema.EventMetricsCollected, map[string]any{
		"workflowId":  workflowID,
		"executionId": ec.ExecutionID(),
		"metrics":     *result.Metrics,
	})
	e.log.InfoContext(ctx, "workflow run completed",
		slog.Int("steps", result.Metrics.StepCount),
		slog.Int64("duration_ms", result.Metrics.TotalExecutionTime))
	return result
}

// failStep handles prerequisite, execution and timeout failures of a step.
func (e *Engine) failStep(ctx context.Context, ec *ExecutionContext, stepID string, err error, started time.Time) *schema.ExecutionResult {
	e.safely(ctx, "log step error", func() { e.logger.LogStepError(ctx, ec.WorkflowID(), stepID, err, time.Now().UTC()) })
	e.addError(ec, stepID, err)
	_ = e.fsm.Transition(ec, schema.ExecutionFailed)

	e.emit(ctx, schema.EventExecutionFailed, map[string]any{
		"workflowId":  ec.WorkflowID(),
		"executionId": ec.ExecutionID(),
		"failedStep":  stepID,
		"error":       schema.Message(err),
	})
	e.log.WarnContext(ctx, "workflow run failed", slog.String("error", err.Error()))
	return e.buildResult(ec, stepID, err, started)
}

// failDefinition handles a missing or malformed workflow. No step has run.
func (e *Engine) failDefinition(ctx context.Context, ec *ExecutionContext, err error, started time.Time) *schema.ExecutionResult {
	e.safely(ctx, "log workflow error", func() { e.logger.LogWorkflowError(ctx, ec.WorkflowID(), err, time.Now().UTC()) })
	e.addError(ec, "", err)
	_ = e.fsm.Transition(ec, schema.ExecutionFailed)

	e.emit(ctx, schema.EventExecutionFailed, map[string]any{
		"workflowId":  ec.WorkflowID(),
		"executionId": ec.ExecutionID(),
		"error":       schema.Message(err),
	})
	e.log.WarnContext(ctx, "workflow definition rejected", slog.String("error", err.Error()))
	return e.buildResult(ec, "", err, started)
}

// failInfra handles unexpected collaborator errors and panics.
func (e *Engine) failInfra(ctx context.Context, ec *ExecutionContext, stepID string, err error, started time.Time) *schema.ExecutionResult {
	e.safely(ctx, "log workflow error", func() { e.logger.LogWorkflowError(ctx, ec.WorkflowID(), err, time.Now().UTC()) })
	e.addError(ec, stepID, err)
	if !ec.Status().IsTerminal() {
		_ = e.fsm.Transition(ec, schema.ExecutionFailed)
	}

	payload := map[string]any{
		"workflowId":  ec.WorkflowID(),
		"executionId": ec.ExecutionID(),
		"error":       schema.Message(err),
	}
	if stepID != "" {
		payload["stepId"] = stepID
	}
	e.emit(ctx, schema.EventExecutionError, payload)
	e.log.ErrorContext(ctx, "workflow run aborted", slog.String("error", err.Error()))
	return e.buildResult(ec, stepID, err, started)
}

func (e *Engine) addError(ec *ExecutionContext, stepID string, err error) {
	ec.AddError(schema.ErrorRecord{
		StepID:  stepID,
		Code:    schema.ErrorCode(err),
		Message: schema.Message(err),
	})
}

func (e *Engine) buildResult(ec *ExecutionContext, failedStep string, err error, started time.Time) *schema.ExecutionResult {
	state := ec.ExecutionState()
	res := &schema.ExecutionResult{
		Success:       err == nil,
		WorkflowID:    state.WorkflowID,
		ExecutionID:   state.ExecutionID,
		ExecutedSteps: state.ExecutedSteps,
		FailedStep:    failedStep,
		StartedAt:     started.UTC(),
		CompletedAt:   time.Now().UTC(),
	}
	if err != nil {
		res.Error = schema.Message(err)
		res.ErrorCode = schema.ErrorCode(err)
		if res.ErrorCode == "" {
			res.ErrorCode = schema.ErrCodeExecution
		}
	}
	return res
}

func (e *Engine) loadWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	load := func(ctx context.Context) (*schema.Workflow, error) {
		wf, err := e.workflows.FindByID(ctx, id)
		if err == nil && wf == nil {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
		}
		return wf, err
	}
	if e.repoCB != nil {
		return resilience.ExecuteValue(ctx, e.repoCB, load)
	}
	return load(ctx)
}

func (e *Engine) record(ctx context.Context, result *schema.ExecutionResult, ec *ExecutionContext) {
	if e.recorder == nil || result == nil {
		return
	}
	e.safely(ctx, "record execution", func() {
		if err := e.recorder.RecordExecution(context.WithoutCancel(ctx), result, ec.ExecutionState()); err != nil {
			e.log.WarnContext(ctx, "failed to record execution", slog.String("error", err.Error()))
		}
	})
}

func (e *Engine) emit(ctx context.Context, event string, payload map[string]any) {
	e.safely(ctx, "emit "+event, func() { e.events.Emit(ctx, event, payload) })
}

// safely runs a best-effort side channel; a panic there never reaches the run.
func (e *Engine) safely(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WarnContext(ctx, "side channel failed", slog.String("op", what), slog.Any("panic", r))
		}
	}()
	fn()
}

func asEngineError(err error, code string) *schema.EngineError {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return schema.NewError(code, err.Error()).WithCause(err)
}

// --- In-flight tracking and shutdown ---

func (e *Engine) enter(ctx context.Context, ec *ExecutionContext) (context.Context, func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return ctx, nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	id := ec.ExecutionID()
	e.runs[id] = &activeRun{ec: ec, cancel: cancel}
	e.wg.Add(1)

	return runCtx, func() {
		cancel()
		e.mu.Lock()
		delete(e.runs, id)
		e.mu.Unlock()
		e.wg.Done()
	}, true
}

// InFlight returns the runs currently executing, oldest first.
func (e *Engine) InFlight() []RunInfo {
	e.mu.Lock()
	out := make([]RunInfo, 0, len(e.runs))
	for id, r := range e.runs {
		st := r.ec.ExecutionState()
		out = append(out, RunInfo{
			ExecutionID: id,
			WorkflowID:  st.WorkflowID,
			CurrentStep: st.CurrentStep,
			StartedAt:   st.StartTime,
		})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Draining reports whether Drain has been called.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// Drain stops accepting runs and waits for in-flight runs to finish. If ctx
// expires first, remaining runs are cancelled and SHUTDOWN_TIMEOUT is returned.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	poolErr := e.pool.Shutdown(ctx)

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if poolErr == nil {
			return nil
		}
	case <-ctx.Done():
	}

	e.mu.Lock()
	pending := len(e.runs)
	for _, r := range e.runs {
		r.cancel()
	}
	e.mu.Unlock()
	return schema.NewErrorf(schema.ErrCodeShutdownTimeout, "shutdown timed out with %d run(s) in flight", pending)
}

// --- Async and caller-level retry ---

// Submit runs the workflow on the engine's worker pool. onDone, if set, is
// called with the result from the worker goroutine.
func (e *Engine) Submit(ctx context.Context, workflowID string, opts Options, onDone func(*schema.ExecutionResult)) (string, error) {
	if e.Draining() {
		return "", schema.NewError(schema.ErrCodeShuttingDown, "engine is shutting down")
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = uuid.NewString()
	}
	err := e.pool.Submit(ctx, func(runCtx context.Context) error {
		res := e.ExecuteWorkflow(runCtx, workflowID, opts)
		if onDone != nil {
			onDone(res)
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	})
	if errors.Is(err, ErrPoolShutdown) {
		return "", schema.NewError(schema.ErrCodeShuttingDown, "engine is shutting down").WithCause(err)
	}
	if err != nil {
		return "", err
	}
	return opts.ExecutionID, nil
}

// ExecuteWithRetry issues fresh runs until one succeeds or the policy gives
// up. Each attempt gets its own execution ID; no run is resumed.
func (e *Engine) ExecuteWithRetry(ctx context.Context, workflowID string, opts Options, policy resilience.RetryPolicy) *schema.ExecutionResult {
	var last *schema.ExecutionResult
	_ = resilience.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		attemptOpts := opts
		if attempt > 0 {
			attemptOpts.ExecutionID = ""
		}
		last = e.ExecuteWorkflow(ctx, workflowID, attemptOpts)
		if last.Success {
			return nil
		}
		if attempt+1 < policy.MaxAttempts {
			e.log.InfoContext(ctx, "retrying workflow run",
				slog.String("workflow_id", workflowID),
				slog.Int("attempt", attempt+1),
				slog.String("error", last.Error))
		}
		return schema.NewError(last.ErrorCode, last.Error)
	})
	return last
}
