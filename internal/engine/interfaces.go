package engine

import (
	"context"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// WorkflowSource loads workflow definitions. Satisfied by the store's
// WorkflowRepository and test mocks.
type WorkflowSource interface {
	FindByID(ctx context.Context, id string) (*schema.Workflow, error)
}

// StepExecutor runs individual steps. The engine is agnostic to step types and
// only relies on this contract.
type StepExecutor interface {
	// CanExecute reports whether the step's prerequisites are satisfied.
	CanExecute(ctx context.Context, step schema.WorkflowStep, ec *ExecutionContext) (bool, error)
	// Execute runs the step. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, step schema.WorkflowStep, ec *ExecutionContext) (*schema.StepExecutionResult, error)
	StepType() string
	ValidateStep(step schema.WorkflowStep) error
	Cleanup()
	ExecutionMetrics() schema.ExecutorMetrics
}

// ExecutionLogger records run lifecycle entries. Implementations are
// best-effort: they never fail the run and never block it on slow storage.
type ExecutionLogger interface {
	LogWorkflowStart(ctx context.Context, workflowID string, ts time.Time)
	LogWorkflowComplete(ctx context.Context, workflowID string, result *schema.ExecutionResult, ts time.Time)
	LogWorkflowError(ctx context.Context, workflowID string, err error, ts time.Time)
	LogStepStart(ctx context.Context, workflowID, stepID string, ts time.Time)
	LogStepComplete(ctx context.Context, workflowID, stepID string, result *schema.StepExecutionResult, ts time.Time)
	LogStepError(ctx context.Context, workflowID, stepID string, err error, ts time.Time)
}

// EventEmitter publishes named domain events. Emit must not block.
type EventEmitter interface {
	Emit(ctx context.Context, event string, payload map[string]any)
}

// ExecutionRecorder persists finished runs. Optional.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, result *schema.ExecutionResult, state schema.ExecutionState) error
}

type nopLogger struct{}

func (nopLogger) LogWorkflowStart(context.Context, string, time.Time) {}
func (nopLogger) LogWorkflowComplete(context.Context, string, *schema.ExecutionResult, time.Time) {
}
func (nopLogger) LogWorkflowError(context.Context, string, error, time.Time) {}
func (nopLogger) LogStepStart(context.Context, string, string, time.Time)    {}
func (nopLogger) LogStepComplete(context.Context, string, string, *schema.StepExecutionResult, time.Time) {
}
func (nopLogger) LogStepError(context.Context, string, string, error, time.Time) {}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, map[string]any) {}
