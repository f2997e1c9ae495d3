package schema

import "time"

// ExecutionStatus represents the lifecycle state of a single workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ErrorRecord is one error captured during a run.
type ErrorRecord struct {
	StepID    string    `json:"step_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionState is a snapshot of a run's mutable state.
type ExecutionState struct {
	WorkflowID    string          `json:"workflow_id"`
	ExecutionID   string          `json:"execution_id"`
	Status        ExecutionStatus `json:"status"`
	CurrentStep   string          `json:"current_step,omitempty"`
	Variables     map[string]any  `json:"variables"`
	StartTime     time.Time       `json:"start_time"`
	ExecutedSteps []string        `json:"executed_steps"`
	Errors        []ErrorRecord   `json:"errors,omitempty"`
}

// StepExecutionResult is what a step executor returns for a single step.
type StepExecutionResult struct {
	Success       bool           `json:"success"`
	Result        any            `json:"result,omitempty"`
	ExecutionTime int64          `json:"execution_time_ms"`
	Error         string         `json:"error,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

// ExecutionMetrics summarizes a completed run.
type ExecutionMetrics struct {
	TotalExecutionTime int64           `json:"total_execution_time_ms"`
	StepCount          int             `json:"step_count"`
	Executor           ExecutorMetrics `json:"executor"`
}

// ExecutorMetrics are the counters a step executor keeps across runs.
type ExecutorMetrics struct {
	TotalSteps           int64   `json:"total_steps"`
	ExecutedSteps        int64   `json:"executed_steps"`
	FailedSteps          int64   `json:"failed_steps"`
	TotalExecutionTime   int64   `json:"total_execution_time_ms"`
	AverageExecutionTime float64 `json:"average_execution_time_ms"`
}

// ExecutionResult is the immutable outcome of one workflow run.
type ExecutionResult struct {
	Success       bool              `json:"success"`
	WorkflowID    string            `json:"workflow_id"`
	ExecutionID   string            `json:"execution_id"`
	ExecutedSteps []string          `json:"executed_steps"`
	FailedStep    string            `json:"failed_step,omitempty"`
	Error         string            `json:"error,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	Metrics       *ExecutionMetrics `json:"metrics,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}
