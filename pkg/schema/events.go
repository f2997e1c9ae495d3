package schema

// Event names emitted on the event bus.
const (
	EventExecutionStarted   = "workflow.execution.started"
	EventExecutionCompleted = "workflow.execution.completed"
	EventExecutionFailed    = "workflow.execution.failed"
	EventExecutionError     = "workflow.execution.error"
	EventStepTimeout        = "step.execution.timeout"
	EventMetricsCollected   = "workflow.metrics.collected"
	EventBreakerStateChange = "circuit.breaker.state_changed"
)

// History entry types recorded by the execution logger.
const (
	HistoryWorkflowStarted   = "workflow_started"
	HistoryWorkflowCompleted = "workflow_completed"
	HistoryWorkflowError     = "workflow_error"
	HistoryStepStarted       = "step_started"
	HistoryStepCompleted     = "step_completed"
	HistoryStepError         = "step_error"
)
