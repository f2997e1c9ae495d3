package store

import (
	"encoding/json"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// WorkflowRevision is one saved version of a workflow definition.
type WorkflowRevision struct {
	WorkflowID string           `json:"workflow_id"`
	Version    int              `json:"version"`
	Definition *schema.Workflow `json:"definition"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ExecutionRecord is a persisted, finished run.
type ExecutionRecord struct {
	ExecutionID   string                   `json:"execution_id"`
	WorkflowID    string                   `json:"workflow_id"`
	Status        schema.ExecutionStatus   `json:"status"`
	Success       bool                     `json:"success"`
	FailedStep    string                   `json:"failed_step,omitempty"`
	Error         string                   `json:"error,omitempty"`
	ErrorCode     string                   `json:"error_code,omitempty"`
	ExecutedSteps []string                 `json:"executed_steps"`
	Variables     map[string]any           `json:"variables,omitempty"`
	Errors        []schema.ErrorRecord     `json:"errors,omitempty"`
	Metrics       *schema.ExecutionMetrics `json:"metrics,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	CompletedAt   time.Time                `json:"completed_at"`
}

// Event is an append-only lifecycle entry. Sequence is assigned on append and
// is contiguous per execution.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered workflow execution.
type ScheduledJob struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	CronExpression  string         `json:"cron_expression"`
	Variables       map[string]any `json:"variables,omitempty"`
	Enabled         bool           `json:"enabled"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus   string         `json:"last_run_status,omitempty"`
	LastExecutionID string         `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status *schema.WorkflowStatus `json:"status,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string     `json:"workflow_id,omitempty"`
	Success    *bool      `json:"success,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	WorkflowID  string     `json:"workflow_id,omitempty"`
	ExecutionID string     `json:"execution_id,omitempty"`
	StepID      string     `json:"step_id,omitempty"`
	EventType   string     `json:"event_type,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// ScheduledJobRun records the outcome of one scheduled firing.
type ScheduledJobRun struct {
	At          time.Time  `json:"at"`
	Status      string     `json:"status"`
	ExecutionID string     `json:"execution_id,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
