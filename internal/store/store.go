package store

import (
	"context"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// WorkflowRepository is the persistence boundary for workflow definitions
// and their revision history.
type WorkflowRepository interface {
	FindByID(ctx context.Context, id string) (*schema.Workflow, error)
	Save(ctx context.Context, wf *schema.Workflow) error
	Update(ctx context.Context, wf *schema.Workflow) error
	FindAll(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	FindByName(ctx context.Context, name string) (*schema.Workflow, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	FindByStatus(ctx context.Context, status schema.WorkflowStatus) ([]*schema.Workflow, error)
	WorkflowHistory(ctx context.Context, id string) ([]*WorkflowRevision, error)
}

// ExecutionStore persists finished runs.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, result *schema.ExecutionResult, state schema.ExecutionState) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
}

// EventStore is the append-only lifecycle log.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
}

// JobStore persists scheduler state.
type JobStore interface {
	UpsertScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	RecordJobRun(ctx context.Context, id string, run ScheduledJobRun) error
	DeleteScheduledJob(ctx context.Context, id string) error
}

// Store is the full persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	WorkflowRepository
	ExecutionStore
	EventStore
	JobStore

	Snapshot(ctx context.Context) (*Snapshot, error)
	RestoreSnapshot(ctx context.Context, snap *Snapshot) error

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
