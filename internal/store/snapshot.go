package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// SnapshotFormatVersion identifies the snapshot layout.
const SnapshotFormatVersion = 1

// Snapshot is a full, portable copy of the store's contents.
type Snapshot struct {
	FormatVersion int                 `json:"format_version"`
	TakenAt       time.Time           `json:"taken_at"`
	Workflows     []*schema.Workflow  `json:"workflows"`
	Revisions     []*WorkflowRevision `json:"revisions"`
	Executions    []*ExecutionRecord  `json:"executions"`
	Events        []*Event            `json:"events"`
	Jobs          []*ScheduledJob     `json:"jobs"`
}

// Snapshot reads every table into memory.
func (s *LibSQLStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{FormatVersion: SnapshotFormatVersion, TakenAt: time.Now().UTC()}

	var err error
	if snap.Workflows, err = s.FindAll(ctx, WorkflowFilter{}); err != nil {
		return nil, err
	}
	for _, wf := range snap.Workflows {
		revs, err := s.WorkflowHistory(ctx, wf.ID)
		if err != nil && !schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		snap.Revisions = append(snap.Revisions, revs...)
	}
	if snap.Executions, err = s.ListExecutions(ctx, ExecutionFilter{}); err != nil {
		return nil, err
	}
	if snap.Events, err = s.ListEvents(ctx, EventFilter{}); err != nil {
		return nil, err
	}
	if snap.Jobs, err = s.ListScheduledJobs(ctx, ScheduledJobFilter{}); err != nil {
		return nil, err
	}
	return snap, nil
}

// RestoreSnapshot replaces the store's contents with snap in one transaction.
func (s *LibSQLStore) RestoreSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return schema.NewError(schema.ErrCodeValidation, "snapshot is required")
	}
	if snap.FormatVersion != SnapshotFormatVersion {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported snapshot format %d", snap.FormatVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"events", "executions", "scheduled_jobs", "workflow_revisions", "workflows"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storeErr("clear "+table, err)
		}
	}

	for _, wf := range snap.Workflows {
		steps, err := marshalSteps(wf.Steps)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, wf.Name, nullStr(wf.Description), string(wf.Status), steps, wf.Version,
			timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
		); err != nil {
			return storeErr("restore workflow", err)
		}
	}
	for _, rev := range snap.Revisions {
		def, err := json.Marshal(rev.Definition)
		if err != nil {
			return storeErr("encode revision", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_revisions (workflow_id, version, definition, created_at) VALUES (?, ?, ?, ?)`,
			rev.WorkflowID, rev.Version, string(def), timeOrNow(rev.CreatedAt),
		); err != nil {
			return storeErr("restore revision", err)
		}
	}
	for _, rec := range snap.Executions {
		if err := s.putExecution(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, e := range snap.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ExecutionID, e.WorkflowID, nullStr(e.StepID), e.Type, nullRaw(e.Payload), timeOrNow(e.Timestamp), e.Sequence,
		); err != nil {
			return storeErr("restore event", err)
		}
	}
	for _, job := range snap.Jobs {
		vars, err := nullJSON(job.Variables)
		if err != nil {
			return storeErr("encode job variables", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.WorkflowID, job.CronExpression, vars, boolInt(job.Enabled),
			nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), nullStr(job.LastExecutionID),
			timeOrNow(job.CreatedAt),
		); err != nil {
			return storeErr("restore scheduled job", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit restore", err)
	}
	return nil
}
