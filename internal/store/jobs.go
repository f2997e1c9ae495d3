package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

const jobColumns = `id, workflow_id, cron_expression, variables, enabled, last_run_at, next_run_at,
	last_run_status, last_execution_id, created_at`

// UpsertScheduledJob creates or replaces a scheduled job definition. Run
// bookkeeping columns are only overwritten when set on job.
func (s *LibSQLStore) UpsertScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job == nil || job.ID == "" || job.WorkflowID == "" || job.CronExpression == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job requires id, workflow_id and cron_expression")
	}
	vars, err := nullJSON(job.Variables)
	if err != nil {
		return storeErr("encode job variables", err)
	}
	job.CreatedAt = timeOrNow(job.CreatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_id=excluded.workflow_id, cron_expression=excluded.cron_expression,
		   variables=excluded.variables, enabled=excluded.enabled,
		   last_run_at=COALESCE(excluded.last_run_at, scheduled_jobs.last_run_at),
		   next_run_at=COALESCE(excluded.next_run_at, scheduled_jobs.next_run_at),
		   last_run_status=COALESCE(excluded.last_run_status, scheduled_jobs.last_run_status),
		   last_execution_id=COALESCE(excluded.last_execution_id, scheduled_jobs.last_execution_id)`,
		job.ID, job.WorkflowID, job.CronExpression, vars, boolInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), nullStr(job.LastExecutionID),
		job.CreatedAt,
	)
	if err != nil {
		return storeErr("upsert scheduled job", err)
	}
	return nil
}

// GetScheduledJob returns a job or NOT_FOUND.
func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM scheduled_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, storeErr("get scheduled job", err)
	}
	return job, nil
}

// ListScheduledJobs returns jobs matching filter ordered by creation.
func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := "SELECT " + jobColumns + " FROM scheduled_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list scheduled jobs", err)
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeErr("scan scheduled job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordJobRun stores the outcome of one firing.
func (s *LibSQLStore) RecordJobRun(ctx context.Context, id string, run ScheduledJobRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run_at = ?, last_run_status = ?, last_execution_id = ?,
		   next_run_at = COALESCE(?, next_run_at)
		 WHERE id = ?`,
		timeOrNow(run.At), run.Status, nullStr(run.ExecutionID), nullTime(run.NextRunAt), id,
	)
	if err != nil {
		return storeErr("record job run", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// DeleteScheduledJob removes a job.
func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete scheduled job", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var (
		vars                 sql.NullString
		lastRun, nextRun     sql.NullTime
		lastStatus, lastExec sql.NullString
	)
	if err := row.Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &vars, &job.Enabled,
		&lastRun, &nextRun, &lastStatus, &lastExec, &job.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalNull(vars, &job.Variables); err != nil {
		return nil, err
	}
	job.LastRunAt = timePtr(lastRun)
	job.NextRunAt = timePtr(nextRun)
	job.LastRunStatus = lastStatus.String
	job.LastExecutionID = lastExec.String
	return job, nil
}
