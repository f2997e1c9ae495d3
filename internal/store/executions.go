package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

const executionColumns = `execution_id, workflow_id, status, success, failed_step, error, error_code,
	executed_steps, variables, errors, metrics, started_at, completed_at`

// RecordExecution persists a finished run. Recording the same execution ID
// twice replaces the earlier row.
func (s *LibSQLStore) RecordExecution(ctx context.Context, result *schema.ExecutionResult, state schema.ExecutionState) error {
	if result == nil || result.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution result with id is required")
	}
	rec := recordFromResult(result, state)
	return s.putExecution(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *LibSQLStore) putExecution(ctx context.Context, db execer, rec *ExecutionRecord) error {
	steps, err := json.Marshal(nonNilStrings(rec.ExecutedSteps))
	if err != nil {
		return storeErr("encode executed steps", err)
	}
	vars, err := nullJSON(rec.Variables)
	if err != nil {
		return storeErr("encode variables", err)
	}
	errs, err := nullJSON(rec.Errors)
	if err != nil {
		return storeErr("encode errors", err)
	}
	metrics, err := nullJSON(rec.Metrics)
	if err != nil {
		return storeErr("encode metrics", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
		   workflow_id=excluded.workflow_id, status=excluded.status, success=excluded.success,
		   failed_step=excluded.failed_step, error=excluded.error, error_code=excluded.error_code,
		   executed_steps=excluded.executed_steps, variables=excluded.variables, errors=excluded.errors,
		   metrics=excluded.metrics, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		rec.ExecutionID, rec.WorkflowID, string(rec.Status), boolInt(rec.Success),
		nullStr(rec.FailedStep), nullStr(rec.Error), nullStr(rec.ErrorCode),
		string(steps), vars, errs, metrics,
		timeOrNow(rec.StartedAt), timeOrNow(rec.CompletedAt),
	)
	if err != nil {
		return storeErr("record execution", err)
	}
	return nil
}

// GetExecution returns a recorded run or NOT_FOUND.
func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE execution_id = ?", executionID)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", executionID)
	}
	if err != nil {
		return nil, storeErr("get execution", err)
	}
	return rec, nil
}

// ListExecutions returns recorded runs, newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, boolInt(*filter.Success))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, execution_id ASC" + limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	defer rows.Close()

	var recs []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, storeErr("scan execution", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func recordFromResult(result *schema.ExecutionResult, state schema.ExecutionState) *ExecutionRecord {
	status := state.Status
	if status == "" {
		status = schema.ExecutionFailed
		if result.Success {
			status = schema.ExecutionCompleted
		}
	}
	return &ExecutionRecord{
		ExecutionID:   result.ExecutionID,
		WorkflowID:    result.WorkflowID,
		Status:        status,
		Success:       result.Success,
		FailedStep:    result.FailedStep,
		Error:         result.Error,
		ErrorCode:     result.ErrorCode,
		ExecutedSteps: result.ExecutedSteps,
		Variables:     state.Variables,
		Errors:        state.Errors,
		Metrics:       result.Metrics,
		StartedAt:     result.StartedAt,
		CompletedAt:   result.CompletedAt,
	}
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var (
		status                      string
		failedStep, errMsg, errCode sql.NullString
		steps                       string
		vars, errs, metrics         sql.NullString
	)
	if err := row.Scan(&rec.ExecutionID, &rec.WorkflowID, &status, &rec.Success, &failedStep, &errMsg, &errCode,
		&steps, &vars, &errs, &metrics, &rec.StartedAt, &rec.CompletedAt); err != nil {
		return nil, err
	}
	rec.Status = schema.ExecutionStatus(status)
	rec.FailedStep = failedStep.String
	rec.Error = errMsg.String
	rec.ErrorCode = errCode.String
	if err := json.Unmarshal([]byte(steps), &rec.ExecutedSteps); err != nil {
		return nil, err
	}
	if err := unmarshalNull(vars, &rec.Variables); err != nil {
		return nil, err
	}
	if err := unmarshalNull(errs, &rec.Errors); err != nil {
		return nil, err
	}
	if metrics.Valid && metrics.String != "" {
		rec.Metrics = &schema.ExecutionMetrics{}
		if err := json.Unmarshal([]byte(metrics.String), rec.Metrics); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
