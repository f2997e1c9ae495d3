package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

const workflowColumns = "id, name, description, status, steps, version, created_at, updated_at"

// FindByID returns the workflow or a NOT_FOUND error.
func (s *LibSQLStore) FindByID(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = ?", id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, storeErr("find workflow", err)
	}
	return wf, nil
}

// Save inserts a new workflow and its first revision. Status defaults to
// draft and version to 1. Saving an existing ID is a CONFLICT.
func (s *LibSQLStore) Save(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusDraft
	}
	if wf.Version <= 0 {
		wf.Version = 1
	}
	now := time.Now().UTC()
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}

	steps, err := marshalSteps(wf.Steps)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE id = ?`, wf.ID).Scan(&exists); err != nil {
		return storeErr("check workflow", err)
	}
	if exists > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), string(wf.Status), steps, wf.Version, wf.CreatedAt, wf.UpdatedAt,
	); err != nil {
		return storeErr("insert workflow", err)
	}
	if err := insertRevision(ctx, tx, wf); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit workflow", err)
	}
	return nil
}

// Update replaces a stored workflow and records a new revision. When
// wf.Version is set it must match the stored version, otherwise CONFLICT.
// On success wf.Version holds the new version.
func (s *LibSQLStore) Update(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	steps, err := marshalSteps(wf.Steps)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	var (
		stored    int
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT version, created_at FROM workflows WHERE id = ?`, wf.ID).Scan(&stored, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storeNotFound("workflow", wf.ID)
	}
	if err != nil {
		return storeErr("read workflow version", err)
	}
	if wf.Version != 0 && wf.Version != stored {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %q version mismatch: have %d, stored %d", wf.ID, wf.Version, stored).
			WithDetails(map[string]any{"expected": stored, "actual": wf.Version})
	}
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusDraft
	}
	wf.Version = stored + 1
	wf.CreatedAt = createdAt
	wf.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE workflows SET name = ?, description = ?, status = ?, steps = ?, version = ?, updated_at = ? WHERE id = ?`,
		wf.Name, nullStr(wf.Description), string(wf.Status), steps, wf.Version, wf.UpdatedAt, wf.ID,
	); err != nil {
		return storeErr("update workflow", err)
	}
	if err := insertRevision(ctx, tx, wf); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit workflow", err)
	}
	return nil
}

// FindAll lists workflows, most recently updated first.
func (s *LibSQLStore) FindAll(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := "SELECT " + workflowColumns + " FROM workflows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC" + limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list workflows", err)
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, storeErr("scan workflow", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// FindByName returns the most recently updated workflow with the given name.
func (s *LibSQLStore) FindByName(ctx context.Context, name string) (*schema.Workflow, error) {
	wfs, err := s.FindAll(ctx, WorkflowFilter{Name: name, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(wfs) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow named %q not found", name)
	}
	return wfs[0], nil
}

// FindByStatus lists workflows in the given status.
func (s *LibSQLStore) FindByStatus(ctx context.Context, status schema.WorkflowStatus) ([]*schema.Workflow, error) {
	return s.FindAll(ctx, WorkflowFilter{Status: &status})
}

// Exists reports whether a workflow with id is stored.
func (s *LibSQLStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflows WHERE id = ?`, id).Scan(&n); err != nil {
		return false, storeErr("check workflow", err)
	}
	return n > 0, nil
}

// Delete removes a workflow and its revisions. Executions and events are kept.
func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete workflow", err)
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_revisions WHERE workflow_id = ?`, id); err != nil {
		return storeErr("delete workflow revisions", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit delete", err)
	}
	return nil
}

// WorkflowHistory returns every saved revision of a workflow, oldest first.
func (s *LibSQLStore) WorkflowHistory(ctx context.Context, id string) ([]*WorkflowRevision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, version, definition, created_at FROM workflow_revisions
		 WHERE workflow_id = ? ORDER BY version ASC`, id)
	if err != nil {
		return nil, storeErr("list revisions", err)
	}
	defer rows.Close()

	var revs []*WorkflowRevision
	for rows.Next() {
		rev := &WorkflowRevision{}
		var def string
		if err := rows.Scan(&rev.WorkflowID, &rev.Version, &def, &rev.CreatedAt); err != nil {
			return nil, storeErr("scan revision", err)
		}
		rev.Definition = &schema.Workflow{}
		if err := json.Unmarshal([]byte(def), rev.Definition); err != nil {
			return nil, storeErr("decode revision", err)
		}
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, storeNotFound("workflow", id)
	}
	return revs, nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, wf *schema.Workflow) error {
	def, err := json.Marshal(wf)
	if err != nil {
		return storeErr("encode revision", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_revisions (workflow_id, version, definition, created_at) VALUES (?, ?, ?, ?)`,
		wf.ID, wf.Version, string(def), wf.UpdatedAt,
	); err != nil {
		return storeErr("insert revision", err)
	}
	return nil
}

func marshalSteps(steps []schema.WorkflowStep) (string, error) {
	if len(steps) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "encode steps: %s", err).WithCause(err)
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		desc   sql.NullString
		status string
		steps  string
	)
	if err := row.Scan(&wf.ID, &wf.Name, &desc, &status, &steps, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Description = desc.String
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of %s: %w", wf.ID, err)
	}
	return wf, nil
}
