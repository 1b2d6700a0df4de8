package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainflow-io/chainflow/internal/domain"
)

// ErrStaleTransition signals that a status transition found the record not in
// the expected prior status. Safe to treat as a no-op on re-delivery; exactly
// one of two racing workers observes it.
var ErrStaleTransition = errors.New("stale step status transition")

// ErrMissingAncestor signals that a required ancestor kind has no completed
// record in the workflow yet. Callers back off and retry within a bound.
var ErrMissingAncestor = errors.New("ancestor step not completed")

const STEP_COLUMNS = ` id, workflow_id, kind, parent_id, status, retry_count,
		request_params, response_data, debug_params, created, modified `

// WorkflowStepRepository provides persistence for workflow_steps rows.
// Status transitions are single-row compare-and-swap updates keyed on the
// expected prior status so concurrent broker re-delivery stays safe.
type WorkflowStepRepository struct {
	db *sql.DB
}

func NewWorkflowStepRepository(db *sql.DB) *WorkflowStepRepository {
	return &WorkflowStepRepository{db: db}
}

func (r *WorkflowStepRepository) Save(step *domain.WorkflowStep) (int64, error) {
	now := time.Now()
	if step.Created.IsZero() {
		step.Created = now
	}
	if step.Modified.IsZero() {
		step.Modified = now
	}
	vals := []interface{}{step.WorkflowID, step.Kind, step.ParentID, step.Status, step.RetryCount,
		step.RequestParams, step.ResponseData, step.DebugParams,
		formatDateInDatabase(step.Created), formatDateInDatabase(step.Modified)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_steps (
		workflow_id, kind, parent_id, status, retry_count,
		request_params, response_data, debug_params, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`
	if supportsReturning() {
		query := base + " RETURNING id"
		if err := r.db.QueryRow(query, vals...).Scan(&step.ID); err != nil {
			return 0, err
		}
		return step.ID, nil
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	step.ID = id
	return id, nil
}

func (r *WorkflowStepRepository) FindByID(id int64) (*domain.WorkflowStep, error) {
	query := `SELECT` + STEP_COLUMNS + `FROM workflow_steps WHERE id = ` + placeholder(1)
	var step domain.WorkflowStep
	err := r.db.QueryRow(query, id).Scan(
		&step.ID,
		&step.WorkflowID,
		&step.Kind,
		&step.ParentID,
		&step.Status,
		&step.RetryCount,
		&step.RequestParams,
		&step.ResponseData,
		&step.DebugParams,
		&step.Created,
		&step.Modified,
	)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *WorkflowStepRepository) FindAllByWorkflowID(workflowID int64) ([]*domain.WorkflowStep, error) {
	query := `SELECT` + STEP_COLUMNS + `FROM workflow_steps
		WHERE workflow_id = ` + placeholder(1) + ` ORDER BY id ASC`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSteps(rows)
}

// ExistsByKind reports whether any record of the given kind exists in the
// workflow. Used to dedupe fan-in children: each kind occurs at most once per
// workflow, so the first completing parent creates the join step and the
// rest skip it.
func (r *WorkflowStepRepository) ExistsByKind(workflowID int64, kind string) (bool, error) {
	query := `SELECT COUNT(1) FROM workflow_steps
		WHERE workflow_id = ` + placeholder(1) + ` AND kind = ` + placeholder(2)
	var n int
	if err := r.db.QueryRow(query, workflowID, kind).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkInProgress claims a queued record. Exactly one of two racing workers
// succeeds; the other gets ErrStaleTransition.
func (r *WorkflowStepRepository) MarkInProgress(id int64) error {
	return r.transition(id, domain.StepStatusQueued, domain.StepStatusInProgress, nil, nil)
}

func (r *WorkflowStepRepository) MarkCompleted(id int64, responseData sql.NullString) error {
	return r.transition(id, domain.StepStatusInProgress, domain.StepStatusCompleted, &responseData, nil)
}

func (r *WorkflowStepRepository) MarkFailed(id int64, debugParams sql.NullString) error {
	return r.transition(id, domain.StepStatusInProgress, domain.StepStatusFailed, nil, &debugParams)
}

func (r *WorkflowStepRepository) transition(id int64, from string, to string, responseData *sql.NullString, debugParams *sql.NullString) error {
	set := []string{"status = " + placeholder(1), "modified = " + placeholder(2)}
	vals := []interface{}{to, formatDateInDatabase(time.Now())}
	idx := 3
	if responseData != nil {
		set = append(set, "response_data = "+placeholder(idx))
		vals = append(vals, *responseData)
		idx++
	}
	if debugParams != nil {
		set = append(set, "debug_params = "+placeholder(idx))
		vals = append(vals, *debugParams)
		idx++
	}
	query := `UPDATE workflow_steps SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(idx) + ` AND status = ` + placeholder(idx+1)
	vals = append(vals, id, from)
	res, err := r.db.Exec(query, vals...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("step %d %s -> %s: %w", id, from, to, ErrStaleTransition)
	}
	return nil
}

// IncrementRetryCount bumps the retry counter of an inProgress record and
// returns the new value. The counter lives on the row so pending retries
// survive worker restarts.
func (r *WorkflowStepRepository) IncrementRetryCount(id int64) (int, error) {
	query := `UPDATE workflow_steps SET retry_count = retry_count + 1, modified = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2)
	if _, err := r.db.Exec(query, formatDateInDatabase(time.Now()), id); err != nil {
		return 0, err
	}
	var count int
	sel := `SELECT retry_count FROM workflow_steps WHERE id = ` + placeholder(1)
	if err := r.db.QueryRow(sel, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FetchAncestorData returns the response data of the completed record of each
// requested kind within the workflow. Any kind without a completed record
// yields ErrMissingAncestor.
func (r *WorkflowStepRepository) FetchAncestorData(workflowID int64, kinds []string) (map[string]sql.NullString, error) {
	out := make(map[string]sql.NullString, len(kinds))
	if len(kinds) == 0 {
		return out, nil
	}
	pps := make([]string, 0, len(kinds))
	vals := []interface{}{workflowID, domain.StepStatusCompleted}
	for i, kind := range kinds {
		pps = append(pps, placeholder(i+3))
		vals = append(vals, kind)
	}
	query := `SELECT kind, response_data FROM workflow_steps
		WHERE workflow_id = ` + placeholder(1) + ` AND status = ` + placeholder(2) + `
		AND kind IN (` + strings.Join(pps, ", ") + `)`
	rows, err := r.db.Query(query, vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var data sql.NullString
		if err := rows.Scan(&kind, &data); err != nil {
			return nil, err
		}
		out[kind] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, kind := range kinds {
		if _, ok := out[kind]; !ok {
			return nil, fmt.Errorf("workflow %d kind %s: %w", workflowID, kind, ErrMissingAncestor)
		}
	}
	return out, nil
}

// FindStale lists inProgress records older than the cutoff, for operator
// visibility into stuck workflows. Read-only; repair is publishing a new
// message, never mutating history.
func (r *WorkflowStepRepository) FindStale(cutoff time.Time, limit int) ([]*domain.WorkflowStep, error) {
	query := `SELECT` + STEP_COLUMNS + `FROM workflow_steps
		WHERE status = ` + placeholder(1) + ` AND ` + dateBeforeAge("modified", cutoff) + `
		ORDER BY modified ASC LIMIT ` + placeholder(2)
	rows, err := r.db.Query(query, domain.StepStatusInProgress, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSteps(rows)
}

func scanSteps(rows *sql.Rows) ([]*domain.WorkflowStep, error) {
	var out []*domain.WorkflowStep
	for rows.Next() {
		var step domain.WorkflowStep
		if err := rows.Scan(
			&step.ID,
			&step.WorkflowID,
			&step.Kind,
			&step.ParentID,
			&step.Status,
			&step.RetryCount,
			&step.RequestParams,
			&step.ResponseData,
			&step.DebugParams,
			&step.Created,
			&step.Modified,
		); err != nil {
			return nil, err
		}
		out = append(out, &step)
	}
	return out, rows.Err()
}
