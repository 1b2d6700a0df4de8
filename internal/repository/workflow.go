package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/chainflow-io/chainflow/internal/domain"
)

const WORKFLOW_COLUMNS = ` id, kind, status, chain_id, unique_hash, request_params, created, modified `

// WorkflowRepository provides persistence for the workflows table, which
// groups all step records of one logical operation and carries the
// idempotency hash checked at creation time.
type WorkflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Save(wf *domain.Workflow) (int64, error) {
	now := time.Now()
	if wf.Created.IsZero() {
		wf.Created = now
	}
	if wf.Modified.IsZero() {
		wf.Modified = now
	}
	vals := []interface{}{wf.Kind, wf.Status, wf.ChainID, wf.UniqueHash, wf.RequestParams,
		formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Modified)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflows (
		kind, status, chain_id, unique_hash, request_params, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`
	if supportsReturning() {
		query := base + " RETURNING id"
		if err := r.db.QueryRow(query, vals...).Scan(&wf.ID); err != nil {
			return 0, err
		}
		return wf.ID, nil
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	wf.ID = id
	return id, nil
}

func (r *WorkflowRepository) FindByID(id int64) (*domain.Workflow, error) {
	query := `SELECT` + WORKFLOW_COLUMNS + `FROM workflows WHERE id = ` + placeholder(1)
	var wf domain.Workflow
	err := r.db.QueryRow(query, id).Scan(
		&wf.ID,
		&wf.Kind,
		&wf.Status,
		&wf.ChainID,
		&wf.UniqueHash,
		&wf.RequestParams,
		&wf.Created,
		&wf.Modified,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// FindActiveByUniqueHash returns the non-terminal workflow with the given
// kind and fingerprint, or nil when none exists. Backing query for the
// idempotency guard.
func (r *WorkflowRepository) FindActiveByUniqueHash(kind string, hash string) (*domain.Workflow, error) {
	query := `SELECT` + WORKFLOW_COLUMNS + `FROM workflows
		WHERE kind = ` + placeholder(1) + ` AND unique_hash = ` + placeholder(2) + ` AND status = ` + placeholder(3)
	var wf domain.Workflow
	err := r.db.QueryRow(query, kind, hash, domain.WorkflowStatusActive).Scan(
		&wf.ID,
		&wf.Kind,
		&wf.Status,
		&wf.ChainID,
		&wf.UniqueHash,
		&wf.RequestParams,
		&wf.Created,
		&wf.Modified,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// UpdateStatus flips the workflow to a terminal status. Only an active
// workflow may terminate; a second terminal flip affects zero rows, which
// keeps re-delivered terminal steps harmless.
func (r *WorkflowRepository) UpdateStatus(id int64, status string) error {
	query := `UPDATE workflows SET status = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = ` + placeholder(4)
	_, err := r.db.Exec(query, status, formatDateInDatabase(time.Now()), id, domain.WorkflowStatusActive)
	return err
}

// SearchByStatus lists workflows in the given status ordered by most recent,
// used by the HTTP inspection API.
func (r *WorkflowRepository) SearchByStatus(status string, limit int) ([]*domain.Workflow, error) {
	query := `SELECT` + WORKFLOW_COLUMNS + `FROM workflows
		WHERE status = ` + placeholder(1) + ` ORDER BY modified DESC LIMIT ` + placeholder(2)
	rows, err := r.db.Query(query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		if err := rows.Scan(&wf.ID, &wf.Kind, &wf.Status, &wf.ChainID, &wf.UniqueHash,
			&wf.RequestParams, &wf.Created, &wf.Modified); err != nil {
			return nil, err
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}
