package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainflow-io/chainflow/internal/domain"
)

// ErrDuplicateWorkerProcess signals that a running worker is already
// registered for the same (kind, chain, sequence) partition.
var ErrDuplicateWorkerProcess = errors.New("worker process already running for partition")

// WorkerProcessRepository provides the supervisory registry of running
// consumers. Checked as a startup precondition, not part of routing.
type WorkerProcessRepository struct {
	db *sql.DB
}

func NewWorkerProcessRepository(db *sql.DB) *WorkerProcessRepository {
	return &WorkerProcessRepository{db: db}
}

// Register inserts a running entry for the partition after verifying no other
// running entry holds it.
func (r *WorkerProcessRepository) Register(wp *domain.WorkerProcess) (int64, error) {
	check := `SELECT COUNT(1) FROM worker_processes
		WHERE kind = ` + placeholder(1) + ` AND chain_id = ` + placeholder(2) + `
		AND sequence_number = ` + placeholder(3) + ` AND status = ` + placeholder(4)
	var n int
	if err := r.db.QueryRow(check, wp.Kind, wp.ChainID, wp.SequenceNumber, domain.WorkerProcessRunning).Scan(&n); err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, fmt.Errorf("%s chain %s seq %d: %w", wp.Kind, wp.ChainID, wp.SequenceNumber, ErrDuplicateWorkerProcess)
	}

	now := time.Now()
	if wp.Started.IsZero() {
		wp.Started = now
	}
	if wp.LastActive.IsZero() {
		wp.LastActive = wp.Started
	}
	wp.Status = domain.WorkerProcessRunning
	vals := []interface{}{wp.Kind, wp.ChainID, wp.SequenceNumber, wp.Hostname, wp.Status,
		formatDateInDatabase(wp.Started), formatDateInDatabase(wp.LastActive)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO worker_processes (
		kind, chain_id, sequence_number, hostname, status, started, last_active
	) VALUES (` + strings.Join(pps, ", ") + `)`
	if supportsReturning() {
		query := base + " RETURNING id"
		if err := r.db.QueryRow(query, vals...).Scan(&wp.ID); err != nil {
			return 0, err
		}
		return wp.ID, nil
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	wp.ID = id
	return id, nil
}

// UpdateLastActive is the heartbeat; stale heartbeats are how an external
// supervisor distinguishes crashed workers from live ones.
func (r *WorkerProcessRepository) UpdateLastActive(id int64, ts time.Time) error {
	query := `UPDATE worker_processes SET last_active = ` + placeholder(1) + ` WHERE id = ` + placeholder(2)
	_, err := r.db.Exec(query, formatDateInDatabase(ts), id)
	return err
}

// MarkStopped records a clean exit, releasing the partition.
func (r *WorkerProcessRepository) MarkStopped(id int64) error {
	query := `UPDATE worker_processes SET status = ` + placeholder(1) + `, last_active = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3)
	_, err := r.db.Exec(query, domain.WorkerProcessStopped, formatDateInDatabase(time.Now()), id)
	return err
}

// ReleaseStale flips running entries with heartbeats older than the cutoff to
// stopped, so a crashed worker does not hold its partition forever.
func (r *WorkerProcessRepository) ReleaseStale(cutoff time.Time) (int64, error) {
	query := `UPDATE worker_processes SET status = ` + placeholder(1) + `
		WHERE status = ` + placeholder(2) + ` AND ` + dateBeforeAge("last_active", cutoff)
	res, err := r.db.Exec(query, domain.WorkerProcessStopped, domain.WorkerProcessRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByLastActive lists recent worker processes for the inspection API.
func (r *WorkerProcessRepository) GetByLastActive(limit int) ([]*domain.WorkerProcess, error) {
	query := `SELECT id, kind, chain_id, sequence_number, hostname, status, started, last_active
		FROM worker_processes ORDER BY last_active DESC LIMIT ` + placeholder(1)
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.WorkerProcess
	for rows.Next() {
		var wp domain.WorkerProcess
		if err := rows.Scan(&wp.ID, &wp.Kind, &wp.ChainID, &wp.SequenceNumber,
			&wp.Hostname, &wp.Status, &wp.Started, &wp.LastActive); err != nil {
			return nil, err
		}
		out = append(out, &wp)
	}
	return out, rows.Err()
}
