package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// ─── Job Schema ─────────────────────────────────────────────────────────────

func jobMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			ref          TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'QUEUED',
			attempts     INTEGER NOT NULL DEFAULT 0,
			last_error   TEXT,
			created_at   TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
	}
}

// ─── Job Operations ─────────────────────────────────────────────────────────

// InsertJob stores a new job.
func (d *DB) InsertJob(ctx context.Context, j domain.Job) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, ref, status, attempts, last_error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Kind, j.Ref, j.Status, j.Attempts, nullString(j.LastError),
		formatTime(j.CreatedAt), nullTime(j.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

// UpdateJob persists a job's status, attempt count and last error.
func (d *DB) UpdateJob(ctx context.Context, j domain.Job) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = ?, last_error = ?, completed_at = ? WHERE id = ?
	`, j.Status, j.Attempts, nullString(j.LastError), nullTime(j.CompletedAt), j.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// GetJob loads a job by id.
func (d *DB) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var (
		j           domain.Job
		lastErr     sql.NullString
		createdAt   string
		completedAt sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, kind, ref, status, attempts, last_error, created_at, completed_at
		FROM jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.Kind, &j.Ref, &j.Status, &j.Attempts, &lastErr, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	j.LastError = lastErr.String
	j.CreatedAt = parseTime(createdAt)
	j.CompletedAt = parseNullTime(completedAt)
	return &j, nil
}

// CountJobs returns the number of jobs per status.
func (d *DB) CountJobs(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status domain.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
