package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// ─── Import Schema ──────────────────────────────────────────────────────────

func importMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS import_batches (
			id              TEXT PRIMARY KEY,
			company_id      TEXT NOT NULL,
			source_file     TEXT NOT NULL,
			headers         TEXT NOT NULL DEFAULT '[]',
			field_mapping   TEXT NOT NULL DEFAULT '{}',
			date_format     TEXT NOT NULL,
			mode            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			processed_count INTEGER NOT NULL DEFAULT 0,
			failed_count    INTEGER NOT NULL DEFAULT 0,
			failed_file_ref TEXT,
			created_at      TEXT NOT NULL,
			completed_at    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_company ON import_batches(company_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			consumer_id TEXT NOT NULL,
			event       TEXT NOT NULL,
			channel     TEXT NOT NULL,
			sent_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_consumer ON notifications(consumer_id)`,
	}
}

// ─── Batch Operations ───────────────────────────────────────────────────────

// CreateBatch stores a newly accepted upload.
func (d *DB) CreateBatch(ctx context.Context, b domain.ImportBatch) error {
	headers, mapping, err := encodeBatch(b)
	if err != nil {
		return err
	}
	if b.Status == "" {
		b.Status = domain.BatchPending
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO import_batches (id, company_id, source_file, headers, field_mapping, date_format,
			mode, status, processed_count, failed_count, failed_file_ref, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.CompanyID, b.SourceFile, headers, mapping, b.DateFormat, b.Mode, b.Status,
		b.ProcessedCount, b.FailedCount, nullString(b.FailedFileRef), formatTime(b.CreatedAt), nullTime(b.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", b.ID, err)
	}
	return nil
}

// GetBatch loads an import batch by id.
func (d *DB) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	var (
		b                domain.ImportBatch
		headers, mapping string
		failedRef        sql.NullString
		createdAt        string
		completedAt      sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, company_id, source_file, headers, field_mapping, date_format, mode, status,
			processed_count, failed_count, failed_file_ref, created_at, completed_at
		FROM import_batches WHERE id = ?
	`, id).Scan(&b.ID, &b.CompanyID, &b.SourceFile, &headers, &mapping, &b.DateFormat, &b.Mode, &b.Status,
		&b.ProcessedCount, &b.FailedCount, &failedRef, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(headers), &b.Headers); err != nil {
		return nil, fmt.Errorf("decode headers %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(mapping), &b.FieldMapping); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", id, err)
	}
	b.FailedFileRef = failedRef.String
	b.CreatedAt = parseTime(createdAt)
	b.CompletedAt = parseNullTime(completedAt)
	return &b, nil
}

// UpdateBatch persists the mutable fields of a batch: status, counters,
// failed file reference and completion time.
func (d *DB) UpdateBatch(ctx context.Context, b domain.ImportBatch) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE import_batches
		SET status = ?, processed_count = ?, failed_count = ?, failed_file_ref = ?, completed_at = ?
		WHERE id = ?
	`, b.Status, b.ProcessedCount, b.FailedCount, nullString(b.FailedFileRef), nullTime(b.CompletedAt), b.ID)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBatchNotFound
	}
	return nil
}

func encodeBatch(b domain.ImportBatch) (string, string, error) {
	headers := b.Headers
	if headers == nil {
		headers = []string{}
	}
	h, err := json.Marshal(headers)
	if err != nil {
		return "", "", fmt.Errorf("encode headers: %w", err)
	}
	m, err := json.Marshal(b.FieldMapping)
	if err != nil {
		return "", "", fmt.Errorf("encode mapping: %w", err)
	}
	return string(h), string(m), nil
}

// ─── Notification Log ───────────────────────────────────────────────────────

// RecordNotification appends a delivered notification to the log.
func (d *DB) RecordNotification(ctx context.Context, consumerID string, event domain.EventCode, channel domain.Channel) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO notifications (consumer_id, event, channel, sent_at) VALUES (?, ?, ?, ?)
	`, consumerID, event, channel, formatTime(time.Now()))
	return err
}

// NotificationRecord is one row of the notification log.
type NotificationRecord struct {
	ConsumerID string
	Event      domain.EventCode
	Channel    domain.Channel
	SentAt     time.Time
}

// ListNotifications returns the notification log for a consumer, oldest first.
func (d *DB) ListNotifications(ctx context.Context, consumerID string) ([]NotificationRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT consumer_id, event, channel, sent_at FROM notifications
		WHERE consumer_id = ? ORDER BY id
	`, consumerID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var (
			r      NotificationRecord
			sentAt string
		)
		if err := rows.Scan(&r.ConsumerID, &r.Event, &r.Channel, &sentAt); err != nil {
			return nil, err
		}
		r.SentAt = parseTime(sentAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
