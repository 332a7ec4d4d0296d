package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// ─── Charge Schema ──────────────────────────────────────────────────────────

func chargeMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS scheduled_charges (
			id                       TEXT PRIMARY KEY,
			company_id               TEXT NOT NULL,
			consumer_id              TEXT NOT NULL,
			payment_profile_id       TEXT NOT NULL,
			amount                   TEXT NOT NULL,
			revenue_share_percentage TEXT NOT NULL DEFAULT '0',
			transaction_type         TEXT NOT NULL,
			schedule_date            TEXT NOT NULL,
			status                   TEXT NOT NULL DEFAULT 'scheduled',
			attempt_count            INTEGER NOT NULL DEFAULT 0,
			last_attempted_at        TEXT,
			transaction_id           TEXT,
			created_at               TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_charges_due ON scheduled_charges(status, schedule_date)`,

		// Transactions are append-only: one row per charge attempt.
		`CREATE TABLE IF NOT EXISTS transactions (
			id                       TEXT PRIMARY KEY,
			scheduled_charge_id      TEXT NOT NULL REFERENCES scheduled_charges(id),
			company_id               TEXT NOT NULL,
			consumer_id              TEXT NOT NULL,
			provider                 TEXT NOT NULL,
			amount                   TEXT NOT NULL,
			status                   TEXT NOT NULL,
			status_code              TEXT,
			provider_transaction_id  TEXT,
			platform_share           TEXT NOT NULL DEFAULT '0',
			company_share            TEXT NOT NULL DEFAULT '0',
			revenue_share_percentage TEXT NOT NULL DEFAULT '0',
			raw_response             TEXT,
			created_at               TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_charge ON transactions(scheduled_charge_id)`,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const chargeColumns = `id, company_id, consumer_id, payment_profile_id, amount,
	revenue_share_percentage, transaction_type, schedule_date, status,
	attempt_count, last_attempted_at, transaction_id`

func scanCharge(s rowScanner) (*domain.ScheduledCharge, error) {
	var (
		c             domain.ScheduledCharge
		scheduleDate  string
		lastAttempted sql.NullString
		transactionID sql.NullString
	)
	err := s.Scan(&c.ID, &c.CompanyID, &c.ConsumerID, &c.PaymentProfileID, &c.Amount,
		&c.RevenueSharePercentage, &c.TransactionType, &scheduleDate, &c.Status,
		&c.AttemptCount, &lastAttempted, &transactionID)
	if err != nil {
		return nil, err
	}
	c.ScheduleDate = parseDate(scheduleDate)
	c.LastAttemptedAt = parseNullTime(lastAttempted)
	c.TransactionID = transactionID.String
	return &c, nil
}

// ─── Charge Operations ──────────────────────────────────────────────────────

// InsertCharge stores a new scheduled charge.
func (d *DB) InsertCharge(ctx context.Context, c domain.ScheduledCharge) error {
	if c.Status == "" {
		c.Status = domain.ChargeScheduled
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO scheduled_charges (id, company_id, consumer_id, payment_profile_id, amount,
			revenue_share_percentage, transaction_type, schedule_date, status, attempt_count,
			last_attempted_at, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CompanyID, c.ConsumerID, c.PaymentProfileID, c.Amount,
		c.RevenueSharePercentage, c.TransactionType, formatDate(c.ScheduleDate), c.Status,
		c.AttemptCount, nullTime(c.LastAttemptedAt), nullString(c.TransactionID))
	if err != nil {
		return fmt.Errorf("insert charge %s: %w", c.ID, err)
	}
	return nil
}

// GetCharge loads a scheduled charge by id.
func (d *DB) GetCharge(ctx context.Context, id string) (*domain.ScheduledCharge, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM scheduled_charges WHERE id = ?`, id)
	c, err := scanCharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChargeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get charge %s: %w", id, err)
	}
	return c, nil
}

// ListDueCharges returns scheduled charges whose date is on or before asOf.
func (d *DB) ListDueCharges(ctx context.Context, asOf time.Time, limit int) ([]domain.ScheduledCharge, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+chargeColumns+` FROM scheduled_charges
		WHERE status = ? AND schedule_date <= ?
		ORDER BY schedule_date, id
		LIMIT ?
	`, domain.ChargeScheduled, formatDate(asOf), limit)
	if err != nil {
		return nil, fmt.Errorf("list due charges: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// BeginAttempt increments attempt_count and stamps last_attempted_at.
func (d *DB) BeginAttempt(ctx context.Context, id string, at time.Time) (*domain.ScheduledCharge, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_charges
		SET attempt_count = attempt_count + 1, last_attempted_at = ?
		WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("begin attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrChargeNotFound
	}
	return d.GetCharge(ctx, id)
}

// RecordAttempt writes the transaction row and then flips the charge status,
// both inside one SQL transaction.
func (d *DB) RecordAttempt(ctx context.Context, t domain.Transaction, status domain.ChargeStatus, link bool) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, scheduled_charge_id, company_id, consumer_id, provider,
				amount, status, status_code, provider_transaction_id, platform_share,
				company_share, revenue_share_percentage, raw_response, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ScheduledChargeID, t.CompanyID, t.ConsumerID, t.Provider,
			t.Amount, t.Status, nullString(t.StatusCode), nullString(t.ProviderTransactionID),
			t.PlatformShare, t.CompanyShare, t.RevenueSharePercentage, nullString(t.RawResponse),
			formatTime(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		query := `UPDATE scheduled_charges SET status = ? WHERE id = ?`
		args := []any{status, t.ScheduledChargeID}
		if link {
			query = `UPDATE scheduled_charges SET status = ?, transaction_id = ? WHERE id = ?`
			args = []any{status, t.ID, t.ScheduledChargeID}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update charge status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrChargeNotFound
		}
		return nil
	})
}

// HoldCharge moves a scheduled or failed charge to failed and resets its
// attempt counter. No transaction row is written.
func (d *DB) HoldCharge(ctx context.Context, id string, attempts int) error {
	return d.transition(ctx, id, `UPDATE scheduled_charges SET status = ?, attempt_count = ? WHERE id = ? AND status IN (?, ?)`,
		domain.ChargeFailed, attempts, id, domain.ChargeScheduled, domain.ChargeFailed)
}

// CancelCharge moves a scheduled charge to cancelled.
func (d *DB) CancelCharge(ctx context.Context, id string) error {
	return d.transition(ctx, id, `UPDATE scheduled_charges SET status = ? WHERE id = ? AND status = ?`,
		domain.ChargeCancelled, id, domain.ChargeScheduled)
}

// RescheduleCharge moves a failed charge back to scheduled on a new date.
func (d *DB) RescheduleCharge(ctx context.Context, id string, date time.Time) error {
	return d.transition(ctx, id, `UPDATE scheduled_charges SET status = ?, schedule_date = ? WHERE id = ? AND status = ?`,
		domain.ChargeScheduled, formatDate(date), id, domain.ChargeFailed)
}

func (d *DB) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition charge %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := d.GetCharge(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

// ─── Transaction Queries ────────────────────────────────────────────────────

const transactionColumns = `id, scheduled_charge_id, company_id, consumer_id, provider, amount,
	status, status_code, provider_transaction_id, platform_share, company_share,
	revenue_share_percentage, raw_response, created_at`

func scanTransaction(s rowScanner) (*domain.Transaction, error) {
	var (
		t          domain.Transaction
		statusCode sql.NullString
		providerID sql.NullString
		raw        sql.NullString
		createdAt  string
	)
	err := s.Scan(&t.ID, &t.ScheduledChargeID, &t.CompanyID, &t.ConsumerID, &t.Provider, &t.Amount,
		&t.Status, &statusCode, &providerID, &t.PlatformShare, &t.CompanyShare,
		&t.RevenueSharePercentage, &raw, &createdAt)
	if err != nil {
		return nil, err
	}
	t.StatusCode = statusCode.String
	t.ProviderTransactionID = providerID.String
	t.RawResponse = raw.String
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// ListTransactions returns every attempt recorded for a charge, oldest first.
func (d *DB) ListTransactions(ctx context.Context, chargeID string) ([]domain.Transaction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE scheduled_charge_id = ?
		ORDER BY created_at, rowid
	`, chargeID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTransaction loads one transaction.
func (d *DB) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, sql.ErrNoRows)
	}
	return t, err
}
