package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// ─── Consumer Schema ────────────────────────────────────────────────────────

func consumerMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			consumer_limit INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS consumer_profiles (
			id               TEXT PRIMARY KEY,
			last_name        TEXT NOT NULL,
			dob              TEXT NOT NULL,
			last4ssn         TEXT NOT NULL,
			email            TEXT,
			mobile           TEXT,
			email_permission INTEGER NOT NULL DEFAULT 0,
			text_permission  INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS consumers (
			id                      TEXT PRIMARY KEY,
			company_id              TEXT NOT NULL,
			account_number          TEXT NOT NULL,
			first_name              TEXT NOT NULL DEFAULT '',
			last_name               TEXT NOT NULL,
			last_name_key           TEXT NOT NULL,
			dob                     TEXT NOT NULL,
			last4ssn                TEXT NOT NULL,
			email                   TEXT,
			mobile                  TEXT,
			address1                TEXT,
			address2                TEXT,
			city                    TEXT,
			state                   TEXT,
			zip                     TEXT,
			original_account_name   TEXT,
			placement_date          TEXT,
			current_balance         TEXT NOT NULL DEFAULT '0',
			pif_discount_percent    TEXT NOT NULL DEFAULT '0',
			ppa_discount_percent    TEXT NOT NULL DEFAULT '0',
			min_monthly_pay_percent TEXT NOT NULL DEFAULT '0',
			max_days_first_pay      INTEGER NOT NULL DEFAULT 0,
			profile_id              TEXT REFERENCES consumer_profiles(id),
			status                  TEXT NOT NULL DEFAULT 'uploaded',
			unsubscribed            INTEGER NOT NULL DEFAULT 0,
			created_at              TEXT NOT NULL,
			updated_at              TEXT NOT NULL
		)`,
		// One live account per company/account number; deactivated rows are history.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_consumers_live_account
			ON consumers(company_id, account_number) WHERE status != 'deactivated'`,
		`CREATE INDEX IF NOT EXISTS idx_consumers_identity ON consumers(last_name_key, dob, last4ssn)`,

		`CREATE TABLE IF NOT EXISTS merchants (
			company_id  TEXT NOT NULL,
			provider    TEXT NOT NULL,
			credentials TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (company_id, provider)
		)`,

		`CREATE TABLE IF NOT EXISTS payment_profiles (
			id             TEXT PRIMARY KEY,
			consumer_id    TEXT NOT NULL,
			provider       TEXT NOT NULL,
			method         TEXT NOT NULL,
			customer_token TEXT,
			payment_token  TEXT NOT NULL,
			last4          TEXT
		)`,
	}
}

// ─── Companies, Merchants, Payment Profiles ─────────────────────────────────

// UpsertCompany inserts or updates a company.
func (d *DB) UpsertCompany(ctx context.Context, c domain.Company) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, consumer_limit) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, consumer_limit = excluded.consumer_limit
	`, c.ID, c.Name, c.ConsumerLimit)
	return err
}

// GetCompany loads a company by id.
func (d *DB) GetCompany(ctx context.Context, id string) (*domain.Company, error) {
	var c domain.Company
	err := d.db.QueryRowContext(ctx, `SELECT id, name, consumer_limit FROM companies WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.ConsumerLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company %s: %w", id, err)
	}
	return &c, nil
}

// UpsertMerchant stores gateway credentials for a company and provider.
func (d *DB) UpsertMerchant(ctx context.Context, m domain.Merchant) error {
	creds, err := json.Marshal(m.Credentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO merchants (company_id, provider, credentials) VALUES (?, ?, ?)
		ON CONFLICT(company_id, provider) DO UPDATE SET credentials = excluded.credentials
	`, m.CompanyID, m.Provider, string(creds))
	return err
}

// GetMerchant loads the credentials a company uses at provider.
func (d *DB) GetMerchant(ctx context.Context, companyID string, provider domain.Provider) (*domain.Merchant, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, `SELECT credentials FROM merchants WHERE company_id = ? AND provider = ?`,
		companyID, provider).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMerchantMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant %s/%s: %w", companyID, provider, err)
	}
	m := domain.Merchant{CompanyID: companyID, Provider: provider}
	if err := json.Unmarshal([]byte(raw), &m.Credentials); err != nil {
		return nil, fmt.Errorf("decode credentials %s/%s: %w", companyID, provider, err)
	}
	return &m, nil
}

// UpsertPaymentProfile stores a consumer's payment method.
func (d *DB) UpsertPaymentProfile(ctx context.Context, p domain.PaymentProfile) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO payment_profiles (id, consumer_id, provider, method, customer_token, payment_token, last4)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider       = excluded.provider,
			method         = excluded.method,
			customer_token = excluded.customer_token,
			payment_token  = excluded.payment_token,
			last4          = excluded.last4
	`, p.ID, p.ConsumerID, p.Provider, p.Method, nullString(p.CustomerToken), p.PaymentToken, nullString(p.Last4))
	return err
}

// GetPaymentProfile loads a payment profile by id.
func (d *DB) GetPaymentProfile(ctx context.Context, id string) (*domain.PaymentProfile, error) {
	var (
		p        domain.PaymentProfile
		customer sql.NullString
		last4    sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, consumer_id, provider, method, customer_token, payment_token, last4
		FROM payment_profiles WHERE id = ?
	`, id).Scan(&p.ID, &p.ConsumerID, &p.Provider, &p.Method, &customer, &p.PaymentToken, &last4)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentProfileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("get payment profile %s: %w", id, err)
	}
	p.CustomerToken = customer.String
	p.Last4 = last4.String
	return &p, nil
}

// ─── Consumer Queries ───────────────────────────────────────────────────────

const consumerColumns = `id, company_id, account_number, first_name, last_name, dob, last4ssn,
	email, mobile, address1, address2, city, state, zip, original_account_name,
	placement_date, current_balance, pif_discount_percent, ppa_discount_percent,
	min_monthly_pay_percent, max_days_first_pay, profile_id, status, unsubscribed,
	created_at, updated_at`

func scanConsumer(s rowScanner) (*domain.Consumer, error) {
	var (
		c                         domain.Consumer
		dob, createdAt, updatedAt string
		email, mobile             sql.NullString
		addr1, addr2              sql.NullString
		city, state, zip          sql.NullString
		originalName, placement   sql.NullString
		profileID                 sql.NullString
		unsubscribed              int
	)
	err := s.Scan(&c.ID, &c.CompanyID, &c.AccountNumber, &c.FirstName, &c.LastName, &dob, &c.Last4SSN,
		&email, &mobile, &addr1, &addr2, &city, &state, &zip, &originalName,
		&placement, &c.CurrentBalance, &c.PIFDiscountPercent, &c.PPADiscountPercent,
		&c.MinMonthlyPayPercent, &c.MaxDaysFirstPay, &profileID, &c.Status, &unsubscribed,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.DOB = parseDate(dob)
	c.Email = email.String
	c.Mobile = mobile.String
	c.Address1 = addr1.String
	c.Address2 = addr2.String
	c.City = city.String
	c.State = state.String
	c.Zip = zip.String
	c.OriginalAccountName = originalName.String
	c.PlacementDate = parseNullDate(placement)
	c.ProfileID = profileID.String
	c.Unsubscribed = unsubscribed == 1
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// GetConsumer loads a consumer by id.
func (d *DB) GetConsumer(ctx context.Context, id string) (*domain.Consumer, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+consumerColumns+` FROM consumers WHERE id = ?`, id)
	c, err := scanConsumer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConsumerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consumer %s: %w", id, err)
	}
	return c, nil
}

// FindConsumerByAccount returns the live account for (company, account number),
// or the most recently deactivated one when no live account exists.
func (d *DB) FindConsumerByAccount(ctx context.Context, companyID, accountNumber string) (*domain.Consumer, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+consumerColumns+` FROM consumers
		WHERE company_id = ? AND account_number = ?
		ORDER BY CASE WHEN status = 'deactivated' THEN 1 ELSE 0 END, updated_at DESC
		LIMIT 1
	`, companyID, accountNumber)
	c, err := scanConsumer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConsumerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find consumer %s/%s: %w", companyID, accountNumber, err)
	}
	return c, nil
}

// CountActiveConsumers counts a company's non-deactivated consumers.
func (d *DB) CountActiveConsumers(ctx context.Context, companyID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM consumers WHERE company_id = ? AND status != 'deactivated'
	`, companyID).Scan(&n)
	return n, err
}

// ─── Profiles ───────────────────────────────────────────────────────────────

const profileColumns = `id, last_name, dob, last4ssn, email, mobile, email_permission, text_permission`

func scanProfile(s rowScanner) (*domain.ConsumerProfile, error) {
	var (
		p             domain.ConsumerProfile
		dob           string
		email, mobile sql.NullString
		ep, tp        int
	)
	if err := s.Scan(&p.ID, &p.LastName, &dob, &p.Last4SSN, &email, &mobile, &ep, &tp); err != nil {
		return nil, err
	}
	p.DOB = parseDate(dob)
	p.Email = email.String
	p.Mobile = mobile.String
	p.EmailPermission = ep == 1
	p.TextPermission = tp == 1
	return &p, nil
}

// GetProfile loads a consumer profile by id.
func (d *DB) GetProfile(ctx context.Context, id string) (*domain.ConsumerProfile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM consumer_profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConsumerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return p, nil
}

// FindProfileByIdentity returns the profile of any consumer sharing the
// identity key, or nil when no such consumer has a profile.
func (d *DB) FindProfileByIdentity(ctx context.Context, key domain.IdentityKey) (*domain.ConsumerProfile, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT p.id, p.last_name, p.dob, p.last4ssn, p.email, p.mobile, p.email_permission, p.text_permission
		FROM consumers c
		JOIN consumer_profiles p ON p.id = c.profile_id
		WHERE c.last_name_key = ? AND c.dob = ? AND c.last4ssn = ? AND c.profile_id IS NOT NULL
		ORDER BY c.created_at
		LIMIT 1
	`, key.LastName, key.DOB, key.Last4SSN)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile by identity: %w", err)
	}
	return p, nil
}

// GetContact joins a consumer with its profile for notification routing.
// Account-level contact values win over profile-level ones.
func (d *DB) GetContact(ctx context.Context, consumerID string) (domain.Contact, error) {
	c, err := d.GetConsumer(ctx, consumerID)
	if err != nil {
		return domain.Contact{}, err
	}
	contact := domain.Contact{
		ConsumerID:   c.ID,
		FirstName:    c.FirstName,
		Email:        c.Email,
		Mobile:       c.Mobile,
		Unsubscribed: c.Unsubscribed,
	}
	if c.ProfileID == "" {
		return contact, nil
	}
	p, err := d.GetProfile(ctx, c.ProfileID)
	if err != nil {
		return domain.Contact{}, err
	}
	if contact.Email == "" {
		contact.Email = p.Email
	}
	if contact.Mobile == "" {
		contact.Mobile = p.Mobile
	}
	contact.EmailPermission = p.EmailPermission
	contact.TextPermission = p.TextPermission
	return contact, nil
}

// ─── Bulk Writes ────────────────────────────────────────────────────────────

// CreateConsumers inserts a batch of consumers (and any new profiles) in one
// transaction.
func (d *DB) CreateConsumers(ctx context.Context, rows []domain.NewConsumer) error {
	if len(rows) == 0 {
		return nil
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if p := r.Profile; p != nil {
				if err := insertProfile(ctx, tx, *p); err != nil {
					return err
				}
			}
			if err := insertConsumer(ctx, tx, r.Consumer); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertConsumer stores a single consumer outside of an import.
func (d *DB) InsertConsumer(ctx context.Context, c domain.Consumer) error {
	return d.withTx(ctx, func(tx *sql.Tx) error { return insertConsumer(ctx, tx, c) })
}

// InsertProfile stores a single profile outside of an import.
func (d *DB) InsertProfile(ctx context.Context, p domain.ConsumerProfile) error {
	return d.withTx(ctx, func(tx *sql.Tx) error { return insertProfile(ctx, tx, p) })
}

func insertProfile(ctx context.Context, tx *sql.Tx, p domain.ConsumerProfile) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO consumer_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.LastName, formatDate(p.DOB), p.Last4SSN, nullString(p.Email), nullString(p.Mobile),
		boolInt(p.EmailPermission), boolInt(p.TextPermission))
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", p.ID, err)
	}
	return nil
}

func insertConsumer(ctx context.Context, tx *sql.Tx, c domain.Consumer) error {
	if c.Status == "" {
		c.Status = domain.ConsumerUploaded
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO consumers (id, company_id, account_number, first_name, last_name, last_name_key,
			dob, last4ssn, email, mobile, address1, address2, city, state, zip,
			original_account_name, placement_date, current_balance, pif_discount_percent,
			ppa_discount_percent, min_monthly_pay_percent, max_days_first_pay, profile_id,
			status, unsubscribed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CompanyID, c.AccountNumber, c.FirstName, c.LastName, strings.ToLower(strings.TrimSpace(c.LastName)),
		formatDate(c.DOB), c.Last4SSN, nullString(c.Email), nullString(c.Mobile), nullString(c.Address1),
		nullString(c.Address2), nullString(c.City), nullString(c.State), nullString(c.Zip),
		nullString(c.OriginalAccountName), nullDate(c.PlacementDate), c.CurrentBalance, c.PIFDiscountPercent,
		c.PPADiscountPercent, c.MinMonthlyPayPercent, c.MaxDaysFirstPay, nullString(c.ProfileID),
		c.Status, boolInt(c.Unsubscribed), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert consumer %s: %w", c.AccountNumber, err)
	}
	return nil
}

// UpdateConsumers writes a batch of full consumer states and propagates
// profile contact changes in one transaction.
func (d *DB) UpdateConsumers(ctx context.Context, rows []domain.ConsumerUpdate) error {
	if len(rows) == 0 {
		return nil
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			c := r.Consumer
			_, err := tx.ExecContext(ctx, `
				UPDATE consumers SET
					first_name = ?, last_name = ?, last_name_key = ?, dob = ?, last4ssn = ?,
					email = ?, mobile = ?, address1 = ?, address2 = ?, city = ?, state = ?, zip = ?,
					original_account_name = ?, placement_date = ?, current_balance = ?,
					pif_discount_percent = ?, ppa_discount_percent = ?, min_monthly_pay_percent = ?,
					max_days_first_pay = ?, updated_at = ?
				WHERE id = ?
			`, c.FirstName, c.LastName, strings.ToLower(strings.TrimSpace(c.LastName)), formatDate(c.DOB), c.Last4SSN,
				nullString(c.Email), nullString(c.Mobile), nullString(c.Address1), nullString(c.Address2),
				nullString(c.City), nullString(c.State), nullString(c.Zip),
				nullString(c.OriginalAccountName), nullDate(c.PlacementDate), c.CurrentBalance,
				c.PIFDiscountPercent, c.PPADiscountPercent, c.MinMonthlyPayPercent,
				c.MaxDaysFirstPay, formatTime(c.UpdatedAt), c.ID)
			if err != nil {
				return fmt.Errorf("update consumer %s: %w", c.ID, err)
			}
			if p := r.Profile; p != nil {
				if err := updateProfileContact(ctx, tx, *p); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func updateProfileContact(ctx context.Context, tx *sql.Tx, p domain.ProfileContactUpdate) error {
	if p.Email != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE consumer_profiles SET email = ?, email_permission = ? WHERE id = ?
		`, nullString(*p.Email), boolInt(p.EmailPermission), p.ProfileID); err != nil {
			return fmt.Errorf("update profile email %s: %w", p.ProfileID, err)
		}
	}
	if p.Mobile != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE consumer_profiles SET mobile = ?, text_permission = ? WHERE id = ?
		`, nullString(*p.Mobile), boolInt(p.TextPermission), p.ProfileID); err != nil {
			return fmt.Errorf("update profile mobile %s: %w", p.ProfileID, err)
		}
	}
	return nil
}

// DeactivateConsumers marks a batch of consumers deactivated.
func (d *DB) DeactivateConsumers(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := formatTime(time.Now())
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE consumers SET status = 'deactivated', updated_at = ? WHERE id = ?
			`, now, id); err != nil {
				return fmt.Errorf("deactivate consumer %s: %w", id, err)
			}
		}
		return nil
	})
}

// ApplyPayment subtracts amount from the consumer's balance. A balance at or
// below zero settles the account.
func (d *DB) ApplyPayment(ctx context.Context, consumerID string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	var (
		remaining decimal.Decimal
		settled   bool
	)
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var balance decimal.Decimal
		err := tx.QueryRowContext(ctx, `SELECT current_balance FROM consumers WHERE id = ?`, consumerID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrConsumerNotFound
		}
		if err != nil {
			return fmt.Errorf("read balance %s: %w", consumerID, err)
		}
		remaining = balance.Sub(amount)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		settled = remaining.IsZero()

		query := `UPDATE consumers SET current_balance = ?, updated_at = ? WHERE id = ?`
		args := []any{remaining, formatTime(time.Now()), consumerID}
		if settled {
			query = `UPDATE consumers SET current_balance = ?, status = ?, updated_at = ? WHERE id = ?`
			args = []any{remaining, domain.ConsumerSettled, formatTime(time.Now()), consumerID}
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	return remaining, settled, err
}
