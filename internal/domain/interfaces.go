package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Gateway charges a stored payment method at one provider.
type Gateway interface {
	Provider() Provider

	// Charge sends req to the provider. Every provider answer, including
	// declines and transport failures, is reported through ChargeResult. The
	// error return is reserved for requests that cannot be sent at all, such
	// as incomplete credentials.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Notifier is the fire-and-forget notification boundary.
type Notifier interface {
	Notify(ctx context.Context, consumerID string, event EventCode)
}

// DeactivationNotifier receives each flushed batch of deactivated consumers.
type DeactivationNotifier interface {
	NotifyDeactivated(ctx context.Context, consumerIDs []string)
}

// ChargeStore persists scheduled charges and their transactions.
type ChargeStore interface {
	GetCharge(ctx context.Context, id string) (*ScheduledCharge, error)
	ListDueCharges(ctx context.Context, asOf time.Time, limit int) ([]ScheduledCharge, error)

	// BeginAttempt increments the attempt counter and stamps the attempt time.
	BeginAttempt(ctx context.Context, id string, at time.Time) (*ScheduledCharge, error)

	// RecordAttempt durably writes tx and only then moves the charge to status.
	// When link is set the charge's transaction id is set to tx.ID.
	RecordAttempt(ctx context.Context, tx Transaction, status ChargeStatus, link bool) error

	// HoldCharge moves a chargeable charge to failed without a transaction
	// and sets its attempt counter to attempts.
	HoldCharge(ctx context.Context, id string, attempts int) error

	CancelCharge(ctx context.Context, id string) error
	RescheduleCharge(ctx context.Context, id string, date time.Time) error
	ListTransactions(ctx context.Context, chargeID string) ([]Transaction, error)
}

// PaymentStore resolves the data needed to build a ChargeRequest.
type PaymentStore interface {
	GetPaymentProfile(ctx context.Context, id string) (*PaymentProfile, error)
	GetMerchant(ctx context.Context, companyID string, provider Provider) (*Merchant, error)
}

// ConsumerStore persists consumer accounts and their shared profiles.
type ConsumerStore interface {
	GetConsumer(ctx context.Context, id string) (*Consumer, error)
	GetCompany(ctx context.Context, id string) (*Company, error)
	GetProfile(ctx context.Context, id string) (*ConsumerProfile, error)
	GetContact(ctx context.Context, consumerID string) (Contact, error)

	// FindConsumerByAccount prefers the non-deactivated record; it falls back
	// to the most recently deactivated one.
	FindConsumerByAccount(ctx context.Context, companyID, accountNumber string) (*Consumer, error)
	FindProfileByIdentity(ctx context.Context, key IdentityKey) (*ConsumerProfile, error)
	CountActiveConsumers(ctx context.Context, companyID string) (int, error)

	CreateConsumers(ctx context.Context, rows []NewConsumer) error
	UpdateConsumers(ctx context.Context, rows []ConsumerUpdate) error
	DeactivateConsumers(ctx context.Context, ids []string) error

	// ApplyPayment reduces the consumer's balance and reports whether it
	// reached zero.
	ApplyPayment(ctx context.Context, consumerID string, amount decimal.Decimal) (remaining decimal.Decimal, settled bool, err error)
}

// ImportStore persists import batches.
type ImportStore interface {
	CreateBatch(ctx context.Context, b ImportBatch) error
	GetBatch(ctx context.Context, id string) (*ImportBatch, error)
	UpdateBatch(ctx context.Context, b ImportBatch) error
}

// JobStore persists job lifecycle state.
type JobStore interface {
	InsertJob(ctx context.Context, j Job) error
	UpdateJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
}

// NotificationLog records delivered notifications.
type NotificationLog interface {
	RecordNotification(ctx context.Context, consumerID string, event EventCode, channel Channel) error
}
