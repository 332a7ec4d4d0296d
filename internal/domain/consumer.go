package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Consumer Types ─────────────────────────────────────────────────────────

// ConsumerStatus is the account-level state of a consumer.
type ConsumerStatus string

const (
	ConsumerUploaded     ConsumerStatus = "uploaded"
	ConsumerJoined       ConsumerStatus = "joined"
	ConsumerPaymentSetup ConsumerStatus = "payment_setup"
	ConsumerSettled      ConsumerStatus = "settled"
	ConsumerDeactivated  ConsumerStatus = "deactivated"
)

// Consumer is one debt account held by a creditor company. At most one
// non-deactivated consumer exists per (CompanyID, AccountNumber).
type Consumer struct {
	ID                   string          `json:"id"`
	CompanyID            string          `json:"company_id"`
	AccountNumber        string          `json:"account_number"`
	FirstName            string          `json:"first_name"`
	LastName             string          `json:"last_name"`
	DOB                  time.Time       `json:"dob"`
	Last4SSN             string          `json:"last4ssn"`
	Email                string          `json:"email,omitempty"`
	Mobile               string          `json:"mobile,omitempty"`
	Address1             string          `json:"address1,omitempty"`
	Address2             string          `json:"address2,omitempty"`
	City                 string          `json:"city,omitempty"`
	State                string          `json:"state,omitempty"`
	Zip                  string          `json:"zip,omitempty"`
	OriginalAccountName  string          `json:"original_account_name,omitempty"`
	PlacementDate        *time.Time      `json:"placement_date,omitempty"`
	CurrentBalance       decimal.Decimal `json:"current_balance"`
	PIFDiscountPercent   decimal.Decimal `json:"pif_discount_percent"`
	PPADiscountPercent   decimal.Decimal `json:"ppa_discount_percent"`
	MinMonthlyPayPercent decimal.Decimal `json:"min_monthly_pay_percent"`
	MaxDaysFirstPay      int             `json:"max_days_first_pay"`
	ProfileID            string          `json:"profile_id,omitempty"`
	Status               ConsumerStatus  `json:"status"`
	Unsubscribed         bool            `json:"unsubscribed"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IdentityKey returns the profile de-duplication key.
func (c Consumer) IdentityKey() IdentityKey {
	return NewIdentityKey(c.LastName, c.DOB, c.Last4SSN)
}

// IdentityKey is the (last name, date of birth, last-4-SSN) tuple used to
// share one profile across accounts.
type IdentityKey struct {
	LastName string
	DOB      string
	Last4SSN string
}

// NewIdentityKey normalizes the parts of an identity key.
func NewIdentityKey(lastName string, dob time.Time, last4 string) IdentityKey {
	return IdentityKey{
		LastName: strings.ToLower(strings.TrimSpace(lastName)),
		DOB:      dob.Format(time.DateOnly),
		Last4SSN: strings.TrimSpace(last4),
	}
}

// ConsumerProfile is the person behind one or more consumer accounts.
type ConsumerProfile struct {
	ID              string    `json:"id"`
	LastName        string    `json:"last_name"`
	DOB             time.Time `json:"dob"`
	Last4SSN        string    `json:"last4ssn"`
	Email           string    `json:"email,omitempty"`
	Mobile          string    `json:"mobile,omitempty"`
	EmailPermission bool      `json:"email_permission"`
	TextPermission  bool      `json:"text_permission"`
}

// Company is a creditor using the platform.
type Company struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ConsumerLimit int    `json:"consumer_limit"` // 0 = unlimited
}

// Merchant binds a company to gateway credentials for one provider.
type Merchant struct {
	CompanyID   string              `json:"company_id"`
	Provider    Provider            `json:"provider"`
	Credentials MerchantCredentials `json:"-"`
}

// PaymentProfile is a consumer's stored payment method at a provider.
type PaymentProfile struct {
	ID            string        `json:"id"`
	ConsumerID    string        `json:"consumer_id"`
	Provider      Provider      `json:"provider"`
	Method        PaymentMethod `json:"method"`
	CustomerToken string        `json:"customer_token,omitempty"`
	PaymentToken  string        `json:"-"`
	Last4         string        `json:"last4,omitempty"`
}

// ─── Import Write Sets ──────────────────────────────────────────────────────

// NewConsumer is a validated import row ready for bulk insert. When
// Profile is non-nil it is created alongside the consumer; otherwise the
// consumer links to the existing ProfileID.
type NewConsumer struct {
	Consumer Consumer
	Profile  *ConsumerProfile
}

// ProfileContactUpdate propagates a changed email/mobile to a shared profile.
type ProfileContactUpdate struct {
	ProfileID       string
	Email           *string
	Mobile          *string
	EmailPermission bool
	TextPermission  bool
}

// ConsumerUpdate is a validated update row: the full new consumer state plus
// an optional profile contact propagation.
type ConsumerUpdate struct {
	Consumer Consumer
	Profile  *ProfileContactUpdate
}
