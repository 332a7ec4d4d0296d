// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture: it depends on nothing
// beyond the decimal type used for money.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Payment Providers ──────────────────────────────────────────────────────

// Provider identifies a payment gateway backend.
type Provider string

const (
	ProviderAuthorizeNet Provider = "authorizenet"
	ProviderUSAePay      Provider = "usaepay"
	ProviderStripe       Provider = "stripe"
	ProviderTilled       Provider = "tilled"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAuthorizeNet, ProviderUSAePay, ProviderStripe, ProviderTilled:
		return true
	}
	return false
}

// PaymentMethod is the unified payment-method enum. Adapters map it to the
// provider's own vocabulary.
type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodACH  PaymentMethod = "ach"
)

// ─── Scheduled Charges ──────────────────────────────────────────────────────

// ChargeStatus is the lifecycle state of a ScheduledCharge.
type ChargeStatus string

const (
	ChargeScheduled           ChargeStatus = "scheduled"
	ChargeSuccessful          ChargeStatus = "successful"
	ChargeFailed              ChargeStatus = "failed"
	ChargeCancelled           ChargeStatus = "cancelled"
	ChargeCreditorRescheduled ChargeStatus = "creditor-rescheduled"
)

// Chargeable reports whether a charge in this status may be sent to a gateway.
// Failed charges stay chargeable so a redelivered job can retry them.
func (s ChargeStatus) Chargeable() bool {
	return s == ChargeScheduled || s == ChargeFailed
}

// TransactionType distinguishes a one-time settlement from an installment.
type TransactionType string

const (
	TxPIF         TransactionType = "one-time"
	TxInstallment TransactionType = "installment"
)

// ScheduledCharge is a due payment obligation awaiting gateway execution.
// It is never deleted, only status-transitioned.
type ScheduledCharge struct {
	ID                     string          `json:"id"`
	CompanyID              string          `json:"company_id"`
	ConsumerID             string          `json:"consumer_id"`
	PaymentProfileID       string          `json:"payment_profile_id"`
	Amount                 decimal.Decimal `json:"amount"`
	RevenueSharePercentage decimal.Decimal `json:"revenue_share_percentage"`
	TransactionType        TransactionType `json:"transaction_type"`
	ScheduleDate           time.Time       `json:"schedule_date"`
	Status                 ChargeStatus    `json:"status"`
	AttemptCount           int             `json:"attempt_count"`
	LastAttemptedAt        *time.Time      `json:"last_attempted_at,omitempty"`
	TransactionID          string          `json:"transaction_id,omitempty"`
}

// FailureEvent returns the first-attempt failure notification for the
// charge's transaction type.
func (c ScheduledCharge) FailureEvent() EventCode {
	if c.TransactionType == TxInstallment {
		return EventPaymentFailedWhenInstallment
	}
	return EventPaymentFailedWhenPIF
}

// ─── Gateway Values ─────────────────────────────────────────────────────────

// MerchantCredentials holds provider-specific keys (login_id, transaction_key,
// api_key, api_pin, secret_key, account_id, ...).
type MerchantCredentials map[string]string

// Get returns the trimmed value for key.
func (m MerchantCredentials) Get(key string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[key])
}

// IdempotencyContext identifies the attempt a ChargeRequest belongs to. It is
// passed to providers as a reference, not as a de-duplication key.
type IdempotencyContext struct {
	ChargeID string
	Attempt  int
}

// ChargeRequest is the provider-neutral charge instruction. Never persisted.
type ChargeRequest struct {
	AmountMinorUnits   int64
	Method             PaymentMethod
	CustomerToken      string
	PaymentMethodToken string
	Credentials        MerchantCredentials
	Idempotency        IdempotencyContext
}

// TransportErrorDetail is the ErrorDetail of a ChargeResult whose request
// never produced a structured provider answer.
const TransportErrorDetail = "transport"

// ChargeResult is the normalized gateway answer. Never persisted as-is.
type ChargeResult struct {
	Success               bool   `json:"success"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
	ProviderStatusCode    string `json:"provider_status_code,omitempty"`
	RawResponse           string `json:"raw_response,omitempty"`
	ErrorDetail           string `json:"error_detail,omitempty"`
}

// TransportFailure builds the result for a timeout, connection error, or a
// non-2xx response without a structured error body.
func TransportFailure(raw string) ChargeResult {
	return ChargeResult{Success: false, RawResponse: raw, ErrorDetail: TransportErrorDetail}
}

// IsTransportFailure reports whether the result came from a transport error.
func (r ChargeResult) IsTransportFailure() bool {
	return !r.Success && r.ErrorDetail == TransportErrorDetail
}

// ─── Transactions ───────────────────────────────────────────────────────────

// TransactionStatus is the outcome recorded for a charge attempt.
type TransactionStatus string

const (
	TransactionSuccessful TransactionStatus = "successful"
	TransactionFailed     TransactionStatus = "failed"
)

// Transaction is created once per ScheduledCharge attempt and is immutable
// afterwards.
type Transaction struct {
	ID                     string            `json:"id"`
	ScheduledChargeID      string            `json:"scheduled_charge_id"`
	CompanyID              string            `json:"company_id"`
	ConsumerID             string            `json:"consumer_id"`
	Provider               Provider          `json:"provider"`
	Amount                 decimal.Decimal   `json:"amount"`
	Status                 TransactionStatus `json:"status"`
	StatusCode             string            `json:"status_code,omitempty"`
	ProviderTransactionID  string            `json:"provider_transaction_id,omitempty"`
	PlatformShare          decimal.Decimal   `json:"platform_share"`
	CompanyShare           decimal.Decimal   `json:"company_share"`
	RevenueSharePercentage decimal.Decimal   `json:"revenue_share_percentage"`
	RawResponse            string            `json:"raw_response,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
}

// ─── Outcomes ───────────────────────────────────────────────────────────────

// OutcomeKind tags the result of one orchestrated charge attempt.
type OutcomeKind string

const (
	OutcomeSucceeded          OutcomeKind = "succeeded"
	OutcomeDeclined           OutcomeKind = "declined"
	OutcomeTransportError     OutcomeKind = "transport_error"
	OutcomePreconditionFailed OutcomeKind = "precondition_failed"
	OutcomeSkipped            OutcomeKind = "skipped"
)
