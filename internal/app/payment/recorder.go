// Package payment executes due scheduled charges: it resolves the consumer's
// payment method and merchant credentials, charges through the provider
// gateway, records the attempt and notifies the consumer.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// BalanceStore applies a successful payment to a consumer balance.
type BalanceStore interface {
	ApplyPayment(ctx context.Context, consumerID string, amount decimal.Decimal) (decimal.Decimal, bool, error)
}

// Recorder persists one Transaction per charge attempt and moves the
// scheduled charge to the matching status.
type Recorder struct {
	charges  domain.ChargeStore
	balances BalanceStore
	clock    clockz.Clock
	log      *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(charges domain.ChargeStore, balances BalanceStore, clock clockz.Clock, log *zap.Logger) *Recorder {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Recorder{charges: charges, balances: balances, clock: clock, log: log.Named("payment.recorder")}
}

// Recorded is the result of a recorded success.
type Recorded struct {
	Transaction domain.Transaction
	Remaining   decimal.Decimal
	Settled     bool
}

// RecordSuccess writes a successful transaction carrying the revenue split,
// marks the charge successful and links it, then applies the payment to the
// consumer balance. A balance failure is logged; the charge stays recorded.
func (r *Recorder) RecordSuccess(ctx context.Context, charge domain.ScheduledCharge, provider domain.Provider, result domain.ChargeResult, share domain.RevenueShare) (Recorded, error) {
	tx := r.newTransaction(charge, provider, result)
	tx.Status = domain.TransactionSuccessful
	tx.PlatformShare = share.PlatformShare
	tx.CompanyShare = share.CompanyShare

	if err := r.charges.RecordAttempt(ctx, tx, domain.ChargeSuccessful, true); err != nil {
		return Recorded{}, fmt.Errorf("record success for charge %s: %w", charge.ID, err)
	}
	rec := Recorded{Transaction: tx}

	remaining, settled, err := r.balances.ApplyPayment(ctx, charge.ConsumerID, charge.Amount)
	if err != nil {
		r.log.Error("apply payment to balance",
			zap.String("charge_id", charge.ID), zap.String("consumer_id", charge.ConsumerID), zap.Error(err))
		return rec, nil
	}
	rec.Remaining = remaining
	rec.Settled = settled
	return rec, nil
}

// RecordFailure writes a failed transaction with zero shares and marks the
// charge failed. The charge's transaction link is left untouched.
func (r *Recorder) RecordFailure(ctx context.Context, charge domain.ScheduledCharge, provider domain.Provider, result domain.ChargeResult) (domain.Transaction, error) {
	tx := r.newTransaction(charge, provider, result)
	tx.Status = domain.TransactionFailed
	tx.PlatformShare = decimal.Zero
	tx.CompanyShare = decimal.Zero

	if err := r.charges.RecordAttempt(ctx, tx, domain.ChargeFailed, false); err != nil {
		return tx, fmt.Errorf("record failure for charge %s: %w", charge.ID, err)
	}
	return tx, nil
}

func (r *Recorder) newTransaction(charge domain.ScheduledCharge, provider domain.Provider, result domain.ChargeResult) domain.Transaction {
	return domain.Transaction{
		ID:                     uuid.NewString(),
		ScheduledChargeID:      charge.ID,
		CompanyID:              charge.CompanyID,
		ConsumerID:             charge.ConsumerID,
		Provider:               provider,
		Amount:                 charge.Amount,
		StatusCode:             result.ProviderStatusCode,
		ProviderTransactionID:  result.ProviderTransactionID,
		RevenueSharePercentage: charge.RevenueSharePercentage,
		RawResponse:            result.RawResponse,
		CreatedAt:              r.clock.Now(),
	}
}
