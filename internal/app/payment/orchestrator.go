package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// GatewayResolver maps a provider to its gateway adapter.
type GatewayResolver interface {
	Get(provider domain.Provider) (domain.Gateway, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Charges   domain.ChargeStore
	Payments  domain.PaymentStore
	Consumers domain.ConsumerStore
	Gateways  GatewayResolver
	Notifier  domain.Notifier
	Clock     clockz.Clock
	Log       *zap.Logger
}

// Orchestrator runs the scheduled-payment workflow for one charge.
type Orchestrator struct {
	charges   domain.ChargeStore
	payments  domain.PaymentStore
	consumers domain.ConsumerStore
	gateways  GatewayResolver
	notifier  domain.Notifier
	recorder  *Recorder
	clock     clockz.Clock
	log       *zap.Logger
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clockz.RealClock
	}
	return &Orchestrator{
		charges:   d.Charges,
		payments:  d.Payments,
		consumers: d.Consumers,
		gateways:  d.Gateways,
		notifier:  d.Notifier,
		recorder:  NewRecorder(d.Charges, d.Consumers, d.Clock, d.Log),
		clock:     d.Clock,
		log:       d.Log.Named("payment.orchestrator"),
	}
}

// Outcome describes what one Process call did.
type Outcome struct {
	Kind        domain.OutcomeKind  `json:"kind"`
	ChargeID    string              `json:"charge_id"`
	Attempt     int                 `json:"attempt,omitempty"`
	Provider    domain.Provider     `json:"provider,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	StatusCode  string              `json:"status_code,omitempty"`
	Detail      string              `json:"detail,omitempty"`
	Settled     bool                `json:"settled,omitempty"`
}

// Process charges one scheduled charge.
//
// The returned error follows the job runner's contract: nil for succeeded
// and skipped charges, a domain.Permanent error when redelivery cannot help
// (missing charge, profile, merchant or gateway), and a *domain.PaymentError
// when the gateway declined or could not be reached.
func (o *Orchestrator) Process(ctx context.Context, chargeID string) (Outcome, error) {
	out := Outcome{ChargeID: chargeID}

	charge, err := o.charges.GetCharge(ctx, chargeID)
	if errors.Is(err, domain.ErrChargeNotFound) {
		out.Kind = domain.OutcomePreconditionFailed
		out.Detail = err.Error()
		return out, domain.Permanent(fmt.Errorf("charge %s: %w", chargeID, err))
	}
	if err != nil {
		return out, err
	}

	// Redelivered jobs for charges already settled, cancelled or
	// rescheduled must never reach the gateway.
	if !charge.Status.Chargeable() {
		out.Kind = domain.OutcomeSkipped
		out.Detail = "charge status " + string(charge.Status)
		o.log.Info("charge not chargeable, skipping",
			zap.String("charge_id", chargeID), zap.String("status", string(charge.Status)))
		return out, nil
	}

	consumer, profile, merchant, gw, err := o.resolve(ctx, *charge)
	if err != nil {
		if !isPrecondition(err) {
			return out, err
		}
		return o.hold(ctx, out, *charge, charge.AttemptCount, "none", err)
	}
	out.Provider = profile.Provider

	charge, err = o.charges.BeginAttempt(ctx, chargeID, o.clock.Now())
	if err != nil {
		return out, fmt.Errorf("begin attempt: %w", err)
	}
	out.Attempt = charge.AttemptCount

	req := domain.ChargeRequest{
		AmountMinorUnits:   domain.MinorUnits(charge.Amount),
		Method:             profile.Method,
		CustomerToken:      profile.CustomerToken,
		PaymentMethodToken: profile.PaymentToken,
		Credentials:        merchant.Credentials,
		Idempotency:        domain.IdempotencyContext{ChargeID: charge.ID, Attempt: charge.AttemptCount},
	}
	o.log.Debug("charging",
		zap.String("charge_id", chargeID), zap.String("provider", string(profile.Provider)),
		zap.Int64("amount_minor", req.AmountMinorUnits), observability.Secret("payment_token", profile.PaymentToken))

	result, err := gw.Charge(ctx, req)
	if err != nil {
		// Nothing reached the provider, so the attempt is given back.
		out.Attempt = 0
		return o.hold(ctx, out, *charge, charge.AttemptCount-1, string(profile.Provider), err)
	}

	if result.Success {
		return o.succeeded(ctx, out, *charge, consumer, profile.Provider, result)
	}
	return o.failed(ctx, out, *charge, profile.Provider, result)
}

func (o *Orchestrator) succeeded(ctx context.Context, out Outcome, charge domain.ScheduledCharge, consumer *domain.Consumer, provider domain.Provider, result domain.ChargeResult) (Outcome, error) {
	share := domain.ComputeShare(charge.Amount, charge.RevenueSharePercentage)
	rec, err := o.recorder.RecordSuccess(ctx, charge, provider, result, share)
	if err != nil {
		// The provider has taken the money; a retry would charge twice.
		o.log.Error("charge succeeded at gateway but could not be recorded",
			zap.String("charge_id", charge.ID), zap.String("provider", string(provider)),
			zap.String("provider_transaction_id", result.ProviderTransactionID), zap.Error(err))
		return out, domain.Permanent(err)
	}

	out.Kind = domain.OutcomeSucceeded
	out.Transaction = &rec.Transaction
	out.Settled = rec.Settled
	observability.ChargesProcessed.WithLabelValues(string(provider), string(out.Kind)).Inc()
	observability.PlatformRevenue.Add(share.PlatformShare.InexactFloat64())
	o.log.Info("charge succeeded",
		zap.String("charge_id", charge.ID), zap.String("provider", string(provider)),
		zap.String("transaction_id", rec.Transaction.ID), zap.String("amount", charge.Amount.StringFixed(2)),
		zap.String("platform_share", share.PlatformShare.StringFixed(2)), zap.Bool("settled", rec.Settled))

	if rec.Settled && !consumer.Unsubscribed {
		o.notifier.Notify(ctx, charge.ConsumerID, domain.EventBalancePaid)
	}
	return out, nil
}

func (o *Orchestrator) failed(ctx context.Context, out Outcome, charge domain.ScheduledCharge, provider domain.Provider, result domain.ChargeResult) (Outcome, error) {
	tx, err := o.recorder.RecordFailure(ctx, charge, provider, result)
	if err != nil {
		return out, err
	}

	out.Kind = domain.OutcomeDeclined
	if result.IsTransportFailure() {
		out.Kind = domain.OutcomeTransportError
	}
	out.Transaction = &tx
	out.StatusCode = tx.StatusCode
	out.Detail = result.ErrorDetail
	observability.ChargesProcessed.WithLabelValues(string(provider), string(out.Kind)).Inc()
	o.log.Warn("charge failed",
		zap.String("charge_id", charge.ID), zap.String("provider", string(provider)),
		zap.Int("attempt", charge.AttemptCount), zap.String("kind", string(out.Kind)),
		zap.String("status_code", tx.StatusCode), zap.String("detail", result.ErrorDetail))

	if charge.AttemptCount == 1 {
		o.notifier.Notify(ctx, charge.ConsumerID, charge.FailureEvent())
	}
	return out, &domain.PaymentError{
		ChargeID:   charge.ID,
		Kind:       out.Kind,
		StatusCode: tx.StatusCode,
		Detail:     result.ErrorDetail,
		Attempt:    charge.AttemptCount,
	}
}

// hold parks a charge whose request cannot be built or sent. It moves to
// failed so the sweep stops picking it up; Reschedule brings it back once the
// missing data is fixed.
func (o *Orchestrator) hold(ctx context.Context, out Outcome, charge domain.ScheduledCharge, attempts int, provider string, cause error) (Outcome, error) {
	out.Kind = domain.OutcomePreconditionFailed
	out.Detail = cause.Error()
	observability.ChargesProcessed.WithLabelValues(provider, string(out.Kind)).Inc()
	o.log.Warn("charge precondition failed",
		zap.String("charge_id", charge.ID), zap.String("provider", provider), zap.Error(cause))
	if err := o.charges.HoldCharge(ctx, charge.ID, attempts); err != nil {
		return out, fmt.Errorf("hold charge %s: %w", charge.ID, err)
	}
	return out, domain.Permanent(fmt.Errorf("charge %s: %w", charge.ID, cause))
}

// resolve loads everything needed to build the charge request.
func (o *Orchestrator) resolve(ctx context.Context, charge domain.ScheduledCharge) (*domain.Consumer, *domain.PaymentProfile, *domain.Merchant, domain.Gateway, error) {
	consumer, err := o.consumers.GetConsumer(ctx, charge.ConsumerID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("consumer %s: %w", charge.ConsumerID, err)
	}
	profile, err := o.payments.GetPaymentProfile(ctx, charge.PaymentProfileID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("payment profile %s: %w", charge.PaymentProfileID, err)
	}
	merchant, err := o.payments.GetMerchant(ctx, charge.CompanyID, profile.Provider)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("merchant %s/%s: %w", charge.CompanyID, profile.Provider, err)
	}
	gw, err := o.gateways.Get(profile.Provider)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return consumer, profile, merchant, gw, nil
}

func isPrecondition(err error) bool {
	return errors.Is(err, domain.ErrConsumerNotFound) ||
		errors.Is(err, domain.ErrPaymentProfileMissing) ||
		errors.Is(err, domain.ErrMerchantMissing) ||
		errors.Is(err, domain.ErrProviderNotFound)
}

// Execute adapts Process to the job runner's backend contract.
func (o *Orchestrator) Execute(ctx context.Context, job domain.Job) error {
	_, err := o.Process(ctx, job.Ref)
	return err
}

// ─── External Actions ───────────────────────────────────────────────────────

// Cancel moves a scheduled charge to cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, chargeID string) error {
	if err := o.charges.CancelCharge(ctx, chargeID); err != nil {
		return err
	}
	o.log.Info("charge cancelled", zap.String("charge_id", chargeID))
	return nil
}

// Reschedule moves a failed charge back to scheduled on date.
func (o *Orchestrator) Reschedule(ctx context.Context, chargeID string, date time.Time) error {
	if err := o.charges.RescheduleCharge(ctx, chargeID, date); err != nil {
		return err
	}
	o.log.Info("charge rescheduled", zap.String("charge_id", chargeID), zap.String("date", date.Format(time.DateOnly)))
	return nil
}
