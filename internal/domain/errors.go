package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Charge errors
	ErrChargeNotFound        = errors.New("scheduled charge not found")
	ErrInvalidTransition     = errors.New("scheduled charge status does not allow this transition")
	ErrPaymentProfileMissing = errors.New("payment profile not found")
	ErrMerchantMissing       = errors.New("merchant credentials not configured")
	ErrProviderNotFound      = errors.New("payment provider not registered")
	ErrInvalidCredentials    = errors.New("merchant credentials incomplete")

	// Consumer errors
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrCompanyNotFound  = errors.New("company not found")

	// Import errors
	ErrBatchNotFound  = errors.New("import batch not found")
	ErrInvalidMode    = errors.New("invalid import mode")
	ErrInvalidMapping = errors.New("field mapping must include account_number")
	ErrEmptyUpload    = errors.New("uploaded file has no header row")

	// Job errors
	ErrJobNotFound  = errors.New("job not found")
	ErrNoBackend    = errors.New("no backend registered for job kind")
	ErrRunnerClosed = errors.New("job runner is shut down")

	// ErrPermanent marks a failure that redelivery cannot fix.
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds while the
// original cause stays reachable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// PaymentError is raised when a charge attempt fails at the gateway. It is
// fatal for the current job attempt; the runner decides on redelivery.
type PaymentError struct {
	ChargeID   string
	Kind       OutcomeKind
	StatusCode string
	Detail     string
	Attempt    int
}

func (e *PaymentError) Error() string {
	if e.StatusCode != "" {
		return fmt.Sprintf("merchant payment failed for charge %s (attempt %d, %s): code %s: %s",
			e.ChargeID, e.Attempt, e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("merchant payment failed for charge %s (attempt %d, %s): %s",
		e.ChargeID, e.Attempt, e.Kind, e.Detail)
}
