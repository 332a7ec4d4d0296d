package payment

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// Submitter accepts jobs for background execution.
type Submitter interface {
	Submit(ctx context.Context, job domain.Job) (domain.Job, error)
}

// Sweeper finds due scheduled charges and submits one CHARGE job for each.
type Sweeper struct {
	charges domain.ChargeStore
	jobs    Submitter
	clock   clockz.Clock
	log     *zap.Logger
	limit   int
}

// NewSweeper creates a Sweeper. limit bounds each sweep; 0 uses the store
// default.
func NewSweeper(charges domain.ChargeStore, jobs Submitter, clock clockz.Clock, log *zap.Logger, limit int) *Sweeper {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Sweeper{charges: charges, jobs: jobs, clock: clock, log: log.Named("payment.sweeper"), limit: limit}
}

// EnqueueDue submits every charge scheduled on or before today and returns
// the submitted jobs.
func (s *Sweeper) EnqueueDue(ctx context.Context) ([]domain.Job, error) {
	due, err := s.charges.ListDueCharges(ctx, s.clock.Now(), s.limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(due))
	for _, c := range due {
		job, err := s.jobs.Submit(ctx, domain.Job{Kind: domain.JobCharge, Ref: c.ID})
		if err != nil {
			s.log.Error("submit charge job", zap.String("charge_id", c.ID), zap.Error(err))
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	if len(jobs) > 0 {
		s.log.Info("due charges enqueued", zap.Int("count", len(jobs)))
	}
	return jobs, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	for {
		if _, err := s.EnqueueDue(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep due charges", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
		}
	}
}
