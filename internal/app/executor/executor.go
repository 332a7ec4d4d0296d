// Package executor runs background jobs (scheduled charges, import batches)
// with bounded concurrency and persisted lifecycle state.
//
// The executor:
//  1. Persists each submitted job as QUEUED
//  2. Waits for a free concurrency slot
//  3. Routes the job to the backend registered for its kind
//  4. Retries failed attempts with exponential backoff, unless the failure
//     is marked permanent
//  5. Persists the terminal state (COMPLETED or FAILED with the last error)
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// Backend executes one attempt of a job.
type Backend interface {
	Execute(ctx context.Context, job domain.Job) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, job domain.Job) error

// Execute implements Backend.
func (f BackendFunc) Execute(ctx context.Context, job domain.Job) error { return f(ctx, job) }

// Config controls executor behavior.
type Config struct {
	MaxConcurrent  int           // Maximum concurrent jobs (default: 4)
	MaxAttempts    int           // Attempts per job before FAILED (default: 3)
	Backoff        time.Duration // Delay before the first retry, doubled per retry (default: 30s)
	DefaultTimeout time.Duration // Per-attempt timeout (default: 2m)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxAttempts:    3,
		Backoff:        30 * time.Second,
		DefaultTimeout: 2 * time.Minute,
	}
}

// Executor manages the job lifecycle.
type Executor struct {
	mu        sync.RWMutex
	config    Config
	store     domain.JobStore
	clock     clockz.Clock
	log       *zap.Logger
	backends  map[domain.JobKind]Backend
	sem       chan struct{} // Concurrency semaphore
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	active    int
	completed int64
	failed    int64
	retried   int64
}

// New creates a job executor.
func New(cfg Config, store domain.JobStore, clock clockz.Clock, log *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		config:   cfg,
		store:    store,
		clock:    clock,
		log:      log.Named("executor"),
		backends: make(map[domain.JobKind]Backend),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterBackend registers the backend for a job kind.
func (e *Executor) RegisterBackend(kind domain.JobKind, backend Backend) {
	e.mu.Lock()
	e.backends[kind] = backend
	e.mu.Unlock()
}

// Submit persists job as QUEUED and returns immediately. The job runs once a
// concurrency slot is free. ctx only bounds the persistence step; execution
// is bound to the executor's lifetime.
func (e *Executor) Submit(ctx context.Context, job domain.Job) (domain.Job, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return job, domain.ErrRunnerClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobQueued
	job.Attempts = 0
	job.CreatedAt = e.clock.Now()
	if err := e.store.InsertJob(ctx, job); err != nil {
		e.wg.Done()
		return job, fmt.Errorf("persist job: %w", err)
	}

	go e.run(job)
	return job, nil
}

// run waits for a slot and drives the job to a terminal state.
func (e *Executor) run(job domain.Job) {
	defer e.wg.Done()

	select {
	case e.sem <- struct{}{}:
	case <-e.ctx.Done():
		e.finish(job, domain.JobFailed, domain.ErrRunnerClosed)
		return
	}
	defer func() { <-e.sem }() // Release concurrency slot

	e.mu.Lock()
	e.active++
	e.mu.Unlock()
	observability.JobsRunning.Inc()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
		observability.JobsRunning.Dec()
	}()

	e.mu.RLock()
	backend, ok := e.backends[job.Kind]
	e.mu.RUnlock()
	if !ok {
		e.finish(job, domain.JobFailed, fmt.Errorf("%s: %w", job.Kind, domain.ErrNoBackend))
		return
	}

	delay := e.config.Backoff
	for attempt := 1; ; attempt++ {
		job.Status = domain.JobRunning
		job.Attempts = attempt
		e.update(job)

		e.log.Debug("executing job",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)),
			zap.String("ref", job.Ref), zap.Int("attempt", attempt))

		err := e.attempt(backend, job)
		if err == nil {
			e.finish(job, domain.JobCompleted, nil)
			return
		}
		if errors.Is(err, domain.ErrPermanent) || attempt >= e.config.MaxAttempts {
			e.finish(job, domain.JobFailed, err)
			return
		}

		job.Status = domain.JobQueued
		job.LastError = err.Error()
		e.update(job)
		e.mu.Lock()
		e.retried++
		e.mu.Unlock()
		observability.JobRetries.WithLabelValues(string(job.Kind)).Inc()
		e.log.Warn("job attempt failed, retrying",
			zap.String("job_id", job.ID), zap.String("ref", job.Ref),
			zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))

		select {
		case <-e.clock.After(delay):
			delay *= 2
		case <-e.ctx.Done():
			e.finish(job, domain.JobFailed, err)
			return
		}
	}
}

// attempt runs one backend call under the per-attempt timeout.
func (e *Executor) attempt(backend Backend, job domain.Job) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.DefaultTimeout)
	defer cancel()
	return backend.Execute(ctx, job)
}

// finish persists the terminal state of a job.
func (e *Executor) finish(job domain.Job, status domain.JobStatus, err error) {
	now := e.clock.Now()
	job.Status = status
	job.CompletedAt = &now
	if err != nil {
		job.LastError = err.Error()
	}
	e.update(job)

	e.mu.Lock()
	if status == domain.JobCompleted {
		e.completed++
	} else {
		e.failed++
	}
	e.mu.Unlock()
	observability.JobsFinished.WithLabelValues(string(job.Kind), string(status)).Inc()

	if status == domain.JobFailed {
		e.log.Error("job failed",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)),
			zap.String("ref", job.Ref), zap.Int("attempts", job.Attempts), zap.Error(err))
		return
	}
	e.log.Info("job completed",
		zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)),
		zap.String("ref", job.Ref), zap.Int("attempts", job.Attempts))
}

func (e *Executor) update(job domain.Job) {
	if err := e.store.UpdateJob(context.Background(), job); err != nil {
		e.log.Error("persist job state", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Wait blocks until every submitted job has reached a terminal state.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Shutdown stops accepting jobs, cancels pending retries and waits for
// in-flight jobs to return.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Stats returns executor statistics.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Active:    e.active,
		Completed: e.completed,
		Failed:    e.failed,
		Retried:   e.retried,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - e.active,
	}
}

// ActiveCount returns the number of currently executing jobs.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}
