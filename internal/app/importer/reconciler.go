// Package importer reconciles uploaded consumer CSV files against stored
// consumer accounts in add, update or delete mode.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/filestore"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// Files stores uploads and failed-row files.
type Files interface {
	SaveUpload(name string, r io.Reader) (filestore.Saved, error)
	Open(ref string) (io.ReadCloser, error)
	CreateFailed(name string) (string, io.WriteCloser, error)
	Remove(ref string) error
}

// Config controls batching and date parsing.
type Config struct {
	BatchSize  int    // rows per bulk write
	DateFormat string // default layout when a batch has none
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 500, DateFormat: time.DateOnly}
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Batches       domain.ImportStore
	Consumers     domain.ConsumerStore
	Files         Files
	Notifier      domain.Notifier
	Deactivations domain.DeactivationNotifier
	Clock         clockz.Clock
	Log           *zap.Logger
}

// Reconciler processes import batches one row at a time.
type Reconciler struct {
	cfg           Config
	batches       domain.ImportStore
	consumers     domain.ConsumerStore
	files         Files
	notifier      domain.Notifier
	deactivations domain.DeactivationNotifier
	clock         clockz.Clock
	log           *zap.Logger
}

// New creates a Reconciler.
func New(cfg Config, d Deps) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = DefaultConfig().DateFormat
	}
	if d.Clock == nil {
		d.Clock = clockz.RealClock
	}
	return &Reconciler{
		cfg:           cfg,
		batches:       d.Batches,
		consumers:     d.Consumers,
		files:         d.Files,
		notifier:      d.Notifier,
		deactivations: d.Deactivations,
		clock:         d.Clock,
		log:           d.Log.Named("importer"),
	}
}

// Summary reports the state of a batch after Run.
type Summary struct {
	BatchID        string             `json:"batch_id"`
	Status         domain.BatchStatus `json:"status"`
	ProcessedCount int                `json:"processed_count"`
	FailedCount    int                `json:"failed_count"`
	FailedFileRef  string             `json:"failed_file_ref,omitempty"`
}

func summarize(b *domain.ImportBatch) Summary {
	return Summary{
		BatchID:        b.ID,
		Status:         b.Status,
		ProcessedCount: b.ProcessedCount,
		FailedCount:    b.FailedCount,
		FailedFileRef:  b.FailedFileRef,
	}
}

// Execute adapts Run to the job runner's backend contract.
func (r *Reconciler) Execute(ctx context.Context, job domain.Job) error {
	_, err := r.Run(ctx, job.Ref)
	return err
}

// Run reconciles every row of the batch's source file. Row failures are
// written to the failed-rows file and never abort the batch; storage errors
// are returned.
func (r *Reconciler) Run(ctx context.Context, batchID string) (Summary, error) {
	batch, err := r.batches.GetBatch(ctx, batchID)
	if errors.Is(err, domain.ErrBatchNotFound) {
		return Summary{BatchID: batchID}, domain.Permanent(err)
	}
	if err != nil {
		return Summary{BatchID: batchID}, err
	}
	if batch.Status.Terminal() {
		r.log.Info("batch already finished, skipping",
			zap.String("batch_id", batch.ID), zap.String("status", string(batch.Status)))
		return summarize(batch), nil
	}

	log := r.log.With(zap.String("batch_id", batch.ID), zap.String("company_id", batch.CompanyID),
		zap.String("mode", string(batch.Mode)))

	if _, err := domain.ParseImportMode(string(batch.Mode)); err != nil {
		return r.abort(ctx, batch, log, err)
	}
	if err := batch.FieldMapping.Validate(); err != nil {
		return r.abort(ctx, batch, log, err)
	}
	remaining, err := r.remainingSlots(ctx, batch.CompanyID)
	if errors.Is(err, domain.ErrCompanyNotFound) {
		return r.abort(ctx, batch, log, err)
	}
	if err != nil {
		return summarize(batch), err
	}

	src, err := r.files.Open(batch.SourceFile)
	if errors.Is(err, fs.ErrNotExist) {
		return r.abort(ctx, batch, log, fmt.Errorf("source file %s: %w", batch.SourceFile, err))
	}
	if err != nil {
		return summarize(batch), fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	batch.Status = domain.BatchProcessing
	if err := r.batches.UpdateBatch(ctx, *batch); err != nil {
		return summarize(batch), err
	}
	log.Info("import started", zap.Int("remaining_slots", remaining))

	dateFormat := batch.DateFormat
	if dateFormat == "" {
		dateFormat = r.cfg.DateFormat
	}
	st := &run{
		r:            r,
		batch:        batch,
		log:          log,
		dateFormat:   dateFormat,
		sink:         newFailSink(r.files, batch.ID, batch.Headers),
		remaining:    remaining,
		seen:         make(map[string]bool),
		profiles:     make(map[domain.IdentityKey]string),
		pending:      make(map[string]int),
		deactivating: make(map[string]bool),
	}
	defer st.sink.Close()

	if err := st.consume(ctx, src); err != nil {
		return summarize(batch), err
	}
	if err := st.flushAll(ctx); err != nil {
		return summarize(batch), err
	}
	return r.finish(ctx, st)
}

// remainingSlots returns how many consumers the company may still add, or
// -1 when the company has no limit.
func (r *Reconciler) remainingSlots(ctx context.Context, companyID string) (int, error) {
	company, err := r.consumers.GetCompany(ctx, companyID)
	if err != nil {
		return 0, err
	}
	if company.ConsumerLimit <= 0 {
		return -1, nil
	}
	active, err := r.consumers.CountActiveConsumers(ctx, companyID)
	if err != nil {
		return 0, err
	}
	return max(company.ConsumerLimit-active, 0), nil
}

func (r *Reconciler) abort(ctx context.Context, batch *domain.ImportBatch, log *zap.Logger, cause error) (Summary, error) {
	now := r.clock.Now()
	batch.Status = domain.BatchFailed
	batch.CompletedAt = &now
	if err := r.batches.UpdateBatch(ctx, *batch); err != nil {
		return summarize(batch), err
	}
	observability.ImportBatches.WithLabelValues(string(batch.Status)).Inc()
	log.Error("import aborted", zap.Error(cause))
	return summarize(batch), domain.Permanent(cause)
}

func (r *Reconciler) finish(ctx context.Context, st *run) (Summary, error) {
	batch := st.batch
	if err := st.sink.Close(); err != nil {
		st.log.Error("close failed-rows file", zap.Error(err))
	}
	now := r.clock.Now()
	batch.ProcessedCount = st.processed
	batch.FailedCount = st.failed
	batch.FailedFileRef = st.sink.Ref()
	batch.CompletedAt = &now
	batch.Status = domain.BatchComplete
	if st.processed == 0 {
		batch.Status = domain.BatchFailed
		if err := r.files.Remove(batch.SourceFile); err != nil {
			st.log.Error("remove source file", zap.String("source_file", batch.SourceFile), zap.Error(err))
		}
	}
	if err := r.batches.UpdateBatch(ctx, *batch); err != nil {
		return summarize(batch), err
	}

	observability.ImportBatches.WithLabelValues(string(batch.Status)).Inc()
	st.log.Info("import finished",
		zap.String("status", string(batch.Status)),
		zap.Int("processed", batch.ProcessedCount),
		zap.Int("failed", batch.FailedCount),
		zap.String("failed_file", batch.FailedFileRef))
	return summarize(batch), nil
}

// ─── Row Loop ───────────────────────────────────────────────────────────────

// run holds the state of one Run call. Rows are processed strictly in file
// order so duplicate detection and the consumer cap see every earlier row.
type run struct {
	r          *Reconciler
	batch      *domain.ImportBatch
	log        *zap.Logger
	dateFormat string
	sink       *failSink

	remaining    int // -1 = unlimited
	seen         map[string]bool
	profiles     map[domain.IdentityKey]string
	deactivating map[string]bool
	pending      map[string]int // consumer id -> index in updates

	creates       []domain.NewConsumer
	updates       []domain.ConsumerUpdate
	deactivations []string

	processed int
	failed    int
}

func (st *run) consume(ctx context.Context, src io.Reader) error {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return domain.Permanent(fmt.Errorf("read header: %w", err))
	}
	if len(st.batch.Headers) == 0 {
		st.batch.Headers, _ = trimCells(header)
		st.sink.headers = st.batch.Headers
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			if err := st.reject(line, record, []string{msgMalformedRow}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read line %d: %w", line, err)
		}

		cells, blank := trimCells(record)
		if blank {
			continue
		}
		rc := newRowContext(st.batch.Mode, line, cells, st.batch.FieldMapping, st.dateFormat, st.r.clock.Now())

		var msgs []string
		switch st.batch.Mode {
		case domain.ImportAdd:
			msgs, err = st.add(ctx, rc)
		case domain.ImportUpdate:
			msgs, err = st.update(ctx, rc)
		case domain.ImportDelete:
			msgs, err = st.remove(ctx, rc)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(msgs) > 0 {
			if err := st.reject(line, cells, msgs); err != nil {
				return err
			}
			continue
		}
		st.processed++
		observability.ImportRows.WithLabelValues(string(st.batch.Mode), "valid").Inc()
		if err := st.flushFull(ctx); err != nil {
			return err
		}
	}
}

func (st *run) reject(line int, cells, msgs []string) error {
	st.failed++
	observability.ImportRows.WithLabelValues(string(st.batch.Mode), "failed").Inc()
	st.log.Debug("row rejected", zap.Int("line", line), zap.Strings("errors", msgs))
	return st.sink.Append(cells, msgs)
}

// ─── Modes ──────────────────────────────────────────────────────────────────

func (st *run) add(ctx context.Context, rc rowContext) ([]string, error) {
	account := rc.value(domain.FieldAccountNumber)
	if account != "" {
		if st.seen[account] {
			return []string{msgDuplicateInFile}, nil
		}
		st.seen[account] = true
	}

	now := rc.now
	c := domain.Consumer{
		CompanyID: st.batch.CompanyID,
		Status:    domain.ConsumerUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	errs := validate(rc, &c)

	if account != "" {
		existing, err := st.r.consumers.FindConsumerByAccount(ctx, st.batch.CompanyID, account)
		switch {
		case err == nil && existing.Status != domain.ConsumerDeactivated:
			errs = append(errs, msgAccountExists)
		case err != nil && !errors.Is(err, domain.ErrConsumerNotFound):
			return nil, err
		}
	}
	if st.remaining == 0 {
		errs = append(errs, msgLimitReached)
	}
	if len(errs) > 0 {
		return errs, nil
	}

	c.ID = uuid.NewString()
	row := domain.NewConsumer{}
	key := c.IdentityKey()
	if id, ok := st.profiles[key]; ok {
		c.ProfileID = id
	} else {
		existing, err := st.r.consumers.FindProfileByIdentity(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			c.ProfileID = existing.ID
		} else {
			p := domain.ConsumerProfile{
				ID:              uuid.NewString(),
				LastName:        c.LastName,
				DOB:             c.DOB,
				Last4SSN:        c.Last4SSN,
				Email:           c.Email,
				Mobile:          c.Mobile,
				EmailPermission: c.Email != "",
				TextPermission:  c.Mobile != "",
			}
			row.Profile = &p
			c.ProfileID = p.ID
		}
		st.profiles[key] = c.ProfileID
	}
	row.Consumer = c
	st.creates = append(st.creates, row)
	if st.remaining > 0 {
		st.remaining--
	}
	return nil, nil
}

func (st *run) update(ctx context.Context, rc rowContext) ([]string, error) {
	existing, msgs, err := st.lookup(ctx, rc)
	if msgs != nil || err != nil {
		return msgs, err
	}
	if existing.Status == domain.ConsumerDeactivated {
		return []string{msgAccountNotFound}, nil
	}

	// Earlier rows for the same consumer in this chunk build on each other.
	base := existing
	idx, queued := st.pending[existing.ID]
	if queued {
		base = &st.updates[idx].Consumer
	}
	c := *base
	if errs := validate(rc.withExisting(base), &c); len(errs) > 0 {
		return errs, nil
	}
	c.UpdatedAt = rc.now
	u := domain.ConsumerUpdate{Consumer: c}

	emailChanged := c.Email != existing.Email
	mobileChanged := c.Mobile != existing.Mobile
	if existing.ProfileID != "" && (emailChanged || mobileChanged) {
		p, err := st.r.consumers.GetProfile(ctx, existing.ProfileID)
		if err != nil {
			return nil, err
		}
		pu := domain.ProfileContactUpdate{ProfileID: p.ID}
		// Only a value that mirrors the shared profile is carried over.
		if emailChanged && existing.Email == p.Email {
			email := c.Email
			pu.Email = &email
			pu.EmailPermission = true
		}
		if mobileChanged && existing.Mobile == p.Mobile {
			mobile := c.Mobile
			pu.Mobile = &mobile
			pu.TextPermission = true
		}
		if pu.Email != nil || pu.Mobile != nil {
			u.Profile = &pu
		}
	}
	if queued {
		st.updates[idx] = u
		return nil, nil
	}
	st.pending[existing.ID] = len(st.updates)
	st.updates = append(st.updates, u)
	return nil, nil
}

func (st *run) remove(ctx context.Context, rc rowContext) ([]string, error) {
	existing, msgs, err := st.lookup(ctx, rc)
	if msgs != nil || err != nil {
		return msgs, err
	}
	if existing.Status == domain.ConsumerDeactivated || st.deactivating[existing.ID] {
		return []string{msgAlreadyDeactivate}, nil
	}
	st.deactivating[existing.ID] = true
	st.deactivations = append(st.deactivations, existing.ID)
	return nil, nil
}

// lookup resolves the row's account number to a stored consumer. A missing
// account number or record is a row failure.
func (st *run) lookup(ctx context.Context, rc rowContext) (*domain.Consumer, []string, error) {
	account := rc.value(domain.FieldAccountNumber)
	if account == "" {
		return nil, []string{fieldRules[domain.FieldAccountNumber].label + " is required."}, nil
	}
	existing, err := st.r.consumers.FindConsumerByAccount(ctx, st.batch.CompanyID, account)
	if errors.Is(err, domain.ErrConsumerNotFound) {
		return nil, []string{msgAccountNotFound}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return existing, nil, nil
}

// ─── Flushing ───────────────────────────────────────────────────────────────

func (st *run) flushFull(ctx context.Context) error {
	size := st.r.cfg.BatchSize
	if len(st.creates) >= size {
		if err := st.flushCreates(ctx); err != nil {
			return err
		}
	}
	if len(st.updates) >= size {
		if err := st.flushUpdates(ctx); err != nil {
			return err
		}
	}
	if len(st.deactivations) >= size {
		return st.flushDeactivations(ctx)
	}
	return nil
}

func (st *run) flushAll(ctx context.Context) error {
	if err := st.flushCreates(ctx); err != nil {
		return err
	}
	if err := st.flushUpdates(ctx); err != nil {
		return err
	}
	return st.flushDeactivations(ctx)
}

func (st *run) flushCreates(ctx context.Context) error {
	if len(st.creates) == 0 {
		return nil
	}
	if err := st.r.consumers.CreateConsumers(ctx, st.creates); err != nil {
		return fmt.Errorf("create consumers: %w", err)
	}
	for _, row := range st.creates {
		event := domain.EventNewAccount
		if row.Profile != nil {
			event = domain.EventWelcome
		}
		st.r.notifier.Notify(ctx, row.Consumer.ID, event)
	}
	st.log.Debug("consumers created", zap.Int("count", len(st.creates)))
	st.creates = st.creates[:0]
	return nil
}

func (st *run) flushUpdates(ctx context.Context) error {
	if len(st.updates) == 0 {
		return nil
	}
	if err := st.r.consumers.UpdateConsumers(ctx, st.updates); err != nil {
		return fmt.Errorf("update consumers: %w", err)
	}
	st.log.Debug("consumers updated", zap.Int("count", len(st.updates)))
	st.updates = st.updates[:0]
	clear(st.pending)
	return nil
}

func (st *run) flushDeactivations(ctx context.Context) error {
	if len(st.deactivations) == 0 {
		return nil
	}
	if err := st.r.consumers.DeactivateConsumers(ctx, st.deactivations); err != nil {
		return fmt.Errorf("deactivate consumers: %w", err)
	}
	ids := append([]string(nil), st.deactivations...)
	st.r.deactivations.NotifyDeactivated(ctx, ids)
	st.log.Debug("consumers deactivated", zap.Int("count", len(ids)))
	st.deactivations = st.deactivations[:0]
	return nil
}
