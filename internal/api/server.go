// Package api provides the negotiate HTTP server: charge actions, import
// uploads and batch status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/app/importer"
	"github.com/negotiate-network/negotiate/internal/app/payment"
	"github.com/negotiate-network/negotiate/internal/domain"
)

// maxUploadBytes caps a multipart import request.
const maxUploadBytes = 64 << 20

// ChargeReader loads charges and their attempt history.
type ChargeReader interface {
	GetCharge(ctx context.Context, id string) (*domain.ScheduledCharge, error)
	ListTransactions(ctx context.Context, chargeID string) ([]domain.Transaction, error)
}

// ChargeActions runs and transitions charges.
type ChargeActions interface {
	Process(ctx context.Context, chargeID string) (payment.Outcome, error)
	Cancel(ctx context.Context, chargeID string) error
	Reschedule(ctx context.Context, chargeID string, date time.Time) error
}

// DueSweeper enqueues every charge that is due.
type DueSweeper interface {
	EnqueueDue(ctx context.Context) ([]domain.Job, error)
}

// Uploads accepts import files.
type Uploads interface {
	Accept(ctx context.Context, u importer.Upload) (*domain.ImportBatch, error)
}

// Jobs queues background work.
type Jobs interface {
	Submit(ctx context.Context, job domain.Job) (domain.Job, error)
}

// BatchReader loads import batches.
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error)
}

// FileOpener reads stored files.
type FileOpener interface {
	Open(ref string) (io.ReadCloser, error)
}

// Deps are the services behind the HTTP routes.
type Deps struct {
	Charges ChargeReader
	Actions ChargeActions
	Sweeper DueSweeper
	Uploads Uploads
	Jobs    Jobs
	Batches BatchReader
	Files   FileOpener
	Log     *zap.Logger
}

// Server is the negotiate HTTP API server.
type Server struct {
	deps           Deps
	log            *zap.Logger
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(d Deps) *Server {
	return &Server{deps: d, log: d.Log.Named("api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api/charges", func(r chi.Router) {
		r.Post("/run-due", s.handleRunDue)
		r.Get("/{id}", s.handleGetCharge)
		r.Post("/{id}/process", s.handleProcess)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Post("/{id}/reschedule", s.handleReschedule)
	})

	r.Route("/api/imports", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/{id}", s.handleGetBatch)
		r.Get("/{id}/failed", s.handleFailedRows)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Charges ────────────────────────────────────────────────────────────────

type chargeView struct {
	Charge       *domain.ScheduledCharge `json:"charge"`
	Transactions []domain.Transaction    `json:"transactions"`
}

func (s *Server) handleGetCharge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	charge, err := s.deps.Charges.GetCharge(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	txs, err := s.deps.Charges.ListTransactions(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Provider payloads stay server-side.
	for i := range txs {
		txs[i].RawResponse = ""
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, chargeView{Charge: charge, Transactions: txs})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Actions.Process(r.Context(), chi.URLParam(r, "id"))
	if out.Transaction != nil {
		tx := *out.Transaction
		tx.RawResponse = ""
		out.Transaction = &tx
	}
	var pe *domain.PaymentError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.As(err, &pe):
		writeJSON(w, http.StatusPaymentRequired, out)
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Actions.Cancel(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.ChargeCancelled)})
}

type rescheduleRequest struct {
	ScheduleDate string `json:"schedule_date"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := time.Parse(time.DateOnly, req.ScheduleDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "schedule_date must be YYYY-MM-DD")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Actions.Reschedule(r.Context(), id, date); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":            id,
		"status":        string(domain.ChargeScheduled),
		"schedule_date": req.ScheduleDate,
	})
}

func (s *Server) handleRunDue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Sweeper.EnqueueDue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"enqueued": len(jobs),
		"jobs":     jobs,
	})
}

// ─── Imports ────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	var mapping domain.FieldMapping
	if err := json.Unmarshal([]byte(r.FormValue("mapping")), &mapping); err != nil {
		writeError(w, http.StatusBadRequest, "mapping must be a JSON object of field to column index")
		return
	}

	batch, err := s.deps.Uploads.Accept(r.Context(), importer.Upload{
		CompanyID:  r.FormValue("company_id"),
		Mode:       domain.ImportMode(r.FormValue("mode")),
		Mapping:    mapping,
		DateFormat: r.FormValue("date_format"),
		Body:       file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Submit(r.Context(), domain.Job{Kind: domain.JobImport, Ref: batch.ID})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch":  batch,
		"job_id": job.ID,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.deps.Batches.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleFailedRows(w http.ResponseWriter, r *http.Request) {
	batch, err := s.deps.Batches.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if batch.FailedFileRef == "" {
		writeError(w, http.StatusNotFound, "batch has no failed rows")
		return
	}
	f, err := s.deps.Files.Open(batch.FailedFileRef)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="failed-`+batch.ID+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.log.Warn("stream failed rows", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// clientErrors maps sentinels to the status and message shown to callers.
var clientErrors = []struct {
	err    error
	status int
}{
	{domain.ErrChargeNotFound, http.StatusNotFound},
	{domain.ErrBatchNotFound, http.StatusNotFound},
	{domain.ErrCompanyNotFound, http.StatusNotFound},
	{domain.ErrJobNotFound, http.StatusNotFound},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrInvalidMode, http.StatusBadRequest},
	{domain.ErrInvalidMapping, http.StatusBadRequest},
	{domain.ErrEmptyUpload, http.StatusBadRequest},
	{domain.ErrConsumerNotFound, http.StatusUnprocessableEntity},
	{domain.ErrPaymentProfileMissing, http.StatusUnprocessableEntity},
	{domain.ErrMerchantMissing, http.StatusUnprocessableEntity},
	{domain.ErrProviderNotFound, http.StatusUnprocessableEntity},
	{domain.ErrInvalidCredentials, http.StatusUnprocessableEntity},
	{domain.ErrRunnerClosed, http.StatusServiceUnavailable},
}

// statusFor returns the HTTP status and public message for err. Unknown
// errors become a generic 500 so internal detail never leaves the process.
func statusFor(err error) (int, string) {
	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			return ce.status, ce.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Debug("request rejected", fields...)
	}
	writeError(w, status, msg)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
