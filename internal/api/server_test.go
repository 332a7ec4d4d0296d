package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/app/importer"
	"github.com/negotiate-network/negotiate/internal/app/payment"
	"github.com/negotiate-network/negotiate/internal/domain"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

type fakeCharges struct {
	charges map[string]domain.ScheduledCharge
	txs     map[string][]domain.Transaction
}

func (f *fakeCharges) GetCharge(ctx context.Context, id string) (*domain.ScheduledCharge, error) {
	c, ok := f.charges[id]
	if !ok {
		return nil, domain.ErrChargeNotFound
	}
	return &c, nil
}

func (f *fakeCharges) ListTransactions(ctx context.Context, id string) ([]domain.Transaction, error) {
	return f.txs[id], nil
}

type fakeActions struct {
	outcome     payment.Outcome
	err         error
	rescheduled time.Time
}

func (f *fakeActions) Process(ctx context.Context, id string) (payment.Outcome, error) {
	out := f.outcome
	out.ChargeID = id
	return out, f.err
}

func (f *fakeActions) Cancel(ctx context.Context, id string) error { return f.err }

func (f *fakeActions) Reschedule(ctx context.Context, id string, date time.Time) error {
	f.rescheduled = date
	return f.err
}

type fakeSweeper struct{ jobs []domain.Job }

func (f *fakeSweeper) EnqueueDue(ctx context.Context) ([]domain.Job, error) { return f.jobs, nil }

type fakeUploads struct {
	got importer.Upload
	err error
}

func (f *fakeUploads) Accept(ctx context.Context, u importer.Upload) (*domain.ImportBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = u
	return &domain.ImportBatch{ID: "batch-1", CompanyID: u.CompanyID, Mode: u.Mode, Status: domain.BatchPending}, nil
}

type fakeJobs struct{ submitted []domain.Job }

func (f *fakeJobs) Submit(ctx context.Context, job domain.Job) (domain.Job, error) {
	job.ID = fmt.Sprintf("job-%d", len(f.submitted)+1)
	f.submitted = append(f.submitted, job)
	return job, nil
}

type fakeBatches map[string]domain.ImportBatch

func (f fakeBatches) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	b, ok := f[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return &b, nil
}

type fakeFiles map[string]string

func (f fakeFiles) Open(ref string) (io.ReadCloser, error) {
	body, ok := f[ref]
	if !ok {
		return nil, errors.New("open " + ref + ": no such file")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// ─── Fixture ────────────────────────────────────────────────────────────────

type fixture struct {
	actions *fakeActions
	uploads *fakeUploads
	jobs    *fakeJobs
	handler http.Handler
}

func newFixture() *fixture {
	charges := &fakeCharges{
		charges: map[string]domain.ScheduledCharge{
			"ch-1": {ID: "ch-1", Amount: decimal.RequireFromString("50.00"), Status: domain.ChargeSuccessful},
		},
		txs: map[string][]domain.Transaction{
			"ch-1": {{ID: "tx-1", ScheduledChargeID: "ch-1", RawResponse: `{"secret":"x"}`}},
		},
	}
	f := &fixture{
		actions: &fakeActions{outcome: payment.Outcome{Kind: domain.OutcomeSucceeded}},
		uploads: &fakeUploads{},
		jobs:    &fakeJobs{},
	}
	srv := NewServer(Deps{
		Charges: charges,
		Actions: f.actions,
		Sweeper: &fakeSweeper{jobs: []domain.Job{{ID: "j-1", Kind: domain.JobCharge, Ref: "ch-2"}}},
		Uploads: f.uploads,
		Jobs:    f.jobs,
		Batches: fakeBatches{
			"b-1": {ID: "b-1", Status: domain.BatchComplete, FailedCount: 1, FailedFileRef: "failed/b-1.csv"},
			"b-2": {ID: "b-2", Status: domain.BatchComplete},
		},
		Files: fakeFiles{"failed/b-1.csv": "Account,Errors\n1001,bad\n"},
		Log:   zap.NewNop(),
	})
	srv.EnableMetrics()
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Message
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	f := newFixture()
	w := f.do("GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	w := f.do("GET", "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestGetCharge_RedactsRawResponse(t *testing.T) {
	f := newFixture()
	w := f.do("GET", "/api/charges/ch-1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("response leaks raw provider payload: %s", w.Body.String())
	}
	var view chargeView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Charge.ID != "ch-1" || len(view.Transactions) != 1 {
		t.Errorf("view = %+v", view)
	}
}

func TestProcess_RedactsRawResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, http.StatusOK},
		{"transport failure", &domain.PaymentError{ChargeID: "ch-1", Attempt: 1}, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tx := &domain.Transaction{ID: "tx-1", ChargeID: "ch-1", RawResponse: `dial tcp 10.0.0.7:443: connect: connection refused`}
			f.actions.outcome = payment.Outcome{Kind: domain.OutcomeTransportError, Transaction: tx}
			f.actions.err = tt.err

			w := f.do("POST", "/api/charges/ch-1/process", nil, "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if strings.Contains(w.Body.String(), "dial tcp") {
				t.Errorf("response leaks raw provider payload: %s", w.Body.String())
			}
			if tx.RawResponse == "" {
				t.Error("handler mutated the caller's transaction")
			}
		})
	}
}

func TestGetCharge_NotFound(t *testing.T) {
	f := newFixture()
	w := f.do("GET", "/api/charges/missing", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if got := errorMessage(t, w); got != domain.ErrChargeNotFound.Error() {
		t.Errorf("message = %q, want %q", got, domain.ErrChargeNotFound.Error())
	}
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   domain.OutcomeKind
		status int
	}{
		{"succeeded", nil, domain.OutcomeSucceeded, http.StatusOK},
		{"declined", &domain.PaymentError{ChargeID: "ch-1", Kind: domain.OutcomeDeclined}, domain.OutcomeDeclined, http.StatusPaymentRequired},
		{"precondition", domain.Permanent(fmt.Errorf("profile pp-9: %w", domain.ErrPaymentProfileMissing)), domain.OutcomePreconditionFailed, http.StatusUnprocessableEntity},
		{"not found", domain.Permanent(domain.ErrChargeNotFound), domain.OutcomePreconditionFailed, http.StatusNotFound},
		{"storage", errors.New("database is locked"), domain.OutcomeSucceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.actions.outcome = payment.Outcome{Kind: tt.kind}
			f.actions.err = tt.err
			w := f.do("POST", "/api/charges/ch-1/process", nil, "")
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if strings.Contains(w.Body.String(), "database is locked") || strings.Contains(w.Body.String(), "pp-9") {
				t.Errorf("response leaks internal detail: %s", w.Body.String())
			}
		})
	}
}

func TestCancel_InvalidTransition(t *testing.T) {
	f := newFixture()
	f.actions.err = domain.ErrInvalidTransition
	w := f.do("POST", "/api/charges/ch-1/cancel", nil, "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestReschedule(t *testing.T) {
	f := newFixture()
	w := f.do("POST", "/api/charges/ch-1/reschedule", strings.NewReader(`{"schedule_date":"2026-11-02"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	want := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	if !f.actions.rescheduled.Equal(want) {
		t.Errorf("rescheduled = %v, want %v", f.actions.rescheduled, want)
	}

	w = f.do("POST", "/api/charges/ch-1/reschedule", strings.NewReader(`{"schedule_date":"11/02/2026"}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", w.Code)
	}
}

func TestRunDue(t *testing.T) {
	f := newFixture()
	w := f.do("POST", "/api/charges/run-due", nil, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp struct {
		Enqueued int `json:"enqueued"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Enqueued != 1 {
		t.Errorf("enqueued = %d, want 1", resp.Enqueued)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, csv string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if csv != "" {
		fw, err := mw.CreateFormFile("file", "accounts.csv")
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, csv)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload_AcceptsAndQueues(t *testing.T) {
	f := newFixture()
	body, ct := multipartUpload(t, map[string]string{
		"company_id":  "co-1",
		"mode":        "add",
		"mapping":     `{"account_number":0,"first_name":1}`,
		"date_format": "01/02/2006",
	}, "Account,First\n1001,Ann\n")

	w := f.do("POST", "/api/imports", body, ct)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if f.uploads.got.CompanyID != "co-1" || f.uploads.got.Mode != domain.ImportAdd {
		t.Errorf("upload = %+v", f.uploads.got)
	}
	if f.uploads.got.Mapping[domain.FieldFirstName] != 1 {
		t.Errorf("mapping = %v", f.uploads.got.Mapping)
	}
	if f.uploads.got.DateFormat != "01/02/2006" {
		t.Errorf("DateFormat = %q", f.uploads.got.DateFormat)
	}
	if len(f.jobs.submitted) != 1 {
		t.Fatalf("submitted %d jobs, want 1", len(f.jobs.submitted))
	}
	if job := f.jobs.submitted[0]; job.Kind != domain.JobImport || job.Ref != "batch-1" {
		t.Errorf("job = %+v, want IMPORT batch-1", job)
	}
}

func TestUpload_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]string
		csv       string
		acceptErr error
		status    int
	}{
		{"no file", map[string]string{"mapping": `{"account_number":0}`}, "", nil, http.StatusBadRequest},
		{"bad mapping json", map[string]string{"mapping": "account_number=0"}, "a\n", nil, http.StatusBadRequest},
		{"invalid mode", map[string]string{"mapping": `{"account_number":0}`}, "a\n", domain.ErrInvalidMode, http.StatusBadRequest},
		{"unknown company", map[string]string{"mapping": `{"account_number":0}`}, "a\n", domain.ErrCompanyNotFound, http.StatusNotFound},
		{"empty upload", map[string]string{"mapping": `{"account_number":0}`}, "a\n", domain.ErrEmptyUpload, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.uploads.err = tt.acceptErr
			body, ct := multipartUpload(t, tt.fields, tt.csv)
			w := f.do("POST", "/api/imports", body, ct)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if len(f.jobs.submitted) != 0 {
				t.Errorf("submitted %d jobs, want 0", len(f.jobs.submitted))
			}
		})
	}
}

func TestGetBatch(t *testing.T) {
	f := newFixture()
	if w := f.do("GET", "/api/imports/b-1", nil, ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w := f.do("GET", "/api/imports/nope", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing batch status = %d, want 404", w.Code)
	}
}

func TestFailedRows(t *testing.T) {
	f := newFixture()
	w := f.do("GET", "/api/imports/b-1/failed", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if got := w.Body.String(); got != "Account,Errors\n1001,bad\n" {
		t.Errorf("body = %q", got)
	}

	if w := f.do("GET", "/api/imports/b-2/failed", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("clean batch status = %d, want 404", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("load: %w", domain.ErrBatchNotFound), http.StatusNotFound, domain.ErrBatchNotFound.Error()},
		{domain.Permanent(domain.ErrMerchantMissing), http.StatusUnprocessableEntity, domain.ErrMerchantMissing.Error()},
		{domain.ErrRunnerClosed, http.StatusServiceUnavailable, domain.ErrRunnerClosed.Error()},
		{errors.New("disk I/O error"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		status, msg := statusFor(tt.err)
		if status != tt.status || msg != tt.msg {
			t.Errorf("statusFor(%v) = (%d, %q), want (%d, %q)", tt.err, status, msg, tt.status, tt.msg)
		}
	}
}
