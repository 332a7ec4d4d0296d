package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// ─── Import Batches ─────────────────────────────────────────────────────────

func TestBatch_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := domain.ImportBatch{
		ID:           "b-1",
		CompanyID:    "co-1",
		SourceFile:   "/tmp/up.csv",
		Headers:      []string{"Account", "Last"},
		FieldMapping: domain.FieldMapping{domain.FieldAccountNumber: 0, domain.FieldLastName: 1},
		DateFormat:   "2006-01-02",
		Mode:         domain.ImportAdd,
		CreatedAt:    today,
	}
	if err := db.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch() error: %v", err)
	}

	got, err := db.GetBatch(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBatch() error: %v", err)
	}
	if got.Status != domain.BatchPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.FieldMapping[domain.FieldLastName] != 1 || len(got.Headers) != 2 {
		t.Errorf("mapping/headers not round-tripped: %+v", got)
	}

	done := today.Add(time.Minute)
	got.Status = domain.BatchComplete
	got.ProcessedCount = 9
	got.FailedCount = 1
	got.FailedFileRef = "failed/b-1.csv"
	got.CompletedAt = &done
	if err := db.UpdateBatch(ctx, *got); err != nil {
		t.Fatalf("UpdateBatch() error: %v", err)
	}

	got, _ = db.GetBatch(ctx, "b-1")
	if got.ProcessedCount != 9 || got.FailedCount != 1 || got.FailedFileRef != "failed/b-1.csv" {
		t.Errorf("batch = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}

	if _, err := db.GetBatch(ctx, "b-2"); !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("GetBatch(b-2) = %v, want ErrBatchNotFound", err)
	}
	if err := db.UpdateBatch(ctx, domain.ImportBatch{ID: "b-2"}); !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("UpdateBatch(b-2) = %v, want ErrBatchNotFound", err)
	}
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

func TestJob_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	j := domain.Job{ID: "j-1", Kind: domain.JobCharge, Ref: "ch-1", Status: domain.JobQueued, CreatedAt: today}
	if err := db.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob() error: %v", err)
	}

	j.Status = domain.JobFailed
	j.Attempts = 3
	j.LastError = "merchant payment failed"
	if err := db.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob() error: %v", err)
	}

	got, err := db.GetJob(ctx, "j-1")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if got.Status != domain.JobFailed || got.Attempts != 3 || got.LastError != j.LastError {
		t.Errorf("job = %+v", got)
	}

	counts, _ := db.CountJobs(ctx)
	if counts[domain.JobFailed] != 1 {
		t.Errorf("CountJobs()[FAILED] = %d, want 1", counts[domain.JobFailed])
	}
	if _, err := db.GetJob(ctx, "j-2"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("GetJob(j-2) = %v, want ErrJobNotFound", err)
	}
}

// ─── Notifications ──────────────────────────────────────────────────────────

func TestNotifications_Record(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.RecordNotification(ctx, "c-1", domain.EventWelcome, domain.ChannelEmail)
	db.RecordNotification(ctx, "c-1", domain.EventWelcome, domain.ChannelSMS)

	log, err := db.ListNotifications(ctx, "c-1")
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if len(log) != 2 || log[1].Channel != domain.ChannelSMS {
		t.Errorf("log = %+v, want email then sms", log)
	}
}
