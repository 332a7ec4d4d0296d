package domain

import "time"

// ─── Job Types ──────────────────────────────────────────────────────────────

// JobKind selects the backend that executes a job.
type JobKind string

const (
	JobCharge JobKind = "CHARGE"
	JobImport JobKind = "IMPORT"
)

// JobStatus is the persisted lifecycle of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Job is one unit of background work. Ref names the record it acts on
// (a scheduled charge id or an import batch id).
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Ref         string     `json:"ref"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
