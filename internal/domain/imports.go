package domain

import (
	"sort"
	"time"
)

// ─── Import Batches ─────────────────────────────────────────────────────────

// ImportMode selects the reconciliation strategy for an upload.
type ImportMode string

const (
	ImportAdd    ImportMode = "add"
	ImportUpdate ImportMode = "update"
	ImportDelete ImportMode = "delete"
)

// ParseImportMode validates a mode string.
func ParseImportMode(s string) (ImportMode, error) {
	switch m := ImportMode(s); m {
	case ImportAdd, ImportUpdate, ImportDelete:
		return m, nil
	}
	return "", ErrInvalidMode
}

// BatchStatus tracks an ImportBatch through processing.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchComplete   BatchStatus = "complete"
	BatchFailed     BatchStatus = "failed"
)

// Terminal reports whether no further processing may happen.
func (s BatchStatus) Terminal() bool {
	return s == BatchComplete || s == BatchFailed
}

// Canonical import field names.
const (
	FieldAccountNumber        = "account_number"
	FieldFirstName            = "first_name"
	FieldLastName             = "last_name"
	FieldDOB                  = "dob"
	FieldLast4SSN             = "last4ssn"
	FieldCurrentBalance       = "current_balance"
	FieldEmail                = "email"
	FieldMobile               = "mobile"
	FieldAddress1             = "address1"
	FieldAddress2             = "address2"
	FieldCity                 = "city"
	FieldState                = "state"
	FieldZip                  = "zip"
	FieldOriginalAccountName  = "original_account_name"
	FieldPlacementDate        = "placement_date"
	FieldPIFDiscountPercent   = "pif_discount_percent"
	FieldPPADiscountPercent   = "ppa_discount_percent"
	FieldMinMonthlyPayPercent = "min_monthly_pay_percent"
	FieldMaxDaysFirstPay      = "max_days_first_pay"
)

// FieldMapping maps a canonical field name to a zero-based column index.
type FieldMapping map[string]int

// Validate checks that every mapped index is non-negative and the account
// number column is present.
func (m FieldMapping) Validate() error {
	if _, ok := m[FieldAccountNumber]; !ok {
		return ErrInvalidMapping
	}
	for _, idx := range m {
		if idx < 0 {
			return ErrInvalidMapping
		}
	}
	return nil
}

// Fields returns the mapped field names in column order.
func (m FieldMapping) Fields() []string {
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return m[out[i]] < m[out[j]] })
	return out
}

// ImportBatch is one accepted upload.
type ImportBatch struct {
	ID             string       `json:"id"`
	CompanyID      string       `json:"company_id"`
	SourceFile     string       `json:"source_file"`
	Headers        []string     `json:"headers"`
	FieldMapping   FieldMapping `json:"field_mapping"`
	DateFormat     string       `json:"date_format"`
	Mode           ImportMode   `json:"mode"`
	Status         BatchStatus  `json:"status"`
	ProcessedCount int          `json:"processed_count"`
	FailedCount    int          `json:"failed_count"`
	FailedFileRef  string       `json:"failed_file_ref,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}
