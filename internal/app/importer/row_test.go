package importer

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/negotiate-network/negotiate/internal/domain"
)

var rowNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1,234.50", "1234.5", true},
		{"$99", "99", true},
		{"0.125", "0.125", true},
		{"12a", "0", false},
		{"", "0", false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.in)
		if ok != tt.ok || !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("parseAmount(%q) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"(555) 123-4567", "5551234567", true},
		{"+1 555.123.4567", "5551234567", true},
		{"555-1234", "5551234", false},
		{"555-CALL-NOW", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizePhone(tt.in)
		if ok != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("normalizePhone(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTrimCells(t *testing.T) {
	cells, blank := trimCells([]string{" a ", "\tb", ""})
	if blank || !slices.Equal(cells, []string{"a", "b", ""}) {
		t.Errorf("trimCells = %q, %v", cells, blank)
	}
	if _, blank := trimCells([]string{" ", "", "\t"}); !blank {
		t.Error("row of whitespace should be blank")
	}
}

func TestValidate_InstallmentTerms(t *testing.T) {
	mapping := domain.FieldMapping{
		domain.FieldAccountNumber:        0,
		domain.FieldPPADiscountPercent:   1,
		domain.FieldMinMonthlyPayPercent: 2,
	}

	tests := []struct {
		name     string
		cells    []string
		existing *domain.Consumer
		wantErr  bool
	}{
		{"no installment terms", []string{"1001", "", ""}, nil, false},
		{"terms with minimum", []string{"1001", "10", "5"}, nil, false},
		{"terms without minimum", []string{"1001", "10", ""}, nil, true},
		{"stored minimum satisfies update", []string{"1001", "10", ""},
			&domain.Consumer{MinMonthlyPayPercent: decimal.NewFromInt(5)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newRowContext(domain.ImportUpdate, 2, tt.cells, mapping, time.DateOnly, rowNow)
			if tt.existing != nil {
				rc = rc.withExisting(tt.existing)
			}
			var c domain.Consumer
			errs := validate(rc, &c)
			if got := slices.Contains(errs, msgInstallmentTerms); got != tt.wantErr {
				t.Errorf("installment error = %v, want %v (errs %v)", got, tt.wantErr, errs)
			}
		})
	}
}

func TestValidate_FieldRules(t *testing.T) {
	tests := []struct {
		field string
		value string
		ok    bool
	}{
		{domain.FieldDOB, "1980-04-02", true},
		{domain.FieldDOB, "2030-01-01", false},
		{domain.FieldLast4SSN, "0042", true},
		{domain.FieldLast4SSN, "42", false},
		{domain.FieldState, "tx", true},
		{domain.FieldState, "Texas", false},
		{domain.FieldZip, "78701-1234", true},
		{domain.FieldZip, "7870", false},
		{domain.FieldEmail, "a@b.co", true},
		{domain.FieldEmail, "Ann <a@b.co>", false},
		{domain.FieldPIFDiscountPercent, "12.5%", true},
		{domain.FieldPIFDiscountPercent, "120", false},
		{domain.FieldMinMonthlyPayPercent, "0", false},
		{domain.FieldMaxDaysFirstPay, "30", true},
		{domain.FieldMaxDaysFirstPay, "-1", false},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			rc := newRowContext(domain.ImportUpdate, 2, []string{tt.value}, domain.FieldMapping{tt.field: 0}, time.DateOnly, rowNow)
			rc.installmentTerms = false
			var c domain.Consumer
			errs := validate(rc, &c)
			if (len(errs) == 0) != tt.ok {
				t.Errorf("validate(%s=%q) = %v, want ok=%v", tt.field, tt.value, errs, tt.ok)
			}
		})
	}
}

func TestValidate_RequiredOnAdd(t *testing.T) {
	mapping := domain.FieldMapping{domain.FieldAccountNumber: 0, domain.FieldLastName: 1}
	rc := newRowContext(domain.ImportAdd, 2, []string{"1001", ""}, mapping, time.DateOnly, rowNow)
	var c domain.Consumer
	errs := validate(rc, &c)
	want := []string{
		"Last name is required.",
		"Date of birth is required.",
		"Last 4 SSN is required.",
		"Current balance is required.",
	}
	if !slices.Equal(errs, want) {
		t.Errorf("validate() = %q, want %q", errs, want)
	}
}
