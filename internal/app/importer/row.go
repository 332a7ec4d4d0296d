package importer

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// Row-level failure messages.
const (
	msgDuplicateInFile   = "Duplicate account number in this file."
	msgAccountExists     = "This account number already exists."
	msgAccountNotFound   = "We couldn't locate this account number in our records."
	msgAlreadyDeactivate = "This account has already been deactivated."
	msgLimitReached      = "Account limit reached."
	msgMalformedRow      = "This row could not be read."
	msgInstallmentTerms  = "Minimum monthly payment percent is required when installment terms are provided."
)

var hundred = decimal.NewFromInt(100)

// ─── Row Context ────────────────────────────────────────────────────────────

// rowContext is computed once per CSV row and handed to every field
// validator. Validators never mutate it.
type rowContext struct {
	mode       domain.ImportMode
	line       int
	cells      []string
	mapping    domain.FieldMapping
	dateFormat string
	now        time.Time

	// existing is the stored consumer for update rows.
	existing *domain.Consumer

	// installmentTerms is set when the row supplies a PPA discount or a
	// first-payment window, which makes the minimum monthly percent required.
	installmentTerms bool
	hasMinMonthly    bool
}

func newRowContext(mode domain.ImportMode, line int, cells []string, mapping domain.FieldMapping, dateFormat string, now time.Time) rowContext {
	rc := rowContext{
		mode:       mode,
		line:       line,
		cells:      cells,
		mapping:    mapping,
		dateFormat: dateFormat,
		now:        now,
	}
	rc.installmentTerms = rc.value(domain.FieldPPADiscountPercent) != "" || rc.value(domain.FieldMaxDaysFirstPay) != ""
	rc.hasMinMonthly = rc.value(domain.FieldMinMonthlyPayPercent) != ""
	return rc
}

func (rc rowContext) withExisting(c *domain.Consumer) rowContext {
	rc.existing = c
	if c != nil && c.MinMonthlyPayPercent.IsPositive() {
		rc.hasMinMonthly = true
	}
	return rc
}

// value returns the trimmed cell mapped to field, or "" when the field is
// unmapped or the row is short.
func (rc rowContext) value(field string) string {
	idx, ok := rc.mapping[field]
	if !ok || idx >= len(rc.cells) {
		return ""
	}
	return rc.cells[idx]
}

// trimCells trims every cell and reports whether the row is entirely blank.
func trimCells(record []string) ([]string, bool) {
	out := make([]string, len(record))
	blank := true
	for i, c := range record {
		out[i] = strings.TrimSpace(c)
		if out[i] != "" {
			blank = false
		}
	}
	return out, blank
}

// ─── Field Validation ───────────────────────────────────────────────────────

// fieldRule validates one non-blank value and stores it on c. It returns a
// human-readable message on failure.
type fieldRule struct {
	label    string
	required bool
	apply    func(rc rowContext, v string, c *domain.Consumer) string
}

var fieldRules = map[string]fieldRule{
	domain.FieldAccountNumber: {"Account number", true, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 50 {
			return "Account number must be 50 characters or fewer."
		}
		c.AccountNumber = v
		return ""
	}},
	domain.FieldFirstName: {"First name", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 100 {
			return "First name must be 100 characters or fewer."
		}
		c.FirstName = v
		return ""
	}},
	domain.FieldLastName: {"Last name", true, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 100 {
			return "Last name must be 100 characters or fewer."
		}
		c.LastName = v
		return ""
	}},
	domain.FieldDOB: {"Date of birth", true, func(rc rowContext, v string, c *domain.Consumer) string {
		d, err := time.Parse(rc.dateFormat, v)
		if err != nil {
			return fmt.Sprintf("Date of birth must match the format %s.", rc.dateFormat)
		}
		if !d.Before(rc.now) {
			return "Date of birth must be in the past."
		}
		c.DOB = d
		return ""
	}},
	domain.FieldLast4SSN: {"Last 4 SSN", true, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) != 4 || !allDigits(v) {
			return "Last 4 SSN must be exactly 4 digits."
		}
		c.Last4SSN = v
		return ""
	}},
	domain.FieldCurrentBalance: {"Current balance", true, func(_ rowContext, v string, c *domain.Consumer) string {
		d, ok := parseAmount(v)
		if !ok || d.IsNegative() {
			return "Current balance must be a positive amount."
		}
		c.CurrentBalance = d.Round(2)
		return ""
	}},
	domain.FieldEmail: {"Email", false, func(_ rowContext, v string, c *domain.Consumer) string {
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v {
			return "Email must be a valid email address."
		}
		c.Email = strings.ToLower(v)
		return ""
	}},
	domain.FieldMobile: {"Mobile", false, func(_ rowContext, v string, c *domain.Consumer) string {
		n, ok := normalizePhone(v)
		if !ok {
			return "Mobile must be a valid 10-digit phone number."
		}
		c.Mobile = n
		return ""
	}},
	domain.FieldAddress1: {"Address line 1", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 255 {
			return "Address line 1 must be 255 characters or fewer."
		}
		c.Address1 = v
		return ""
	}},
	domain.FieldAddress2: {"Address line 2", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 255 {
			return "Address line 2 must be 255 characters or fewer."
		}
		c.Address2 = v
		return ""
	}},
	domain.FieldCity: {"City", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 100 {
			return "City must be 100 characters or fewer."
		}
		c.City = v
		return ""
	}},
	domain.FieldState: {"State", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) != 2 || !allLetters(v) {
			return "State must be a 2-letter code."
		}
		c.State = strings.ToUpper(v)
		return ""
	}},
	domain.FieldZip: {"Zip", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if !validZip(v) {
			return "Zip must be 5 digits or ZIP+4."
		}
		c.Zip = v
		return ""
	}},
	domain.FieldOriginalAccountName: {"Original account name", false, func(_ rowContext, v string, c *domain.Consumer) string {
		if len(v) > 255 {
			return "Original account name must be 255 characters or fewer."
		}
		c.OriginalAccountName = v
		return ""
	}},
	domain.FieldPlacementDate: {"Placement date", false, func(rc rowContext, v string, c *domain.Consumer) string {
		d, err := time.Parse(rc.dateFormat, v)
		if err != nil {
			return fmt.Sprintf("Placement date must match the format %s.", rc.dateFormat)
		}
		c.PlacementDate = &d
		return ""
	}},
	domain.FieldPIFDiscountPercent: {"Pay-in-full discount percent", false, func(_ rowContext, v string, c *domain.Consumer) string {
		d, msg := parsePercent("Pay-in-full discount percent", v)
		if msg != "" {
			return msg
		}
		c.PIFDiscountPercent = d
		return ""
	}},
	domain.FieldPPADiscountPercent: {"Payment plan discount percent", false, func(rc rowContext, v string, c *domain.Consumer) string {
		d, msg := parsePercent("Payment plan discount percent", v)
		if msg != "" {
			return msg
		}
		c.PPADiscountPercent = d
		return ""
	}},
	domain.FieldMinMonthlyPayPercent: {"Minimum monthly payment percent", false, func(_ rowContext, v string, c *domain.Consumer) string {
		d, msg := parsePercent("Minimum monthly payment percent", v)
		if msg != "" {
			return msg
		}
		if d.IsZero() {
			return "Minimum monthly payment percent must be greater than 0."
		}
		c.MinMonthlyPayPercent = d
		return ""
	}},
	domain.FieldMaxDaysFirstPay: {"Max days to first payment", false, func(_ rowContext, v string, c *domain.Consumer) string {
		n, err := strconv.Atoi(strings.ReplaceAll(v, ",", ""))
		if err != nil || n < 0 || n > 1000 {
			return "Max days to first payment must be a whole number between 0 and 1000."
		}
		c.MaxDaysFirstPay = n
		return ""
	}},
}

// validate applies every mapped field rule in column order to c and returns
// the accumulated messages. Blank values fail required fields in add mode
// and leave c untouched otherwise.
func validate(rc rowContext, c *domain.Consumer) []string {
	var errs []string
	for _, field := range rc.mapping.Fields() {
		rule, ok := fieldRules[field]
		if !ok {
			continue
		}
		v := rc.value(field)
		if v == "" {
			if rc.mode == domain.ImportAdd && rule.required {
				errs = append(errs, rule.label+" is required.")
			}
			continue
		}
		if msg := rule.apply(rc, v, c); msg != "" {
			errs = append(errs, msg)
		}
	}
	if rc.mode == domain.ImportAdd {
		for _, field := range requiredOnAdd {
			if _, mapped := rc.mapping[field]; !mapped {
				errs = append(errs, fieldRules[field].label+" is required.")
			}
		}
	}
	if rc.installmentTerms && !rc.hasMinMonthly {
		errs = append(errs, msgInstallmentTerms)
	}
	return errs
}

var requiredOnAdd = []string{
	domain.FieldAccountNumber,
	domain.FieldLastName,
	domain.FieldDOB,
	domain.FieldLast4SSN,
	domain.FieldCurrentBalance,
}

// ─── Parsers ────────────────────────────────────────────────────────────────

// parseAmount accepts "1,234.50", "$1234.5" and plain decimals.
func parseAmount(v string) (decimal.Decimal, bool) {
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parsePercent(label, v string) (decimal.Decimal, string) {
	d, ok := parseAmount(strings.TrimSuffix(v, "%"))
	if !ok || d.IsNegative() || d.GreaterThan(hundred) {
		return decimal.Zero, label + " must be a number between 0 and 100."
	}
	return d, ""
}

func normalizePhone(v string) (string, bool) {
	var b strings.Builder
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(" ()-.+", r):
		default:
			return "", false
		}
	}
	n := b.String()
	if len(n) == 11 && n[0] == '1' {
		n = n[1:]
	}
	return n, len(n) == 10
}

func validZip(v string) bool {
	switch len(v) {
	case 5:
		return allDigits(v)
	case 10:
		return v[5] == '-' && allDigits(v[:5]) && allDigits(v[6:])
	}
	return false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func allLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
