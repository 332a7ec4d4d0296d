package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/negotiate-network/negotiate/internal/domain"
)

var dob = time.Date(1980, 4, 2, 0, 0, 0, 0, time.UTC)

func newConsumer(id, company, account, profileID string) domain.Consumer {
	return domain.Consumer{
		ID:             id,
		CompanyID:      company,
		AccountNumber:  account,
		FirstName:      "Ann",
		LastName:       "Smith",
		DOB:            dob,
		Last4SSN:       "1234",
		CurrentBalance: decimal.RequireFromString("500.00"),
		ProfileID:      profileID,
		CreatedAt:      today,
		UpdatedAt:      today,
	}
}

// ─── Companies & Merchants ──────────────────────────────────────────────────

func TestCompany_Upsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertCompany(ctx, domain.Company{ID: "co-1", Name: "Acme", ConsumerLimit: 10})
	db.UpsertCompany(ctx, domain.Company{ID: "co-1", Name: "Acme Recovery", ConsumerLimit: 20})

	c, err := db.GetCompany(ctx, "co-1")
	if err != nil {
		t.Fatalf("GetCompany() error: %v", err)
	}
	if c.Name != "Acme Recovery" || c.ConsumerLimit != 20 {
		t.Errorf("company = %+v, want updated values", c)
	}
	if _, err := db.GetCompany(ctx, "nope"); !errors.Is(err, domain.ErrCompanyNotFound) {
		t.Errorf("GetCompany(nope) = %v, want ErrCompanyNotFound", err)
	}
}

func TestMerchant_Credentials(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	err := db.UpsertMerchant(ctx, domain.Merchant{
		CompanyID:   "co-1",
		Provider:    domain.ProviderTilled,
		Credentials: domain.MerchantCredentials{"secret_key": "sk_x", "account_id": "acct_1"},
	})
	if err != nil {
		t.Fatalf("UpsertMerchant() error: %v", err)
	}

	m, err := db.GetMerchant(ctx, "co-1", domain.ProviderTilled)
	if err != nil {
		t.Fatalf("GetMerchant() error: %v", err)
	}
	if m.Credentials.Get("account_id") != "acct_1" {
		t.Errorf("account_id = %q, want acct_1", m.Credentials.Get("account_id"))
	}
	if _, err := db.GetMerchant(ctx, "co-1", domain.ProviderStripe); !errors.Is(err, domain.ErrMerchantMissing) {
		t.Errorf("GetMerchant(stripe) = %v, want ErrMerchantMissing", err)
	}
}

func TestPaymentProfile_Get(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertPaymentProfile(ctx, domain.PaymentProfile{
		ID: "pp-1", ConsumerID: "cons-1", Provider: domain.ProviderUSAePay,
		Method: domain.MethodACH, PaymentToken: "tok", Last4: "6789",
	})
	p, err := db.GetPaymentProfile(ctx, "pp-1")
	if err != nil {
		t.Fatalf("GetPaymentProfile() error: %v", err)
	}
	if p.Method != domain.MethodACH || p.PaymentToken != "tok" || p.CustomerToken != "" {
		t.Errorf("profile = %+v", p)
	}
	if _, err := db.GetPaymentProfile(ctx, "pp-2"); !errors.Is(err, domain.ErrPaymentProfileMissing) {
		t.Errorf("GetPaymentProfile(pp-2) = %v, want ErrPaymentProfileMissing", err)
	}
}

// ─── Consumers ──────────────────────────────────────────────────────────────

func TestConsumers_CreateAndFind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	profile := &domain.ConsumerProfile{ID: "prof-1", LastName: "Smith", DOB: dob, Last4SSN: "1234", Email: "ann@example.com", EmailPermission: true}
	err := db.CreateConsumers(ctx, []domain.NewConsumer{
		{Consumer: newConsumer("c-1", "co-1", "1001", "prof-1"), Profile: profile},
		{Consumer: newConsumer("c-2", "co-2", "9001", "prof-1")},
	})
	if err != nil {
		t.Fatalf("CreateConsumers() error: %v", err)
	}

	c, err := db.FindConsumerByAccount(ctx, "co-1", "1001")
	if err != nil {
		t.Fatalf("FindConsumerByAccount() error: %v", err)
	}
	if c.ID != "c-1" || c.Status != domain.ConsumerUploaded {
		t.Errorf("consumer = (%s, %s), want (c-1, uploaded)", c.ID, c.Status)
	}

	p, err := db.FindProfileByIdentity(ctx, domain.NewIdentityKey("SMITH", dob, "1234"))
	if err != nil {
		t.Fatalf("FindProfileByIdentity() error: %v", err)
	}
	if p == nil || p.ID != "prof-1" {
		t.Fatalf("profile = %v, want prof-1", p)
	}
	if p, _ := db.FindProfileByIdentity(ctx, domain.NewIdentityKey("Jones", dob, "1234")); p != nil {
		t.Errorf("unexpected profile for other identity: %+v", p)
	}

	n, _ := db.CountActiveConsumers(ctx, "co-1")
	if n != 1 {
		t.Errorf("CountActiveConsumers(co-1) = %d, want 1", n)
	}
}

func TestConsumers_DuplicateLiveAccountRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertConsumer(ctx, newConsumer("c-1", "co-1", "1001", ""))

	if err := db.InsertConsumer(ctx, newConsumer("c-2", "co-1", "1001", "")); err == nil {
		t.Fatal("second live consumer with same account number should be rejected")
	}

	// After deactivation the account number may be reused.
	if err := db.DeactivateConsumers(ctx, []string{"c-1"}); err != nil {
		t.Fatalf("DeactivateConsumers() error: %v", err)
	}
	if err := db.InsertConsumer(ctx, newConsumer("c-2", "co-1", "1001", "")); err != nil {
		t.Fatalf("InsertConsumer after deactivation error: %v", err)
	}
	c, _ := db.FindConsumerByAccount(ctx, "co-1", "1001")
	if c.ID != "c-2" {
		t.Errorf("FindConsumerByAccount = %s, want live record c-2", c.ID)
	}
}

func TestConsumers_FindFallsBackToDeactivated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertConsumer(ctx, newConsumer("c-1", "co-1", "1001", ""))
	db.DeactivateConsumers(ctx, []string{"c-1"})

	c, err := db.FindConsumerByAccount(ctx, "co-1", "1001")
	if err != nil {
		t.Fatalf("FindConsumerByAccount() error: %v", err)
	}
	if c.Status != domain.ConsumerDeactivated {
		t.Errorf("Status = %s, want deactivated", c.Status)
	}
	if _, err := db.FindConsumerByAccount(ctx, "co-1", "2002"); !errors.Is(err, domain.ErrConsumerNotFound) {
		t.Errorf("FindConsumerByAccount(2002) = %v, want ErrConsumerNotFound", err)
	}
}

func TestConsumers_UpdatePropagatesProfileContact(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.CreateConsumers(ctx, []domain.NewConsumer{{
		Consumer: newConsumer("c-1", "co-1", "1001", "prof-1"),
		Profile:  &domain.ConsumerProfile{ID: "prof-1", LastName: "Smith", DOB: dob, Last4SSN: "1234"},
	}})

	c := newConsumer("c-1", "co-1", "1001", "prof-1")
	c.City = "Austin"
	c.Email = "new@example.com"
	c.CurrentBalance = decimal.RequireFromString("450")
	email := "new@example.com"
	err := db.UpdateConsumers(ctx, []domain.ConsumerUpdate{{
		Consumer: c,
		Profile:  &domain.ProfileContactUpdate{ProfileID: "prof-1", Email: &email, EmailPermission: true},
	}})
	if err != nil {
		t.Fatalf("UpdateConsumers() error: %v", err)
	}

	got, _ := db.GetConsumer(ctx, "c-1")
	if got.City != "Austin" || !got.CurrentBalance.Equal(decimal.NewFromInt(450)) {
		t.Errorf("consumer = (%s, %s), want (Austin, 450)", got.City, got.CurrentBalance)
	}
	contact, err := db.GetContact(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetContact() error: %v", err)
	}
	if !contact.Eligible(domain.ChannelEmail) {
		t.Errorf("contact = %+v, want email eligible", contact)
	}
}

func TestConsumers_ApplyPayment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertConsumer(ctx, newConsumer("c-1", "co-1", "1001", ""))

	remaining, settled, err := db.ApplyPayment(ctx, "c-1", decimal.RequireFromString("200"))
	if err != nil {
		t.Fatalf("ApplyPayment() error: %v", err)
	}
	if settled || !remaining.Equal(decimal.NewFromInt(300)) {
		t.Errorf("ApplyPayment = (%s, %v), want (300, false)", remaining, settled)
	}

	remaining, settled, _ = db.ApplyPayment(ctx, "c-1", decimal.RequireFromString("300"))
	if !settled || !remaining.IsZero() {
		t.Errorf("ApplyPayment = (%s, %v), want (0, true)", remaining, settled)
	}
	c, _ := db.GetConsumer(ctx, "c-1")
	if c.Status != domain.ConsumerSettled {
		t.Errorf("Status = %s, want settled", c.Status)
	}

	if _, _, err := db.ApplyPayment(ctx, "nope", decimal.NewFromInt(1)); !errors.Is(err, domain.ErrConsumerNotFound) {
		t.Errorf("ApplyPayment(nope) = %v, want ErrConsumerNotFound", err)
	}
}
