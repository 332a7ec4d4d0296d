package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/negotiate-network/negotiate/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCharge(t *testing.T, db *DB, id string, status domain.ChargeStatus, date time.Time) domain.ScheduledCharge {
	t.Helper()
	c := domain.ScheduledCharge{
		ID:                     id,
		CompanyID:              "co-1",
		ConsumerID:             "cons-1",
		PaymentProfileID:       "pp-1",
		Amount:                 decimal.RequireFromString("100.00"),
		RevenueSharePercentage: decimal.NewFromInt(10),
		TransactionType:        domain.TxPIF,
		ScheduleDate:           date,
		Status:                 status,
	}
	if err := db.InsertCharge(context.Background(), c); err != nil {
		t.Fatalf("InsertCharge(%s) error: %v", id, err)
	}
	return c
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db.Close()
}
