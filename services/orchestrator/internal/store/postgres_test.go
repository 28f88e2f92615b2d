package store

import (
	"context"
	"testing"
	"time"

	"orchestrator-svc/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCompareAndSwap_AppliesValidTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs(models.StatusApproved, "pay-1", models.StatusCreated, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payment_timeline").
		WithArgs("pay-1", models.StatusCreated, models.StatusApproved, "risk_approved", "evt-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT payment_id, customer_id").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "customer_id", "amount_cents", "currency", "status",
			"state_version", "idempotency_key", "correlation_id", "created_at", "updated_at",
		}).AddRow("pay-1", "cust-1", int64(500), "USD", models.StatusApproved, int64(1), "idem-1", "corr-1", time.Now(), time.Now()))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	res, err := s.CompareAndSwap(context.Background(), tx, "pay-1", models.StatusCreated, 0, models.StatusApproved, "evt-1", "risk_approved")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Applied {
		t.Fatal("expected CAS to apply")
	}
	if res.Payment.Status != models.StatusApproved {
		t.Fatalf("expected status APPROVED, got %s", res.Payment.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompareAndSwap_StaleEventIsSwallowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs(models.StatusApproved, "pay-1", models.StatusCreated, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT payment_id, customer_id").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "customer_id", "amount_cents", "currency", "status",
			"state_version", "idempotency_key", "correlation_id", "created_at", "updated_at",
		}).AddRow("pay-1", "cust-1", int64(500), "USD", models.StatusSettled, int64(4), "idem-1", "corr-1", time.Now(), time.Now()))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	res, err := s.CompareAndSwap(context.Background(), tx, "pay-1", models.StatusCreated, 0, models.StatusApproved, "evt-1", "risk_approved")
	if err != ErrStaleEvent {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
	if res.Applied {
		t.Fatal("expected CAS not to apply")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
