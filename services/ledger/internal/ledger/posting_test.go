package ledger

import (
	"context"
	"testing"
	"time"

	"ledger-svc/internal/models"
	"ledger-svc/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostSettlement_PostsBalancedDebitAndCredit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	txID := TransactionID("pay-1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(txID, "customer_cash", models.DirectionDebit, int64(500)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE accounts").
		WithArgs(int64(-500), "customer_cash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(txID, "merchant_receivable", models.DirectionCredit, int64(500)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("UPDATE accounts").
		WithArgs(int64(500), "merchant_receivable").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT transaction_id, account_id, direction, amount_cents, created_at").
		WithArgs(txID).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "account_id", "direction", "amount_cents", "created_at"}).
			AddRow(txID, "customer_cash", "DEBIT", int64(500), time.Now()).
			AddRow(txID, "merchant_receivable", "CREDIT", int64(500), time.Now()))

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}

	gotTxID, err := PostSettlement(context.Background(), st, tx, "pay-1", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTxID != txID {
		t.Fatalf("expected transaction id %s, got %s", txID, gotTxID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
