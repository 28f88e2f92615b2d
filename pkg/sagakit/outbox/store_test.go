package outbox

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestStage_WritesPendingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("evt-1", "pay-1", "payments.requested", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Stage(context.Background(), db, "evt-1", "pay-1", "payments.requested", []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkPublished_MatchesClaimToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	mock.ExpectExec("UPDATE outbox_events SET status = 'PUBLISHED'").
		WithArgs("evt-1", "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkPublished(context.Background(), "evt-1", "tok-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRelease_IncrementsAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	mock.ExpectExec("UPDATE outbox_events").
		WithArgs("evt-1", "tok-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Release(context.Background(), "evt-1", "tok-1", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOldestPendingAge_NoRowsReturnsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db)

	rows := sqlmock.NewRows([]string{"min"}).AddRow(nil)
	mock.ExpectQuery("SELECT MIN\\(created_at\\)").WillReturnRows(rows)

	age, err := store.OldestPendingAge(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if age != 0 {
		t.Errorf("expected zero age with no pending rows, got %v", age)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
