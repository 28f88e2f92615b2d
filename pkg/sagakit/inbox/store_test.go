package inbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestTryConsume_NewEventRunsSideEffects(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db, "notification")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "notification").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	called := false
	err = store.TryConsume(context.Background(), "evt-1", func(tx *sql.Tx) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected side-effect function to be called for a new event")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTryConsume_DuplicateEventSkipsSideEffects(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db, "notification")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "notification").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	called := false
	err = store.TryConsume(context.Background(), "evt-1", func(tx *sql.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if called {
		t.Fatal("side-effect function must not run on a duplicate event")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTryConsume_SideEffectErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	store := NewStore(db, "notification")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-2", "notification").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = store.TryConsume(context.Background(), "evt-2", func(tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected side-effect error to propagate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
