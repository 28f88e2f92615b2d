package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"notification-svc/internal/store"

	"sagakit/events"
	"sagakit/inbox"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"
)

func TestHandle_InsertsLogRowForEachPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	ib := inbox.NewStore(db, "notification")
	cs := NewConsumers(st, ib, zaptest.NewLogger(t))

	payload, _ := json.Marshal(map[string]any{"payment_id": "pay-42"})
	env := events.Envelope{
		EventID: "evt-1",
		Type:    events.TopicPaymentsSettled,
		Payload: payload,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "notification").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs("pay-42", "webhook", "Payment pay-42 event=payments.settled").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := cs.handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHandle_DuplicateEventIsSkippedWithoutError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	ib := inbox.NewStore(db, "notification")
	cs := NewConsumers(st, ib, zaptest.NewLogger(t))

	payload, _ := json.Marshal(map[string]any{"payment_id": "pay-42"})
	env := events.Envelope{
		EventID: "evt-1",
		Type:    events.TopicPaymentsFailed,
		Payload: payload,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inbox_events").
		WithArgs("evt-1", "notification").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := cs.handle(context.Background(), env); err != nil {
		t.Fatalf("expected duplicate to be swallowed, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPaymentIDFromPayload_MissingFieldErrors(t *testing.T) {
	_, err := paymentIDFromPayload([]byte(`{"foo":"bar"}`))
	if err == nil {
		t.Fatal("expected error for missing payment_id")
	}
}
