package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"orchestrator-svc/internal/cache"
	"orchestrator-svc/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"sagakit/outbox"
)

func setupPaymentsTest(t *testing.T) (*PaymentsHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	st := store.New(db)
	ob := outbox.NewStore(db)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	c := cache.New(rdb)

	handler := NewPaymentsHandler(st, ob, c, logger, "orchestrator", 30)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/payments", handler.CreatePayment)
	router.GET("/payments/:id", handler.GetPayment)

	return handler, mock, router
}

func TestCreatePayment_RejectsNegativeAmount(t *testing.T) {
	_, mock, router := setupPaymentsTest(t)

	body, _ := json.Marshal(createPaymentRequest{
		CustomerID:     "cust-1",
		AmountCents:    -100,
		Currency:       "USD",
		IdempotencyKey: "idem-12345",
	})
	req := httptest.NewRequest("POST", "/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database calls: %v", err)
	}
}

func TestCreatePayment_RejectsUnsupportedCurrency(t *testing.T) {
	_, mock, router := setupPaymentsTest(t)

	body, _ := json.Marshal(createPaymentRequest{
		CustomerID:     "cust-1",
		AmountCents:    500,
		Currency:       "ZZZ",
		IdempotencyKey: "idem-12345",
	})
	req := httptest.NewRequest("POST", "/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database calls: %v", err)
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	_, mock, router := setupPaymentsTest(t)

	mock.ExpectQuery("SELECT payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key, correlation_id, created_at, updated_at FROM payments WHERE payment_id").
		WithArgs("missing-id").
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest("GET", "/payments/missing-id", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("database expectations not met: %v", err)
	}
}
