package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"risk-engine-svc/internal/orchclient"
	"risk-engine-svc/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"sagakit/outbox"
)

var errMockLookupFailed = errors.New("mock: lookup failed")

func setupReviewsTest(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	st := store.New(db)
	ob := outbox.NewStore(db)
	orch := orchclient.New("http://orchestrator.invalid")

	handler := NewReviewsHandler(st, ob, orch, logger, "risk-engine")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ops/reviews", handler.ListPendingReviews)
	router.POST("/ops/reviews/:id/approve", handler.ApproveReview)

	return mock, router
}

func TestListPendingReviews_EmptyQueue(t *testing.T) {
	mock, router := setupReviewsTest(t)

	mock.ExpectQuery("SELECT id, payment_id, customer_id, amount_cents, reason, status, reviewed_by, reviewed_at, decision_event_id, created_at").
		WithArgs("PENDING").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "payment_id", "customer_id", "amount_cents", "reason", "status", "reviewed_by", "reviewed_at", "decision_event_id", "created_at",
		}))

	req := httptest.NewRequest("GET", "/ops/reviews", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApproveReview_LookupErrorReturns500(t *testing.T) {
	mock, router := setupReviewsTest(t)

	mock.ExpectQuery("SELECT id, payment_id, customer_id, amount_cents, reason, status, reviewed_by, reviewed_at, decision_event_id, created_at").
		WithArgs("missing-pay").
		WillReturnError(errMockLookupFailed)

	req := httptest.NewRequest("POST", "/ops/reviews/missing-pay/approve", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a lookup error, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
