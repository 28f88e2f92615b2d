package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"orchestrator-svc/internal/apperr"
	"orchestrator-svc/internal/cache"
	"orchestrator-svc/internal/middleware"
	"orchestrator-svc/internal/models"
	"orchestrator-svc/internal/store"

	"sagakit/events"
	"sagakit/outbox"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var allowedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CAD": true, "AUD": true,
}

const idempotencyCacheTTL = 24 * time.Hour

type PaymentsHandler struct {
	store       *store.Store
	outbox      *outbox.Store
	cache       *cache.Client
	logger      *zap.Logger
	serviceName string
	ratePerMin  int
}

func NewPaymentsHandler(st *store.Store, ob *outbox.Store, c *cache.Client, logger *zap.Logger, serviceName string, ratePerMin int) *PaymentsHandler {
	return &PaymentsHandler{store: st, outbox: ob, cache: c, logger: logger, serviceName: serviceName, ratePerMin: ratePerMin}
}

type createPaymentRequest struct {
	CustomerID     string `json:"customer_id" binding:"required"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,min=5"`
}

type paymentResponse struct {
	PaymentID      string `json:"payment_id"`
	CustomerID     string `json:"customer_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	StateVersion   int64  `json:"state_version"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedAt      string `json:"created_at"`
}

func toResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:      p.PaymentID,
		CustomerID:     p.CustomerID,
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		Status:         string(p.Status),
		StateVersion:   p.StateVersion,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

// CreatePayment implements POST /payments: validate, rate limit,
// idempotency fast-path via Redis then the unique-constraint fallback,
// insert CREATED row, and stage payments.requested in the same tx.
func (h *PaymentsHandler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Validation("malformed request body", err))
		return
	}
	if req.AmountCents < 0 {
		respondErr(c, apperr.Validation("amount_cents must not be negative", nil))
		return
	}
	currency := req.Currency
	if !allowedCurrencies[currency] {
		respondErr(c, apperr.Validation("unsupported currency", nil))
		return
	}

	ctx := c.Request.Context()

	allowed, err := h.cache.AllowTokenBucket(ctx, req.CustomerID, h.ratePerMin)
	if err != nil {
		h.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
	} else if !allowed {
		respondErr(c, apperr.RateLimited("rate limit exceeded"))
		return
	}

	var cached paymentResponse
	if hit, err := h.cache.GetCachedResponse(ctx, req.CustomerID, req.IdempotencyKey, &cached); err == nil && hit {
		c.JSON(http.StatusOK, cached)
		return
	}

	correlationID := c.GetHeader("x-correlation-id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	payment := &models.Payment{
		PaymentID:      uuid.NewString(),
		CustomerID:     req.CustomerID,
		AmountCents:    req.AmountCents,
		Currency:       currency,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  correlationID,
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		respondErr(c, apperr.Transient("failed to begin transaction", err))
		return
	}
	defer tx.Rollback()

	if err := h.insertAndStage(ctx, tx, payment, correlationID); err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			existing, findErr := h.store.FindByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if findErr != nil {
				respondErr(c, apperr.Transient("failed to read existing payment", findErr))
				return
			}
			c.JSON(http.StatusOK, toResponse(existing))
			return
		}
		respondErr(c, apperr.Transient("failed to create payment", err))
		return
	}

	if err := tx.Commit(); err != nil {
		respondErr(c, apperr.Transient("failed to commit transaction", err))
		return
	}

	resp := toResponse(payment)
	if err := h.cache.PutCachedResponse(ctx, req.CustomerID, req.IdempotencyKey, resp, idempotencyCacheTTL); err != nil {
		h.logger.Warn("idempotency cache write failed", zap.Error(err))
	}

	middleware.PaymentRequestsTotal.WithLabelValues(h.serviceName).Inc()
	c.JSON(http.StatusCreated, resp)
}

func (h *PaymentsHandler) insertAndStage(ctx context.Context, tx *sql.Tx, payment *models.Payment, correlationID string) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO payments (payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key, correlation_id)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		ON CONFLICT (customer_id, idempotency_key) DO NOTHING`,
		payment.PaymentID, payment.CustomerID, payment.AmountCents, payment.Currency,
		models.StatusCreated, payment.IdempotencyKey, correlationID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrIdempotencyConflict
	}

	payment.Status = models.StatusCreated

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payment_timeline (payment_id, from_state, to_state, reason, event_id)
		VALUES ($1, '', $2, 'payment_created', NULL)`,
		payment.PaymentID, models.StatusCreated,
	); err != nil {
		return err
	}

	eventID := outbox.NewEventID()
	payload, err := events.MarshalPayload(events.PaymentsRequestedPayload{
		PaymentID:   payment.PaymentID,
		CustomerID:  payment.CustomerID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
	})
	if err != nil {
		return err
	}
	envelope := events.New(eventID, payment.PaymentID, correlationID, events.TopicPaymentsRequested, payload)
	body, err := events.MarshalEnvelope(envelope)
	if err != nil {
		return err
	}
	return h.outbox.Stage(ctx, tx, eventID, payment.PaymentID, events.TopicPaymentsRequested, body)
}

// GetPayment implements GET /payments/{id}, returning the current
// state and timeline.
func (h *PaymentsHandler) GetPayment(c *gin.Context) {
	paymentID := c.Param("id")
	payment, err := h.store.FindByID(c.Request.Context(), paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		respondErr(c, apperr.Transient("failed to read payment", err))
		return
	}

	timeline, err := h.store.Timeline(c.Request.Context(), paymentID)
	if err != nil {
		respondErr(c, apperr.Transient("failed to read timeline", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment":  toResponse(payment),
		"timeline": timeline,
	})
}

func respondErr(c *gin.Context, err *apperr.Error) {
	c.JSON(apperr.StatusCode(err.Kind), gin.H{"error": err.Msg, "kind": err.Kind})
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
