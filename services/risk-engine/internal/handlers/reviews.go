package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"risk-engine-svc/internal/apperr"
	"risk-engine-svc/internal/middleware"
	"risk-engine-svc/internal/models"
	"risk-engine-svc/internal/orchclient"
	"risk-engine-svc/internal/store"

	"sagakit/events"
	"sagakit/outbox"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReviewsHandler struct {
	store       *store.Store
	outbox      *outbox.Store
	orch        *orchclient.Client
	logger      *zap.Logger
	serviceName string
}

func NewReviewsHandler(st *store.Store, ob *outbox.Store, orch *orchclient.Client, logger *zap.Logger, serviceName string) *ReviewsHandler {
	return &ReviewsHandler{store: st, outbox: ob, orch: orch, logger: logger, serviceName: serviceName}
}

type reviewResponse struct {
	PaymentID   string `json:"payment_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	ReviewedBy  string `json:"reviewed_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toReviewResponse(r *models.RiskReview) reviewResponse {
	return reviewResponse{
		PaymentID:   r.PaymentID,
		CustomerID:  r.CustomerID,
		AmountCents: r.AmountCents,
		Reason:      r.Reason,
		Status:      string(r.Status),
		ReviewedBy:  r.ReviewedBy,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}

// ListPendingReviews implements GET /ops/reviews, the queue a human
// risk operator works through.
func (h *ReviewsHandler) ListPendingReviews(c *gin.Context) {
	reviews, err := h.store.List(c.Request.Context(), models.ReviewPending)
	if err != nil {
		respondErr(c, apperr.Transient("failed to list reviews", err))
		return
	}
	out := make([]reviewResponse, 0, len(reviews))
	for i := range reviews {
		out = append(out, toReviewResponse(&reviews[i]))
	}
	c.JSON(http.StatusOK, gin.H{"reviews": out})
}

// ApproveReview implements POST /ops/reviews/{id}/approve.
func (h *ReviewsHandler) ApproveReview(c *gin.Context) {
	h.decide(c, models.ReviewApproved, events.TopicRiskApproved)
}

// DenyReview implements POST /ops/reviews/{id}/deny.
func (h *ReviewsHandler) DenyReview(c *gin.Context) {
	h.decide(c, models.ReviewDenied, events.TopicRiskDenied)
}

// decide re-validates that the payment is still sitting in RISK_REVIEW
// on the orchestrator before honoring a human decision — it may have
// already timed out or been reversed by the time a reviewer acts.
func (h *ReviewsHandler) decide(c *gin.Context, newStatus models.ReviewStatus, topic string) {
	paymentID := c.Param("id")
	ctx := c.Request.Context()

	review, err := h.store.FindByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrReviewNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
			return
		}
		respondErr(c, apperr.Transient("failed to read review", err))
		return
	}

	liveStatus, err := h.orch.CurrentStatus(ctx, paymentID)
	if err != nil {
		respondErr(c, apperr.Transient("failed to verify payment state with orchestrator", err))
		return
	}
	if liveStatus != "RISK_REVIEW" {
		respondErr(c, apperr.UnexpectedConflict("payment is no longer awaiting review", nil))
		return
	}

	reviewer, _ := c.Get("reviewer")
	reviewerName, _ := reviewer.(string)

	decision := "APPROVE"
	if newStatus == models.ReviewDenied {
		decision = "DENY"
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		respondErr(c, apperr.Transient("failed to begin transaction", err))
		return
	}
	defer tx.Rollback()

	eventID := outbox.NewEventID()
	if err := h.store.Decide(ctx, tx, paymentID, newStatus, reviewerName, eventID); err != nil {
		if errors.Is(err, store.ErrReviewAlreadyDecided) {
			respondErr(c, apperr.ExpectedDuplicate("review already decided", nil))
			return
		}
		respondErr(c, apperr.Transient("failed to record decision", err))
		return
	}

	if err := h.stageDecision(ctx, tx, eventID, review, topic); err != nil {
		respondErr(c, apperr.Transient("failed to stage decision event", err))
		return
	}

	if err := tx.Commit(); err != nil {
		respondErr(c, apperr.Transient("failed to commit transaction", err))
		return
	}

	middleware.RiskDecisionsTotal.WithLabelValues(decision, "manual_review").Inc()
	c.JSON(http.StatusOK, gin.H{"payment_id": paymentID, "decision": decision})
}

// stageDecision mirrors the rule engine's own outbound shape: an
// approval carries no payload beyond the payment id, a denial carries
// the DENY decision tag the orchestrator's risk.denied handler already
// understands (the same topic a hard rule-engine denial would use).
func (h *ReviewsHandler) stageDecision(ctx context.Context, tx *sql.Tx, eventID string, review *models.RiskReview, topic string) error {
	var payload []byte
	var err error
	if topic == events.TopicRiskApproved {
		payload, err = events.MarshalPayload(events.RiskApprovedPayload{PaymentID: review.PaymentID})
	} else {
		payload, err = events.MarshalPayload(events.RiskDeniedPayload{
			PaymentID: review.PaymentID,
			Decision:  events.RiskDecisionDeny,
			Reason:    "manual_review",
		})
	}
	if err != nil {
		return err
	}
	envelope := events.New(eventID, review.PaymentID, "", topic, payload)
	body, err := events.MarshalEnvelope(envelope)
	if err != nil {
		return err
	}
	return h.outbox.Stage(ctx, tx, eventID, review.PaymentID, topic, body)
}

func respondErr(c *gin.Context, err *apperr.Error) {
	c.JSON(apperr.StatusCode(err.Kind), gin.H{"error": err.Msg})
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
