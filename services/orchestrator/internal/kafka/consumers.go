// Package kafka holds the orchestrator's event consumers: each one
// inbox-guards against redelivery, drives the state machine via a CAS
// update, and stages whatever follow-up event the transition implies,
// all inside one database transaction.
package kafka

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"orchestrator-svc/internal/middleware"
	"orchestrator-svc/internal/models"
	"orchestrator-svc/internal/store"

	"sagakit/broker"
	"sagakit/events"
	"sagakit/inbox"
	"sagakit/outbox"

	"go.uber.org/zap"
)

type Consumers struct {
	store       *store.Store
	outbox      *outbox.Store
	inbox       *inbox.Store
	logger      *zap.Logger
	serviceName string
}

func NewConsumers(st *store.Store, ob *outbox.Store, ib *inbox.Store, logger *zap.Logger) *Consumers {
	return &Consumers{store: st, outbox: ob, inbox: ib, logger: logger, serviceName: "orchestrator"}
}

// Run starts one goroutine per consumed topic, each polling partition
// 0 until ctx is cancelled.
func (cs *Consumers) Run(ctx context.Context) {
	subs := []struct {
		topic   string
		handler broker.Handler
	}{
		{events.TopicRiskApproved, cs.handleRiskApproved},
		{events.TopicRiskDenied, cs.handleRiskDenied},
		{events.TopicPaymentsAuthorized, cs.handleAuthorized},
		{events.TopicPaymentsFailed, cs.handleFailed},
		{events.TopicPaymentsSettled, cs.handleSettled},
	}

	for _, s := range subs {
		topic, handler := s.topic, s.handler
		consumer, err := broker.NewConsumer(topic, cs.logger)
		if err != nil {
			cs.logger.Error("failed to create consumer", zap.String("topic", topic), zap.Error(err))
			continue
		}
		go func() {
			if err := consumer.Run(ctx, 0, handler); err != nil && ctx.Err() == nil {
				cs.logger.Error("consumer loop exited", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}
}

func (cs *Consumers) withInbox(ctx context.Context, env events.Envelope, fn func(tx *sql.Tx) error) error {
	err := cs.inbox.TryConsume(ctx, env.EventID, fn)
	if errors.Is(err, inbox.ErrAlreadyProcessed) {
		middleware.DuplicateEventsSkippedTotal.WithLabelValues(cs.serviceName, env.Type).Inc()
		cs.logger.Info("duplicate event skipped", zap.String("topic", env.Type), zap.String("event_id", env.EventID))
		return nil
	}
	return err
}

func (cs *Consumers) stage(ctx context.Context, tx *sql.Tx, aggregateID, topic string, payload any) error {
	eventID := outbox.NewEventID()
	body, err := events.MarshalPayload(payload)
	if err != nil {
		return err
	}
	env := events.New(eventID, aggregateID, "", topic, body)
	raw, err := events.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	return cs.outbox.Stage(ctx, tx, eventID, aggregateID, topic, raw)
}

// cas wraps store.CompareAndSwap, swallowing ErrStaleEvent (a
// redelivered event that has already been superseded) while still
// surfacing genuine invalid-transition errors.
func (cs *Consumers) cas(ctx context.Context, tx *sql.Tx, paymentID string, from models.Status, version int64, to models.Status, eventID, reason string) (*store.CompareAndSwapResult, bool, error) {
	res, err := cs.store.CompareAndSwap(ctx, tx, paymentID, from, version, to, eventID, reason)
	if errors.Is(err, store.ErrStaleEvent) {
		cs.logger.Info("stale transition dropped", zap.String("payment_id", paymentID), zap.String("to", string(to)))
		return res, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (cs *Consumers) handleRiskApproved(ctx context.Context, env events.Envelope) error {
	var payload events.RiskApprovedPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	return cs.withInbox(ctx, env, func(tx *sql.Tx) error {
		payment, err := cs.store.FindByID(ctx, env.AggregateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		_, applied, err := cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion, models.StatusApproved, env.EventID, "risk_approved")
		if err != nil || !applied {
			return err
		}

		return cs.stage(ctx, tx, payment.PaymentID, events.TopicProviderAuthorizeRequested, events.ProviderAuthorizeRequestedPayload{
			PaymentID:   payment.PaymentID,
			CustomerID:  payment.CustomerID,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
		})
	})
}

func (cs *Consumers) handleRiskDenied(ctx context.Context, env events.Envelope) error {
	var payload events.RiskDeniedPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	target := models.StatusFailed
	reason := "risk_denied"
	if payload.Decision == events.RiskDecisionReview {
		target = models.StatusRiskReview
		reason = "risk_review_required"
	}

	return cs.withInbox(ctx, env, func(tx *sql.Tx) error {
		payment, err := cs.store.FindByID(ctx, env.AggregateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		_, _, err = cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion, target, env.EventID, reason)
		if err != nil {
			return err
		}
		if target == models.StatusFailed {
			middleware.PaymentFailureTotal.WithLabelValues(cs.serviceName).Inc()
		}
		return nil
	})
}

func (cs *Consumers) handleAuthorized(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentsAuthorizedPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	return cs.withInbox(ctx, env, func(tx *sql.Tx) error {
		payment, err := cs.store.FindByID(ctx, env.AggregateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		_, applied, err := cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion, models.StatusAuthorized, env.EventID, "provider_authorized")
		if err != nil || !applied {
			return err
		}
		payment.Status = models.StatusAuthorized
		payment.StateVersion++

		_, applied, err = cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion, models.StatusCaptured, env.EventID, "capture_requested")
		if err != nil || !applied {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_attempts (payment_id, attempt_no, result)
			VALUES ($1, $2, $3)`,
			payment.PaymentID, payload.AttemptNumber, models.AttemptSuccess,
		); err != nil {
			return err
		}

		return cs.stage(ctx, tx, payment.PaymentID, events.TopicPaymentsCaptured, events.PaymentsCapturedPayload{
			PaymentID:   payment.PaymentID,
			CustomerID:  payment.CustomerID,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
		})
	})
}

func (cs *Consumers) handleFailed(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentsFailedPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	return cs.withInbox(ctx, env, func(tx *sql.Tx) error {
		payment, err := cs.store.FindByID(ctx, env.AggregateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		if payment.Status != models.StatusFailed {
			_, applied, err := cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion,
				models.StatusFailed, env.EventID, fmt.Sprintf("provider_failed:%s", payload.ErrorCode))
			if err != nil {
				return err
			}
			if applied {
				payment.Status = models.StatusFailed
				payment.StateVersion++
			}
		}

		attemptResult := models.AttemptTimeout
		if payload.Classification == events.ClassificationDecline {
			attemptResult = models.AttemptDecline
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_attempts (payment_id, attempt_no, result)
			VALUES ($1, $2, $3)`,
			payment.PaymentID, payload.AttemptNumber, attemptResult,
		); err != nil {
			return err
		}

		// A terminal provider timeout auto-compensates to REVERSED;
		// a plain decline stays FAILED.
		if payload.Classification == events.ClassificationTimeout || payload.Classification == events.ClassificationRetryExhausted {
			_, applied, err := cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion,
				models.StatusReversed, env.EventID, "provider_timeout_compensation")
			if err != nil {
				return err
			}
			if applied {
				if err := cs.stage(ctx, tx, payment.PaymentID, events.TopicPaymentsReversed, events.PaymentsReversedPayload{
					PaymentID:     payment.PaymentID,
					Reason:        "provider_timeout_compensation",
					SourceEventID: env.EventID,
				}); err != nil {
					return err
				}
			}
		}

		middleware.PaymentFailureTotal.WithLabelValues(cs.serviceName).Inc()
		return nil
	})
}

func (cs *Consumers) handleSettled(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentsSettledPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	return cs.withInbox(ctx, env, func(tx *sql.Tx) error {
		payment, err := cs.store.FindByID(ctx, env.AggregateID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		_, applied, err := cs.cas(ctx, tx, payment.PaymentID, payment.Status, payment.StateVersion, models.StatusSettled, env.EventID, "ledger_settled")
		if err != nil || !applied {
			return err
		}

		middleware.PaymentSuccessTotal.WithLabelValues(cs.serviceName).Inc()
		return nil
	})
}
