// Package kafka holds the ledger's single consumer: on
// payments.captured it posts a balanced settlement entry and emits
// payments.settled in the same transaction.
package kafka

import (
	"context"
	"database/sql"
	"errors"

	"ledger-svc/internal/ledger"
	"ledger-svc/internal/middleware"
	"ledger-svc/internal/store"

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
	return &Consumers{store: st, outbox: ob, inbox: ib, logger: logger, serviceName: "ledger"}
}

func (cs *Consumers) Run(ctx context.Context) {
	consumer, err := broker.NewConsumer(events.TopicPaymentsCaptured, cs.logger)
	if err != nil {
		cs.logger.Error("failed to create consumer", zap.Error(err))
		return
	}
	go func() {
		if err := consumer.Run(ctx, 0, cs.handleCaptured); err != nil && ctx.Err() == nil {
			cs.logger.Error("consumer loop exited", zap.Error(err))
		}
	}()
}

func (cs *Consumers) handleCaptured(ctx context.Context, env events.Envelope) error {
	var payload events.PaymentsCapturedPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	err := cs.inbox.TryConsume(ctx, env.EventID, func(tx *sql.Tx) error {
		txID, err := ledger.PostSettlement(ctx, cs.store, tx, payload.PaymentID, payload.AmountCents)
		if err != nil {
			return err
		}

		eventID := outbox.NewEventID()
		body, err := events.MarshalPayload(events.PaymentsSettledPayload{
			PaymentID:     payload.PaymentID,
			TransactionID: txID,
			AmountCents:   payload.AmountCents,
		})
		if err != nil {
			return err
		}
		outEnv := events.New(eventID, payload.PaymentID, "", events.TopicPaymentsSettled, body)
		raw, err := events.MarshalEnvelope(outEnv)
		if err != nil {
			return err
		}
		if err := cs.outbox.Stage(ctx, tx, eventID, payload.PaymentID, events.TopicPaymentsSettled, raw); err != nil {
			return err
		}
		middleware.SettlementsPostedTotal.WithLabelValues(cs.serviceName).Inc()
		return nil
	})
	if errors.Is(err, inbox.ErrAlreadyProcessed) {
		middleware.DuplicateEventsSkippedTotal.WithLabelValues(cs.serviceName, env.Type).Inc()
		cs.logger.Info("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}
	return err
}
