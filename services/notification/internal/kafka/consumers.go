// Package kafka wires the notification service's event subscriptions.
// Notification is a terminal consumer: it writes a log row and emits
// nothing downstream.
package kafka

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"notification-svc/internal/middleware"
	"notification-svc/internal/store"

	"sagakit/broker"
	"sagakit/events"
	"sagakit/inbox"

	"go.uber.org/zap"
)

type Consumers struct {
	store       *store.Store
	inbox       *inbox.Store
	logger      *zap.Logger
	serviceName string
}

func NewConsumers(st *store.Store, ib *inbox.Store, logger *zap.Logger) *Consumers {
	return &Consumers{
		store:       st,
		inbox:       ib,
		logger:      logger,
		serviceName: "notification",
	}
}

func (cs *Consumers) Run(ctx context.Context) {
	topics := []string{
		events.TopicPaymentsFailed,
		events.TopicPaymentsSettled,
		events.TopicPaymentsReversed,
	}

	for _, topic := range topics {
		topic := topic
		consumer, err := broker.NewConsumer(topic, cs.logger)
		if err != nil {
			cs.logger.Error("failed to create consumer", zap.String("topic", topic), zap.Error(err))
			continue
		}
		go func() {
			if err := consumer.Run(ctx, 0, cs.handle); err != nil && ctx.Err() == nil {
				cs.logger.Error("consumer loop exited", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}
}

// handle writes one notification_log row per event, regardless of
// which of the three topics it arrived on: every payload carries a
// payment_id, and the message text records which event produced it,
// mirroring the original's log-everything behavior rather than
// branching per event type.
func (cs *Consumers) handle(ctx context.Context, env events.Envelope) error {
	paymentID, err := paymentIDFromPayload(env.Payload)
	if err != nil {
		cs.logger.Error("failed to extract payment id",
			zap.String("event_id", env.EventID), zap.String("type", env.Type), zap.Error(err))
		return err
	}

	message := fmt.Sprintf("Payment %s event=%s", paymentID, env.Type)

	err = cs.inbox.TryConsume(ctx, env.EventID, func(tx *sql.Tx) error {
		return cs.store.InsertLog(ctx, tx, paymentID, "webhook", message)
	})
	if errors.Is(err, inbox.ErrAlreadyProcessed) {
		middleware.DuplicateEventsSkippedTotal.WithLabelValues(cs.serviceName, env.Type).Inc()
		cs.logger.Info("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}
	if err != nil {
		return err
	}

	middleware.NotificationsSentTotal.WithLabelValues(env.Type).Inc()
	return nil
}

func paymentIDFromPayload(payload []byte) (string, error) {
	var probe struct {
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("unmarshal payload: %w", err)
	}
	if probe.PaymentID == "" {
		return "", fmt.Errorf("payload missing payment_id")
	}
	return probe.PaymentID, nil
}
