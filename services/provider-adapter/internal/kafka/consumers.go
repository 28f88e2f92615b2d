// Package kafka holds the provider adapter's single consumer: it runs
// the authorize request through the simulated processor under a
// circuit breaker and asymmetric retry policy, then emits
// payments.authorized or payments.failed (plus a DLQ entry on retry
// exhaustion or a malformed request).
package kafka

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"provider-adapter-svc/internal/circuitbreaker"
	"provider-adapter-svc/internal/middleware"
	"provider-adapter-svc/internal/models"
	"provider-adapter-svc/internal/processor"
	"provider-adapter-svc/internal/retry"
	"provider-adapter-svc/internal/store"

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
	breaker     *circuitbreaker.CircuitBreaker
	logger      *zap.Logger
	serviceName string
}

func NewConsumers(st *store.Store, ob *outbox.Store, ib *inbox.Store, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Consumers {
	return &Consumers{store: st, outbox: ob, inbox: ib, breaker: breaker, logger: logger, serviceName: "provider-adapter"}
}

func (cs *Consumers) Run(ctx context.Context) {
	consumer, err := broker.NewConsumer(events.TopicProviderAuthorizeRequested, cs.logger)
	if err != nil {
		cs.logger.Error("failed to create consumer", zap.Error(err))
		return
	}
	go func() {
		if err := consumer.Run(ctx, 0, cs.handleAuthorizeRequested); err != nil && ctx.Err() == nil {
			cs.logger.Error("consumer loop exited", zap.Error(err))
		}
	}()
}

func (cs *Consumers) handleAuthorizeRequested(ctx context.Context, env events.Envelope) error {
	var payload events.ProviderAuthorizeRequestedPayload
	if err := events.UnmarshalPayload(env.Payload, &payload); err != nil {
		return err
	}

	// Validation and the retry loop (which sleeps for real between
	// timeout attempts) run before the inbox transaction opens, so a
	// slow provider call never holds a database transaction open for
	// seconds at a time. Re-running the simulated call on a redelivery
	// is harmless; only the writes below need the dedup guard.
	if invalidErr := validatePayload(payload); invalidErr != nil {
		return cs.inbox.TryConsume(ctx, env.EventID, func(tx *sql.Tx) error {
			if err := cs.stage(ctx, tx, payload.PaymentID, events.TopicPaymentsFailed, events.PaymentsFailedPayload{
				PaymentID:      payload.PaymentID,
				CustomerID:     payload.CustomerID,
				Classification: events.ClassificationNonRetryable,
				ErrorCode:      invalidErr.Error(),
			}); err != nil {
				return err
			}
			return cs.dlq(ctx, tx, env, invalidErr.Error(), "NON_RETRYABLE", false, "")
		})
	}

	result, runErr := retry.Run(ctx, cs.breaker, payload.CustomerID, payload.AmountCents, sleep)
	if runErr != nil {
		return runErr
	}

	err := cs.inbox.TryConsume(ctx, env.EventID, func(tx *sql.Tx) error {
		for _, attempt := range result.Attempts {
			dbResult := models.ResultFailed
			errorCode := ""
			if attempt.Outcome == processor.OutcomeSuccess {
				dbResult = models.ResultAuthorized
			} else if attempt.Outcome == processor.OutcomeDecline {
				errorCode = "PROVIDER_DECLINE"
			} else {
				errorCode = "PROVIDER_TIMEOUT"
				middleware.RetriesTotal.WithLabelValues(cs.serviceName, "provider").Inc()
			}
			if err := cs.store.InsertAttempt(ctx, tx, models.ProviderAttempt{
				PaymentID:     payload.PaymentID,
				AttemptNumber: attempt.Number,
				Result:        dbResult,
				LatencyMS:     attempt.LatencyMS,
				ErrorCode:     errorCode,
			}); err != nil {
				return err
			}
		}

		switch result.Final.Outcome {
		case processor.OutcomeSuccess:
			return cs.stage(ctx, tx, payload.PaymentID, events.TopicPaymentsAuthorized, events.PaymentsAuthorizedPayload{
				PaymentID:     payload.PaymentID,
				AttemptNumber: result.Final.Number,
				LatencyMS:     result.Final.LatencyMS,
			})

		case processor.OutcomeDecline:
			return cs.stage(ctx, tx, payload.PaymentID, events.TopicPaymentsFailed, events.PaymentsFailedPayload{
				PaymentID:      payload.PaymentID,
				CustomerID:     payload.CustomerID,
				AttemptNumber:  result.Final.Number,
				LatencyMS:      result.Final.LatencyMS,
				Classification: events.ClassificationDecline,
				ErrorCode:      "PROVIDER_DECLINE",
			})

		default: // timeout, retries exhausted
			if err := cs.stage(ctx, tx, payload.PaymentID, events.TopicPaymentsFailed, events.PaymentsFailedPayload{
				PaymentID:      payload.PaymentID,
				CustomerID:     payload.CustomerID,
				AttemptNumber:  result.Final.Number,
				LatencyMS:      result.Final.LatencyMS,
				Classification: events.ClassificationRetryExhausted,
				ErrorCode:      "PROVIDER_TIMEOUT",
			}); err != nil {
				return err
			}
			return cs.dlq(ctx, tx, env, "PROVIDER_TIMEOUT", "RETRY_EXHAUSTED", true, events.TopicProviderAuthorizeRequested)
		}
	})
	if errors.Is(err, inbox.ErrAlreadyProcessed) {
		middleware.DuplicateEventsSkippedTotal.WithLabelValues(cs.serviceName, env.Type).Inc()
		cs.logger.Info("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}
	return err
}

func validatePayload(p events.ProviderAuthorizeRequestedPayload) error {
	if p.CustomerID == "" {
		return errInvalidCustomerID
	}
	if len(p.Currency) != 3 {
		return errInvalidCurrency
	}
	if p.AmountCents < 0 {
		return errInvalidAmount
	}
	return nil
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

// dlq stages a DLQ payload modeled on the original's _enqueue_dlq: a
// replay topic and the original envelope bytes are only attached when
// the failure is retryable.
func (cs *Consumers) dlq(ctx context.Context, tx *sql.Tx, source events.Envelope, reason, errorType string, retryable bool, replayTopic string) error {
	dlqPayload := events.DLQPayload{
		Reason:        reason,
		ErrorType:     errorType,
		Retryable:     retryable,
		Source:        cs.serviceName,
		SourceEventID: source.EventID,
	}
	if replayTopic != "" {
		dlqPayload.ReplayTopic = replayTopic
		raw, err := events.MarshalEnvelope(source)
		if err != nil {
			return err
		}
		dlqPayload.FailedEvent = raw
	}

	middleware.DLQPublishedTotal.WithLabelValues(cs.serviceName, events.DLQ(source.Type), errorType).Inc()
	return cs.stage(ctx, tx, source.AggregateID, events.DLQ(source.Type), dlqPayload)
}

func sleep(d time.Duration) {
	time.Sleep(d)
}

var (
	errInvalidCustomerID = invalidPayloadError("invalid customer_id")
	errInvalidCurrency   = invalidPayloadError("invalid currency")
	errInvalidAmount     = invalidPayloadError("invalid amount_cents")
)

type invalidPayloadError string

func (e invalidPayloadError) Error() string { return string(e) }
