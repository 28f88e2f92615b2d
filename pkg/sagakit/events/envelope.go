// Package events defines the wire envelope and payload types shared by
// every producer and consumer in the payment saga.
package events

import "time"

// Envelope is the structure published to every topic. event_id is the
// idempotency anchor end-to-end; aggregate_id routes by payment_id.
type Envelope struct {
	EventID       string    `json:"event_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id"`
	AggregateID   string    `json:"aggregate_id"`
	Type          string    `json:"type"`
	Payload       []byte    `json:"payload"`
}

// New builds an envelope around a caller-supplied event_id so the
// outbox row's primary key and the wire envelope never drift apart.
func New(eventID, aggregateID, correlationID, typ string, payload []byte) Envelope {
	return Envelope{
		EventID:       eventID,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		AggregateID:   aggregateID,
		Type:          typ,
		Payload:       payload,
	}
}
