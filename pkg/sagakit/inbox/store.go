// Package inbox implements the consumer-side dedup table that turns
// at-least-once delivery into exactly-once effects.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrAlreadyProcessed is returned by TryConsume when the event has been
// seen before by this consumer. Callers swallow it: commit the
// transport offset and return without side effects.
var ErrAlreadyProcessed = errors.New("inbox: event already processed")

// Store is the per-service inbox table, keyed by (event_id,
// consumer_service).
type Store struct {
	db          *sql.DB
	serviceName string
}

func NewStore(db *sql.DB, serviceName string) *Store {
	return &Store{db: db, serviceName: serviceName}
}

// EnsureSchema creates the inbox table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS inbox_events (
		event_id         VARCHAR(64) NOT NULL,
		consumer_service  VARCHAR(64) NOT NULL,
		processed_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (event_id, consumer_service)
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create inbox_events table: %w", err)
	}
	return nil
}

// TryConsume inserts (eventID, consumer_service) inside a transaction
// it opens, and only calls fn with that transaction if the insert was
// new. A duplicate insert returns ErrAlreadyProcessed without invoking
// fn or touching any other state. fn's own writes
// (business state, further outbox rows) ride the same transaction, so
// inbox marking and side effects commit or roll back together.
func (s *Store) TryConsume(ctx context.Context, eventID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin inbox tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO inbox_events (event_id, consumer_service)
		VALUES ($1, $2)
		ON CONFLICT (event_id, consumer_service) DO NOTHING`,
		eventID, s.serviceName,
	)
	if err != nil {
		return fmt.Errorf("failed to insert inbox row: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read inbox insert result: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyProcessed
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
