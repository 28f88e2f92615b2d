// Package outbox implements the transactional outbox runtime shared by
// every service: stage an event in the same database transaction as
// the business mutation it describes, then let a pool of publisher
// workers drain it asynchronously with crash-safe reclaim.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status mirrors the lifecycle rules's Outbox Event status enum.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished  Status = "PUBLISHED"
	StatusFailed     Status = "FAILED"
)

// Event is one staged outbox row.
type Event struct {
	EventID     string
	AggregateID string
	Topic       string
	Payload     []byte
	Status      Status
	ClaimToken  string
	ClaimedAt   sql.NullTime
	CreatedAt   time.Time
	Attempts    int
}

// Querier is satisfied by both *sql.DB and *sql.Tx, letting Stage run
// inside the caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres-backed outbox table for one service. The table
// name is fixed to "outbox_events" per service database; each service
// owns its own instance, never another's.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the outbox table if missing. Called once at
// service startup, same place each service's InitDB bootstraps its
// business tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS outbox_events (
		event_id     VARCHAR(64) PRIMARY KEY,
		aggregate_id VARCHAR(64) NOT NULL,
		topic        VARCHAR(128) NOT NULL,
		payload      BYTEA NOT NULL,
		status       VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		claim_token  VARCHAR(64),
		claimed_at   TIMESTAMP,
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		attempts     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status);
	`)
	if err != nil {
		return fmt.Errorf("failed to create outbox_events table: %w", err)
	}
	return nil
}

// Stage writes a new PENDING row using q, which must be the same
// transaction as the business mutation the event describes. aggregateID is the payment_id for routing.
// eventID becomes both the row's primary key and the wire envelope's
// event_id, so the two never drift apart.
func (s *Store) Stage(ctx context.Context, q Querier, eventID, aggregateID, topic string, payload []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_id, topic, payload, status)
		VALUES ($1, $2, $3, $4, 'PENDING')`,
		eventID, aggregateID, topic, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to stage outbox event: %w", err)
	}
	return nil
}

// NewEventID generates a fresh event_id for callers constructing an
// envelope before staging it.
func NewEventID() string {
	return uuid.NewString()
}

// ClaimBatch selects up to limit rows that are PENDING, or PROCESSING
// past reclaimTimeout, locking them with SKIP LOCKED so concurrent
// publisher workers never double-claim a row.
func (s *Store) ClaimBatch(ctx context.Context, limit int, reclaimTimeout time.Duration) ([]Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, aggregate_id, topic, payload, status, attempts
		FROM outbox_events
		WHERE status = 'PENDING'
		   OR (status = 'PROCESSING' AND claimed_at < now() - ($1 * interval '1 second'))
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		reclaimTimeout.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable rows: %w", err)
	}

	var claimed []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.Topic, &e.Payload, &e.Status, &e.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		claimed = append(claimed, e)
	}
	rows.Close()

	for i := range claimed {
		token := uuid.NewString()
		_, err := tx.ExecContext(ctx, `
			UPDATE outbox_events
			SET status = 'PROCESSING', claim_token = $1, claimed_at = now()
			WHERE event_id = $2`,
			token, claimed[i].EventID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark row claimed: %w", err)
		}
		claimed[i].ClaimToken = token
		claimed[i].Status = StatusProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim tx: %w", err)
	}
	return claimed, nil
}

// MarkPublished moves a successfully published row to PUBLISHED.
func (s *Store) MarkPublished(ctx context.Context, eventID, claimToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = 'PUBLISHED'
		WHERE event_id = $1 AND claim_token = $2`,
		eventID, claimToken,
	)
	return err
}

// Release returns a row to PENDING after a failed publish attempt,
// incrementing attempts; once attempts reaches maxAttempts it is marked
// FAILED instead so an operator can inspect it.
func (s *Store) Release(ctx context.Context, eventID, claimToken string, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'FAILED' ELSE 'PENDING' END,
		    claim_token = NULL,
		    claimed_at = NULL
		WHERE event_id = $1 AND claim_token = $2`,
		eventID, claimToken, maxAttempts,
	)
	return err
}

// OldestPendingAge returns the age of the oldest PENDING/PROCESSING row,
// backing the outbox_oldest_pending_age_seconds gauge.
func (s *Store) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM outbox_events WHERE status IN ('PENDING', 'PROCESSING')`,
	).Scan(&createdAt)
	if err != nil {
		return 0, err
	}
	if !createdAt.Valid {
		return 0, nil
	}
	return time.Since(createdAt.Time), nil
}
