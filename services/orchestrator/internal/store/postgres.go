// Package store is the orchestrator's Postgres repository: payments,
// payment_attempts, payment_timeline, plus the CAS transition at the
// heart of the lifecycle rules.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"orchestrator-svc/internal/models"
	"orchestrator-svc/internal/statemachine"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrStaleEvent is returned by CompareAndSwap when the CAS failed
// because the payment has already moved past the target state — the
// caller should consume-and-drop, not error.
var ErrStaleEvent = errors.New("store: stale event, payment already advanced")

// ErrIdempotencyConflict signals a racing insert on (customer_id,
// idempotency_key); the caller should read back the existing row.
var ErrIdempotencyConflict = errors.New("store: idempotency key already exists")

type Store struct {
	db *sql.DB
}

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "orchestratordb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS payments (
	payment_id      VARCHAR(64) PRIMARY KEY,
	customer_id     VARCHAR(64) NOT NULL,
	amount_cents    BIGINT NOT NULL CHECK (amount_cents >= 0),
	currency        VARCHAR(8) NOT NULL,
	status          VARCHAR(16) NOT NULL,
	state_version   BIGINT NOT NULL DEFAULT 0,
	idempotency_key VARCHAR(128) NOT NULL,
	correlation_id  VARCHAR(64),
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (customer_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS payment_attempts (
	payment_id VARCHAR(64) NOT NULL,
	attempt_no INTEGER NOT NULL,
	result     VARCHAR(16) NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (payment_id, attempt_no)
);

CREATE TABLE IF NOT EXISTS payment_timeline (
	id          BIGSERIAL PRIMARY KEY,
	payment_id  VARCHAR(64) NOT NULL,
	from_state  VARCHAR(16) NOT NULL,
	to_state    VARCHAR(16) NOT NULL,
	reason      VARCHAR(256),
	event_id    VARCHAR(64),
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertNew attempts to insert a brand new CREATED payment. A unique
// constraint violation on (customer_id, idempotency_key) returns
// ErrIdempotencyConflict; the handler then reads back the existing row
//.
func (s *Store) InsertNew(ctx context.Context, p *models.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key, correlation_id)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		p.PaymentID, p.CustomerID, p.AmountCents, p.Currency, models.StatusCreated, p.IdempotencyKey, p.CorrelationID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	p.Status = models.StatusCreated
	p.StateVersion = 0
	return nil
}

// FindByIdempotencyKey reads back an existing payment after a racing
// insert, or for the GET /payments/{id} style lookups by customer.
func (s *Store) FindByIdempotencyKey(ctx context.Context, customerID, idempotencyKey string) (*models.Payment, error) {
	return s.scanOne(ctx, `
		SELECT payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key, correlation_id, created_at, updated_at
		FROM payments WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, idempotencyKey,
	)
}

func (s *Store) FindByID(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.scanOne(ctx, `
		SELECT payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key, correlation_id, created_at, updated_at
		FROM payments WHERE payment_id = $1`,
		paymentID,
	)
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.PaymentID, &p.CustomerID, &p.AmountCents, &p.Currency, &p.Status,
		&p.StateVersion, &p.IdempotencyKey, &p.CorrelationID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CompareAndSwapResult carries the outcome of a CAS attempt along with
// the payment row as currently read, for callers that need it either
// way (to stage the next outbox event, or to decide stale-vs-error).
type CompareAndSwapResult struct {
	Applied bool
	Payment *models.Payment
}

// CompareAndSwap performs the conditional transition: update succeeds
// only if status and state_version both match
// expected. On failure it re-reads the row and classifies the failure:
// if the row's current state is newStatus or a forward descendant of
// it, this is a stale redelivery (ErrStaleEvent, consume-and-drop);
// otherwise it's a genuine invalid transition, surfaced as an error
// wrapping statemachine.ErrInvalidTransition.
func (s *Store) CompareAndSwap(ctx context.Context, tx *sql.Tx, paymentID string, expectedStatus models.Status, expectedVersion int64, newStatus models.Status, eventID, reason string) (*CompareAndSwapResult, error) {
	if err := statemachine.Validate(expectedStatus, newStatus); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, state_version = state_version + 1, updated_at = now()
		WHERE payment_id = $2 AND status = $3 AND state_version = $4`,
		newStatus, paymentID, expectedStatus, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute CAS update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read CAS result: %w", err)
	}

	if rows == 1 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_timeline (payment_id, from_state, to_state, reason, event_id)
			VALUES ($1, $2, $3, $4, $5)`,
			paymentID, expectedStatus, newStatus, reason, eventID,
		); err != nil {
			return nil, fmt.Errorf("failed to write timeline row: %w", err)
		}

		current, err := s.findByIDTx(ctx, tx, paymentID)
		if err != nil {
			return nil, err
		}
		return &CompareAndSwapResult{Applied: true, Payment: current}, nil
	}

	current, err := s.findByIDTx(ctx, tx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read payment after failed CAS: %w", err)
	}

	if statemachine.IsForwardDescendant(newStatus, current.Status) {
		return &CompareAndSwapResult{Applied: false, Payment: current}, ErrStaleEvent
	}

	return &CompareAndSwapResult{Applied: false, Payment: current}, fmt.Errorf(
		"%w: expected %s@%d, found %s@%d", statemachine.ErrInvalidTransition,
		expectedStatus, expectedVersion, current.Status, current.StateVersion,
	)
}

func (s *Store) findByIDTx(ctx context.Context, tx *sql.Tx, paymentID string) (*models.Payment, error) {
	var p models.Payment
	err := tx.QueryRowContext(ctx, `
		SELECT payment_id, customer_id, amount_cents, currency, status, state_version, idempotency_key, correlation_id, created_at, updated_at
		FROM payments WHERE payment_id = $1`,
		paymentID,
	).Scan(&p.PaymentID, &p.CustomerID, &p.AmountCents, &p.Currency, &p.Status, &p.StateVersion, &p.IdempotencyKey, &p.CorrelationID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Timeline returns the append-only audit trail for a payment, oldest
// first, for GET /payments/{id}'s timeline summary.
func (s *Store) Timeline(ctx context.Context, paymentID string) ([]models.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_id, from_state, to_state, reason, event_id, created_at
		FROM payment_timeline WHERE payment_id = $1 ORDER BY id`,
		paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var entries []models.TimelineEntry
	for rows.Next() {
		var e models.TimelineEntry
		if err := rows.Scan(&e.PaymentID, &e.FromState, &e.ToState, &e.Reason, &e.EventID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// BeginTx exposes the underlying *sql.DB's transaction starter so
// handlers can drive CompareAndSwap + outbox.Stage atomically.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// DB exposes the raw handle for the outbox/inbox stores, which share
// this service's database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isUniqueViolation reports whether err is Postgres error code 23505
// (unique_violation), the code raised by the idempotency_key
// constraint on a racing insert.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
