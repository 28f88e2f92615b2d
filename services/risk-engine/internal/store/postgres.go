// Package store is the risk engine's Postgres repository: the
// risk_reviews table that parks payments awaiting a manual decision.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"risk-engine-svc/internal/models"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var ErrReviewNotFound = errors.New("store: review not found")

// ErrReviewAlreadyDecided signals a racing or repeated decision call
// on a review that has already moved out of PENDING.
var ErrReviewAlreadyDecided = errors.New("store: review already decided")

type Store struct {
	db *sql.DB
}

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "riskenginedb")

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
CREATE TABLE IF NOT EXISTS risk_reviews (
	id                BIGSERIAL PRIMARY KEY,
	payment_id        VARCHAR(64) NOT NULL UNIQUE,
	customer_id       VARCHAR(64) NOT NULL,
	amount_cents      BIGINT NOT NULL,
	reason            VARCHAR(64) NOT NULL,
	status            VARCHAR(16) NOT NULL DEFAULT 'PENDING',
	reviewed_by       VARCHAR(64),
	reviewed_at       TIMESTAMP,
	decision_event_id VARCHAR(64),
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertPending(ctx context.Context, tx *sql.Tx, r *models.RiskReview) error {
	return tx.QueryRowContext(ctx, `
		INSERT INTO risk_reviews (payment_id, customer_id, amount_cents, reason, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at`,
		r.PaymentID, r.CustomerID, r.AmountCents, r.Reason,
	).Scan(&r.ID, &r.CreatedAt)
}

func (s *Store) FindByPaymentID(ctx context.Context, paymentID string) (*models.RiskReview, error) {
	return s.scanOne(ctx, `
		SELECT id, payment_id, customer_id, amount_cents, reason, status, reviewed_by, reviewed_at, decision_event_id, created_at
		FROM risk_reviews WHERE payment_id = $1`,
		paymentID,
	)
}

func (s *Store) List(ctx context.Context, status models.ReviewStatus) ([]models.RiskReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, customer_id, amount_cents, reason, status, reviewed_by, reviewed_at, decision_event_id, created_at
		FROM risk_reviews WHERE status = $1 ORDER BY created_at`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var out []models.RiskReview
	for rows.Next() {
		var r models.RiskReview
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.CustomerID, &r.AmountCents, &r.Reason, &r.Status, &r.ReviewedBy, &r.ReviewedAt, &r.DecisionEventID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Decide flips a PENDING review to APPROVED/DENIED, recording who
// decided it and which outbound event carried the decision onward.
// Scoped to status = 'PENDING' so a repeated call on an already
// decided review is a no-op rather than a silent overwrite.
func (s *Store) Decide(ctx context.Context, tx *sql.Tx, paymentID string, newStatus models.ReviewStatus, reviewedBy, decisionEventID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE risk_reviews
		SET status = $1, reviewed_by = $2, reviewed_at = now(), decision_event_id = $3
		WHERE payment_id = $4 AND status = 'PENDING'`,
		newStatus, reviewedBy, decisionEventID, paymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return ErrReviewAlreadyDecided
	}
	return nil
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*models.RiskReview, error) {
	var r models.RiskReview
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.PaymentID, &r.CustomerID, &r.AmountCents, &r.Reason, &r.Status, &r.ReviewedBy, &r.ReviewedAt, &r.DecisionEventID, &r.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
