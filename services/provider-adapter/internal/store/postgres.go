// Package store is the provider adapter's Postgres repository: the
// append-only provider_attempts log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"provider-adapter-svc/internal/models"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type Store struct {
	db *sql.DB
}

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "provideradapterdb")

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
CREATE TABLE IF NOT EXISTS provider_attempts (
	payment_id     VARCHAR(64) NOT NULL,
	attempt_number INTEGER NOT NULL,
	result         VARCHAR(16) NOT NULL,
	latency_ms     BIGINT NOT NULL,
	error_code     VARCHAR(64),
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (payment_id, attempt_number)
);
`

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertAttempt(ctx context.Context, tx *sql.Tx, a models.ProviderAttempt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO provider_attempts (payment_id, attempt_number, result, latency_ms, error_code)
		VALUES ($1, $2, $3, $4, $5)`,
		a.PaymentID, a.AttemptNumber, a.Result, a.LatencyMS, nullString(a.ErrorCode),
	)
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
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
