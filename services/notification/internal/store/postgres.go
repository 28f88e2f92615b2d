// Package store is the notification service's Postgres repository:
// an append-only notification_log table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

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
	dbname := getEnv("DB_NAME", "notificationdb")

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
CREATE TABLE IF NOT EXISTS notification_log (
	id         BIGSERIAL PRIMARY KEY,
	payment_id VARCHAR(64) NOT NULL,
	channel    VARCHAR(32) NOT NULL,
	message    VARCHAR(512) NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertLog(ctx context.Context, tx *sql.Tx, paymentID, channel, message string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notification_log (payment_id, channel, message)
		VALUES ($1, $2, $3)`,
		paymentID, channel, message,
	)
	return err
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
