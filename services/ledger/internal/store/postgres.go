// Package store is the ledger's Postgres repository: the four fixed
// accounts and the append-only ledger_entries table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"ledger-svc/internal/models"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var ErrTransactionNotFound = errors.New("store: transaction not found")

type Store struct {
	db *sql.DB
}

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "ledgerdb")

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

	if _, err := db.Exec(immutabilityDDL); err != nil {
		return nil, fmt.Errorf("failed to install ledger immutability trigger: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id    VARCHAR(64) PRIMARY KEY,
	account_type  VARCHAR(16) NOT NULL,
	balance_cents BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id VARCHAR(128) NOT NULL,
	account_id     VARCHAR(64) NOT NULL REFERENCES accounts(account_id),
	direction      VARCHAR(8) NOT NULL,
	amount_cents   BIGINT NOT NULL CHECK (amount_cents >= 0),
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_tx ON ledger_entries (transaction_id);
`

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureAccounts seeds the four fixed accounts this ledger ever posts
// to. Idempotent: safe to call on every startup.
func (s *Store) EnsureAccounts(ctx context.Context) error {
	accounts := []models.Account{
		{AccountID: "customer_cash", AccountType: models.AccountCustomer},
		{AccountID: "merchant_receivable", AccountType: models.AccountMerchant},
		{AccountID: "platform_fee", AccountType: models.AccountPlatform},
		{AccountID: "clearing", AccountType: models.AccountClearing},
	}
	for _, a := range accounts {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (account_id, account_type, balance_cents)
			VALUES ($1, $2, 0)
			ON CONFLICT (account_id) DO NOTHING`,
			a.AccountID, a.AccountType,
		); err != nil {
			return fmt.Errorf("failed to seed account %s: %w", a.AccountID, err)
		}
	}
	return nil
}

// PostEntry inserts one ledger line and applies it to the account's
// running balance in the same transaction.
func (s *Store) PostEntry(ctx context.Context, tx *sql.Tx, e models.Entry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, direction, amount_cents)
		VALUES ($1, $2, $3, $4)`,
		e.TransactionID, e.AccountID, e.Direction, e.AmountCents,
	); err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	delta := e.AmountCents
	if e.Direction == models.DirectionDebit {
		delta = -delta
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $1 WHERE account_id = $2`,
		delta, e.AccountID,
	); err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return nil
}

// EntriesForTransaction reads back every line posted under a
// transaction id, used both for the balance-invariant check and the
// reconciliation endpoint.
func (s *Store) EntriesForTransaction(ctx context.Context, tx *sql.Tx, transactionID string) ([]models.Entry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT transaction_id, account_id, direction, amount_cents, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY id`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.TransactionID, &e.AccountID, &e.Direction, &e.AmountCents, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Reconciliation reads a posted transaction's entries outside of a
// write transaction, for the read-only ops endpoint.
func (s *Store) Reconciliation(ctx context.Context, transactionID string) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, account_id, direction, amount_cents, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY id`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.TransactionID, &e.AccountID, &e.Direction, &e.AmountCents, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, ErrTransactionNotFound
	}
	return out, nil
}

// TransactionSummary sums debits and credits for one transaction id,
// the same debits-minus-credits check the sweep runs per-transaction.
func (s *Store) TransactionSummary(ctx context.Context, transactionID string) (models.TransactionSummary, error) {
	summary := models.TransactionSummary{TransactionID: transactionID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'DEBIT' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount_cents ELSE 0 END), 0),
			COUNT(*)
		FROM ledger_entries WHERE transaction_id = $1`,
		transactionID,
	).Scan(&summary.Debits, &summary.Credits, &summary.EntryCount)
	if err != nil {
		return models.TransactionSummary{}, fmt.Errorf("failed to summarize transaction: %w", err)
	}
	if summary.EntryCount == 0 {
		return models.TransactionSummary{}, ErrTransactionNotFound
	}
	return summary, nil
}

// ReconciliationSweep groups every posted entry by transaction_id and
// sums debits vs credits per group, so a caller can report any
// non-zero group as an imbalance. Mirrors the original reconciliation
// report's grouped aggregate query. Pages via a transaction_id keyset
// cursor (afterTransactionID, exclusive) rather than a flat OFFSET, so
// a caller sweeping the whole table page by page never skips or
// double-counts a group as rows are inserted concurrently.
func (s *Store) ReconciliationSweep(ctx context.Context, afterTransactionID string, limit int) ([]models.TransactionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			transaction_id,
			COALESCE(SUM(CASE WHEN direction = 'DEBIT' THEN amount_cents ELSE 0 END), 0) AS debits,
			COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount_cents ELSE 0 END), 0) AS credits,
			COUNT(*) AS entry_count
		FROM ledger_entries
		WHERE transaction_id > $1
		GROUP BY transaction_id
		ORDER BY transaction_id
		LIMIT $2`,
		afterTransactionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.TransactionSummary
	for rows.Next() {
		var sum models.TransactionSummary
		if err := rows.Scan(&sum.TransactionID, &sum.Debits, &sum.Credits, &sum.EntryCount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, nil
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
