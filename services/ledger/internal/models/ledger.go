package models

import "time"

type AccountType string

const (
	AccountCustomer AccountType = "CUSTOMER"
	AccountMerchant AccountType = "MERCHANT"
	AccountPlatform AccountType = "PLATFORM"
	AccountClearing AccountType = "CLEARING"
)

// Account is one of the four fixed ledger accounts seeded at startup.
type Account struct {
	AccountID   string
	AccountType AccountType
	BalanceCents int64
}

type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Entry is one append-only posting line. A balanced transaction is
// exactly two entries sharing a transaction_id: one DEBIT, one CREDIT,
// for the same amount.
type Entry struct {
	TransactionID string
	AccountID     string
	Direction     Direction
	AmountCents   int64
	CreatedAt     time.Time
}

// TransactionSummary is the debits-minus-credits view of one
// transaction_id used by the reconciliation sweep: Balanced is true
// iff Debits equals Credits.
type TransactionSummary struct {
	TransactionID string
	Debits        int64
	Credits       int64
	EntryCount    int
}

func (s TransactionSummary) Balanced() bool {
	return s.Debits == s.Credits
}
