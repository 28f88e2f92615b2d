// Package ledger holds the double-entry posting rule: every
// settlement is a customer_cash debit matched by an equal
// merchant_receivable credit, verified balanced before it's allowed
// to leave the transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger-svc/internal/models"
	"ledger-svc/internal/store"
)

// ErrImbalance is the invariant violation the original called a
// "ledger imbalance": the sum of DEBIT lines under a transaction id
// must equal the sum of CREDIT lines.
var ErrImbalance = errors.New("ledger: imbalance detected")

func TransactionID(paymentID string) string {
	return fmt.Sprintf("settlement:%s", paymentID)
}

// PostSettlement posts the two-sided settlement entry for a captured
// payment and verifies it balances before returning.
func PostSettlement(ctx context.Context, st *store.Store, tx *sql.Tx, paymentID string, amountCents int64) (string, error) {
	txID := TransactionID(paymentID)

	if err := st.PostEntry(ctx, tx, models.Entry{
		TransactionID: txID,
		AccountID:     "customer_cash",
		Direction:     models.DirectionDebit,
		AmountCents:   amountCents,
	}); err != nil {
		return "", err
	}
	if err := st.PostEntry(ctx, tx, models.Entry{
		TransactionID: txID,
		AccountID:     "merchant_receivable",
		Direction:     models.DirectionCredit,
		AmountCents:   amountCents,
	}); err != nil {
		return "", err
	}

	entries, err := st.EntriesForTransaction(ctx, tx, txID)
	if err != nil {
		return "", err
	}
	var debits, credits int64
	for _, e := range entries {
		switch e.Direction {
		case models.DirectionDebit:
			debits += e.AmountCents
		case models.DirectionCredit:
			credits += e.AmountCents
		}
	}
	if debits != credits {
		return "", ErrImbalance
	}

	return txID, nil
}
