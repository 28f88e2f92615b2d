package handlers

import (
	"errors"
	"net/http"
	"time"

	"ledger-svc/internal/apperr"
	"ledger-svc/internal/models"
	"ledger-svc/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReconciliationHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewReconciliationHandler(st *store.Store, logger *zap.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{store: st, logger: logger}
}

type entryResponse struct {
	AccountID   string `json:"account_id"`
	Direction   string `json:"direction"`
	AmountCents int64  `json:"amount_cents"`
	CreatedAt   string `json:"created_at"`
}

// GetTransaction implements GET /reconciliation/{transaction_id}:
// debits minus credits for one settlement, plus its raw entries, for
// support/audit lookups.
func (h *ReconciliationHandler) GetTransaction(c *gin.Context) {
	txID := c.Param("transaction_id")

	entries, err := h.store.Reconciliation(c.Request.Context(), txID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		respondErr(c, apperr.Transient("failed to read transaction", err))
		return
	}

	summary, err := h.store.TransactionSummary(c.Request.Context(), txID)
	if err != nil {
		respondErr(c, apperr.Transient("failed to summarize transaction", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction_id": txID,
		"balanced":       summary.Balanced(),
		"debits":         summary.Debits,
		"credits":        summary.Credits,
		"entries":        toEntryResponses(entries),
	})
}

const reconciliationPageSize = 1000

// maxReconciliationPages bounds how many pages a single sweep request
// will walk before giving up and reporting itself as truncated,
// protecting the handler from an unbounded table scan inside one HTTP
// request without ever silently dropping a page within that bound.
const maxReconciliationPages = 1000

// ListTransactions implements GET /reconciliation: a global sweep
// grouping every posted entry by transaction_id and reporting any
// group whose debits and credits don't match. Pages through the whole
// table via a transaction_id cursor instead of a single capped query,
// so an imbalance past the first page is never missed.
func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	imbalanced := make([]gin.H, 0)
	checked := 0
	cursor := ""
	truncated := false

	for page := 0; ; page++ {
		if page >= maxReconciliationPages {
			truncated = true
			h.logger.Warn("reconciliation sweep truncated", zap.Int("transactions_checked", checked))
			break
		}

		summaries, err := h.store.ReconciliationSweep(c.Request.Context(), cursor, reconciliationPageSize)
		if err != nil {
			respondErr(c, apperr.Transient("failed to sweep ledger entries", err))
			return
		}
		if len(summaries) == 0 {
			break
		}

		for _, sum := range summaries {
			checked++
			if !sum.Balanced() {
				imbalanced = append(imbalanced, gin.H{
					"transaction_id": sum.TransactionID,
					"debits":         sum.Debits,
					"credits":        sum.Credits,
					"entry_count":    sum.EntryCount,
				})
			}
		}

		cursor = summaries[len(summaries)-1].TransactionID
		if len(summaries) < reconciliationPageSize {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions_checked":    checked,
		"imbalanced_count":        len(imbalanced),
		"imbalanced_transactions": imbalanced,
		"truncated":               truncated,
	})
}

func toEntryResponses(entries []models.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			AccountID:   e.AccountID,
			Direction:   string(e.Direction),
			AmountCents: e.AmountCents,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

func respondErr(c *gin.Context, err *apperr.Error) {
	c.JSON(apperr.StatusCode(err.Kind), gin.H{"error": err.Msg})
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
