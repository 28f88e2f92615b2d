package models

import "time"

// ReviewStatus tracks a manual-review row through its lifecycle.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewDenied   ReviewStatus = "DENIED"
)

// RiskReview is a park-for-manual-decision row, created whenever the
// rule engine returns REVIEW instead of an outright APPROVE/DENY.
type RiskReview struct {
	ID               int64
	PaymentID        string
	CustomerID       string
	AmountCents      int64
	Reason           string
	Status           ReviewStatus
	ReviewedBy       string
	ReviewedAt       *time.Time
	DecisionEventID  string
	CreatedAt        time.Time
}
