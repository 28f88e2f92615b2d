package models

import "time"

type AttemptResult string

const (
	ResultAuthorized AttemptResult = "AUTHORIZED"
	ResultFailed      AttemptResult = "FAILED"
)

// ProviderAttempt is an append-only log of one call to the simulated
// processor, mirroring the original's ProviderAttempt row.
type ProviderAttempt struct {
	PaymentID     string
	AttemptNumber int
	Result        AttemptResult
	LatencyMS     int64
	ErrorCode     string
	CreatedAt     time.Time
}
