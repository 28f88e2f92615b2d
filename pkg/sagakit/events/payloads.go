package events

// RiskDecision is the outcome the Risk Engine attaches to risk.denied,
// distinguishing a hard denial from a manual-review park.
type RiskDecision string

const (
	RiskDecisionDeny   RiskDecision = "DENY"
	RiskDecisionReview RiskDecision = "REVIEW"
)

// FailureClassification is attached to payments.failed so downstream
// consumers (Orchestrator, Notification) know why the payment died.
type FailureClassification string

const (
	ClassificationDecline        FailureClassification = "DECLINE"
	ClassificationRetryExhausted FailureClassification = "RETRY_EXHAUSTED"
	ClassificationNonRetryable   FailureClassification = "NON_RETRYABLE"
	ClassificationTimeout        FailureClassification = "TIMEOUT"
)

// PaymentsRequestedPayload is emitted by the Orchestrator once a payment
// row has been created.
type PaymentsRequestedPayload struct {
	PaymentID   string `json:"payment_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// RiskApprovedPayload carries no decision data beyond the payment id;
// the topic itself is the decision.
type RiskApprovedPayload struct {
	PaymentID string `json:"payment_id"`
}

// RiskDeniedPayload carries which of DENY/REVIEW the risk engine chose.
type RiskDeniedPayload struct {
	PaymentID string       `json:"payment_id"`
	Decision  RiskDecision `json:"decision"`
	Reason    string       `json:"reason"`
}

// ProviderAuthorizeRequestedPayload is what the Orchestrator asks the
// Provider Adapter to do.
type ProviderAuthorizeRequestedPayload struct {
	PaymentID   string `json:"payment_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// PaymentsAuthorizedPayload is emitted by the Provider Adapter on
// SUCCESS.
type PaymentsAuthorizedPayload struct {
	PaymentID     string `json:"payment_id"`
	AttemptNumber int    `json:"attempt_number"`
	LatencyMS     int64  `json:"latency_ms"`
}

// PaymentsFailedPayload is emitted by the Provider Adapter on a
// decline or a retry-exhausted timeout.
type PaymentsFailedPayload struct {
	PaymentID      string                 `json:"payment_id"`
	CustomerID     string                 `json:"customer_id"`
	AttemptNumber  int                    `json:"attempt_number"`
	LatencyMS      int64                  `json:"latency_ms"`
	Classification FailureClassification  `json:"classification"`
	ErrorCode      string                 `json:"error_code"`
}

// PaymentsCapturedPayload is emitted by the Orchestrator immediately
// after AUTHORIZED -> CAPTURED.
type PaymentsCapturedPayload struct {
	PaymentID   string `json:"payment_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// PaymentsSettledPayload is emitted by the Ledger once both entries
// commit.
type PaymentsSettledPayload struct {
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
}

// PaymentsReversedPayload is emitted by the Orchestrator on a capture
// timeout compensation.
type PaymentsReversedPayload struct {
	PaymentID      string `json:"payment_id"`
	Reason         string `json:"reason"`
	SourceEventID  string `json:"source_event_id"`
}

// DLQPayload is staged by any consumer that exhausts retries or
// rejects a message as non-retryable, mirroring the original
// provider adapter's _enqueue_dlq shape.
type DLQPayload struct {
	Reason        string `json:"reason"`
	ErrorType     string `json:"error_type"`
	Retryable     bool   `json:"retryable"`
	Source        string `json:"source"`
	SourceEventID string `json:"source_event_id"`
	ReplayTopic   string `json:"replay_topic,omitempty"`
	FailedEvent   []byte `json:"failed_event,omitempty"`
}
