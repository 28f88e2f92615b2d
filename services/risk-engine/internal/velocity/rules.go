// Package velocity implements the risk rule ladder: hour-bucketed
// request velocity, high-amount review, and a failed-attempts
// escalation, evaluated in the same order the original rule engine
// used so the precedence between DENY and REVIEW reasons matches.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDeny    Decision = "DENY"
	DecisionReview  Decision = "REVIEW"
)

type Thresholds struct {
	DenyFrequencyPerHour int
	ReviewAmountCents    int64
	ReviewVelocityPerHour int
}

type Engine struct {
	rdb        *redis.Client
	thresholds Thresholds
}

func NewEngine(rdb *redis.Client, thresholds Thresholds) *Engine {
	return &Engine{rdb: rdb, thresholds: thresholds}
}

func hourBucketKey(customerID string, now time.Time) string {
	return fmt.Sprintf("velocity:%s:%s", customerID, now.UTC().Format("2006010215"))
}

func failedAttemptsKey(customerID string) string {
	return fmt.Sprintf("failed_attempts:%s", customerID)
}

// Decide applies the rule ladder and returns the decision plus the
// reason tag staged into the outgoing risk event.
func (e *Engine) Decide(ctx context.Context, customerID string, amountCents int64) (Decision, string, error) {
	key := hourBucketKey(customerID, time.Now())
	count, err := e.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", "", fmt.Errorf("failed to increment velocity counter: %w", err)
	}
	if err := e.rdb.Expire(ctx, key, 2*time.Hour).Err(); err != nil {
		return "", "", fmt.Errorf("failed to set velocity counter ttl: %w", err)
	}

	failedRaw, err := e.rdb.Get(ctx, failedAttemptsKey(customerID)).Int64()
	if err != nil && err != redis.Nil {
		return "", "", fmt.Errorf("failed to read failed-attempts counter: %w", err)
	}

	switch {
	case int(count) > e.thresholds.DenyFrequencyPerHour:
		return DecisionDeny, "high_frequency", nil
	case amountCents > e.thresholds.ReviewAmountCents:
		return DecisionReview, "high_amount", nil
	case failedRaw >= 3:
		return DecisionDeny, "multiple_failed_attempts", nil
	case int(count) > e.thresholds.ReviewVelocityPerHour:
		return DecisionReview, "velocity_threshold", nil
	default:
		return DecisionApprove, "rule_passed", nil
	}
}

// RecordFailedAttempt bumps the customer's failed-attempt counter,
// consulted by the multiple_failed_attempts rule above. Fed by the
// provider adapter's payments.failed stream via the risk engine's own
// consumer (kept separate from the velocity bucket, which tracks
// request volume rather than outcomes).
func (e *Engine) RecordFailedAttempt(ctx context.Context, customerID string) error {
	key := failedAttemptsKey(customerID)
	if err := e.rdb.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return e.rdb.Expire(ctx, key, 24*time.Hour).Err()
}
