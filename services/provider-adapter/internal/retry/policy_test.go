package retry

import (
	"context"
	"testing"
	"time"

	"provider-adapter-svc/internal/circuitbreaker"
)

func TestRun_DeclineIsTerminalOnFirstAttempt(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(10, time.Second, nil)
	var sleeps int
	result, err := Run(context.Background(), cb, "force-decline-cust", 1000, func(time.Duration) { sleeps++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("expected exactly one attempt for a decline, got %d", len(result.Attempts))
	}
	if sleeps != 0 {
		t.Fatalf("expected no backoff sleep for a decline, got %d", sleeps)
	}
	if result.RetryExhausted {
		t.Fatal("a decline is not a retry-exhaustion outcome")
	}
}

func TestRun_TimeoutRetriesUpToMaxAttempts(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(10, time.Second, nil)
	var backoffs []time.Duration
	result, err := Run(context.Background(), cb, "force-timeout-cust", 1000, func(d time.Duration) { backoffs = append(backoffs, d) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attempts) != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, len(result.Attempts))
	}
	if !result.RetryExhausted {
		t.Fatal("expected retry exhaustion after repeated timeouts")
	}
	if len(backoffs) != MaxAttempts-1 {
		t.Fatalf("expected %d backoff sleeps, got %d", MaxAttempts-1, len(backoffs))
	}
	if backoffs[0] != time.Second || backoffs[1] != 2*time.Second {
		t.Fatalf("expected 1s then 2s backoff, got %v", backoffs)
	}
}
