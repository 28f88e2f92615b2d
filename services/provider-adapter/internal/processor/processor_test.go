package processor

import "testing"

func TestAuthorize_ForceTimeoutPrefix(t *testing.T) {
	for i := 0; i < 20; i++ {
		if got := Authorize("force-timeout-customer", 1000); got != OutcomeTimeout {
			t.Fatalf("expected TIMEOUT, got %s", got)
		}
	}
}

func TestAuthorize_ForceDeclinePrefix(t *testing.T) {
	for i := 0; i < 20; i++ {
		if got := Authorize("FORCE-DECLINE-customer", 1000); got != OutcomeDecline {
			t.Fatalf("expected DECLINE, got %s", got)
		}
	}
}
