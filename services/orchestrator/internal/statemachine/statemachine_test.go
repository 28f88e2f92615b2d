package statemachine

import (
	"errors"
	"testing"

	"orchestrator-svc/internal/models"
)

func TestValidate_HappyPathEdges(t *testing.T) {
	path := []models.Status{
		"", models.StatusCreated, models.StatusApproved,
		models.StatusAuthorized, models.StatusCaptured, models.StatusSettled,
	}
	for i := 0; i < len(path)-1; i++ {
		if err := Validate(path[i], path[i+1]); err != nil {
			t.Errorf("expected %s -> %s to be valid, got %v", path[i], path[i+1], err)
		}
	}
}

func TestValidate_RiskReviewEdges(t *testing.T) {
	cases := []struct{ from, to models.Status }{
		{models.StatusCreated, models.StatusRiskReview},
		{models.StatusRiskReview, models.StatusApproved},
		{models.StatusRiskReview, models.StatusFailed},
	}
	for _, c := range cases {
		if err := Validate(c.from, c.to); err != nil {
			t.Errorf("expected %s -> %s to be valid, got %v", c.from, c.to, err)
		}
	}
}

func TestValidate_RejectsUnknownEdge(t *testing.T) {
	err := Validate(models.StatusSettled, models.StatusCreated)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestValidate_RejectsSkippingStates(t *testing.T) {
	err := Validate(models.StatusCreated, models.StatusCaptured)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIsForwardDescendant_DetectsStaleConsumer(t *testing.T) {
	// A consumer re-delivering risk.approved after the payment has
	// already advanced past APPROVED should see it as stale, not an error.
	if !IsForwardDescendant(models.StatusApproved, models.StatusAuthorized) {
		t.Fatal("expected Authorized to be a forward descendant of Approved")
	}
	if !IsForwardDescendant(models.StatusApproved, models.StatusSettled) {
		t.Fatal("expected Settled to be a forward descendant of Approved")
	}
}

func TestIsForwardDescendant_RejectsDivergentBranch(t *testing.T) {
	if IsForwardDescendant(models.StatusAuthorized, models.StatusRiskReview) {
		t.Fatal("RISK_REVIEW is not reachable once a payment has reached AUTHORIZED")
	}
}

func TestIsForwardDescendant_TerminalHasNoDescendants(t *testing.T) {
	if IsForwardDescendant(models.StatusSettled, models.StatusFailed) {
		t.Fatal("a terminal state has no forward descendants other than itself")
	}
	if !IsForwardDescendant(models.StatusSettled, models.StatusSettled) {
		t.Fatal("a state is always its own forward descendant")
	}
}

func TestValidate_AllowsTimeoutCompensationEdges(t *testing.T) {
	// A provider timeout can carry a payment from any post-approval
	// state straight to REVERSED, including by way of FAILED.
	cases := []struct{ from, to models.Status }{
		{models.StatusAuthorized, models.StatusFailed},
		{models.StatusCaptured, models.StatusFailed},
		{models.StatusCaptured, models.StatusReversed},
		{models.StatusFailed, models.StatusReversed},
	}
	for _, c := range cases {
		if err := Validate(c.from, c.to); err != nil {
			t.Errorf("expected %s -> %s to be valid, got %v", c.from, c.to, err)
		}
	}
}

func TestIsForwardDescendant_FailedCanStillReachReversed(t *testing.T) {
	if !IsForwardDescendant(models.StatusFailed, models.StatusReversed) {
		t.Fatal("FAILED is not fully terminal: a timeout compensation can still reverse it")
	}
}
