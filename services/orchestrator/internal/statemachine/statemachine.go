// Package statemachine declares the payment lifecycle graph as a
// lookup table rather than branching logic, so the allowed edges are
// one glance away instead of scattered across handler code.
package statemachine

import (
	"errors"
	"fmt"

	"orchestrator-svc/internal/models"
)

// ErrInvalidTransition is returned when (from, to) is not an edge in
// the graph below.
var ErrInvalidTransition = errors.New("statemachine: invalid transition")

// edge identifies one (from, to) pair in the transition table.
type edge struct {
	From models.Status
	To   models.Status
}

// transitions is the directed graph of legal (from, to) pairs. The empty
// Status "" stands in for "no prior state" (payment creation).
var transitions = map[edge]bool{
	{"", models.StatusCreated}:                      true,
	{models.StatusCreated, models.StatusRiskReview}: true,
	{models.StatusCreated, models.StatusApproved}:   true,
	{models.StatusCreated, models.StatusFailed}:     true,
	{models.StatusRiskReview, models.StatusApproved}: true,
	{models.StatusRiskReview, models.StatusFailed}:    true,
	{models.StatusApproved, models.StatusAuthorized}: true,
	{models.StatusApproved, models.StatusFailed}:      true,
	{models.StatusAuthorized, models.StatusCaptured}:  true,
	{models.StatusAuthorized, models.StatusFailed}:    true,
	{models.StatusAuthorized, models.StatusReversed}:  true,
	{models.StatusCaptured, models.StatusSettled}:     true,
	{models.StatusCaptured, models.StatusFailed}:      true,
	{models.StatusCaptured, models.StatusReversed}:    true,
	{models.StatusFailed, models.StatusReversed}:      true,
}

// Validate reports whether transitioning from -> to is a legal edge in
// the payment lifecycle graph. Any pair not in the table is rejected
// deterministically.
func Validate(from, to models.Status) error {
	if transitions[edge{from, to}] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsForwardDescendant reports whether candidate is reachable from
// current by following zero or more valid edges. The CAS-failure
// handler in store.CompareAndSwap uses this to distinguish a stale
// consumer (the target state has already been reached, possibly
// several transitions ago — drop the event) from a genuinely invalid
// transition that should surface as an error.
func IsForwardDescendant(current, candidate models.Status) bool {
	if current == candidate {
		return true
	}
	if current.Terminal() {
		return false
	}

	visited := map[models.Status]bool{current: true}
	queue := []models.Status{current}

	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]

		for e := range transitions {
			if e.From != head || visited[e.To] {
				continue
			}
			if e.To == candidate {
				return true
			}
			visited[e.To] = true
			queue = append(queue, e.To)
		}
	}
	return false
}
