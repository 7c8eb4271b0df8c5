//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package chain

// Counters is the per-chain resource ledger. It carries no lock of its
// own: every mutation happens under the owning context's mutex, which
// is what makes reservation-then-commit atomic. The invariant is
// CostSpent + PendingReservation <= ceiling at every decision point.
type Counters struct {
	// CostSpent is the committed cost in USD, monotonically
	// non-decreasing until the chain closes.
	CostSpent float64 `json:"cost_spent"`

	// TokensIn and TokensOut accumulate prompt and completion tokens.
	TokensIn  int64 `json:"tokens_in"`
	TokensOut int64 `json:"tokens_out"`

	// StepCount is the number of admitted calls.
	StepCount int `json:"step_count"`

	// RetryCount is the total retries consumed across lineages.
	RetryCount int `json:"retry_count"`

	// PendingReservation is cost reserved for in-flight calls, not yet
	// committed.
	PendingReservation float64 `json:"pending_reservation"`
}

// reserve provisionally allocates hint against the ceiling and consumes
// one step. Caller holds the context lock.
func (c *Counters) reserve(hint float64) {
	c.PendingReservation += hint
	c.StepCount++
}

// cancel releases a reservation whose call was rejected by a later
// gate, returning the consumed step. Caller holds the context lock.
func (c *Counters) cancel(hint float64) {
	c.PendingReservation -= hint
	if c.PendingReservation < 0 {
		c.PendingReservation = 0
	}
	c.StepCount--
}

// commit converts a reservation into spent cost. Returns false when the
// reservation ledger did not cover the release, which indicates an
// internal leak. Caller holds the context lock.
func (c *Counters) commit(hint, actual float64, tokensIn, tokensOut int64) bool {
	ok := c.PendingReservation >= hint
	c.PendingReservation -= hint
	if c.PendingReservation < 0 {
		c.PendingReservation = 0
	}
	c.CostSpent += actual
	c.TokensIn += tokensIn
	c.TokensOut += tokensOut
	return ok
}
