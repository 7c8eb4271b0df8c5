//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package chain

import (
	"trpc.group/trpc-go/trpc-agent-guard/event"
)

// Snapshot is a consistent point-in-time view of the chain, safe to
// serialize and to keep after the context closes.
type Snapshot struct {
	ChainID string `json:"chain_id"`
	Name    string `json:"name"`

	Counters Counters `json:"counters"`

	// Ceiling is the enforced ceiling at snapshot time, after any
	// adaptive adjustment.
	Ceiling float64 `json:"ceiling"`
	// Pressure is spent plus pending over the ceiling.
	Pressure float64 `json:"pressure"`
	// Tier is the current degradation tier.
	Tier string `json:"tier"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`
	Closed      bool   `json:"closed"`

	// EventsDropped is the count of safety events rejected at the log
	// cap.
	EventsDropped int `json:"events_dropped,omitempty"`
}

// Snapshot captures the chain state. The counters and graph are read
// in one critical section, so the view is internally consistent.
func (c *Context) Snapshot() Snapshot {
	ceiling := c.effectiveCeiling()
	aborted, reason := c.abortedState()
	_, dropped := c.events.Truncated()

	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ChainID:  c.id,
		Name:     c.name,
		Counters: c.counters,
		Ceiling:  ceiling,
		Tier:     c.lastTier.String(),
		Aborted:  aborted,
		Closed:   c.closed,

		EventsDropped: dropped,
	}
	if aborted {
		s.AbortReason = reason
	}
	if ceiling > 0 {
		s.Pressure = (c.counters.CostSpent + c.counters.PendingReservation) / ceiling
	}
	return s
}

// GraphSnapshot deep-copies the execution ledger with its aggregates.
func (c *Context) GraphSnapshot() GraphSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.snapshot()
}

// Events returns a copy of the chain-local safety event log in append
// order.
func (c *Context) Events() []*event.Event {
	return c.events.Events()
}
