//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package event provides the safety event model for the containment
// engine: what happened, which decision was taken, and a hashed trace of
// the evidence. Raw prompts and responses are never stored here.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-guard/decision"
)

// Safety event types emitted by the engine.
const (
	TypeBudgetExceeded       = "budget_exceeded"
	TypeStepLimitExceeded    = "step_limit_exceeded"
	TypeRetryBudgetExceeded  = "retry_budget_exceeded"
	TypeCircuitOpened        = "circuit_opened"
	TypeCircuitClosed        = "circuit_closed"
	TypeDivergenceSuspected  = "divergence_suspected"
	TypeDegradationEngaged   = "degradation_engaged"
	TypeCostEstimationSkip   = "cost_estimation_skipped"
	TypeChainAborted         = "chain_aborted"
	TypePolicyDenied         = "policy_denied"
	TypeCeilingTightened     = "ceiling_tightened"
	TypeCeilingLoosened      = "ceiling_loosened"
	TypeAnomalyCut           = "anomaly_cut"
	TypeGraphTruncated       = "graph_truncated"
	TypeEventLogTruncated    = "event_log_truncated"
	TypeReservationLeak      = "reservation_leak"
	TypeCallbackPanic        = "callback_panic"
	TypeParentBudgetExceeded = "parent_budget_exceeded"
)

// Event is one safety event. Events are append-only and chain-scoped.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// ChainID identifies the chain that produced the event.
	ChainID string `json:"chainId"`

	// Type is one of the Type* constants.
	Type string `json:"type"`

	// Decision is the admission decision associated with the event,
	// when one was taken.
	Decision decision.Decision `json:"decision"`

	// Source names the component that emitted the event.
	Source string `json:"source,omitempty"`

	// HashedEvidence is the hex sha256 of the raw evidence string.
	HashedEvidence string `json:"hashedEvidence,omitempty"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`
}

// Option configures an Event at construction.
type Option func(*Event)

// WithDecision attaches the admission decision to the event.
func WithDecision(d decision.Decision) Option {
	return func(e *Event) {
		e.Decision = d
	}
}

// WithSource sets the emitting component.
func WithSource(source string) Option {
	return func(e *Event) {
		e.Source = source
	}
}

// WithEvidence hashes raw evidence into the event. The raw string is
// discarded; only the digest is retained.
func WithEvidence(raw string) Option {
	return func(e *Event) {
		sum := sha256.Sum256([]byte(raw))
		e.HashedEvidence = hex.EncodeToString(sum[:])
	}
}

// New creates an event with a generated ID and timestamp.
func New(chainID, eventType string, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		ChainID:   chainID,
		Type:      eventType,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
