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
	"trpc.group/trpc-go/trpc-agent-guard/decision"
)

// CheckState is the locked view of the chain presented to admission
// checks: the candidate call plus a consistent copy of the counters.
type CheckState struct {
	// ChainID identifies the evaluating chain.
	ChainID string
	// Kind and Name describe the candidate call.
	Kind NodeKind
	Name string
	// CostHint is the caller's cost estimate in USD.
	CostHint float64
	// Retried marks the call as a retry of its lineage.
	Retried bool
	// RetriesUsed is the lineage's consumed retry budget including
	// this call.
	RetriesUsed int

	// Counters is a copy of the chain ledger at decision time.
	Counters Counters
	// Ceiling is the enforced cost ceiling for this decision.
	Ceiling float64
	// MaxSteps and MaxRetries mirror the chain limits.
	MaxSteps   int
	MaxRetries int
	// Aborted reports whether this chain or an ancestor aborted.
	Aborted bool
	// AbortReason is set when Aborted is true.
	AbortReason string
}

// Projected returns committed plus pending plus the candidate hint.
func (s *CheckState) Projected() float64 {
	return s.Counters.CostSpent + s.Counters.PendingReservation + s.CostHint
}

// Check is one admission gate. Checks run in a fixed order inside the
// chain's critical section and must not block; the first non-allow
// decision wins. External slow gates (the policy hook, the circuit
// breaker) run outside the critical section instead.
type Check interface {
	// Name identifies the gate in events and logs.
	Name() string
	// Evaluate returns the gate's decision for the candidate call.
	Evaluate(s *CheckState) decision.Decision
}

// abortCheck halts everything once the chain or an ancestor aborted.
type abortCheck struct{}

func (abortCheck) Name() string { return "abort" }

func (abortCheck) Evaluate(s *CheckState) decision.Decision {
	if s.Aborted {
		reason := s.AbortReason
		if reason == "" {
			reason = decision.ReasonContextAborted
		}
		return decision.Halt(reason)
	}
	return decision.Allow()
}

// budgetCheck enforces committed + pending + hint <= ceiling.
type budgetCheck struct{}

func (budgetCheck) Name() string { return "budget" }

func (budgetCheck) Evaluate(s *CheckState) decision.Decision {
	if s.Projected() > s.Ceiling {
		return decision.Halt(decision.ReasonBudgetExceeded)
	}
	return decision.Allow()
}

// stepCheck enforces the admitted-call cap.
type stepCheck struct{}

func (stepCheck) Name() string { return "step" }

func (stepCheck) Evaluate(s *CheckState) decision.Decision {
	if s.Counters.StepCount+1 > s.MaxSteps {
		return decision.Halt(decision.ReasonStepLimitExceeded)
	}
	return decision.Allow()
}

// retryCheck enforces the per-lineage retry budget.
type retryCheck struct{}

func (retryCheck) Name() string { return "retry" }

func (retryCheck) Evaluate(s *CheckState) decision.Decision {
	if s.Retried && s.RetriesUsed > s.MaxRetries {
		return decision.Halt(decision.ReasonRetryBudgetExceeded)
	}
	return decision.Allow()
}

func defaultChecks() []Check {
	return []Check{abortCheck{}, budgetCheck{}, stepCheck{}, retryCheck{}}
}
