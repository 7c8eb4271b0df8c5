//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package decision defines the admission decision values returned by the
// containment pipeline. A Decision is a value, never an error: callers
// branch on the Action without exception-style control flow.
package decision

// Action is the closed set of admission outcomes.
type Action string

const (
	// ActionAllow admits the call unchanged.
	ActionAllow Action = "allow"
	// ActionDegrade admits the call but instructs the caller to reduce
	// its cost according to the attached Directive.
	ActionDegrade Action = "degrade"
	// ActionHalt rejects the call. The wrapped callback is never invoked.
	ActionHalt Action = "halt"
)

// Stop reasons attached to Halt decisions and terminal graph nodes.
const (
	ReasonBudgetExceeded      = "budget_exceeded"
	ReasonStepLimitExceeded   = "step_limit_exceeded"
	ReasonRetryBudgetExceeded = "retry_budget_exceeded"
	ReasonCircuitOpen         = "circuit_open"
	ReasonContextAborted      = "context_aborted"
	ReasonContextClosed       = "context_closed"
	ReasonPolicyDenied        = "policy_denied"
	ReasonCallbackPanic       = "callback_panic"
)

// Directive kinds carried by Degrade decisions.
const (
	DirectiveModelDowngrade  = "model_downgrade"
	DirectiveTrimContext     = "trim_context"
	DirectiveRateLimit       = "rate_limit"
	DirectiveRequireApproval = "require_approval"
)

// Directive describes how a degraded call should be executed. The engine
// never substitutes models or trims prompts itself; honoring the
// directive is the caller's responsibility.
type Directive struct {
	// Kind is one of the Directive* constants.
	Kind string `json:"kind"`
	// Tier is the degradation tier that produced this directive.
	Tier string `json:"tier,omitempty"`
	// Detail carries optional free-form guidance, e.g. a suggested model.
	Detail string `json:"detail,omitempty"`
}

// Decision is the outcome of one admission check or of the whole
// pipeline. Directive is only set when Action is ActionDegrade.
type Decision struct {
	Action    Action     `json:"action"`
	Reason    string     `json:"reason,omitempty"`
	Directive *Directive `json:"directive,omitempty"`
}

// Allow returns an admit-unchanged decision.
func Allow() Decision {
	return Decision{Action: ActionAllow}
}

// Degrade returns an admit-with-directive decision.
func Degrade(d *Directive) Decision {
	return Decision{Action: ActionDegrade, Directive: d}
}

// Halt returns a reject decision with the given stop reason.
func Halt(reason string) Decision {
	return Decision{Action: ActionHalt, Reason: reason}
}

// Halted reports whether the decision rejects the call.
func (d Decision) Halted() bool { return d.Action == ActionHalt }

// Admitted reports whether the callback may run (allow or degrade).
func (d Decision) Admitted() bool { return d.Action != ActionHalt }
