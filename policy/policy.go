//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package policy defines the pre-dispatch policy hook consumed by the
// admission pipeline. The policy engine itself (shell-argument rules,
// approval workflows) lives outside this module; the engine only needs
// its verdict.
package policy

import "context"

// Verdict is the closed set of policy outcomes.
type Verdict string

const (
	// VerdictAllow admits the call.
	VerdictAllow Verdict = "allow"
	// VerdictDeny rejects the call.
	VerdictDeny Verdict = "deny"
	// VerdictRequireApproval admits the call only through an external
	// approval flow; the pipeline maps it to a degrade directive.
	VerdictRequireApproval Verdict = "require_approval"
)

// CallInfo describes the candidate call presented to the engine.
type CallInfo struct {
	// ChainID identifies the requesting chain.
	ChainID string
	// Kind is "llm" or "tool".
	Kind string
	// Name is the operation name.
	Name string
	// CostHint is the caller's estimated cost in USD.
	CostHint float64
}

// Engine evaluates a candidate call before dispatch. Implementations
// must be safe for concurrent use; an error is treated as a deny.
type Engine interface {
	Evaluate(ctx context.Context, call CallInfo) (Verdict, error)
}

// EngineFunc is an adapter to allow the use of ordinary functions as an
// Engine.
type EngineFunc func(ctx context.Context, call CallInfo) (Verdict, error)

// Evaluate calls f(ctx, call).
func (f EngineFunc) Evaluate(ctx context.Context, call CallInfo) (Verdict, error) {
	return f(ctx, call)
}
