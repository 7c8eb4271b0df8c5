//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package cost defines the call result and cost estimation contract
// consumed by the containment engine. Pricing tables live outside this
// module; the engine only needs a number of dollars per finished call.
package cost

// Usage holds token accounting for one provider call.
type Usage struct {
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total number of tokens in the response.
	TotalTokens int `json:"total_tokens"`
}

// Result is what a wrapped callback reports back to the engine.
type Result struct {
	// CostUSD is the actual call cost when the caller knows it.
	// Only meaningful when CostKnown is true.
	CostUSD float64 `json:"cost_usd"`

	// CostKnown reports whether CostUSD was populated by the caller.
	// When false the engine consults the configured Estimator and, if
	// that fails too, commits the reserved hint as a conservative
	// sentinel.
	CostKnown bool `json:"cost_known"`

	// Usage carries token counts when available.
	Usage Usage `json:"usage"`

	// Model names the model or tool that served the call.
	Model string `json:"model,omitempty"`
}

// Estimator derives a dollar cost from a call result. Implementations
// typically wrap a pricing-table lookup keyed by Result.Model.
type Estimator interface {
	EstimateUSD(r *Result) (float64, error)
}

// EstimatorFunc is an adapter to allow the use of ordinary functions as
// an Estimator.
type EstimatorFunc func(r *Result) (float64, error)

// EstimateUSD calls f(r).
func (f EstimatorFunc) EstimateUSD(r *Result) (float64, error) { return f(r) }
