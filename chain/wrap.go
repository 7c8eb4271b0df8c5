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
	"context"

	"trpc.group/trpc-go/trpc-agent-guard/adaptive"
	"trpc.group/trpc-go/trpc-agent-guard/breaker"
	"trpc.group/trpc-go/trpc-agent-guard/cost"
	"trpc.group/trpc-go/trpc-agent-guard/decision"
	"trpc.group/trpc-go/trpc-agent-guard/degradation"
	"trpc.group/trpc-go/trpc-agent-guard/divergence"
	"trpc.group/trpc-go/trpc-agent-guard/event"
	"trpc.group/trpc-go/trpc-agent-guard/log"
	"trpc.group/trpc-go/trpc-agent-guard/policy"
)

// CallFunc is the wrapped provider call. The directive is non-nil when
// the call was admitted degraded; honoring it (cheaper model, trimmed
// context, backoff) is the callback's responsibility. Return a Result
// with the actual cost when known; return nil to let the engine fall
// back to the estimator or the reserved hint.
type CallFunc func(ctx context.Context, directive *decision.Directive) (*cost.Result, error)

type callOptions struct {
	parentNodeID string
	retried      bool
	lineage      string
}

// CallOption adjusts a single wrapped call.
type CallOption func(*callOptions)

// WithParentNode links the call under an existing graph node instead of
// recording it as a root.
func WithParentNode(id string) CallOption {
	return func(o *callOptions) { o.parentNodeID = id }
}

// AsRetry marks the call as a retry of its lineage, charging the retry
// budget. The lineage defaults to the operation name.
func AsRetry() CallOption {
	return func(o *callOptions) { o.retried = true }
}

// WithLineage overrides the retry lineage key for operations whose name
// varies between attempts.
func WithLineage(key string) CallOption {
	return func(o *callOptions) { o.lineage = key }
}

// WrapLLMCall submits a model call through the admission pipeline.
// The returned decision reports how the call was admitted or why it was
// not; fn only ran when the decision is ALLOW or DEGRADE. The
// callback's error and result are passed through unchanged.
func (c *Context) WrapLLMCall(ctx context.Context, name string, costHint float64, fn CallFunc, opts ...CallOption) (decision.Decision, *cost.Result, error) {
	return c.wrapCall(ctx, NodeKindLLM, name, costHint, fn, opts...)
}

// WrapToolCall submits a tool call through the admission pipeline.
func (c *Context) WrapToolCall(ctx context.Context, name string, costHint float64, fn CallFunc, opts ...CallOption) (decision.Decision, *cost.Result, error) {
	return c.wrapCall(ctx, NodeKindTool, name, costHint, fn, opts...)
}

// wrapCall runs the ordered pipeline: abort, budget, step and retry
// gates with the reservation taken atomically under the chain lock;
// then the circuit and policy gates outside the lock, cancelling the
// reservation on a late rejection; then the advisory divergence and
// degradation stages; then the callback itself, never under any lock;
// finally the commit that converts the reservation into spent cost.
func (c *Context) wrapCall(ctx context.Context, kind NodeKind, name string, hint float64, fn CallFunc, opts ...CallOption) (decision.Decision, *cost.Result, error) {
	if fn == nil {
		return decision.Decision{}, nil, ErrNilCallback
	}
	if hint < 0 {
		hint = 0
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lineage == "" {
		o.lineage = name
	}

	// Shared-resource reads come before the chain lock; the chain lock
	// is never held while another component's lock is acquired.
	ceiling := c.effectiveCeiling()
	aborted, abortReason := c.abortedState()

	node := newNode(kind, name, o.parentNodeID, o.retried, c.now())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return decision.Decision{}, nil, ErrContextClosed
	}
	retriesUsed := 0
	if o.retried {
		// A retry attempt charges the lineage budget even when a later
		// gate rejects it: the attempt was made.
		retriesUsed = c.retries.Consume(o.lineage)
		c.counters.RetryCount++
	}
	st := &CheckState{
		ChainID:     c.id,
		Kind:        kind,
		Name:        name,
		CostHint:    hint,
		Retried:     o.retried,
		RetriesUsed: retriesUsed,
		Counters:    c.counters,
		Ceiling:     ceiling,
		MaxSteps:    c.lims.MaxSteps,
		MaxRetries:  c.lims.MaxRetries,
		Aborted:     aborted,
		AbortReason: abortReason,
	}
	var directive *decision.Directive
	for _, chk := range c.checks {
		d := chk.Evaluate(st)
		if d.Halted() {
			added := c.graph.add(node)
			if added {
				c.graph.finish(node, NodeStateHalt, d.Reason, 0, 0, 0, c.now())
			}
			c.mu.Unlock()
			c.reportHalt(chk.Name(), name, d, !added)
			if d.Reason == decision.ReasonBudgetExceeded {
				c.feedCeiling(adaptive.ObservationExceeded)
			}
			return d, nil, nil
		}
		if d.Action == decision.ActionDegrade && directive == nil {
			directive = d.Directive
		}
	}
	// Admit provisionally: reserve the hint and consume the step in the
	// same critical section as the checks above.
	c.counters.reserve(hint)
	node.State = NodeStateRunning
	added := c.graph.add(node)
	c.mu.Unlock()
	if !added {
		c.noteGraphTruncated()
	}

	// Circuit gate, outside the chain lock.
	okBreaker, trial := c.breaker.Allow()
	if !okBreaker {
		d := decision.Halt(decision.ReasonCircuitOpen)
		c.rollback(node, added, hint, d.Reason)
		c.reportHalt("circuit", name, d, false)
		return d, nil, nil
	}

	// Policy gate, outside the chain lock; may block on an external
	// engine. An engine error is a deny.
	if c.policyEngine != nil {
		verdict, perr := c.policyEngine.Evaluate(ctx, policy.CallInfo{
			ChainID:  c.id,
			Kind:     string(kind),
			Name:     name,
			CostHint: hint,
		})
		if perr != nil || verdict == policy.VerdictDeny {
			if perr != nil {
				log.Errorf("chain %s policy engine failed for %s, denying: %v", c.name, name, perr)
			}
			if trial {
				c.breaker.CancelTrial()
			}
			d := decision.Halt(decision.ReasonPolicyDenied)
			c.rollback(node, added, hint, d.Reason)
			c.reportHalt("policy", name, d, false)
			return d, nil, nil
		}
		if verdict == policy.VerdictRequireApproval {
			directive = &decision.Directive{
				Kind:   decision.DirectiveRequireApproval,
				Detail: "policy requires external approval for " + name,
			}
		}
	}

	// Divergence is advisory: it reports, tightens the adaptive ceiling
	// and leaves halting to the budget gates.
	dkind := divergence.KindTool
	if kind == NodeKindLLM {
		dkind = divergence.KindLLM
	}
	if c.detector.Observe(dkind, name) {
		log.Warnf("chain %s divergence suspected: %s run=%d", c.name, name, c.detector.Run())
		c.emit(event.New(c.id, event.TypeDivergenceSuspected,
			event.WithSource("divergence"),
			event.WithEvidence(name),
		))
		c.feedCeiling(adaptive.ObservationAnomaly)
	}

	// Degradation tier from post-reservation pressure. The policy
	// approval directive, when present, outranks the ladder's.
	c.mu.Lock()
	pressure := 0.0
	if ceiling > 0 {
		pressure = (c.counters.CostSpent + c.counters.PendingReservation) / ceiling
	}
	tier := degradation.TierFor(pressure, c.levels)
	escalated := tier > c.lastTier
	c.lastTier = tier
	c.mu.Unlock()
	if directive == nil {
		directive = degradation.DirectiveFor(tier)
	}
	dec := decision.Allow()
	if directive != nil {
		dec = decision.Degrade(directive)
	}
	if escalated && tier > degradation.TierNormal {
		log.Infof("chain %s degradation %s at pressure %.2f", c.name, tier, pressure)
		c.emit(event.New(c.id, event.TypeDegradationEngaged,
			event.WithDecision(dec),
			event.WithSource("degradation"),
		))
	}

	// The callback runs outside every lock. A panic settles the ledger,
	// records the fail node and re-raises unchanged.
	var (
		res  *cost.Result
		ferr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.settle(node, added, hint, nil, errCallbackPanic, true, trial)
				c.emit(event.New(c.id, event.TypeCallbackPanic,
					event.WithSource("chain"),
					event.WithEvidence(name),
				))
				panic(r)
			}
		}()
		res, ferr = fn(ctx, directive)
	}()

	c.settle(node, added, hint, res, ferr, false, trial)
	return dec, res, ferr
}

// reportHalt logs and emits the event for a rejected call.
func (c *Context) reportHalt(gate, name string, d decision.Decision, graphFull bool) {
	log.Infof("chain %s halted %s at %s gate: %s", c.name, name, gate, d.Reason)
	c.emit(event.New(c.id, d.Reason,
		event.WithDecision(d),
		event.WithSource(gate),
		event.WithEvidence(name),
	))
	if graphFull {
		c.noteGraphTruncated()
	}
}

// rollback cancels a reservation taken for a call that a post-lock gate
// rejected, returning the consumed step and closing the node as halted.
func (c *Context) rollback(node *Node, added bool, hint float64, reason string) {
	c.mu.Lock()
	c.counters.cancel(hint)
	if added {
		c.graph.finish(node, NodeStateHalt, reason, 0, 0, 0, c.now())
	}
	c.mu.Unlock()
}

// settle converts the reservation into committed cost, closes the node
// and feeds the breaker and the adaptive controller. When the actual
// cost cannot be determined the reserved hint is committed as a
// conservative sentinel. A call holding the half-open trial slot
// resolves the trial with its own outcome; stale outcomes from other
// calls never do.
func (c *Context) settle(node *Node, added bool, hint float64, res *cost.Result, callErr error, panicked, trial bool) {
	actual := hint
	var tokensIn, tokensOut int64
	switch {
	case res != nil && res.CostKnown:
		actual = res.CostUSD
	case res != nil && c.estimator != nil:
		est, err := c.estimator.EstimateUSD(res)
		if err != nil {
			log.Warnf("chain %s cost estimation failed for %s, committing hint %.6f: %v",
				c.name, node.Name, hint, err)
			c.emit(event.New(c.id, event.TypeCostEstimationSkip,
				event.WithSource("estimator"),
				event.WithEvidence(node.Name),
			))
		} else {
			actual = est
		}
	case callErr == nil:
		c.emit(event.New(c.id, event.TypeCostEstimationSkip,
			event.WithSource("estimator"),
			event.WithEvidence(node.Name),
		))
	}
	if actual < 0 {
		actual = 0
	}
	if res != nil {
		tokensIn = int64(res.Usage.PromptTokens)
		tokensOut = int64(res.Usage.CompletionTokens)
	}

	state := NodeStateSuccess
	stopReason := ""
	if panicked {
		state = NodeStateFail
		stopReason = decision.ReasonCallbackPanic
	} else if callErr != nil {
		state = NodeStateFail
		stopReason = "callback_error"
	}

	c.mu.Lock()
	covered := c.counters.commit(hint, actual, tokensIn, tokensOut)
	if added {
		c.graph.finish(node, state, stopReason, actual, tokensIn, tokensOut, c.now())
	}
	c.mu.Unlock()

	if !covered {
		log.Errorf("chain %s reservation leak on %s: release exceeded pending ledger", c.name, node.Name)
		c.emit(event.New(c.id, event.TypeReservationLeak,
			event.WithSource("chain"),
			event.WithEvidence(node.Name),
		))
	}

	success := callErr == nil && !panicked
	switch {
	case trial:
		newState, resolved := c.breaker.ResolveTrial(success)
		if resolved && newState == breaker.StateClosed {
			log.Infof("chain %s circuit closed after successful trial", c.name)
			c.emit(event.New(c.id, event.TypeCircuitClosed, event.WithSource("breaker")))
		}
		if resolved && newState == breaker.StateOpen {
			log.Warnf("chain %s circuit reopened after failed trial", c.name)
			c.emit(event.New(c.id, event.TypeCircuitOpened, event.WithSource("breaker")))
			c.feedCeiling(adaptive.ObservationAnomaly)
		}
		if success {
			c.feedCeiling(adaptive.ObservationOK)
		}
	case success:
		c.breaker.RecordSuccess()
		c.feedCeiling(adaptive.ObservationOK)
	default:
		if c.breaker.RecordFailure() {
			log.Warnf("chain %s circuit opened after consecutive failures", c.name)
			c.emit(event.New(c.id, event.TypeCircuitOpened, event.WithSource("breaker")))
			c.feedCeiling(adaptive.ObservationAnomaly)
		}
	}

	c.propagateCost(actual)
}
