//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package chain implements the execution containment core: one Context
// per logical unit of work, owning a resource ledger, an execution
// graph, a circuit breaker, a retry container and the ordered admission
// pipeline that decides whether each candidate call may run.
//
// Lock discipline: the context mutex protects the counters, the graph
// and the event log, and is never held across the wrapped callback or
// while acquiring a shared-resource lock (breaker, adaptive ceiling).
// Abort flags are atomics so descendants can observe an ancestor abort
// without any lock.
package chain

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-guard/adaptive"
	"trpc.group/trpc-go/trpc-agent-guard/breaker"
	"trpc.group/trpc-go/trpc-agent-guard/cost"
	"trpc.group/trpc-go/trpc-agent-guard/decision"
	"trpc.group/trpc-go/trpc-agent-guard/degradation"
	"trpc.group/trpc-go/trpc-agent-guard/divergence"
	"trpc.group/trpc-go/trpc-agent-guard/event"
	"trpc.group/trpc-go/trpc-agent-guard/limits"
	"trpc.group/trpc-go/trpc-agent-guard/log"
	"trpc.group/trpc-go/trpc-agent-guard/policy"
	"trpc.group/trpc-go/trpc-agent-guard/retry"
)

// Abort reasons beyond the decision stop reasons.
const (
	// AbortReasonTimeout is set by the watcher on chain timeout.
	AbortReasonTimeout = "timeout"
	// AbortReasonParentBudget is set when propagated child cost pushed
	// a parent over its ceiling.
	AbortReasonParentBudget = "parent_budget_exceeded"
)

// Context owns the containment state of one chain. Create with New,
// submit calls with WrapLLMCall/WrapToolCall, and always Close.
type Context struct {
	id     string
	name   string
	lims   limits.Limits
	levels degradation.Thresholds

	breaker      *breaker.Breaker
	retries      *retry.Container
	detector     *divergence.Detector
	ceiling      *adaptive.Controller
	policyEngine policy.Engine
	estimator    cost.Estimator
	bus          *event.Bus
	parent       *Context
	checks       []Check
	retryCfg     retry.Config
	now          func() time.Time

	aborted     atomic.Bool
	abortReason atomic.Value // string

	mu               sync.Mutex
	counters         Counters
	graph            *Graph
	events           *event.Log
	eventsTruncNoted bool
	graphTruncNoted  bool
	lastTier         degradation.Tier
	closed           bool

	watch *watcher
}

// Option configures a Context at construction.
type Option func(*Context)

// WithName sets a human-readable chain name used in logs.
func WithName(name string) Option {
	return func(c *Context) { c.name = name }
}

// WithBreaker shares an externally owned breaker, typically from a
// registry keyed by entity name. By default each chain gets its own.
func WithBreaker(b *breaker.Breaker) Option {
	return func(c *Context) { c.breaker = b }
}

// WithAdaptiveCeiling attaches a ceiling controller. The enforced
// ceiling becomes min(limits ceiling, controller ceiling). The
// controller may be shared across chains.
func WithAdaptiveCeiling(ctrl *adaptive.Controller) Option {
	return func(c *Context) { c.ceiling = ctrl }
}

// WithPolicyEngine attaches a pre-dispatch policy gate.
func WithPolicyEngine(e policy.Engine) Option {
	return func(c *Context) { c.policyEngine = e }
}

// WithEstimator attaches a cost estimator consulted when a call result
// does not carry its own cost.
func WithEstimator(e cost.Estimator) Option {
	return func(c *Context) { c.estimator = e }
}

// WithBus attaches an event bus for asynchronous safety-event fan-out.
// The bus is not owned by the context and survives Close.
func WithBus(b *event.Bus) Option {
	return func(c *Context) { c.bus = b }
}

// WithRetryBackoff overrides the retry backoff shape. The retry budget
// itself always comes from the chain limits.
func WithRetryBackoff(cfg retry.Config) Option {
	return func(c *Context) { c.retryCfg = cfg }
}

// WithCheck appends a custom admission gate after the built-in ones.
// Checks run inside the chain's critical section and must not block.
func WithCheck(chk Check) Option {
	return func(c *Context) {
		if chk != nil {
			c.checks = append(c.checks, chk)
		}
	}
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// New opens a containment context for one chain. Invalid limits fail
// here, never later.
func New(l limits.Limits, opts ...Option) (*Context, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	c := &Context{
		id:   uuid.New().String(),
		lims: l,
		levels: degradation.Thresholds{
			Soft:      l.SoftThreshold,
			Hard:      l.HardThreshold,
			Emergency: l.EmergencyThreshold,
		},
		detector: divergence.New(l.ToolRepeatThreshold, l.LLMRepeatThreshold),
		checks:   defaultChecks(),
		now:      time.Now,
		graph:    newGraph(l.MaxGraphNodes),
		events:   event.NewLog(l.MaxEvents),
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name == "" {
		c.name = c.id[:8]
	}
	if c.breaker == nil {
		b, err := breaker.New(breaker.DefaultConfig())
		if err != nil {
			return nil, err
		}
		c.breaker = b
	}
	c.retryCfg.MaxRetries = l.MaxRetries
	rc, err := retry.New(c.retryCfg)
	if err != nil {
		return nil, err
	}
	c.retries = rc

	if l.Timeout > 0 {
		c.watch = startWatcher(c, l.Timeout)
	}
	log.Debugf("chain %s opened: max_cost=%.4f max_steps=%d timeout=%v",
		c.name, l.MaxCostUSD, l.MaxSteps, l.Timeout)
	return c, nil
}

// ID returns the chain identifier.
func (c *Context) ID() string { return c.id }

// Name returns the chain name.
func (c *Context) Name() string { return c.name }

// Retries exposes the retry container so callers can compute backoff
// delays between attempts.
func (c *Context) Retries() *retry.Container { return c.retries }

// SpawnChild opens a child chain. Child commits propagate to this
// context's counters; when the propagated total exceeds this context's
// ceiling the parent aborts, which all descendants observe on their
// next admission check. Parents never pre-throttle children.
func (c *Context) SpawnChild(l limits.Limits, opts ...Option) (*Context, error) {
	merged := make([]Option, 0, len(opts)+4)
	if c.bus != nil {
		merged = append(merged, WithBus(c.bus))
	}
	if c.estimator != nil {
		merged = append(merged, WithEstimator(c.estimator))
	}
	if c.policyEngine != nil {
		merged = append(merged, WithPolicyEngine(c.policyEngine))
	}
	merged = append(merged, opts...)

	child, err := New(l, merged...)
	if err != nil {
		return nil, err
	}
	child.parent = c
	return child, nil
}

// Close marks the context closed and stops the watcher, waiting for it
// on every exit path. Close is idempotent. Subsequent wrapped calls
// return ErrContextClosed.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.watch != nil {
		c.watch.stop()
	}
	log.Debugf("chain %s closed", c.name)
	return nil
}

// abort flips the chain into the aborted state exactly once.
func (c *Context) abort(reason string) {
	if !c.aborted.CompareAndSwap(false, true) {
		return
	}
	c.abortReason.Store(reason)
	log.Warnf("chain %s aborted: %s", c.name, reason)
	c.emit(event.New(c.id, event.TypeChainAborted,
		event.WithSource("chain"),
		event.WithDecision(decision.Halt(reason)),
		event.WithEvidence(reason),
	))
}

// abortedState reports whether this chain or any ancestor aborted. It
// walks the ancestor list lock-free so admission checks never block on
// a parent's mutex. An ancestor aborted for budget surfaces to the
// child as parent_budget_exceeded; other reasons pass through as-is.
func (c *Context) abortedState() (bool, string) {
	for p := c; p != nil; p = p.parent {
		if p.aborted.Load() {
			reason, _ := p.abortReason.Load().(string)
			if p != c && reason == decision.ReasonBudgetExceeded {
				reason = AbortReasonParentBudget
			}
			if reason == "" {
				reason = decision.ReasonContextAborted
			}
			return true, reason
		}
	}
	return false, ""
}

// effectiveCeiling combines the static limit with the adaptive
// controller. Reads the controller's lock only; never called while
// holding the chain lock.
func (c *Context) effectiveCeiling() float64 {
	ceil := c.lims.MaxCostUSD
	if c.ceiling != nil {
		if v := c.ceiling.Ceiling(); v < ceil {
			ceil = v
		}
	}
	return ceil
}

// feedCeiling forwards an observation to the adaptive controller, if
// one is attached. Never called while holding the chain lock.
func (c *Context) feedCeiling(kind string) {
	if c.ceiling != nil {
		c.ceiling.Observe(kind)
	}
}

// emit appends the event to the chain-local log and fans it out on the
// bus. When the log is full the newest entries are dropped and the
// truncation is announced exactly once. Never called under the chain
// lock.
func (c *Context) emit(e *event.Event) {
	if !c.events.Append(e) {
		c.mu.Lock()
		first := !c.eventsTruncNoted
		c.eventsTruncNoted = true
		c.mu.Unlock()
		if first && c.bus != nil {
			c.bus.Publish(event.New(c.id, event.TypeEventLogTruncated, event.WithSource("chain")))
		}
	}
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// noteGraphTruncated announces the graph ledger cap once.
func (c *Context) noteGraphTruncated() {
	c.mu.Lock()
	first := !c.graphTruncNoted
	c.graphTruncNoted = true
	c.mu.Unlock()
	if first {
		log.Warnf("chain %s execution graph full (cap=%d), rejecting new nodes", c.name, c.lims.MaxGraphNodes)
		c.emit(event.New(c.id, event.TypeGraphTruncated, event.WithSource("graph")))
	}
}

// addChildCost folds a descendant commit into this chain's ledger and
// aborts reactively when the total passes the ceiling. Transient
// overshoot before the abort is intentional eventual consistency.
func (c *Context) addChildCost(actual float64) {
	ceil := c.effectiveCeiling()
	c.mu.Lock()
	c.counters.CostSpent += actual
	over := c.counters.CostSpent+c.counters.PendingReservation > ceil
	c.mu.Unlock()
	if over {
		c.emit(event.New(c.id, event.TypeParentBudgetExceeded,
			event.WithSource("chain"),
			event.WithEvidence(fmt.Sprintf("child commit %.6f", actual)),
		))
		c.abort(decision.ReasonBudgetExceeded)
	}
}

// propagateCost pushes a committed cost to every ancestor. Cost flows
// upward only.
func (c *Context) propagateCost(actual float64) {
	if actual <= 0 {
		return
	}
	for p := c.parent; p != nil; p = p.parent {
		p.addChildCost(actual)
	}
}
