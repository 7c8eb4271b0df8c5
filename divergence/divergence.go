//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package divergence implements a lightweight no-progress heuristic: a
// ring buffer of recent call signatures and a trailing-run counter.
// Detection is advisory only; it never halts a chain.
package divergence

import (
	"sync"
)

// Call kinds observed by the detector.
const (
	KindLLM  = "llm"
	KindTool = "tool"
)

// DefaultWindowSize is the ring buffer capacity.
const DefaultWindowSize = 8

// Detector tracks repeated identical (kind, name) signatures. It is
// safe for concurrent use.
type Detector struct {
	mu sync.Mutex

	window []string
	next   int
	filled bool

	last string
	run  int

	toolThreshold int
	llmThreshold  int
	emitted       map[string]struct{}
}

// Option configures a Detector.
type Option func(*Detector)

// WithWindowSize overrides the ring buffer capacity.
func WithWindowSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.window = make([]string, n)
		}
	}
}

// New creates a Detector with per-kind trailing-run thresholds.
func New(toolThreshold, llmThreshold int, opts ...Option) *Detector {
	if toolThreshold <= 0 {
		toolThreshold = 3
	}
	if llmThreshold <= 0 {
		llmThreshold = 5
	}
	d := &Detector{
		window:        make([]string, DefaultWindowSize),
		toolThreshold: toolThreshold,
		llmThreshold:  llmThreshold,
		emitted:       map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe records one call signature and reports whether a divergence
// warning should be emitted. A given signature triggers at most once
// per detector lifetime, so downstream event streams stay deduplicated.
func (d *Detector) Observe(kind, name string) bool {
	sig := kind + ":" + name

	d.mu.Lock()
	defer d.mu.Unlock()

	d.window[d.next] = sig
	d.next = (d.next + 1) % len(d.window)
	if d.next == 0 {
		d.filled = true
	}

	if sig == d.last {
		d.run++
	} else {
		d.last = sig
		d.run = 1
	}

	threshold := d.toolThreshold
	if kind == KindLLM {
		threshold = d.llmThreshold
	}
	if d.run < threshold {
		return false
	}
	if _, seen := d.emitted[sig]; seen {
		return false
	}
	d.emitted[sig] = struct{}{}
	return true
}

// Window returns the retained signatures, oldest first.
func (d *Detector) Window() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	if d.filled {
		out = append(out, d.window[d.next:]...)
		out = append(out, d.window[:d.next]...)
	} else {
		out = append(out, d.window[:d.next]...)
	}
	return out
}

// Run returns the current trailing run length.
func (d *Detector) Run() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run
}
