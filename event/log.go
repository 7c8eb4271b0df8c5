//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"sync"

	"trpc.group/trpc-go/trpc-agent-guard/log"
)

// Log is a bounded append-only event log. When the cap is reached new
// entries are rejected (newest-dropped policy) and the truncation point
// is recorded exactly once.
type Log struct {
	mu        sync.Mutex
	events    []*Event
	cap       int
	dropped   int
	truncated bool
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{cap: capacity}
}

// Append adds an event, returning false when the log is full. The first
// rejected event flips the truncation marker so readers can tell the
// log is incomplete.
func (l *Log) Append(e *Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) >= l.cap {
		l.dropped++
		if !l.truncated {
			l.truncated = true
			log.Warnf("event log full (cap=%d), dropping newest events for chain %s", l.cap, e.ChainID)
		}
		return false
	}
	l.events = append(l.events, e)
	return true
}

// Events returns a copy of the retained events in append order.
func (l *Log) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Truncated reports whether any event was rejected, and how many.
func (l *Log) Truncated() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated, l.dropped
}
