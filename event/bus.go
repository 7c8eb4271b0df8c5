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
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-agent-guard/log"
)

// defaultBusWorkers caps subscriber fan-out when the caller does not
// specify an explicit value.
const defaultBusWorkers = 4

// Subscriber consumes safety events. Implementations must be safe for
// concurrent invocation.
type Subscriber func(e *Event)

// Bus fans events out to subscribers on a capped goroutine pool so that
// publishing from the admission path never blocks on a slow consumer.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	pool        *ants.Pool
	closed      bool
}

// NewBus creates a bus with the given worker pool size.
func NewBus(workers int) (*Bus, error) {
	if workers <= 0 {
		workers = defaultBusWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus pool: %w", err)
	}
	return &Bus{pool: pool}, nil
}

// Subscribe registers a subscriber for all subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish dispatches the event to every subscriber asynchronously.
// Events published while the pool is saturated are delivered inline on
// the caller's goroutine rather than dropped.
func (b *Bus) Publish(e *Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	for _, s := range subs {
		sub := s
		if err := b.pool.Submit(func() { sub(e) }); err != nil {
			// Pool saturated or released; deliver inline.
			log.Debugf("event bus pool unavailable, delivering inline: %v", err)
			sub(e)
		}
	}
}

// Close releases the worker pool. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.pool.Release()
}
