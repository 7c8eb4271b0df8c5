//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package registry shares circuit breakers and adaptive ceiling
// controllers across chains, keyed by entity name (a model, a tool, a
// tenant). A breaker obtained from the registry accumulates failure
// evidence from every chain that uses it, which is what makes the
// circuit useful: one chain's provider outage protects the rest.
//
// With a storage.Store attached, state survives process restarts under
// the keys "guard:breaker:<name>" and "guard:ceiling:<name>". The
// persistence model is single-writer: one process owns a given entity's
// state at a time.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-guard/adaptive"
	"trpc.group/trpc-go/trpc-agent-guard/breaker"
	"trpc.group/trpc-go/trpc-agent-guard/log"
	"trpc.group/trpc-go/trpc-agent-guard/storage"
)

const (
	breakerKeyPrefix = "guard:breaker:"
	ceilingKeyPrefix = "guard:ceiling:"
)

// Registry hands out shared containment components by name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	ceilings map[string]*adaptive.Controller

	breakerCfg breaker.Config
	ceilingCfg adaptive.Config
	store      storage.Store
}

// Option configures a Registry.
type Option func(*Registry)

// WithBreakerConfig sets the prototype for breakers created on miss.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(r *Registry) { r.breakerCfg = cfg }
}

// WithCeilingConfig sets the prototype for ceiling controllers created
// on miss.
func WithCeilingConfig(cfg adaptive.Config) Option {
	return func(r *Registry) { r.ceilingCfg = cfg }
}

// WithStore attaches persistence. Without it the registry is purely
// in-process.
func WithStore(s storage.Store) Option {
	return func(r *Registry) { r.store = s }
}

// New creates a registry. Defaults: breaker.DefaultConfig and an
// adaptive config spanning the default chain cost ceiling.
func New(opts ...Option) *Registry {
	r := &Registry{
		breakers:   make(map[string]*breaker.Breaker),
		ceilings:   make(map[string]*adaptive.Controller),
		breakerCfg: breaker.DefaultConfig(),
		ceilingCfg: adaptive.DefaultConfig(5.0, 0.5, 5.0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the shared breaker for name, creating it on first
// use. When a store is attached the persisted snapshot, if any, seeds
// the new breaker; a corrupt snapshot is logged and discarded rather
// than blocking creation.
func (r *Registry) Breaker(ctx context.Context, name string) (*breaker.Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b, nil
	}
	b, err := breaker.New(r.breakerCfg)
	if err != nil {
		return nil, fmt.Errorf("registry: create breaker %q: %w", name, err)
	}
	if r.store != nil {
		blob, ok, err := r.store.Load(ctx, breakerKeyPrefix+name)
		if err != nil {
			return nil, fmt.Errorf("registry: load breaker %q: %w", name, err)
		}
		if ok {
			var snap breaker.Snapshot
			if err := json.Unmarshal(blob, &snap); err == nil {
				err = b.Import(snap)
			}
			if err != nil {
				log.Warnf("registry: discarding corrupt breaker snapshot for %q: %v", name, err)
			}
		}
	}
	r.breakers[name] = b
	return b, nil
}

// Ceiling returns the shared adaptive ceiling controller for name,
// creating it on first use, seeded from the store when possible.
func (r *Registry) Ceiling(ctx context.Context, name string) (*adaptive.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.ceilings[name]; ok {
		return c, nil
	}
	c, err := adaptive.New(r.ceilingCfg)
	if err != nil {
		return nil, fmt.Errorf("registry: create ceiling %q: %w", name, err)
	}
	if r.store != nil {
		blob, ok, err := r.store.Load(ctx, ceilingKeyPrefix+name)
		if err != nil {
			return nil, fmt.Errorf("registry: load ceiling %q: %w", name, err)
		}
		if ok {
			if err := c.Import(blob); err != nil {
				log.Warnf("registry: discarding corrupt ceiling snapshot for %q: %v", name, err)
			}
		}
	}
	r.ceilings[name] = c
	return c, nil
}

// SaveState persists every known breaker and ceiling. No-op without a
// store. The first error aborts the sweep.
func (r *Registry) SaveState(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	for name, b := range r.breakers {
		blob, err := json.Marshal(b.Export())
		if err != nil {
			return fmt.Errorf("registry: marshal breaker %q: %w", name, err)
		}
		if err := r.store.Save(ctx, breakerKeyPrefix+name, blob); err != nil {
			return fmt.Errorf("registry: save breaker %q: %w", name, err)
		}
	}
	for name, c := range r.ceilings {
		blob, err := c.Export()
		if err != nil {
			return fmt.Errorf("registry: export ceiling %q: %w", name, err)
		}
		if err := r.store.Save(ctx, ceilingKeyPrefix+name, blob); err != nil {
			return fmt.Errorf("registry: save ceiling %q: %w", name, err)
		}
	}
	return nil
}
