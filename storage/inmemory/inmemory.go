//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-process storage.Store implementation,
// suitable for tests and single-process deployments.
package inmemory

import (
	"context"
	"sync"
)

// Store is a thread-safe in-memory byte-blob store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Load returns the value for key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Save stores value under key.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cp
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
