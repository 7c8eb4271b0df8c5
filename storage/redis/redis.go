//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a redis-backed storage.Store for sharing
// breaker and adaptive-ceiling snapshots across processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements storage.Store on a redis client.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets an expiry on saved keys; 0 (the default) keeps them
// until overwritten or deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore creates a Store from a redis URL.
// scheme: redis://<username>:<password>@<host>:<port>/<db>?<options>
func NewStore(url string, opts ...Option) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("redis: url is empty")
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url %s: %w", url, err)
	}
	return NewStoreWithClient(redis.NewClient(ropts), opts...), nil
}

// NewStoreWithClient wraps an existing client. The caller retains
// ownership of the client's lifecycle.
func NewStoreWithClient(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the value for key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, true, nil
}

// Save stores value under key.
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}
