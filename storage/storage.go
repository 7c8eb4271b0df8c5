//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package storage defines the byte-blob persistence contract used for
// optional cross-process sharing of breaker and adaptive-ceiling state.
// The engine itself never requires persistence; a nil Store is valid
// everywhere one is accepted.
package storage

import "context"

// Store is a minimal key-value blob store.
type Store interface {
	// Load returns the value for key. ok is false when the key is absent.
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Save stores value under key, overwriting any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
