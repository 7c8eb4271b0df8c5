//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package chain

import "errors"

// Errors.
var (
	// ErrContextClosed is returned when a call is submitted to a closed
	// context. This is caller misuse and is always surfaced as an
	// error, never as a Halt decision.
	ErrContextClosed = errors.New("chain: context is closed")

	// ErrNilCallback is returned when a wrapped call has no callback.
	ErrNilCallback = errors.New("chain: callback cannot be nil")
)

// errCallbackPanic marks a settled call whose callback panicked. The
// panic itself is re-raised unchanged; this sentinel only drives the
// ledger bookkeeping.
var errCallbackPanic = errors.New("chain: callback panicked")
