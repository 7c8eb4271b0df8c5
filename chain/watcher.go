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
	"time"
)

// watcher aborts the chain when its wall-clock budget expires. One
// goroutine per chain, stopped and joined on Close.
type watcher struct {
	timer *time.Timer
	done  chan struct{}
	fired chan struct{}
}

func startWatcher(c *Context, timeout time.Duration) *watcher {
	w := &watcher{
		timer: time.NewTimer(timeout),
		done:  make(chan struct{}),
		fired: make(chan struct{}),
	}
	go func() {
		defer close(w.fired)
		select {
		case <-w.timer.C:
			c.abort(AbortReasonTimeout)
		case <-w.done:
		}
	}()
	return w
}

// stop cancels the timer and joins the goroutine. Safe to call once;
// Close guards against double invocation.
func (w *watcher) stop() {
	w.timer.Stop()
	close(w.done)
	<-w.fired
}
