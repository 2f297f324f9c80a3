// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"bytes"
	"sync"
	"time"
)

const (
	watchWindowMax  = 4096
	watchWindowKeep = 2048
)

// NeedleWatcher flags each appearance of a short byte sequence (a prompt or
// marker) in a stream without parsing protocol state. The capture demux
// feeds it; a sender waits on it to pace prompt-synchronized sends.
//
// The rolling window is bounded: once it exceeds 4096 bytes only the newest
// 2048 are kept. A needle that straddles the trim point can be missed once.
// Prompts are short markers reissued every response cycle, so the downstream
// timeout-based retry masks the rare miss; this is a known, accepted
// limitation rather than a bug to engineer away.
type NeedleWatcher struct {
	mu     sync.Mutex
	needle []byte
	buf    []byte
	count  int
	wake   chan struct{}
}

// NewNeedleWatcher returns a watcher for the given marker bytes.
func NewNeedleWatcher(needle []byte) *NeedleWatcher {
	return &NeedleWatcher{
		needle: append([]byte(nil), needle...),
		wake:   make(chan struct{}, 1),
	}
}

// Feed appends stream bytes to the rolling window. Every completed
// occurrence of the needle increments the match counter exactly once;
// matched bytes are consumed so a needle left sitting in the window is not
// recounted on later feeds.
func (w *NeedleWatcher) Feed(data []byte) {
	if len(data) == 0 || len(w.needle) == 0 {
		return
	}

	w.mu.Lock()
	w.buf = append(w.buf, data...)

	matched := false
	for {
		i := bytes.Index(w.buf, w.needle)
		if i < 0 {
			break
		}
		w.count++
		matched = true
		w.buf = w.buf[i+len(w.needle):]
	}

	if len(w.buf) > watchWindowMax {
		w.buf = append([]byte(nil), w.buf[len(w.buf)-watchWindowKeep:]...)
	}
	w.mu.Unlock()

	if matched {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Count returns the monotonically non-decreasing match counter.
func (w *NeedleWatcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// WaitForNext blocks until the match counter exceeds lastCount or the
// timeout elapses, rechecking at 250ms granularity. A timeout is a normal
// boolean outcome, not an error; escalation belongs to the caller.
func (w *NeedleWatcher) WaitForNext(lastCount int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if w.Count() > lastCount {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > 250*time.Millisecond {
			remaining = 250 * time.Millisecond
		}

		select {
		case <-w.wake:
		case <-time.After(remaining):
		}
	}
}
