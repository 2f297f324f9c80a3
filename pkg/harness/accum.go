// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"strings"
	"sync"
	"time"
)

// TextAccumulator collects the raw text a channel has produced since the
// last drain. The session prober and test-case runner use it to inspect
// device responses; the capture demux (or a reader tap) feeds it.
type TextAccumulator struct {
	mu  sync.Mutex
	buf []byte
}

// Feed appends channel bytes.
func (a *TextAccumulator) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, data...)
	a.mu.Unlock()
}

// Drain returns everything accumulated so far and clears the buffer.
func (a *TextAccumulator) Drain() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := string(a.buf)
	a.buf = a.buf[:0]
	return text
}

// WaitForText polls for a single marker. See WaitForAny.
func (a *TextAccumulator) WaitForText(needle string, timeout time.Duration) bool {
	_, found := a.WaitForAny([]string{needle}, timeout)
	return found
}

// WaitForAny drains accumulated text every 50ms until any of the needles
// appears (after terminal control sequences are stripped) or the timeout
// elapses. It returns the stripped text accrued during the wait and whether
// a needle was seen. Text drained here is consumed; callers that need the
// response keep the returned string.
func (a *TextAccumulator) WaitForAny(needles []string, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	var accum strings.Builder
	for {
		accum.WriteString(a.Drain())
		plain := StripANSI(accum.String())

		for _, needle := range needles {
			if needle != "" && strings.Contains(plain, needle) {
				return plain, true
			}
		}

		if !time.Now().Before(deadline) {
			return plain, false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
