// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"errors"
	"sync"
	"time"
)

var (
	errWrite = errors.New("simulated write failure")
	errDTR   = errors.New("simulated dtr failure")
	errRead  = errors.New("simulated read failure")
)

// fakePort simulates one UART endpoint: rx is what the device has emitted
// toward the host, tx is what the host wrote. Read mimics the transport
// contract by returning (0, nil) after a short pause when no data is
// pending. Callbacks let tests model device behavior (responses, session
// gating).
type fakePort struct {
	mu       sync.Mutex
	rx       []byte
	tx       []byte
	dtr      bool
	dtrLog   []bool
	dtrErr   error
	readErr  error
	writeErr error
	closed   bool
	onDTR    func(level bool)
	onWrite  func(p []byte)
}

// newFakePort returns a port in the state a freshly opened serial device
// presents: DTR asserted by the driver.
func newFakePort() *fakePort {
	return &fakePort{dtr: true}
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.rx) == 0 {
		err := f.readErr
		f.mu.Unlock()
		if err != nil {
			return 0, err
		}
		time.Sleep(5 * time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	f.tx = append(f.tx, p...)
	cb := f.onWrite
	f.mu.Unlock()
	if cb != nil {
		cb(p)
	}
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakePort) SetDTR(level bool) error {
	f.mu.Lock()
	if f.dtrErr != nil {
		err := f.dtrErr
		f.mu.Unlock()
		return err
	}
	f.dtr = level
	f.dtrLog = append(f.dtrLog, level)
	cb := f.onDTR
	f.mu.Unlock()
	if cb != nil {
		cb(level)
	}
	return nil
}

func (f *fakePort) Drain() error { return nil }

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	f.rx = nil
	f.mu.Unlock()
	return nil
}

func (f *fakePort) ResetOutputBuffer() error { return nil }

// push queues device output for the host to read.
func (f *fakePort) push(data string) {
	f.mu.Lock()
	f.rx = append(f.rx, data...)
	f.mu.Unlock()
}

// sent returns everything the host wrote so far.
func (f *fakePort) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.tx)
}

func (f *fakePort) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePort) dtrHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.dtrLog...)
}
