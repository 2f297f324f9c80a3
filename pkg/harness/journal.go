// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// journalRecord is one captured chunk with its wall-clock arrival time.
// Data carries the exact payload bytes; CBOR byte strings keep them intact
// where a text format would not.
type journalRecord struct {
	At      time.Time `cbor:"at"`
	Channel string    `cbor:"ch"`
	Data    []byte    `cbor:"data"`
}

// Journal writes a machine-readable sidecar of the capture: a stream of
// CBOR records, one per chunk, alongside the human-oriented text logs. It
// is a demux tap; Record is safe for use from the single consumer plus the
// occasional injected message.
type Journal struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	c   io.Closer
	now func() time.Time
}

// NewJournal wraps an append-only sink. The caller owns file naming.
func NewJournal(w io.WriteCloser) *Journal {
	return &Journal{enc: cbor.NewEncoder(w), c: w, now: time.Now}
}

// Record appends one chunk.
func (j *Journal) Record(channel string, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(journalRecord{
		At:      j.now(),
		Channel: channel,
		Data:    data,
	})
}

// Tap adapts Record for Demux.Tap registration.
func (j *Journal) Tap(channel string) func([]byte) {
	return func(data []byte) {
		j.Record(channel, data)
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.c.Close()
}
