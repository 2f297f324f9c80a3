// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

// Package harness is the serial session orchestrator and protocol verifier:
// a concurrent capture engine for two independently-timed UART channels, a
// needle watcher for pacing scripted sends on device prompts, a DTR-driven
// session state machine with polarity discovery, and a request/response
// test-case runner.
//
// One goroutine per channel performs blocking reads bounded by the
// transport's poll timeout; everything captured funnels through a single
// Sink to the consumer that writes logs, mirrors to the console, and feeds
// watchers. Writes to the device (session probing, script steps, test
// payloads) happen on a separate flow that never touches the readers' port
// handles.
package harness

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ploverline/slipway/pkg/transport"
)

// Item is one captured chunk: which channel it came from and the raw bytes
// read. Payload bytes are never mutated after capture.
type Item struct {
	Channel string
	Data    []byte
}

// Sink is the multi-producer/single-consumer capture queue. FIFO within a
// channel is guaranteed by each channel having exactly one producer; no
// ordering is promised across channels.
type Sink struct {
	ch chan Item
}

// NewSink returns a sink buffered to the given item capacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sink{ch: make(chan Item, capacity)}
}

// Put copies data and queues it under the channel tag. The copy matters:
// readers reuse their chunk buffer.
func (s *Sink) Put(channel string, data []byte) {
	if len(data) == 0 {
		return
	}
	s.ch <- Item{Channel: channel, Data: append([]byte(nil), data...)}
}

// Inject queues a bracketed message under the channel tag, so operational
// errors land in the same audit trail as the bytes they interrupted.
func (s *Sink) Inject(channel, msg string) {
	s.ch <- Item{Channel: channel, Data: []byte("[" + msg + "]\n")}
}

// Next pops one item, waiting up to timeout. The bounded wait lets the
// consumer loop also observe the run deadline.
func (s *Sink) Next(timeout time.Duration) (Item, bool) {
	select {
	case it := <-s.ch:
		return it, true
	case <-time.After(timeout):
		return Item{}, false
	}
}

// ErrorList accumulates channel/operation failures for the end-of-run
// summary. Each failure is reported here exactly once.
type ErrorList struct {
	mu   sync.Mutex
	errs []string
}

func (l *ErrorList) Add(msg string) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *ErrorList) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errs...)
}

func (l *ErrorList) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs) == 0
}

// Reader owns one channel's port for the lifetime of its loop.
type Reader struct {
	Spec transport.Spec
	// Open acquires the port. Injected so tests can substitute fakes and
	// so the caller controls transport selection.
	Open func() (transport.Port, error)
}

// Run opens the port once and forwards every non-empty chunk to the sink
// until stop closes. Open or read failure is reported exactly once (error
// list plus a bracketed line in the capture stream) and ends the loop; the
// retry policy belongs to the caller. The port is released on every exit
// path.
func (r *Reader) Run(sink *Sink, errs *ErrorList, stop <-chan struct{}) {
	port, err := r.Open()
	if err != nil {
		msg := fmt.Sprintf("ERROR opening %s @ %d: %v", r.Spec.Device, r.Spec.Baud, err)
		errs.Add(msg)
		sink.Inject(r.Spec.Name, msg)
		return
	}
	defer port.Close()

	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			msg := fmt.Sprintf("ERROR read %s: %v", r.Spec.Device, err)
			errs.Add(msg)
			sink.Inject(r.Spec.Name, msg)
			return
		}

		if n > 0 {
			sink.Put(r.Spec.Name, buf[:n])
		}
	}
}

// Demux is the single consumer of the sink: per item it runs that channel's
// taps (needle watcher, accumulators, journal), appends a timestamp-and-tag
// framed record to the channel's log, and optionally mirrors the record to
// the console. The timestamp and tag live only in the record framing; the
// payload bytes stay byte-for-byte what the device sent.
type Demux struct {
	Logs map[string]io.Writer
	Echo io.Writer // nil = quiet
	Now  func() time.Time

	taps map[string][]func([]byte)
}

// Tap registers fn to receive the raw bytes of a channel before logging.
func (d *Demux) Tap(channel string, fn func([]byte)) {
	if d.taps == nil {
		d.taps = make(map[string][]func([]byte))
	}
	d.taps[channel] = append(d.taps[channel], fn)
}

// Handle processes one captured item.
func (d *Demux) Handle(it Item) {
	for _, tap := range d.taps[it.Channel] {
		tap(it.Data)
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	record := make([]byte, 0, len(it.Data)+24)
	record = append(record, '[')
	record = now().AppendFormat(record, "15:04:05")
	record = append(record, "] ["...)
	record = append(record, it.Channel...)
	record = append(record, "] "...)
	record = append(record, it.Data...)

	if w := d.Logs[it.Channel]; w != nil {
		w.Write(record)
	}
	if d.Echo != nil {
		d.Echo.Write(record)
	}
}
