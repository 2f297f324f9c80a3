// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"errors"
	"time"
)

// SessionState is the polarity-discovery state machine's state.
type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionProbing
	SessionConnected
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionUnknown:
		return "UNKNOWN"
	case SessionProbing:
		return "PROBING"
	case SessionConnected:
		return "CONNECTED"
	case SessionFailed:
		return "FAILED"
	default:
		return "INVALID"
	}
}

// ErrSessionNotEstablished is the hard setup error: neither DTR polarity
// produced a session marker on either channel. No test can meaningfully run
// after it; callers must report it distinctly from ordinary test failures.
var ErrSessionNotEstablished = errors.New("could not establish session via DTR (no session/welcome observed)")

// DTRLine is the one control-line operation the prober needs.
type DTRLine interface {
	SetDTR(level bool) error
}

// SessionProber discovers which DTR level the device treats as "host
// attached" and then drives deliberate disconnect/reconnect cycles at the
// discovered polarity.
//
// The active level is not known a priori, so Connect tries candidate levels
// in a fixed order (false, then true), forcing an edge for each: set the
// opposite level, settle, set the candidate, then wait for the defining
// diagnostic-channel marker. If neither candidate produces it, the same
// two-candidate sweep repeats watching the command channel for a welcome
// banner or prompt instead.
type SessionProber struct {
	Line DTRLine
	Diag *TextAccumulator // diagnostic channel text
	Cmd  *TextAccumulator // command channel text

	DiagConnected string   // e.g. "SESSION WAS INITIATED"
	CmdMarkers    []string // e.g. "PWM Ready", ">"

	SettleDelay   time.Duration // edge settle, default 250ms
	MarkerTimeout time.Duration // per-candidate marker wait, default 1s

	state SessionState
	level bool
}

// State reports the machine's current state.
func (p *SessionProber) State() SessionState { return p.state }

// Level returns the discovered connected level; ok is false before a
// successful Connect.
func (p *SessionProber) Level() (level, ok bool) {
	return p.level, p.state == SessionConnected
}

func (p *SessionProber) settle() time.Duration {
	if p.SettleDelay > 0 {
		return p.SettleDelay
	}
	return 250 * time.Millisecond
}

func (p *SessionProber) markerTimeout() time.Duration {
	if p.MarkerTimeout > 0 {
		return p.MarkerTimeout
	}
	return time.Second
}

// setDTR is best-effort: some adapters and all bridge transports lack the
// line, and a failed set surfaces as a marker timeout anyway.
func (p *SessionProber) setDTR(level bool) {
	p.Line.SetDTR(level)
}

// Pulse forces an edge: first level, settle delay, second level.
func (p *SessionProber) Pulse(first, second bool) {
	p.setDTR(first)
	time.Sleep(p.settle())
	p.setDTR(second)
}

// Connect runs polarity discovery and returns the connected level. On
// success the machine is CONNECTED(level); on failure it is FAILED and the
// error is ErrSessionNotEstablished.
func (p *SessionProber) Connect() (bool, error) {
	// Diagnostic-channel session notices are the definitive signal.
	for _, candidate := range []bool{false, true} {
		p.state = SessionProbing
		// Clean slate per attempt so stale text (boot banners, output from
		// the previous candidate's edges) cannot satisfy a marker wait.
		p.Diag.Drain()
		p.Cmd.Drain()
		p.Pulse(!candidate, candidate)

		if p.Diag.WaitForText(p.DiagConnected, p.markerTimeout()) {
			// The command channel prints its welcome too; soak it up so
			// the first test case starts from quiet.
			p.Cmd.WaitForAny(p.CmdMarkers, p.markerTimeout())
			p.state = SessionConnected
			p.level = candidate
			return candidate, nil
		}
	}

	// Fallback: some setups have no diagnostic channel attached. Probe
	// again judging by command-channel output alone.
	for _, candidate := range []bool{false, true} {
		p.state = SessionProbing
		p.Cmd.Drain()
		p.Pulse(!candidate, candidate)

		if _, found := p.Cmd.WaitForAny(p.CmdMarkers, p.markerTimeout()); found {
			p.state = SessionConnected
			p.level = candidate
			return candidate, nil
		}
	}

	p.state = SessionFailed
	return false, ErrSessionNotEstablished
}

// Disconnect forces the line to the inactive level. Only meaningful after
// a successful Connect.
func (p *SessionProber) Disconnect() {
	p.setDTR(!p.level)
}

// Reconnect pulses inactive then active, re-opening the session at the
// discovered polarity.
func (p *SessionProber) Reconnect() {
	p.Pulse(!p.level, p.level)
}
