// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ploverline/slipway/pkg/transport"
)

// StepKind tags a ScriptStep variant.
type StepKind int

const (
	StepSend StepKind = iota
	StepType
	StepSleep
	StepDTR
)

// ScriptStep is one parsed command of the send script. Steps execute in
// file order with no backtracking.
type ScriptStep struct {
	Kind  StepKind
	Text  string        // send/type payload, escapes not yet decoded
	Pause time.Duration // sleep duration
	Level bool          // dtr level
	Line  int           // 1-based source line, for error reporting
}

// ParseScript parses the line-oriented script language:
//
//	send <text-with-\r-\n-escapes>   (auto-CRLF unless disabled)
//	send                             (press ENTER: sends CRLF)
//	type <text-with-escapes>         (byte-by-byte, no auto-CRLF)
//	sleep <seconds>
//	dtr <0|1>
//
// Verbs are case-insensitive; '#' starts a comment; blank lines are
// skipped. Any malformed line fails the whole parse with its line number,
// before any channel I/O happens.
func ParseScript(text string) ([]ScriptStep, error) {
	var steps []ScriptStep

	for idx, raw := range strings.Split(text, "\n") {
		lineNo := idx + 1
		line := raw
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		verb := line
		arg := ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			verb = line[:i]
			arg = strings.TrimSpace(line[i:])
		}

		switch strings.ToLower(verb) {
		case "send":
			steps = append(steps, ScriptStep{Kind: StepSend, Text: arg, Line: lineNo})

		case "type":
			if arg == "" {
				return nil, fmt.Errorf("script line %d: missing payload for 'type'", lineNo)
			}
			steps = append(steps, ScriptStep{Kind: StepType, Text: arg, Line: lineNo})

		case "sleep":
			if arg == "" {
				return nil, fmt.Errorf("script line %d: missing seconds for 'sleep'", lineNo)
			}
			secs, err := strconv.ParseFloat(arg, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("script line %d: invalid sleep duration %q", lineNo, arg)
			}
			steps = append(steps, ScriptStep{Kind: StepSleep, Pause: time.Duration(secs * float64(time.Second)), Line: lineNo})

		case "dtr":
			if arg != "0" && arg != "1" {
				return nil, fmt.Errorf("script line %d: dtr must be 0 or 1", lineNo)
			}
			steps = append(steps, ScriptStep{Kind: StepDTR, Level: arg == "1", Line: lineNo})

		default:
			return nil, fmt.Errorf("script line %d: unknown command %q", lineNo, verb)
		}
	}

	return steps, nil
}

// DecodeEscapes converts shell-friendly backslash escapes to raw bytes.
// Recognized: \r \n \t \a \b \f \v \0 \\ and \xHH. An unrecognized escape
// is kept literally, backslash included.
func DecodeEscapes(text string) []byte {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' || i+1 >= len(text) {
			out = append(out, c)
			continue
		}

		i++
		switch text[i] {
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'v':
			out = append(out, '\v')
		case '0':
			out = append(out, 0)
		case '\\':
			out = append(out, '\\')
		case 'x':
			if i+2 < len(text) {
				if v, err := strconv.ParseUint(text[i+1:i+3], 16, 8); err == nil {
					out = append(out, byte(v))
					i += 2
					continue
				}
			}
			out = append(out, '\\', 'x')
		default:
			out = append(out, '\\', text[i])
		}
	}
	return out
}

// EnsureTrailingCRLF normalizes the payload tail to a full CR+LF pair, the
// bytes a real keyboard ENTER produces. A bare trailing CR or LF is
// upgraded; an existing CRLF is left untouched; an empty payload becomes a
// lone CRLF. Idempotent.
func EnsureTrailingCRLF(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte("\r\n")
	}

	n := len(payload)
	switch {
	case n >= 2 && payload[n-2] == '\r' && payload[n-1] == '\n':
		return payload
	case payload[n-1] == '\r':
		return append(payload, '\n')
	case payload[n-1] == '\n':
		return append(payload[:n-1], '\r', '\n')
	default:
		return append(payload, '\r', '\n')
	}
}

// ScriptEngine executes parsed steps against one already-open command port.
type ScriptEngine struct {
	Port transport.Port

	// Prompt-synchronized sends: after each send, block until the watcher
	// sees the next marker or PromptTimeout elapses. Timeout is not fatal.
	Prompt        *NeedleWatcher
	WaitPrompt    bool
	PromptTimeout time.Duration

	AutoCRLF  bool
	TypeDelay time.Duration // inter-byte delay for 'type'

	// Report routes step-level failure messages into the capture stream
	// under the command channel's tag. May be nil.
	Report func(msg string)
}

func (e *ScriptEngine) report(msg string) {
	if e.Report != nil {
		e.Report(msg)
	}
}

// Run executes steps strictly in order. DTR failures are swallowed
// (best-effort: not every adapter exposes the line). A write or drain
// failure aborts the remaining script and is returned as the single
// run-level failure.
func (e *ScriptEngine) Run(steps []ScriptStep) error {
	lastPrompt := 0
	if e.Prompt != nil {
		lastPrompt = e.Prompt.Count()
	}

	for _, step := range steps {
		switch step.Kind {
		case StepSleep:
			time.Sleep(step.Pause)

		case StepDTR:
			if err := e.Port.SetDTR(step.Level); err != nil {
				e.report(fmt.Sprintf("WARN dtr set failed (line %d): %v", step.Line, err))
			}

		case StepSend:
			payload := DecodeEscapes(step.Text)
			if e.AutoCRLF {
				payload = EnsureTrailingCRLF(payload)
			}
			if err := e.writeAll(payload); err != nil {
				e.report(fmt.Sprintf("ERROR sending (line %d): %v", step.Line, err))
				return fmt.Errorf("script line %d: send failed: %w", step.Line, err)
			}
			if e.WaitPrompt && e.Prompt != nil {
				e.Prompt.WaitForNext(lastPrompt, e.PromptTimeout)
				lastPrompt = e.Prompt.Count()
			}

		case StepType:
			payload := DecodeEscapes(step.Text)
			for _, b := range payload {
				if err := e.writeAll([]byte{b}); err != nil {
					e.report(fmt.Sprintf("ERROR typing (line %d): %v", step.Line, err))
					return fmt.Errorf("script line %d: type failed: %w", step.Line, err)
				}
				if e.TypeDelay > 0 {
					time.Sleep(e.TypeDelay)
				}
			}
		}
	}

	return nil
}

func (e *ScriptEngine) writeAll(payload []byte) error {
	for len(payload) > 0 {
		n, err := e.Port.Write(payload)
		if err != nil {
			return err
		}
		payload = payload[n:]
	}
	return e.Port.Drain()
}
