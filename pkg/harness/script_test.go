// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseScript_Valid(t *testing.T) {
	script := `
# bring-up sequence
SEND HELP          # verbs are case-insensitive
send
type PSYN 4\x084\r
sleep 0.5
dtr 0
dtr 1
`
	steps, err := ParseScript(script)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := []struct {
		kind StepKind
		text string
	}{
		{StepSend, "HELP"},
		{StepSend, ""}, // bare send = press ENTER
		{StepType, `PSYN 4\x084\r`},
		{StepSleep, ""},
		{StepDTR, ""},
		{StepDTR, ""},
	}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(steps))
	}
	for i, w := range want {
		if steps[i].Kind != w.kind {
			t.Errorf("step %d: expected kind %v, got %v", i, w.kind, steps[i].Kind)
		}
		if (w.kind == StepSend || w.kind == StepType) && steps[i].Text != w.text {
			t.Errorf("step %d: expected text %q, got %q", i, w.text, steps[i].Text)
		}
	}

	if steps[3].Pause != 500*time.Millisecond {
		t.Errorf("sleep step: expected 500ms, got %v", steps[3].Pause)
	}
	if steps[4].Level || !steps[5].Level {
		t.Errorf("dtr steps: expected false then true, got %v then %v", steps[4].Level, steps[5].Level)
	}
}

func TestParseScript_CommentOnlyLineProducesNoStep(t *testing.T) {
	steps, err := ParseScript("# just a comment\n\n   # another\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("expected no steps, got %d", len(steps))
	}
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantSub string
	}{
		{"dtr out of range", "send HELP\nsend\ndtr 2\n", "line 3"},
		{"dtr missing arg", "dtr\n", "line 1"},
		{"type missing arg", "send HELP\ntype\n", "line 2"},
		{"sleep missing arg", "sleep\n", "line 1"},
		{"sleep not a number", "sleep abc\n", "line 1"},
		{"sleep negative", "sleep -1\n", "line 1"},
		{"unknown verb", "frobnicate now\n", "line 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := ParseScript(tt.script)
			if err == nil {
				t.Fatalf("expected error, got %d steps", len(steps))
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should name %s, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestDecodeEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{`PSYN 44\r`, []byte("PSYN 44\r")},
		{`a\r\nb`, []byte("a\r\nb")},
		{`\x41\x42`, []byte("AB")},
		{`tab\there`, []byte("tab\there")},
		{`back\\slash`, []byte(`back\slash`)},
		{`nul\0`, []byte{'n', 'u', 'l', 0}},
		{`unknown\q`, []byte(`unknown\q`)},
		{`trailing\`, []byte(`trailing\`)},
		{`\xZZ`, []byte(`\xZZ`)},
	}

	for _, tt := range tests {
		if got := DecodeEscapes(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("DecodeEscapes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureTrailingCRLF(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no terminator", "PSYN 44", "PSYN 44\r\n"},
		{"bare CR", "PSYN 44\r", "PSYN 44\r\n"},
		{"bare LF", "PSYN 44\n", "PSYN 44\r\n"},
		{"already CRLF", "PSYN 44\r\n", "PSYN 44\r\n"},
		{"empty", "", "\r\n"},
		{"interior newlines untouched", "a\nb", "a\nb\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureTrailingCRLF([]byte(tt.in))
			if string(got) != tt.want {
				t.Errorf("EnsureTrailingCRLF(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// Idempotent: normalizing again must change nothing.
			again := EnsureTrailingCRLF(append([]byte(nil), got...))
			if string(again) != tt.want {
				t.Errorf("re-normalizing %q gave %q", got, again)
			}
		})
	}
}

func TestScriptEngine_RunsStepsInOrder(t *testing.T) {
	port := newFakePort()
	engine := &ScriptEngine{Port: port, AutoCRLF: true}

	steps, err := ParseScript("send HELP\ndtr 0\nsend PSYN 44\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := engine.Run(steps); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := port.sent(); got != "HELP\r\nPSYN 44\r\n" {
		t.Errorf("unexpected bytes on the wire: %q", got)
	}
	if history := port.dtrHistory(); len(history) != 1 || history[0] {
		t.Errorf("expected one DTR-low set, got %v", history)
	}
}

func TestScriptEngine_TypeSendsBytesVerbatim(t *testing.T) {
	port := newFakePort()
	engine := &ScriptEngine{Port: port, AutoCRLF: true}

	steps, err := ParseScript(`type PSYN 44\x08\x085\r` + "\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := engine.Run(steps); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// No CRLF normalization on 'type', even with AutoCRLF on.
	if got := port.sent(); got != "PSYN 44\x08\x085\r" {
		t.Errorf("unexpected bytes on the wire: %q", got)
	}
}

func TestScriptEngine_SendFailureAbortsRest(t *testing.T) {
	port := newFakePort()
	port.writeErr = errWrite
	var reported []string
	engine := &ScriptEngine{
		Port:     port,
		AutoCRLF: true,
		Report:   func(msg string) { reported = append(reported, msg) },
	}

	steps, _ := ParseScript("send one\nsend two\n")
	err := engine.Run(steps)
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("failure should name the step line: %v", err)
	}
	if port.sent() != "" {
		t.Errorf("nothing should reach the wire after a write failure, got %q", port.sent())
	}
	if len(reported) != 1 {
		t.Errorf("failure should be reported into the capture stream once, got %v", reported)
	}
}

func TestScriptEngine_DTRFailureIsNonFatal(t *testing.T) {
	port := newFakePort()
	port.dtrErr = errDTR
	var reported []string
	engine := &ScriptEngine{
		Port:     port,
		AutoCRLF: true,
		Report:   func(msg string) { reported = append(reported, msg) },
	}

	steps, _ := ParseScript("dtr 1\nsend HELP\n")
	if err := engine.Run(steps); err != nil {
		t.Fatalf("dtr failure must not abort the script: %v", err)
	}
	if got := port.sent(); got != "HELP\r\n" {
		t.Errorf("send after failed dtr should still run, got %q", got)
	}
	if len(reported) != 1 || !strings.Contains(reported[0], "dtr") {
		t.Errorf("dtr failure should be reported, got %v", reported)
	}
}

func TestScriptEngine_PromptSynchronizedSends(t *testing.T) {
	port := newFakePort()
	watcher := NewNeedleWatcher([]byte("> "))

	// The simulated device prints a prompt shortly after every command.
	port.onWrite = func([]byte) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			watcher.Feed([]byte("OK\n> "))
		}()
	}

	engine := &ScriptEngine{
		Port:          port,
		Prompt:        watcher,
		WaitPrompt:    true,
		PromptTimeout: time.Second,
		AutoCRLF:      true,
	}

	steps, _ := ParseScript("send PSYN 44\nsend PSYN 55\n")
	if err := engine.Run(steps); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if watcher.Count() < 2 {
		t.Errorf("both sends should have been paced on a prompt, count=%d", watcher.Count())
	}
	if got := port.sent(); got != "PSYN 44\r\nPSYN 55\r\n" {
		t.Errorf("unexpected bytes on the wire: %q", got)
	}
}
