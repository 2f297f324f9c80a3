// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"strings"
	"testing"
	"time"
)

// respondWith wires a canned device response: whatever the runner writes,
// the accumulator receives the given reply.
func respondWith(port *fakePort, acc *TextAccumulator, reply string) {
	port.onWrite = func([]byte) {
		acc.Feed([]byte(reply))
	}
}

func TestCaseRunner_Pass(t *testing.T) {
	port := newFakePort()
	acc := &TextAccumulator{}
	respondWith(port, acc, "OK: duty set to 44%\r\n> ")

	runner := &CaseRunner{Port: port, Resp: acc}
	out := runner.Run(TestCase{
		Name:      "PSYN valid",
		Payload:   []byte("PSYN 44\r"),
		ExpectAny: []string{"OK: duty set to 44%"},
		Timeout:   500 * time.Millisecond,
	})

	if !out.Pass {
		t.Errorf("expected pass, got fail with output %q", out.Output)
	}
	if port.sent() != "PSYN 44\r" {
		t.Errorf("unexpected request on the wire: %q", port.sent())
	}
}

func TestCaseRunner_ForbiddenDominatesAccepted(t *testing.T) {
	port := newFakePort()
	acc := &TextAccumulator{}
	respondWith(port, acc, "ERROR: invalid number\r\nOK: duty set to 44%\r\n")

	runner := &CaseRunner{Port: port, Resp: acc}
	out := runner.Run(TestCase{
		Name:      "forbid wins",
		Payload:   []byte("PSYN 44\r"),
		ExpectAny: []string{"OK: duty set to 44%"},
		ForbidAny: []string{"ERROR"},
		Timeout:   500 * time.Millisecond,
	})

	if out.Pass {
		t.Error("a forbidden fragment must fail the case even when an accepted one appears")
	}
	if !strings.Contains(out.Output, "ERROR: invalid number") {
		t.Errorf("output should retain the response text, got %q", out.Output)
	}
}

func TestCaseRunner_TimeoutRetainsPartialText(t *testing.T) {
	port := newFakePort()
	acc := &TextAccumulator{}
	respondWith(port, acc, "PWM partial garbage")

	runner := &CaseRunner{Port: port, Resp: acc}
	start := time.Now()
	out := runner.Run(TestCase{
		Name:      "times out",
		Payload:   []byte("HELP\r"),
		ExpectAny: []string{"Commands:"},
		Timeout:   150 * time.Millisecond,
	})

	if out.Pass {
		t.Error("expected timeout failure")
	}
	if !strings.Contains(out.Output, "partial garbage") {
		t.Errorf("accrued text should be kept for diagnostics, got %q", out.Output)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestCaseRunner_StripsControlSequences(t *testing.T) {
	port := newFakePort()
	acc := &TextAccumulator{}
	respondWith(port, acc, "\x1b[2K\x1b[1GOK: duty \x1b[32mset\x1b[0m to 44%\r\n")

	runner := &CaseRunner{Port: port, Resp: acc}
	out := runner.Run(TestCase{
		Name:      "ANSI noise",
		Payload:   []byte("PSYN 44\r"),
		ExpectAny: []string{"OK: duty set to 44%"},
		Timeout:   500 * time.Millisecond,
	})

	if !out.Pass {
		t.Errorf("matching should see past control sequences, output %q", out.Output)
	}
}

func TestCaseRunner_WriteFailure(t *testing.T) {
	port := newFakePort()
	port.writeErr = errWrite
	runner := &CaseRunner{Port: port, Resp: &TextAccumulator{}}

	out := runner.Run(TestCase{Name: "broken wire", Payload: []byte("HELP\r"), ExpectAny: []string{"Commands:"}})
	if out.Pass {
		t.Error("a failed request write cannot pass")
	}
	if !strings.Contains(out.Output, "ERROR writing request") {
		t.Errorf("output should carry the write error, got %q", out.Output)
	}
}

func TestRunSuite_ContinuesPastFailures(t *testing.T) {
	port := newFakePort()
	acc := &TextAccumulator{}
	respondWith(port, acc, "OK: duty set to 55%\r\n")

	cases := []TestCase{
		{Name: "never matches", Payload: []byte("PSYN 1\r"), ExpectAny: []string{"no such text"}, Timeout: 100 * time.Millisecond},
		{Name: "matches", Payload: []byte("psyn 55\r"), ExpectAny: []string{"OK: duty set to 55%"}, Timeout: 500 * time.Millisecond},
	}

	runner := &CaseRunner{Port: port, Resp: acc}
	var reports int
	outcomes := runner.RunSuite(cases, func(Outcome) { reports++ })

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Pass || !outcomes[1].Pass {
		t.Errorf("expected fail then pass, got %v then %v", outcomes[0].Pass, outcomes[1].Pass)
	}
	if reports != 2 {
		t.Errorf("report callback should fire per case, got %d", reports)
	}

	failed := Failures(outcomes)
	if len(failed) != 1 || failed[0] != "never matches" {
		t.Errorf("Failures() = %v", failed)
	}
}
