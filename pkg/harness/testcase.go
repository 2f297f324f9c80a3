// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/ploverline/slipway/pkg/transport"
)

// TestCase is one request/response check against the command channel.
// Matching is substring-based and order-insensitive within each set; a
// forbidden fragment dominates an accepted one.
type TestCase struct {
	Name      string
	Payload   []byte
	ExpectAny []string
	ForbidAny []string
	Timeout   time.Duration // default 1.5s
}

// Outcome records one case's result. Output keeps whatever response text
// accrued (control sequences stripped) for diagnostics, pass or fail.
type Outcome struct {
	Name   string
	Pass   bool
	Output string
}

// CaseRunner executes test cases on an open command port, reading responses
// through the channel's text accumulator.
type CaseRunner struct {
	Port transport.Port
	Resp *TextAccumulator
}

// Run executes one case: clear the read side and prior text, write and
// flush the payload, then accumulate the response until a forbidden
// fragment appears (immediate fail), an accepted fragment appears (pass),
// or the timeout elapses (fail).
func (r *CaseRunner) Run(tc TestCase) Outcome {
	r.Port.ResetInputBuffer()
	r.Resp.Drain()

	if _, err := r.Port.Write(tc.Payload); err != nil {
		return Outcome{Name: tc.Name, Output: fmt.Sprintf("[ERROR writing request: %v]", err)}
	}
	r.Port.Drain()

	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	var accum strings.Builder
	for {
		accum.WriteString(r.Resp.Drain())
		plain := StripANSI(accum.String())

		for _, bad := range tc.ForbidAny {
			if strings.Contains(plain, bad) {
				return Outcome{Name: tc.Name, Output: plain}
			}
		}
		for _, good := range tc.ExpectAny {
			if strings.Contains(plain, good) {
				return Outcome{Name: tc.Name, Pass: true, Output: plain}
			}
		}

		if !time.Now().Before(deadline) {
			return Outcome{Name: tc.Name, Output: plain}
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// RunSuite runs the whole table top-to-bottom. A failing case never aborts
// the remainder; all outcomes are collected. report, if non-nil, is called
// after each case for live progress output.
func (r *CaseRunner) RunSuite(cases []TestCase, report func(Outcome)) []Outcome {
	outcomes := make([]Outcome, 0, len(cases))
	for _, tc := range cases {
		out := r.Run(tc)
		outcomes = append(outcomes, out)
		if report != nil {
			report(out)
		}
	}
	return outcomes
}

// Failures filters outcome names that did not pass.
func Failures(outcomes []Outcome) []string {
	var failed []string
	for _, out := range outcomes {
		if !out.Pass {
			failed = append(failed, out.Name)
		}
	}
	return failed
}
