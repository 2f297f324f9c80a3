// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ploverline/slipway/pkg/harness"
	"github.com/ploverline/slipway/pkg/transport"
)

// Markers the firmware prints around session transitions.
const (
	sessionInitiated    = "SESSION WAS INITIATED"
	sessionDisconnected = "SESSION WAS DISCONNECTED"
	welcomeBanner       = "PWM Ready"
)

var smoketestCmd = &cobra.Command{
	Use:   "smoketest",
	Short: "Run the session-gating and command-parsing smoke suite",
	Long: `Exercise the target's DTR session gating and command parser end to end.

What it does:
  - Opens the diagnostic and command channels
  - Discovers the DTR polarity that opens a session, by probing both levels
  - Runs a small request/response suite over the command channel, including
    line-editing keystrokes (BS/DEL/Ctrl-U)
  - Forces a DTR disconnect/reconnect cycle and checks the session notices
    and welcome banner reappear

This is intentionally a smoke test, not a full conformance harness.

Exit codes:
  0 - All checks passed
  1 - One or more checks failed
  2 - Setup failure (connection error or session polarity undiscoverable)`,
	RunE: runSmoketest,
}

func init() {
	rootCmd.AddCommand(smoketestCmd)
}

// smokeCases is the static request/response table, run top to bottom.
func smokeCases() []harness.TestCase {
	return []harness.TestCase{
		{Name: "HELP", Payload: []byte("HELP\r"), ExpectAny: []string{"Commands:", "PSYN n", "HELP"}},
		{Name: "?", Payload: []byte("?\r"), ExpectAny: []string{"Commands:", "PSYN n"}},
		{Name: "PSYN valid", Payload: []byte("PSYN 44\r"), ExpectAny: []string{"OK: duty set to 44%"}},
		{Name: "PSYN out-of-range", Payload: []byte("PSYN 4\r"), ExpectAny: []string{"ERROR: value out of range"}},
		{Name: "PSYN invalid", Payload: []byte("PSYN foo\r"), ExpectAny: []string{"ERROR: invalid number"}},
		{Name: "PSYN missing", Payload: []byte("PSYN\r"), ExpectAny: []string{"ERROR: missing value"}},
		{Name: "unknown", Payload: []byte("XYZ\r"), ExpectAny: []string{"ERROR: unknown command"}},
		{Name: "lowercase -> uppercase", Payload: []byte("psyn 55\r"), ExpectAny: []string{"OK: duty set to 55%"}},
		{
			// Two backspaces turn "PSYN 44" into "PSYN 5" before ENTER.
			Name:      "backspace edit",
			Payload:   []byte("PSYN 44\x08\x085\r"),
			ExpectAny: []string{"ERROR", "OK"},
			Timeout:   1500 * time.Millisecond,
		},
		{
			// DEL turns "PSYN 66" into "PSYN 67".
			Name:      "DEL edit",
			Payload:   []byte("PSYN 66\x7f7\r"),
			ExpectAny: []string{"OK: duty set to 67%", "ERROR"},
			Timeout:   1500 * time.Millisecond,
		},
		{
			Name:      "Ctrl-U line kill then HELP",
			Payload:   []byte("PSYN 77\x15HELP\r"),
			ExpectAny: []string{"Commands:", "PSYN n"},
			Timeout:   1500 * time.Millisecond,
		},
	}
}

func runSmoketest(cmd *cobra.Command, args []string) error {
	if !noUART0 {
		fmt.Printf("Using UART0=%s @ %d\n", uart0Device, uart0Baud)
	}
	if commandChannelIsRemote() {
		fmt.Printf("Using UART3=%s\n", uart3URL)
	} else {
		fmt.Printf("Using UART3=%s @ %d\n", uart3Device, uart3Baud)
	}

	var u0 transport.Port
	if !noUART0 {
		var err error
		u0, err = transport.OpenSerial(uart0Device, uart0Baud, 100*time.Millisecond)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		defer u0.Close()
	}

	u3, _, err := openCommandPort(100 * time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer u3.Close()

	sink := harness.NewSink(1024)
	errs := &harness.ErrorList{}
	diagAcc := &harness.TextAccumulator{}
	cmdAcc := &harness.TextAccumulator{}

	demux := &harness.Demux{Echo: os.Stdout}
	demux.Tap(chanDiag, diagAcc.Feed)
	demux.Tap(chanCmd, cmdAcc.Feed)

	// The smoke test reads and writes the same command-channel handle, so
	// readers borrow the ports instead of owning them.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	startReader := func(spec transport.Spec, port transport.Port) {
		reader := &harness.Reader{
			Spec: spec,
			Open: func() (transport.Port, error) { return sharedPort{port}, nil },
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader.Run(sink, errs, stop)
		}()
	}
	if u0 != nil {
		startReader(diagSpec(), u0)
	}
	startReader(cmdSpec(), u3)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			if it, ok := sink.Next(100 * time.Millisecond); ok {
				demux.Handle(it)
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	teardown := func() {
		close(stop)
		waitTimeout(&wg, time.Second)
		<-consumerDone
	}

	prober := &harness.SessionProber{
		Line:          u3,
		Diag:          diagAcc,
		Cmd:           cmdAcc,
		DiagConnected: sessionInitiated,
		CmdMarkers:    []string{welcomeBanner, ">"},
		SettleDelay:   250 * time.Millisecond,
		MarkerTimeout: time.Second,
	}

	fmt.Printf("\n[STEP] Establishing command-channel session via DTR...\n")
	u3.ResetInputBuffer()
	level, err := prober.Connect()
	if err != nil {
		teardown()
		fmt.Fprintf(os.Stderr, "\nSETUP FAILURE: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("[INFO] DTR connected_level=%v\n", level)

	fmt.Printf("\n[STEP] Exercising command suite...\n")
	runner := &harness.CaseRunner{Port: u3, Resp: cmdAcc}
	outcomes := runner.RunSuite(smokeCases(), func(out harness.Outcome) {
		status := "PASS"
		if !out.Pass {
			status = "FAIL"
		}
		fmt.Printf("\n[%s] %s\n", status, out.Name)
		if !out.Pass {
			fmt.Println(out.Output)
		}
	})
	failures := harness.Failures(outcomes)

	fmt.Printf("\n[STEP] Forcing DTR disconnect...\n")
	prober.Disconnect()
	if u0 != nil && !diagAcc.WaitForText(sessionDisconnected, 1500*time.Millisecond) {
		failures = append(failures, "DTR disconnect -> UART0 notification")
	}

	time.Sleep(300 * time.Millisecond)

	fmt.Printf("\n[STEP] Forcing DTR reconnect...\n")
	prober.Reconnect()
	if u0 != nil && !diagAcc.WaitForText(sessionInitiated, 1500*time.Millisecond) {
		failures = append(failures, "DTR reconnect -> UART0 notification")
	}

	if !cmdAcc.WaitForText(welcomeBanner, 1500*time.Millisecond) {
		failures = append(failures, "DTR reconnect -> UART3 welcome")
	}

	teardown()

	fmt.Printf("\n[RESULT]\n")
	for _, msg := range errs.All() {
		fmt.Printf("channel error: %s\n", msg)
		failures = append(failures, "channel I/O")
	}
	if len(failures) > 0 {
		fmt.Println("FAILURES:")
		for _, f := range failures {
			fmt.Printf("- %s\n", f)
		}
		os.Exit(1)
	}

	fmt.Println("All smoke checks passed.")
	return nil
}
