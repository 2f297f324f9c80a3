// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ploverline/slipway/pkg/harness"
	"github.com/ploverline/slipway/pkg/transport"
)

var (
	sendPayloads      []string
	noAutoCRLF        bool
	dtrInit           string
	scriptInline      string
	scriptFile        string
	sendDelay         float64
	sendInterval      float64
	waitPrompt        bool
	promptBytes       string
	promptTimeout     float64
	typeDelay         float64
	captureDuration   float64
	logsDir           string
	journalEnabled    bool
	quiet             bool
	noPreflight       bool
	noPostflight      bool
	preflightPulseDTR bool
	postflightDropDTR bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture both channels and optionally send commands",
	Long: `Capture the diagnostic and command channels to timestamped logs while
optionally sending commands on the command channel.

Sends come either from repeated --send flags or from a small script
(--script / --script-file) with one command per line:

  send <text-with-\r-\n-escapes>   # auto-CRLF unless --no-auto-crlf
  send                             # press ENTER: sends CRLF
  type <text-with-escapes>         # byte-by-byte, no auto-CRLF
  sleep <seconds>
  dtr <0|1>

With --wait-prompt, each send blocks until the device prompt (--prompt-bytes)
appears again, so commands are paced on device readiness instead of fixed
delays.

Examples:
  slipway capture --duration 30
  slipway capture --send 'PSYN 44' --wait-prompt
  slipway capture --script-file bringup.uart3 --journal`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	f := captureCmd.Flags()
	f.StringArrayVar(&sendPayloads, "send", nil, `Send this byte string on the command channel (supports \r and \n escapes); repeatable`)
	f.BoolVar(&noAutoCRLF, "no-auto-crlf", false, "Do not normalize the trailing CRLF on sends")
	f.StringVar(&dtrInit, "dtr", "", "Set DTR to this level (0/1) when opening the send port")
	f.StringVar(&scriptInline, "script", "", "Inline command-channel script")
	f.StringVar(&scriptFile, "script-file", "", "Path to a command-channel script file")
	f.Float64Var(&sendDelay, "send-delay", 0.6, "Seconds to wait before sending (lets the target boot)")
	f.Float64Var(&sendInterval, "send-interval", 0.20, "Seconds between repeated --send payloads")
	f.BoolVar(&waitPrompt, "wait-prompt", false, "Wait for the next prompt before each successive send")
	f.StringVar(&promptBytes, "prompt-bytes", "> ", "Prompt marker to wait for")
	f.Float64Var(&promptTimeout, "prompt-timeout", 8.0, "Seconds to wait for the prompt between sends")
	f.Float64Var(&typeDelay, "type-delay", 0.02, "Seconds between bytes for script 'type' steps")
	f.Float64Var(&captureDuration, "duration", 10.0, "Seconds to capture before exiting (0 = run forever)")
	f.StringVar(&logsDir, "logs-dir", "logs", "Directory for capture logs")
	f.BoolVar(&journalEnabled, "journal", false, "Also write a CBOR capture journal")
	f.BoolVar(&quiet, "quiet", false, "Do not echo captured data to stdout")
	f.BoolVar(&noPreflight, "no-preflight", false, "Skip the UART preflight (default is on)")
	f.BoolVar(&noPostflight, "no-postflight", false, "Skip the UART postflight cleanup (default is on)")
	f.BoolVar(&preflightPulseDTR, "preflight-pulse-dtr", false, "Pulse DTR on the command channel during preflight (best-effort)")
	f.BoolVar(&postflightDropDTR, "postflight-drop-dtr", false, "Drop DTR on the command channel before closing (best-effort)")
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

func runCapture(cmd *cobra.Command, args []string) error {
	var specs []transport.Spec
	if !noUART0 {
		specs = append(specs, diagSpec())
	}
	if !noUART3 {
		specs = append(specs, cmdSpec())
	}
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: nothing to do (both channels disabled)")
		os.Exit(2)
	}

	if dtrInit != "" && dtrInit != "0" && dtrInit != "1" {
		return fmt.Errorf("--dtr must be 0 or 1")
	}

	// Parse the script before touching any channel: a malformed script
	// must never cause partial execution.
	var steps []harness.ScriptStep
	haveScript := false
	if scriptFile != "" {
		text, err := os.ReadFile(scriptFile)
		if err != nil {
			return fmt.Errorf("reading script file: %w", err)
		}
		steps, err = harness.ParseScript(string(text))
		if err != nil {
			return err
		}
		haveScript = true
	} else if scriptInline != "" {
		var err error
		steps, err = harness.ParseScript(scriptInline)
		if err != nil {
			return err
		}
		haveScript = true
	}

	sink := harness.NewSink(1024)
	errs := &harness.ErrorList{}
	prompt := harness.NewNeedleWatcher([]byte(promptBytes))

	// Preflight strictly before readers start, so no device is ever open
	// twice at the same time.
	if !noPreflight {
		if !noUART0 {
			if err := transport.Preflight(diagSpec(), false); err != nil {
				errs.Add(err.Error())
				sink.Inject(chanDiag, err.Error())
			}
		}
		if !noUART3 && !commandChannelIsRemote() {
			if err := transport.Preflight(cmdSpec(), preflightPulseDTR); err != nil {
				errs.Add(err.Error())
				sink.Inject(chanCmd, err.Error())
			}
		}
	}

	// Per-channel append-only logs; unbuffered so the audit trail survives
	// a crashed run.
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	stamp := time.Now().Format("20060102_150405")

	logPaths := make(map[string]string)
	logWriters := make(map[string]io.Writer)
	var logFiles []*os.File
	for _, spec := range specs {
		path := filepath.Join(logsDir, fmt.Sprintf("%s_%s_%s_%d.log", stamp, spec.Name, filepath.Base(spec.Device), spec.Baud))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log %s: %w", path, err)
		}
		logPaths[spec.Name] = path
		logWriters[spec.Name] = f
		logFiles = append(logFiles, f)
	}

	var echo io.Writer
	if !quiet {
		echo = os.Stdout
	}
	demux := &harness.Demux{Logs: logWriters, Echo: echo}
	demux.Tap(chanCmd, prompt.Feed)

	var journal *harness.Journal
	if journalEnabled {
		path := filepath.Join(logsDir, stamp+"_capture.cbor")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening journal %s: %w", path, err)
		}
		journal = harness.NewJournal(f)
		logPaths["journal"] = path
		for _, spec := range specs {
			demux.Tap(spec.Name, journal.Tap(spec.Name))
		}
	}

	// A WebSocket command channel is one connection shared by the reader
	// and the send path; a serial one is opened per owner, as with the
	// original tooling.
	var wsShared transport.Port
	if !noUART3 && commandChannelIsRemote() {
		port, _, err := openCommandPort(0)
		if err != nil {
			msg := fmt.Sprintf("ERROR opening %s: %v", uart3URL, err)
			errs.Add(msg)
			sink.Inject(chanCmd, msg)
		} else {
			wsShared = port
			defer wsShared.Close()
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, spec := range specs {
		reader := &harness.Reader{Spec: spec}
		switch {
		case spec.Name == chanCmd && commandChannelIsRemote():
			if wsShared == nil {
				continue // open already failed and was reported
			}
			reader.Open = func() (transport.Port, error) { return sharedPort{wsShared}, nil }
		default:
			device, baud := spec.Device, spec.Baud
			reader.Open = func() (transport.Port, error) {
				return transport.OpenSerial(device, baud, 200*time.Millisecond)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader.Run(sink, errs, stop)
		}()
	}

	// The send phase runs concurrently with sink consumption so the
	// prompt watcher sees device output live.
	sendDone := make(chan error, 1)
	sendPending := false
	if !noUART3 && (haveScript || len(sendPayloads) > 0) {
		sendPending = true
		go func() {
			sendDone <- runSendPhase(steps, haveScript, prompt, sink, wsShared)
		}()
	}

	var sendErr error
	start := time.Now()
	duration := seconds(captureDuration)
	for {
		if it, ok := sink.Next(200 * time.Millisecond); ok {
			demux.Handle(it)
		}

		if sendPending {
			select {
			case sendErr = <-sendDone:
				sendPending = false
			default:
			}
		}

		// An in-flight send phase extends the run past the deadline; a
		// capture window never cuts a script short.
		if duration > 0 && time.Since(start) >= duration && !sendPending {
			break
		}
	}

	close(stop)
	waitTimeout(&wg, time.Second)

	// Drain whatever the readers queued before they observed the stop.
	for {
		it, ok := sink.Next(50 * time.Millisecond)
		if !ok {
			break
		}
		demux.Handle(it)
	}

	for _, f := range logFiles {
		f.Close()
	}
	if journal != nil {
		journal.Close()
	}

	// Postflight: leave the ports in a known-closed, quiescent state.
	if !noPostflight {
		if !noUART0 {
			transport.Preflight(diagSpec(), false)
		}
		if !noUART3 && !commandChannelIsRemote() {
			if postflightDropDTR {
				transport.DropDTR(cmdSpec())
			} else {
				transport.Preflight(cmdSpec(), false)
			}
		}
	}

	if !quiet {
		for name, path := range logPaths {
			fmt.Printf("\nSaved %s log: %s\n", name, path)
		}
	}

	ok := sendErr == nil && errs.Empty()
	if !quiet {
		if ok {
			fmt.Printf("\nRESULT: OK\n")
		} else {
			fmt.Printf("\nRESULT: FAIL\n")
			fmt.Println("Errors:")
			if sendErr != nil {
				fmt.Printf("- %v\n", sendErr)
			}
			for _, msg := range errs.All() {
				fmt.Printf("- %s\n", msg)
			}
		}
	}

	if !ok {
		os.Exit(1)
	}
	return nil
}

// runSendPhase opens the send handle and runs either the script or the
// simple multi-send loop. All failures come back as the single run-level
// send error; they are also injected into the capture stream.
func runSendPhase(steps []harness.ScriptStep, haveScript bool, prompt *harness.NeedleWatcher, sink *harness.Sink, shared transport.Port) error {
	time.Sleep(seconds(sendDelay))

	var port transport.Port
	if shared != nil {
		port = sharedPort{shared}
	} else {
		p, err := transport.OpenSerial(uart3Device, uart3Baud, time.Second)
		if err != nil {
			msg := fmt.Sprintf("ERROR opening send port %s @ %d: %v", uart3Device, uart3Baud, err)
			sink.Inject(chanCmd, msg)
			return fmt.Errorf("%s", msg)
		}
		port = p
	}
	defer port.Close()

	if dtrInit != "" {
		port.SetDTR(dtrInit == "1")
	}

	engine := &harness.ScriptEngine{
		Port:          port,
		Prompt:        prompt,
		WaitPrompt:    waitPrompt,
		PromptTimeout: seconds(promptTimeout),
		AutoCRLF:      !noAutoCRLF,
		TypeDelay:     seconds(typeDelay),
		Report:        func(msg string) { sink.Inject(chanCmd, msg) },
	}

	if haveScript {
		return engine.Run(steps)
	}

	// Simple multi-send mode
	last := prompt.Count()
	if waitPrompt {
		// Wait for the initial prompt once so the first command is not
		// sent while the target is still booting.
		prompt.WaitForNext(last, seconds(promptTimeout))
		last = prompt.Count()
	}
	for i, text := range sendPayloads {
		payload := harness.DecodeEscapes(text)
		if !noAutoCRLF {
			payload = harness.EnsureTrailingCRLF(payload)
		}
		if _, err := port.Write(payload); err != nil {
			msg := fmt.Sprintf("ERROR sending to %s: %v", uart3Device, err)
			sink.Inject(chanCmd, msg)
			return fmt.Errorf("%s", msg)
		}
		port.Drain()

		if waitPrompt {
			prompt.WaitForNext(last, seconds(promptTimeout))
			last = prompt.Count()
		} else if i+1 < len(sendPayloads) {
			time.Sleep(seconds(sendInterval))
		}
	}
	return nil
}

// waitTimeout joins a WaitGroup with a bound: reader teardown is
// best-effort prompt, never a hang.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}
