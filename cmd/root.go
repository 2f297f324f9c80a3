// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	// Diagnostic channel (UART0 / ICDI) flags
	uart0Device string
	uart0Baud   int
	noUART0     bool

	// Command channel (UART3 / USER) flags
	uart3Device string
	uart3Baud   int
	noUART3     bool

	// WebSocket command-channel flags (remote serial bridge)
	uart3URL      string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "UART session orchestrator and smoke tester",
	Long: `Slipway - host-side UART session orchestrator and protocol verifier.

Captures a low-rate diagnostic channel (UART0) and an interactive command
channel (UART3) continuously and losslessly, drives DTR as the session
boundary, runs scripted sends paced on the device prompt, and verifies
session gating and command parsing with a request/response smoke suite.

Connection modes for the command channel:
  Serial:    --uart3 /dev/ttyUSB1 [--uart3-baud 115200]
  WebSocket: --uart3-url ws://host/path [--username user]

Device and baud defaults honor the UART0_DEV, UART0_BAUD, UART3_DEV and
UART3_BAUD environment variables. For WebSocket authentication the password
is read from SLIPWAY_PASSWORD, or prompted interactively if not set; a
--password flag is intentionally not provided to avoid leaking credentials
in shell history.`,
	Version: "1.2.0",
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&uart0Device, "uart0", envDefault("UART0_DEV", "/dev/ttyACM0"), "Diagnostic channel device")
	pf.IntVar(&uart0Baud, "uart0-baud", envDefaultInt("UART0_BAUD", 9600), "Diagnostic channel baud rate")
	pf.BoolVar(&noUART0, "no-uart0", false, "Disable the diagnostic channel")

	pf.StringVar(&uart3Device, "uart3", envDefault("UART3_DEV", "/dev/ttyUSB1"), "Command channel device")
	pf.IntVar(&uart3Baud, "uart3-baud", envDefaultInt("UART3_BAUD", 115200), "Command channel baud rate")
	pf.BoolVar(&noUART3, "no-uart3", false, "Disable the command channel")

	pf.StringVar(&uart3URL, "uart3-url", "", "Command channel WebSocket URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
