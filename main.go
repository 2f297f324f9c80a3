// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments
//
// Slipway - UART Session Orchestrator and Protocol Verifier
//
// A CLI tool for capturing dual UART channels, driving DTR session
// boundaries, and smoke-testing device command parsing.

package main

import (
	"os"

	"github.com/ploverline/slipway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
