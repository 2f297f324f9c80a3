// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ploverline/slipway/pkg/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial devices known to the OS",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("enumerating serial ports: %w", err)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	for _, port := range ports {
		fmt.Println(port)
	}
	return nil
}
