// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/ploverline/slipway/pkg/transport"
)

const (
	chanDiag = "UART0"
	chanCmd  = "UART3"
)

func diagSpec() transport.Spec {
	return transport.Spec{Name: chanDiag, Device: uart0Device, Baud: uart0Baud}
}

func cmdSpec() transport.Spec {
	if uart3URL != "" {
		return transport.Spec{Name: chanCmd, Device: uart3URL, Baud: 0}
	}
	return transport.Spec{Name: chanCmd, Device: uart3Device, Baud: uart3Baud}
}

// commandChannelIsRemote reports whether the command channel goes through a
// WebSocket bridge instead of a local serial device.
func commandChannelIsRemote() bool {
	return uart3URL != ""
}

// openCommandPort opens the command channel per the connection flags. The
// WebSocket path authenticates with Basic auth; the password comes from the
// environment or an interactive prompt.
func openCommandPort(readTimeout time.Duration) (transport.Port, string, error) {
	if commandChannelIsRemote() {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, "", err
			}
		}

		port, err := transport.OpenWebSocket(uart3URL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("WebSocket: %s", uart3URL), nil
	}

	port, err := transport.OpenSerial(uart3Device, uart3Baud, readTimeout)
	if err != nil {
		return nil, "", err
	}
	return port, fmt.Sprintf("Serial: %s @ %d baud", uart3Device, uart3Baud), nil
}

// getPassword retrieves the bridge password from the environment or
// prompts the user with echo disabled.
func getPassword() (string, error) {
	if pw := os.Getenv("SLIPWAY_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// sharedPort hands one open port to multiple owners; Close is deferred to
// whoever holds the underlying port. Used when the WebSocket bridge carries
// both the capture reader and the send path on a single connection.
type sharedPort struct {
	transport.Port
}

func (sharedPort) Close() error { return nil }
