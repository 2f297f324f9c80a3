// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

// Package transport provides the serial-port abstraction the harness drives.
//
// A Port is an ordered byte stream plus the modem-control and buffer
// operations a UART test run needs. Two implementations exist: a direct
// serial port (go.bug.st/serial) and a WebSocket bridge for remote serial
// servers. Control-line support is optional; callers must treat SetDTR
// failures as best-effort.
package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Spec identifies one physical channel for a run. Immutable once built.
type Spec struct {
	Name   string // logical channel tag, e.g. "UART0"
	Device string // OS device path or URL
	Baud   int
}

func (s Spec) String() string {
	return fmt.Sprintf("%s %s @ %d", s.Name, s.Device, s.Baud)
}

// Port is the transport contract. Read must return (0, nil) on a poll
// timeout rather than blocking forever, so reader loops can observe a stop
// request promptly.
type Port interface {
	io.ReadWriteCloser

	// SetDTR sets the modem-control DTR line. Not every adapter exposes
	// this line; ErrDTRUnsupported (or a driver error) is non-fatal.
	SetDTR(level bool) error

	// Drain blocks until all written bytes have been transmitted.
	Drain() error

	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// ErrDTRUnsupported is returned by transports that have no control line.
var ErrDTRUnsupported = errors.New("transport: DTR control not supported")

type serialPort struct {
	port serial.Port
}

// OpenSerial opens a serial device at 8N1 with the given poll read timeout.
func OpenSerial(device string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s @ %d: %w", device, baud, err)
	}

	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", device, err)
		}
	}

	return &serialPort{port: port}, nil
}

func (s *serialPort) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialPort) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialPort) Close() error                { return s.port.Close() }
func (s *serialPort) SetDTR(level bool) error     { return s.port.SetDTR(level) }
func (s *serialPort) Drain() error                { return s.port.Drain() }
func (s *serialPort) ResetInputBuffer() error     { return s.port.ResetInputBuffer() }
func (s *serialPort) ResetOutputBuffer() error    { return s.port.ResetOutputBuffer() }

// ListPorts enumerates serial devices known to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
