// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package transport

import (
	"fmt"
	"time"
)

// Preflight opens a device, clears stale host-side buffers, optionally
// pulses DTR, drains any immediately-available bytes, then closes. Run it
// strictly before capture readers start so the same device is never open
// twice concurrently.
//
// Everything past the open is best-effort; only the open itself can fail.
func Preflight(spec Spec, pulseDTR bool) error {
	port, err := OpenSerial(spec.Device, spec.Baud, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("preflight: ERROR opening %s %s @ %d: %w", spec.Name, spec.Device, spec.Baud, err)
	}
	defer port.Close()

	port.ResetInputBuffer()
	port.ResetOutputBuffer()

	if pulseDTR {
		if err := port.SetDTR(false); err == nil {
			time.Sleep(50 * time.Millisecond)
			port.SetDTR(true)
			time.Sleep(50 * time.Millisecond)
		}
	}

	buf := make([]byte, 4096)
	port.Read(buf)

	return nil
}

// DropDTR opens a device, forces DTR low, clears buffers, and closes.
// Used during postflight so a run never leaves the session line asserted.
func DropDTR(spec Spec) error {
	port, err := OpenSerial(spec.Device, spec.Baud, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("postflight: ERROR opening %s %s @ %d: %w", spec.Name, spec.Device, spec.Baud, err)
	}
	defer port.Close()

	port.SetDTR(false)
	port.ResetInputBuffer()
	port.ResetOutputBuffer()

	return nil
}
