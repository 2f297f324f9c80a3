// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Ploverline Instruments

package harness

import "regexp"

// CSI sequences only; the device's line editor emits cursor and erase
// controls, never the longer OSC/DCS forms.
var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// StripANSI removes terminal control sequences so response matching sees
// the text a human would.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}
