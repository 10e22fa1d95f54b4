//----------------------------------------------------------------------
// This file is part of sentinel.
// Copyright (C) 2025-present Bernd Fix   >Y<
//
// sentinel is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// sentinel is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package sentinel

import (
	"errors"
)

// UART ultrasonic modules (A02YYUW and similar) send 4-byte frames:
// 0xFF, distance high byte, distance low byte, checksum (in mm).
const (
	rangeHeader = 0xFF
	rangeFrame  = 4
)

var errNoReading = errors.New("no distance reading")

// DecodeRange scans buf for a valid range frame. It returns the distance
// in mm and the number of bytes consumed; ok is false if no complete
// valid frame was found (consumed then tells how many bytes can be
// dropped).
func DecodeRange(buf []byte) (mm int, consumed int, ok bool) {
	for i := 0; i+rangeFrame <= len(buf); i++ {
		if buf[i] != rangeHeader {
			continue
		}
		hi, lo, sum := buf[i+1], buf[i+2], buf[i+3]
		if byte(rangeHeader+int(hi)+int(lo)) != sum {
			continue
		}
		return int(hi)<<8 | int(lo), i + rangeFrame, true
	}
	// keep a possible partial frame at the end
	drop := len(buf) - (rangeFrame - 1)
	if drop < 0 {
		drop = 0
	}
	return 0, drop, false
}
