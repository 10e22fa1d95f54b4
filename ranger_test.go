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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRange(t *testing.T) {
	// 0x07A1 = 1953 mm, checksum (0xFF+0x07+0xA1)&0xFF = 0xA7
	mm, n, ok := DecodeRange([]byte{0xFF, 0x07, 0xA1, 0xA7})
	assert.True(t, ok)
	assert.Equal(t, 1953, mm)
	assert.Equal(t, 4, n)

	// garbage and a bad checksum before a valid frame
	mm, n, ok = DecodeRange([]byte{0x12, 0xFF, 0x07, 0xA1, 0x00, 0xFF, 0x01, 0x2C, 0x2C})
	assert.True(t, ok)
	assert.Equal(t, 300, mm)
	assert.Equal(t, 9, n)

	// partial frame: keep the tail
	_, n, ok = DecodeRange([]byte{0x00, 0x00, 0xFF, 0x01})
	assert.False(t, ok)
	assert.Equal(t, 1, n)

	_, n, ok = DecodeRange([]byte{0xFF})
	assert.False(t, ok)
	assert.Equal(t, 0, n)
}
