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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	assert.Nil(t, wrap(CodeTransport, "dial", nil))
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeError, CodeOf(errBoom))
	assert.Equal(t, CodeHandshake, CodeOf(CodeHandshake))

	err := wrap(CodeTransport, "dial", errBoom)
	assert.Equal(t, "dial: transport: boom", err.Error())
	assert.ErrorIs(t, err, errBoom)

	// kinds survive further wrapping
	outer := fmt.Errorf("websocket: %w", err)
	assert.Equal(t, CodeTransport, CodeOf(outer))
	assert.False(t, IsFatal(outer))

	err = fail(CodeConfiguration, "config", "bad value")
	assert.Equal(t, "config: configuration: bad value", err.Error())
	assert.True(t, IsFatal(err))
}
