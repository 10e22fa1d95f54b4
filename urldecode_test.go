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

func TestURLDecode(t *testing.T) {
	cases := map[string]string{
		"a%2Bb":        "a+b",
		"a%zzb":        "a%zzb",
		"plain":        "plain",
		"a+b":          "a+b",
		"%41%42%43":    "ABC",
		"%e2%82%ac":    "€",
		"tail%4":       "tail%4",
		"tail%":        "tail%",
		"100%%41":      "100%A",
		"":             "",
		"no escapes ;": "no escapes ;",
	}
	for in, want := range cases {
		assert.Equal(t, want, URLDecode(in), in)
	}
}

func TestURLDecodeIdempotentWithoutEscapes(t *testing.T) {
	for _, s := range []string{"home", "my net", "a+b&c=d", "Büro"} {
		once := URLDecode(s)
		assert.Equal(t, s, once)
		assert.Equal(t, once, URLDecode(once))
	}
}

func TestParseForm(t *testing.T) {
	form := ParseForm("ssid=My+Home%21&password=p%40ss+word&ssid=other&flag")
	assert.Equal(t, map[string]string{
		"ssid":     "My Home!",
		"password": "p@ss word",
		"flag":     "",
	}, form)

	form = ParseForm("password=secret123")
	_, ok := form["ssid"]
	assert.False(t, ok)
}
