//go:build !rp2350

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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted nmcli: answers by the first matching argument prefix.
type nmcliScript struct {
	calls   []string
	answers map[string]string
	err     error
}

func (s *nmcliScript) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(args, " ")
	s.calls = append(s.calls, cmd)
	if s.err != nil {
		return nil, s.err
	}
	for prefix, out := range s.answers {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func TestSplitTerse(t *testing.T) {
	assert.Equal(t, []string{"wlan0", "wifi", "connected", "home"}, splitTerse("wlan0:wifi:connected:home\r"))
	assert.Equal(t, []string{`a:b\c`, ""}, splitTerse(`a\:b\\c:`))
	assert.Nil(t, splitTerse(""))
}

func TestNMRadioScan(t *testing.T) {
	s := &nmcliScript{answers: map[string]string{
		"-t -f SSID device wifi list": "home\n\nwork\nhome\nmy\\:net\n",
	}}
	r := NewNMRadio("wlan0", "", 10*time.Second, s.run)
	list, err := r.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "work", "my:net"}, list)
	assert.Equal(t, "-t -f SSID device wifi list ifname wlan0 --rescan yes", s.calls[0])

	s.err = errBoom
	_, err = r.Scan(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestNMRadioJoinAndState(t *testing.T) {
	s := &nmcliScript{answers: map[string]string{
		"-t -f DEVICE,TYPE,STATE,CONNECTION device status": "lo:loopback:unmanaged:\nwlan0:wifi:connected:home\n",
	}}
	r := NewNMRadio("wlan0", "wlan1", 10*time.Second, s.run)

	require.NoError(t, r.Join(context.Background(), "home", "secret123"))
	assert.Equal(t, "--wait 10 device wifi connect home password secret123 ifname wlan0", s.calls[0])
	require.NoError(t, r.Join(context.Background(), "open", ""))
	assert.Equal(t, "--wait 10 device wifi connect open ifname wlan0", s.calls[1])

	assert.True(t, r.Connected())

	// the access point connection doesn't count as station link
	s.answers["-t -f DEVICE,TYPE,STATE,CONNECTION device status"] = "wlan0:wifi:connected:" + apConnection + "\n"
	assert.False(t, r.Connected())

	require.NoError(t, r.StartAP("EH_DOOR_LOCK_2", "12345678"))
	assert.Equal(t, "device wifi hotspot ifname wlan1 con-name sentinel-ap ssid EH_DOOR_LOCK_2 password 12345678",
		s.calls[len(s.calls)-1])
	require.NoError(t, r.StopAP())
	assert.Equal(t, "connection down sentinel-ap", s.calls[len(s.calls)-1])
	require.NoError(t, r.Leave())
	assert.Equal(t, "device disconnect wlan0", s.calls[len(s.calls)-1])
}
