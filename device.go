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
	"io"
	"log/slog"
	"net"
	"net/netip"
)

// Indicator identifies a physical output of the node.
type Indicator int

// Indicators
const (
	AuthIndicator     Indicator = iota // authorization state (red)
	PresenceIndicator                  // started state (green)
)

// Output is a binary indicator (LED, relay).
type Output interface {
	Set(on bool)
}

// Ranger reads the distance (in cm) to the closest object.
type Ranger interface {
	Distance() (float64, error)
}

// Dialer opens outbound transport connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Radio controls the Wi-Fi interface(s) of the node.
type Radio interface {
	// Scan returns the names of visible networks.
	Scan(ctx context.Context) ([]string, error)
	// Join starts associating with a network.
	Join(ctx context.Context, ssid, passwd string) error
	// Connected returns true if the station link is up.
	Connected() bool
	// Leave the current network.
	Leave() error
	// Addr of the station interface.
	Addr() netip.Addr
	// HardwareAddr of the station interface.
	HardwareAddr() net.HardwareAddr
	// StartAP opens the provisioning access point.
	StartAP(ssid, passwd string) error
	// StopAP closes the access point.
	StopAP() error
}

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	Radio() Radio
	Ranger() Ranger
	Output(which Indicator) Output
	Storage() Storage
	Dialer() Dialer

	// Listen for TCP connections on given port.
	Listen(port uint16) (net.Listener, error)

	// Reset the device.
	Reset()
}

// NopOutput ignores all changes.
type NopOutput struct{}

// Set is ignored
func (NopOutput) Set(bool) {}

// orDiscard returns a logger that drops everything if none is given.
func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(127),
	}))
}
