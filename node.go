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
	"math"
	"sync/atomic"
)

// ConnState of the Wi-Fi connectivity manager.
type ConnState int32

// Connectivity states
const (
	StationDisconnected ConnState = iota
	StationConnecting
	StationConnected
	PortalActive
)

func (s ConnState) String() string {
	switch s {
	case StationDisconnected:
		return "disconnected"
	case StationConnecting:
		return "connecting"
	case StationConnected:
		return "connected"
	case PortalActive:
		return "portal"
	}
	return "unknown"
}

// Node is the state shared between the tasks of a sentinel. Every field
// has a single writer:
//
//	conn       Wi-Fi manager
//	ssid       Wi-Fi manager
//	authorized WebSocket client
//	online     WebSocket client (session established)
//	started    presence machine
//	distance   presence machine
//
// Fields are atomic so diagnostics can read them from other goroutines.
type Node struct {
	conn       atomic.Int32
	ssid       atomic.Value
	authorized atomic.Bool
	online     atomic.Bool
	started    atomic.Bool
	distance   atomic.Uint64
}

// NewNode creates an empty node state.
func NewNode() *Node {
	n := new(Node)
	n.ssid.Store("")
	n.distance.Store(math.Float64bits(math.NaN()))
	return n
}

// State of connectivity
func (n *Node) State() ConnState { return ConnState(n.conn.Load()) }

// SSID of the joined network (empty if not connected)
func (n *Node) SSID() string { return n.ssid.Load().(string) }

// Authorized returns the last decoded authorization state.
func (n *Node) Authorized() bool { return n.authorized.Load() }

// SocketUp returns true while a WebSocket session exists.
func (n *Node) SocketUp() bool { return n.online.Load() }

// Started returns true if presence triggered a remote start.
func (n *Node) Started() bool { return n.started.Load() }

// Distance returns the last sensor reading (NaN if none).
func (n *Node) Distance() float64 { return math.Float64frombits(n.distance.Load()) }

func (n *Node) setState(s ConnState) { n.conn.Store(int32(s)) }
func (n *Node) setSSID(s string)     { n.ssid.Store(s) }
func (n *Node) setDistance(d float64) {
	n.distance.Store(math.Float64bits(d))
}
