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
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// name of the NetworkManager connection used for the access point
const apConnection = "sentinel-ap"

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner runs commands on the host.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var ee *exec.ExitError
	if errors.As(err, &ee) && len(ee.Stderr) > 0 {
		err = fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
	}
	return out, err
}

// NMRadio controls Wi-Fi through NetworkManager's nmcli.
type NMRadio struct {
	iface   string        // station interface
	apIface string        // access point interface
	wait    time.Duration // join timeout
	run     Runner
}

// NewNMRadio creates a radio for the given interfaces. If both are the
// same, the access point replaces the station while active.
func NewNMRadio(iface, apIface string, wait time.Duration, run Runner) *NMRadio {
	if run == nil {
		run = execRunner
	}
	if apIface == "" {
		apIface = iface
	}
	return &NMRadio{
		iface:   iface,
		apIface: apIface,
		wait:    wait,
		run:     run,
	}
}

// Scan returns visible network names (unique, in signal order).
func (r *NMRadio) Scan(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "nmcli", "-t", "-f", "SSID", "device", "wifi", "list", "ifname", r.iface, "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var list []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(line)
		if len(fields) == 0 || fields[0] == "" || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		list = append(list, fields[0])
	}
	return list, nil
}

// Join a network; nmcli returns when the link is up or the wait expired.
func (r *NMRadio) Join(ctx context.Context, ssid, passwd string) error {
	secs := int(r.wait / time.Second)
	if secs < 1 {
		secs = 1
	}
	args := []string{"--wait", strconv.Itoa(secs), "device", "wifi", "connect", ssid}
	if passwd != "" {
		args = append(args, "password", passwd)
	}
	args = append(args, "ifname", r.iface)
	_, err := r.run(ctx, "nmcli", args...)
	return err
}

// Connected returns true if the station interface is connected.
func (r *NMRadio) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := r.run(ctx, "nmcli", "-t", "-f", "DEVICE,TYPE,STATE,CONNECTION", "device", "status")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		f := splitTerse(line)
		if len(f) >= 4 && f[0] == r.iface && f[2] == "connected" && f[3] != apConnection {
			return true
		}
	}
	return false
}

// Leave the current network.
func (r *NMRadio) Leave() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.run(ctx, "nmcli", "device", "disconnect", r.iface)
	return err
}

// Addr returns the first IPv4 address of the station interface.
func (r *NMRadio) Addr() netip.Addr {
	ifc, err := net.InterfaceByName(r.iface)
	if err != nil {
		return netip.Addr{}
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return netip.Addr{}
	}
	for _, a := range addrs {
		if pfx, err := netip.ParsePrefix(a.String()); err == nil && pfx.Addr().Is4() {
			return pfx.Addr()
		}
	}
	return netip.Addr{}
}

// HardwareAddr of the station interface.
func (r *NMRadio) HardwareAddr() net.HardwareAddr {
	ifc, err := net.InterfaceByName(r.iface)
	if err != nil {
		return nil
	}
	return ifc.HardwareAddr
}

// StartAP opens a WPA2 hotspot.
func (r *NMRadio) StartAP(ssid, passwd string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := r.run(ctx, "nmcli", "device", "wifi", "hotspot",
		"ifname", r.apIface, "con-name", apConnection, "ssid", ssid, "password", passwd)
	return err
}

// StopAP closes the hotspot.
func (r *NMRadio) StopAP() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := r.run(ctx, "nmcli", "connection", "down", apConnection)
	return err
}

// splitTerse splits a line of nmcli terse output at unescaped ':' and
// removes the escapes.
func splitTerse(line string) []string {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return nil
	}
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}
