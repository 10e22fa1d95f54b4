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
	"io/fs"
	"math"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// fakeRadio simulates a station that can join the networks in "reachable"
// (with the matching secret).
type fakeRadio struct {
	sync.Mutex
	visible   []string
	reachable map[string]string
	scanErr   error
	joined    string
	apUp      bool
	apStarts  int
	joins     []string
}

func newFakeRadio(visible []string, reachable map[string]string) *fakeRadio {
	if reachable == nil {
		reachable = make(map[string]string)
	}
	return &fakeRadio{visible: visible, reachable: reachable}
}

func (r *fakeRadio) Scan(ctx context.Context) ([]string, error) {
	r.Lock()
	defer r.Unlock()
	if r.scanErr != nil {
		return nil, r.scanErr
	}
	return append([]string(nil), r.visible...), nil
}

func (r *fakeRadio) Join(ctx context.Context, ssid, passwd string) error {
	r.Lock()
	defer r.Unlock()
	r.joins = append(r.joins, ssid)
	if pw, ok := r.reachable[ssid]; ok && pw == passwd {
		r.joined = ssid
	}
	return nil
}

func (r *fakeRadio) Connected() bool {
	r.Lock()
	defer r.Unlock()
	return r.joined != ""
}

func (r *fakeRadio) Leave() error {
	r.Lock()
	defer r.Unlock()
	r.joined = ""
	return nil
}

func (r *fakeRadio) Addr() netip.Addr {
	if r.Connected() {
		return netip.MustParseAddr("192.168.8.42")
	}
	return netip.Addr{}
}

func (r *fakeRadio) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x28, 0xcd, 0xc1, 0x00, 0x00, 0x01}
}

func (r *fakeRadio) StartAP(ssid, passwd string) error {
	r.Lock()
	defer r.Unlock()
	r.apUp = true
	r.apStarts++
	return nil
}

func (r *fakeRadio) StopAP() error {
	r.Lock()
	defer r.Unlock()
	r.apUp = false
	return nil
}

// set reachability of a network
func (r *fakeRadio) setReachable(ssid, passwd string) {
	r.Lock()
	defer r.Unlock()
	r.reachable[ssid] = passwd
}

func (r *fakeRadio) joinLog() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.joins...)
}

//----------------------------------------------------------------------

// memStorage keeps the credential record in memory.
type memStorage struct {
	sync.Mutex
	data  []byte
	err   error
	saves int
}

func (s *memStorage) Load() ([]byte, error) {
	s.Lock()
	defer s.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memStorage) Save(data []byte) error {
	s.Lock()
	defer s.Unlock()
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

//----------------------------------------------------------------------

// seqRanger returns readings in order (repeating the last one).
type seqRanger struct {
	values []float64
	err    error
	reads  int
}

func (r *seqRanger) Distance() (float64, error) {
	if r.err != nil {
		return 0, r.err
	}
	i := r.reads
	if i >= len(r.values) {
		i = len(r.values) - 1
	}
	r.reads++
	return r.values[i], nil
}

// liveRanger returns a reading that can be changed while running.
type liveRanger struct {
	value atomic.Uint64
	reads atomic.Int32
}

func newLiveRanger(v float64) *liveRanger {
	r := new(liveRanger)
	r.set(v)
	return r
}

func (r *liveRanger) set(v float64) {
	r.value.Store(math.Float64bits(v))
}

func (r *liveRanger) Distance() (float64, error) {
	r.reads.Add(1)
	return math.Float64frombits(r.value.Load()), nil
}

// recOutput records indicator changes.
type recOutput struct {
	sync.Mutex
	levels []bool
}

func (o *recOutput) Set(on bool) {
	o.Lock()
	defer o.Unlock()
	o.levels = append(o.levels, on)
}

func (o *recOutput) last() (bool, bool) {
	o.Lock()
	defer o.Unlock()
	if len(o.levels) == 0 {
		return false, false
	}
	return o.levels[len(o.levels)-1], true
}

//----------------------------------------------------------------------

// fakeDevice runs on loopback; listeners report their address on addrs.
type fakeDevice struct {
	radio   *fakeRadio
	ranger  Ranger
	storage *memStorage
	outputs map[Indicator]*recOutput
	addrs   chan string
	resets  int
	led     atomic.Bool
	blinks  atomic.Int32
}

func newFakeDevice(radio *fakeRadio) *fakeDevice {
	return &fakeDevice{
		radio:   radio,
		ranger:  &seqRanger{values: []float64{100}},
		storage: new(memStorage),
		outputs: map[Indicator]*recOutput{
			AuthIndicator:     new(recOutput),
			PresenceIndicator: new(recOutput),
		},
		addrs: make(chan string, 4),
	}
}

func (d *fakeDevice) LED(on bool) {
	d.led.Store(on)
	if on {
		d.blinks.Add(1)
	}
}

func (d *fakeDevice) Radio() Radio                  { return d.radio }
func (d *fakeDevice) Ranger() Ranger                { return d.ranger }
func (d *fakeDevice) Output(which Indicator) Output { return d.outputs[which] }
func (d *fakeDevice) Storage() Storage              { return d.storage }
func (d *fakeDevice) Dialer() Dialer                { return &net.Dialer{Timeout: time.Second} }
func (d *fakeDevice) Reset()                        { d.resets++ }

func (d *fakeDevice) Listen(port uint16) (net.Listener, error) {
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	d.addrs <- lst.Addr().String()
	return lst, nil
}

// testConfig returns a configuration with short timings.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.JoinPolls = 3
	cfg.PollInterval = Duration(time.Millisecond)
	cfg.Restart = false
	return cfg
}

var errBoom = errors.New("boom")
