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
	"fmt"
	"sync/atomic"
	"time"
)

// status codes (number of LED blinks)
const (
	StatUNK    = iota // unknown status (init)
	StatOK            // processing active
	StatCONFIG        // invalid configuration
	StatWIFI          // can't connect to a network
	StatPORTAL        // provisioning portal active/failed
	StatWS            // websocket session failed
	StatREMOTE        // start/stop call failed
	StatSENSOR        // ranging sensor failed
	StatLISTEN        // failed to create listener
	StatDIAG          // diagnostics server failed
	StatEXCP          // exception (panic) occured
)

// Status handler.
// Show current status depending on hardware device.
type Status struct {
	dev    Device       // reference to device
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
}

// NewStatus creates a new status display that runs until ctx is done.
func NewStatus(ctx context.Context, dev Device) (state *Status) {
	state = new(Status)
	state.dev = dev
	state.curr.Store(StatOK)
	go func() {
		// blink LED <state>; <repeat> times
		for sleep(ctx, 5*time.Second) {
			num := state.curr.Load()
			if num == StatOK {
				// heartbeat
				blink(ctx, dev, 50*time.Millisecond, 0)
				continue
			}
			for ; num > 5 && ctx.Err() == nil; num -= 5 {
				blink(ctx, dev, 1000*time.Millisecond, 300*time.Millisecond)
			}
			for i := int32(0); i < num; i++ {
				if !blink(ctx, dev, 150*time.Millisecond, 150*time.Millisecond) {
					break
				}
			}
			if state.repeat.Add(-1) == 0 {
				state.curr.Store(StatOK)
			}
		}
	}()
	return
}

// blink the LED once; returns false if ctx is done. The LED is off
// afterwards in any case.
func blink(ctx context.Context, dev Device, on, off time.Duration) bool {
	dev.LED(true)
	ok := sleep(ctx, on)
	dev.LED(false)
	return ok && sleep(ctx, off)
}

// Set status and repeat <num> times (0 = until changed).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	if state == nil {
		return StatUNK, 0
	}
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap critical failures (panic) and keep the status visible for a
// while before returning.
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}
