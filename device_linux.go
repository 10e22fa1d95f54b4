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
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"go.bug.st/serial"
)

// LinuxDevice is a host (e.g. Raspberry Pi) running the node: Wi-Fi via
// NetworkManager, indicators on GPIO lines, a UART ranging sensor.
type LinuxDevice struct {
	radio   *NMRadio
	ranger  *SerialRanger
	outputs map[Indicator]Output
	storage Storage
	dialer  *net.Dialer
	logger  *slog.Logger
}

// InitDevice for the host. Missing GPIO lines are logged and replaced
// by no-op outputs; the sensor port is opened on first use.
func InitDevice(cfg *Config, logger *slog.Logger) (Device, error) {
	logger = orDiscard(logger)
	dev := &LinuxDevice{
		radio:   NewNMRadio(cfg.Interface, cfg.APIface, time.Duration(cfg.JoinPolls)*cfg.PollInterval.D(), nil),
		ranger:  NewSerialRanger(cfg.SensorPort),
		outputs: make(map[Indicator]Output),
		storage: &FileStorage{Path: cfg.Credentials},
		dialer:  &net.Dialer{Timeout: 10 * time.Second},
		logger:  logger,
	}
	for which, pin := range map[Indicator]int{
		AuthIndicator:     cfg.AuthPin,
		PresenceIndicator: cfg.PresencePin,
	} {
		line, err := gpiocdev.RequestLine(cfg.GPIOChip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("sentinel"))
		if err != nil {
			logger.Warn("indicator not available",
				slog.String("chip", cfg.GPIOChip),
				slog.Int("pin", pin),
				slog.String("err", err.Error()))
			dev.outputs[which] = NopOutput{}
			continue
		}
		dev.outputs[which] = &gpioOutput{line: line, logger: logger}
	}
	return dev, nil
}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Radio of the host
func (dev *LinuxDevice) Radio() Radio { return dev.radio }

// Ranger of the host
func (dev *LinuxDevice) Ranger() Ranger { return dev.ranger }

// Storage for credentials
func (dev *LinuxDevice) Storage() Storage { return dev.storage }

// Dialer for outbound connections
func (dev *LinuxDevice) Dialer() Dialer { return dev.dialer }

// Output for indicator
func (dev *LinuxDevice) Output(which Indicator) Output {
	if out, ok := dev.outputs[which]; ok {
		return out
	}
	return NopOutput{}
}

// Listen returns a TCP listener on the given port.
func (dev *LinuxDevice) Listen(port uint16) (net.Listener, error) {
	ctx := context.Background()
	cfg := new(net.ListenConfig)
	return cfg.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
}

// Reset terminates the process; the service supervisor restarts it.
func (dev *LinuxDevice) Reset() {
	dev.logger.Info("restarting")
	for _, out := range dev.outputs {
		if g, ok := out.(*gpioOutput); ok {
			g.line.Close()
		}
	}
	dev.ranger.Close()
	os.Exit(0)
}

//----------------------------------------------------------------------

// gpioOutput drives an indicator on a GPIO line.
type gpioOutput struct {
	line   *gpiocdev.Line
	logger *slog.Logger
}

// Set indicator level
func (o *gpioOutput) Set(on bool) {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		o.logger.Warn("can't set indicator", slog.String("err", err.Error()))
	}
}

//----------------------------------------------------------------------

// SerialRanger reads an ultrasonic module on a serial port.
type SerialRanger struct {
	sync.Mutex
	path    string
	port    serial.Port
	timeout time.Duration
}

// NewSerialRanger for the given port (opened on first read).
func NewSerialRanger(path string) *SerialRanger {
	return &SerialRanger{
		path:    path,
		timeout: 300 * time.Millisecond,
	}
}

// Distance reads the next valid frame (in cm).
func (r *SerialRanger) Distance() (float64, error) {
	r.Lock()
	defer r.Unlock()
	if r.port == nil {
		port, err := serial.Open(r.path, &serial.Mode{
			BaudRate: 9600,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return 0, err
		}
		if err = port.SetReadTimeout(r.timeout); err != nil {
			port.Close()
			return 0, err
		}
		r.port = port
	}
	// only fresh readings count
	if err := r.port.ResetInputBuffer(); err != nil {
		r.reset()
		return 0, err
	}
	var buf []byte
	chunk := make([]byte, 16)
	deadline := time.Now().Add(r.timeout)
	for time.Now().Before(deadline) {
		n, err := r.port.Read(chunk)
		if err != nil {
			r.reset()
			return 0, err
		}
		buf = append(buf, chunk[:n]...)
		mm, used, ok := DecodeRange(buf)
		if ok {
			return float64(mm) / 10, nil
		}
		buf = buf[used:]
	}
	return 0, errNoReading
}

// Close the serial port.
func (r *SerialRanger) Close() {
	r.Lock()
	defer r.Unlock()
	r.reset()
}

func (r *SerialRanger) reset() {
	if r.port != nil {
		r.port.Close()
		r.port = nil
	}
}
