//go:build rp2350

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
	"encoding/binary"
	"errors"
	"io/fs"
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/eth/dns"
	"github.com/soypat/seqs/stacks"
	"tinygo.org/x/drivers/hcsr04"
)

const mtu = cyw43439.MTU

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref     *cyw43439.Device // reference to device
	radio   *picoRadio
	ranger  *hcsrRanger
	outputs map[Indicator]Output
	storage *flashStorage
	logger  *slog.Logger
}

// InitDevice initializes the Wi-Fi chip, indicator pins and sensor.
func InitDevice(cfg *Config, logger *slog.Logger) (Device, error) {
	logger = orDiscard(logger)
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	dev.logger = logger

	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = logger
	logger.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return nil, err
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))

	dev.radio = &picoRadio{
		dev:      dev.ref,
		hostname: cfg.DeviceID,
		logger:   logger,
	}
	dev.outputs = map[Indicator]Output{
		AuthIndicator:     newPinOutput(machine.Pin(cfg.AuthPin)),
		PresenceIndicator: newPinOutput(machine.Pin(cfg.PresencePin)),
	}
	sensor := hcsr04.New(machine.Pin(cfg.TriggerPin), machine.Pin(cfg.EchoPin))
	sensor.Configure()
	dev.ranger = &hcsrRanger{dev: &sensor}
	dev.storage = new(flashStorage)
	return dev, nil
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Radio of the device
func (dev *Pico2WDevice) Radio() Radio { return dev.radio }

// Ranger of the device
func (dev *Pico2WDevice) Ranger() Ranger { return dev.ranger }

// Storage for credentials
func (dev *Pico2WDevice) Storage() Storage { return dev.storage }

// Dialer for outbound connections
func (dev *Pico2WDevice) Dialer() Dialer { return dev.radio }

// Output for indicator
func (dev *Pico2WDevice) Output(which Indicator) Output {
	if out, ok := dev.outputs[which]; ok {
		return out
	}
	return NopOutput{}
}

// Listen returns a TCP listener on the given port.
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	stack := dev.radio.Stack()
	if stack == nil {
		return nil, ErrNotConnected
	}
	listener, err := stacks.NewTCPListener(stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  1024,
		ConnRxBufSize:  1024,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

// Reset the MCU.
func (dev *Pico2WDevice) Reset() {
	machine.CPUReset()
}

//----------------------------------------------------------------------

// pinOutput drives an indicator on a GPIO pin.
type pinOutput struct {
	pin machine.Pin
}

func newPinOutput(pin machine.Pin) *pinOutput {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()
	return &pinOutput{pin: pin}
}

// Set indicator level
func (o *pinOutput) Set(on bool) {
	o.pin.Set(on)
}

// hcsrRanger reads a HC-SR04 ultrasonic sensor.
type hcsrRanger struct {
	dev *hcsr04.Device
}

// Distance in cm
func (r *hcsrRanger) Distance() (float64, error) {
	mm := r.dev.ReadDistance()
	if mm <= 0 {
		return 0, errNoReading
	}
	return float64(mm) / 10, nil
}

//----------------------------------------------------------------------

// flashStorage keeps a single length-prefixed record at the start of
// the flash data region.
type flashStorage struct{}

// Load the record; an erased region means "no record".
func (s *flashStorage) Load() ([]byte, error) {
	var hdr [4]byte
	if _, err := machine.Flash.ReadAt(hdr[:], 0); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size == 0xFFFFFFFF || size == 0 {
		return nil, fs.ErrNotExist
	}
	if int64(size)+4 > machine.Flash.Size() {
		return nil, errors.New("corrupt credential record")
	}
	data := make([]byte, size)
	if _, err := machine.Flash.ReadAt(data, 4); err != nil {
		return nil, err
	}
	return data, nil
}

// Save replaces the record.
func (s *flashStorage) Save(data []byte) error {
	rec := binary.LittleEndian.AppendUint32(nil, uint32(len(data)))
	rec = append(rec, data...)
	if wbs := int(machine.Flash.WriteBlockSize()); len(rec)%wbs != 0 {
		pad := make([]byte, wbs-len(rec)%wbs)
		for i := range pad {
			pad[i] = 0xFF
		}
		rec = append(rec, pad...)
	}
	ebs := machine.Flash.EraseBlockSize()
	blocks := (int64(len(rec)) + ebs - 1) / ebs
	if err := machine.Flash.EraseBlocks(0, blocks); err != nil {
		return err
	}
	_, err := machine.Flash.WriteAt(rec, 0)
	return err
}

//----------------------------------------------------------------------

// picoRadio joins networks with the cyw43439 and runs the TCP/IP stack.
// The driver offers neither scanning nor access point mode.
type picoRadio struct {
	sync.Mutex
	dev      *cyw43439.Device
	hostname string
	stack    *stacks.PortStack
	dhcp     *stacks.DHCPClient
	resolver *Resolver
	joined   bool
	logger   *slog.Logger
}

// Scan is not available.
func (r *picoRadio) Scan(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

// Join a WPA2 network and acquire an address via DHCP.
func (r *picoRadio) Join(ctx context.Context, ssid, passwd string) error {
	r.Lock()
	defer r.Unlock()
	if len(passwd) == 0 {
		r.logger.Info("joining open network:", slog.String("ssid", ssid))
	} else {
		r.logger.Info("joining WPA secure network", slog.String("ssid", ssid), slog.Int("passlen", len(passwd)))
	}
	if err := r.dev.JoinWPA2(ssid, passwd); err != nil {
		return err
	}
	mac, _ := r.dev.HardwareAddr6()
	r.logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	if r.stack == nil {
		r.stack = stacks.NewPortStack(stacks.PortStackConfig{
			MAC:             mac,
			MaxOpenPortsUDP: 2, // DHCP + DNS
			MaxOpenPortsTCP: 4, // portal/diagnostics + websocket + http
			MTU:             mtu,
			Logger:          r.logger,
		})
		r.dev.RecvEthHandle(r.stack.RecvEth)
		// Begin asynchronous packet handling.
		go nicLoop(r.dev, r.stack)
	}
	if err := r.setupDHCP(ctx); err != nil {
		return err
	}
	r.joined = true
	return nil
}

// perform DHCP request
func (r *picoRadio) setupDHCP(ctx context.Context) error {
	r.dhcp = stacks.NewDHCPClient(r.stack, dhcp.DefaultClientPort)
	err := r.dhcp.BeginRequest(stacks.DHCPRequestConfig{
		Xid:      uint32(time.Now().Nanosecond()),
		Hostname: r.hostname,
	})
	if err != nil {
		return err
	}
	for i := 0; r.dhcp.State() != dhcp.StateBound; i++ {
		if i > 15 || !sleep(ctx, time.Second/2) {
			return errors.New("no DHCP reply")
		}
		r.logger.Info("DHCP ongoing...")
	}
	ip := r.dhcp.Offer()
	r.logger.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(r.dhcp.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("gateway", r.dhcp.Gateway().String()),
		slog.String("router", r.dhcp.Router().String()),
		slog.Duration("lease", r.dhcp.IPLeaseTime()),
	)
	r.stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.
	if r.resolver, err = NewResolver(r.stack, r.dhcp); err != nil {
		r.logger.Warn("no DNS resolver", slog.String("err", err.Error()))
	}
	return nil
}

// Connected returns true after a successful join.
func (r *picoRadio) Connected() bool {
	r.Lock()
	defer r.Unlock()
	return r.joined && r.stack != nil && r.stack.Addr().IsValid()
}

// Leave forgets the current network (the driver can't disassociate).
func (r *picoRadio) Leave() error {
	r.Lock()
	defer r.Unlock()
	r.joined = false
	return nil
}

// Addr of the station
func (r *picoRadio) Addr() netip.Addr {
	r.Lock()
	defer r.Unlock()
	if r.stack == nil {
		return netip.Addr{}
	}
	return r.stack.Addr()
}

// HardwareAddr of the station
func (r *picoRadio) HardwareAddr() net.HardwareAddr {
	mac, err := r.dev.HardwareAddr6()
	if err != nil {
		return nil
	}
	return net.HardwareAddr(mac[:])
}

// StartAP is not available.
func (r *picoRadio) StartAP(ssid, passwd string) error { return ErrUnsupported }

// StopAP is not available.
func (r *picoRadio) StopAP() error { return ErrUnsupported }

// Stack returns the TCP/IP stack (nil before the first join).
func (r *picoRadio) Stack() *stacks.PortStack {
	r.Lock()
	defer r.Unlock()
	return r.stack
}

// DialContext opens a TCP connection through the router.
func (r *picoRadio) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	r.Lock()
	stack, dhcpc, resolver := r.stack, r.dhcp, r.resolver
	r.Unlock()
	if stack == nil || dhcpc == nil {
		return nil, ErrNotConnected
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		if resolver == nil {
			return nil, err
		}
		addrs, err := resolver.LookupNetIP(host)
		if err != nil {
			return nil, err
		}
		ip = addrs[0]
	}
	routerhw, err := ResolveHardwareAddr(stack, dhcpc.Router())
	if err != nil {
		return nil, err
	}
	conn, err := stacks.NewTCPConn(stack, stacks.TCPConnConfig{
		TxBufSize: 1024,
		RxBufSize: 2048,
	})
	if err != nil {
		return nil, err
	}
	lport := uint16(time.Now().UnixNano()%16384) + 49152
	if err = conn.OpenDialTCP(lport, routerhw, netip.AddrPortFrom(ip, uint16(port)), seqs.Value(time.Now().UnixNano())); err != nil {
		conn.Close()
		return nil, err
	}
	for conn.State() != seqs.StateEstablished {
		if conn.State() == seqs.StateClosed {
			conn.Close()
			return nil, errors.New("connection refused")
		}
		if !sleep(ctx, 50*time.Millisecond) {
			conn.Close()
			return nil, ctx.Err()
		}
	}
	return conn, nil
}

//======================================================================
// copied from https://raw.githubusercontent.com/soypat/cyw43439,
// file '/examples/common/common.go'.
//======================================================================

// ResolveHardwareAddr obtains the hardware address of the given IP address.
func ResolveHardwareAddr(stack *stacks.PortStack, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := stack.ARP()
	arpc.Abort() // Remove any previous ARP requests.
	err := arpc.BeginResolve(ip)
	if err != nil {
		return [6]byte{}, err
	}
	time.Sleep(4 * time.Millisecond)
	// ARP exchanges should be fast, don't wait too long for them.
	const timeout = time.Second
	const maxretries = 20
	retries := maxretries
	for !arpc.IsDone() && retries > 0 {
		retries--
		if retries == 0 {
			return [6]byte{}, errors.New("arp timed out")
		}
		time.Sleep(timeout / maxretries)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}

type Resolver struct {
	stack     *stacks.PortStack
	dns       *stacks.DNSClient
	dhcp      *stacks.DHCPClient
	dnsaddr   netip.Addr
	dnshwaddr [6]byte
}

func NewResolver(stack *stacks.PortStack, dhcp *stacks.DHCPClient) (*Resolver, error) {
	dnsc := stacks.NewDNSClient(stack, dns.ClientPort)
	dnsaddrs := dhcp.DNSServers()
	if len(dnsaddrs) == 0 || !dnsaddrs[0].IsValid() {
		return nil, errors.New("dns addr obtained via DHCP not valid")
	}
	return &Resolver{
		stack:   stack,
		dhcp:    dhcp,
		dns:     dnsc,
		dnsaddr: dnsaddrs[0],
	}, nil
}

func (r *Resolver) LookupNetIP(host string) ([]netip.Addr, error) {
	name, err := dns.NewName(host)
	if err != nil {
		return nil, err
	}
	err = r.updateDNSHWAddr()
	if err != nil {
		return nil, err
	}

	err = r.dns.StartResolve(r.dnsConfig(name))
	if err != nil {
		return nil, err
	}
	time.Sleep(5 * time.Millisecond)
	retries := 100

	for retries > 0 {
		done, _ := r.dns.IsDone()
		if done {
			break
		}
		retries--
		time.Sleep(20 * time.Millisecond)
	}
	done, rcode := r.dns.IsDone()
	if !done && retries == 0 {
		return nil, errors.New("dns lookup timed out")
	} else if rcode != dns.RCodeSuccess {
		return nil, errors.New("dns lookup failed:" + rcode.String())
	}
	answers := r.dns.Answers()
	if len(answers) == 0 {
		return nil, errors.New("no dns answers")
	}
	var addrs []netip.Addr
	for i := range answers {
		data := answers[i].RawData()
		if len(data) == 4 {
			addrs = append(addrs, netip.AddrFrom4([4]byte(data)))
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no ipv4 dns answers")
	}
	return addrs, nil
}

func (r *Resolver) updateDNSHWAddr() (err error) {
	r.dnshwaddr, err = ResolveHardwareAddr(r.stack, r.dnsaddr)
	return err
}

func (r *Resolver) dnsConfig(name dns.Name) stacks.DNSResolveConfig {
	return stacks.DNSResolveConfig{
		Questions: []dns.Question{
			{
				Name:  name,
				Type:  dns.TypeA,
				Class: dns.ClassINET,
			},
		},
		DNSAddr:         r.dnsaddr,
		DNSHWAddr:       r.dnshwaddr,
		EnableRecursion: true,
	}
}

func nicLoop(dev *cyw43439.Device, Stack *stacks.PortStack) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		queue[i] = [mtu]byte{} // Not really necessary.
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		// Poll for incoming packets.
		for i := 0; i < 1; i++ {
			gotPacket, err := dev.PollOne()
			if err != nil {
				println("poll error:", err.Error())
			}
			if !gotPacket {
				break
			}
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			var err error
			buf := queue[i][:]
			lenBuf[i], err = Stack.HandleEth(buf[:])
			if err != nil {
				println("stack error n(should be 0)=", lenBuf[i], "err=", err.Error())
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			err := dev.SendEth(queue[i][:n])
			if err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
