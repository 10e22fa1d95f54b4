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

// Package sentinel implements the firmware of a presence/door controller
// node: it keeps the node on a known Wi-Fi network (falling back to a
// provisioning portal), follows authorization events from a notification
// service over WebSocket and triggers remote start/stop calls when the
// ranging sensor detects a present object.
package sentinel

import (
	"context"
	"log/slog"
	"time"
)

// Sentinel wires the components of a node to a device.
type Sentinel struct {
	cfg      *Config
	dev      Device
	node     *Node
	store    *CredentialStore
	wifi     *WifiManager
	presence *PresenceMachine
	ws       *WSClient
	status   *Status
	diagUp   bool
	logger   *slog.Logger
}

// New creates a node for the device. Configuration errors are fatal.
func New(cfg *Config, dev Device, logger *slog.Logger) (*Sentinel, error) {
	logger = orDiscard(logger)
	s := &Sentinel{
		cfg:    cfg,
		dev:    dev,
		node:   NewNode(),
		logger: logger,
	}
	s.store = NewCredentialStore(dev.Storage(), logger.With(slog.String("comp", "credentials")))
	var err error
	if s.wifi, err = NewWifiManager(cfg, dev, s.store, s.node, logger.With(slog.String("comp", "wifi"))); err != nil {
		return nil, err
	}
	remote := NewRemote(dev.Dialer(), cfg.HTTPTimeout.D(), logger.With(slog.String("comp", "remote")))
	s.presence = NewPresenceMachine(cfg, dev.Ranger(), remote, dev.Output(PresenceIndicator), s.node,
		logger.With(slog.String("comp", "presence")))
	if s.ws, err = NewWSClient(cfg, dev.Dialer(), s.node, dev.Output(AuthIndicator),
		logger.With(slog.String("comp", "websocket"))); err != nil {
		return nil, err
	}
	// indicators start dark
	dev.Output(AuthIndicator).Set(false)
	dev.Output(PresenceIndicator).Set(false)
	return s, nil
}

// Node returns the shared node state.
func (s *Sentinel) Node() *Node {
	return s.node
}

// Provision stores credentials for a network (e.g. baked into the
// firmware at build time).
func (s *Sentinel) Provision(ssid, passwd string) error {
	return s.store.Put(ssid, passwd)
}

// Run the node until ctx is done. A nil status display is created on
// the device.
func (s *Sentinel) Run(ctx context.Context, status *Status) error {
	if status == nil {
		status = NewStatus(ctx, s.dev)
	}
	s.status = status
	s.wifi.SetStatus(s.status)
	sched := NewScheduler(s.status, s.logger)
	sched.Add("wifi", s.cfg.WifiTick.D(), StatWIFI, TaskFunc(s.wifiTick))
	sched.Add("presence", s.cfg.PresenceTick.D(), StatREMOTE, TaskFunc(s.presenceTick))
	sched.Add("websocket", s.cfg.SocketTick.D(), StatWS, TaskFunc(s.socketTick))
	defer s.ws.Close()
	return sched.Run(ctx)
}

// keep the node connected
func (s *Sentinel) wifiTick(ctx context.Context, _ time.Time) error {
	if !s.wifi.IsConnected() {
		s.logger.Warn("disconnected!")
		s.node.setState(StationDisconnected)
		if err := s.wifi.Connect(ctx); err != nil {
			return err
		}
	}
	s.node.setState(StationConnected)
	s.startDiagnostics(ctx)
	return nil
}

// debounce presence while online
func (s *Sentinel) presenceTick(ctx context.Context, now time.Time) error {
	if !s.wifi.IsConnected() {
		return nil
	}
	return s.presence.Tick(ctx, now)
}

// follow notifications while online
func (s *Sentinel) socketTick(ctx context.Context, now time.Time) error {
	if !s.wifi.IsConnected() {
		s.ws.Drop()
		return nil
	}
	return s.ws.Tick(ctx, now)
}

// serve the diagnostics namespace (once, if enabled)
func (s *Sentinel) startDiagnostics(ctx context.Context) {
	if s.diagUp || s.cfg.DiagPort == 0 {
		return
	}
	s.diagUp = true
	ns, err := NewDiagnostics(s.cfg, s.node, s.dev.Radio())
	if err != nil {
		s.logger.Error("diagnostics namespace", slog.String("err", err.Error()))
		s.status.Set(StatDIAG, 3)
		return
	}
	lst, err := s.dev.Listen(s.cfg.DiagPort)
	if err != nil {
		s.logger.Error("diagnostics listener", slog.String("err", err.Error()))
		s.status.Set(StatLISTEN, 3)
		return
	}
	logger := s.logger.With(slog.String("comp", "diag"))
	logger.Info("diagnostics served", slog.String("listen", lst.Addr().String()))
	go func() {
		if err := ns.Serve(ctx, lst, logger); err != nil && ctx.Err() == nil {
			logger.Error("diagnostics stopped", slog.String("err", err.Error()))
			s.status.Set(StatDIAG, 3)
		}
	}()
}
