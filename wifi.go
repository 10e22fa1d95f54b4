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
	"log/slog"
	"time"
)

// WifiManager keeps the node connected to a known network. If none of
// the stored networks can be joined, it opens an access point with the
// provisioning portal and blocks until a network was configured.
type WifiManager struct {
	dev      Device
	radio    Radio
	store    *CredentialStore
	node     *Node
	portal   *Portal
	status   *Status
	cfg      *Config
	polls    int
	interval time.Duration
	logger   *slog.Logger
}

// NewWifiManager creates a connectivity manager. Invalid access point
// settings are configuration errors.
func NewWifiManager(cfg *Config, dev Device, store *CredentialStore, node *Node, logger *slog.Logger) (*WifiManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &WifiManager{
		dev:      dev,
		radio:    dev.Radio(),
		store:    store,
		node:     node,
		cfg:      cfg,
		polls:    cfg.JoinPolls,
		interval: cfg.PollInterval.D(),
		logger:   orDiscard(logger),
	}
	m.portal = NewPortal(m, cfg, m.logger)
	// start from a clean station
	if err := m.radio.Leave(); err != nil {
		m.logger.Debug("leave on init", slog.String("err", err.Error()))
	}
	node.setState(StationDisconnected)
	return m, nil
}

// SetStatus sets the status display used while the portal is active.
func (m *WifiManager) SetStatus(status *Status) {
	m.status = status
}

// IsConnected returns true if the station link is up.
func (m *WifiManager) IsConnected() bool {
	return m.radio.Connected()
}

// State of connectivity.
func (m *WifiManager) State() ConnState {
	return m.node.State()
}

// Connect to a known network. Visible networks are tried in scan order;
// the first successful join ends the search. If no network can be
// joined, the provisioning portal is started and Connect returns when
// the node got connected through it (or ctx is done).
func (m *WifiManager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		m.node.setState(StationConnected)
		return nil
	}
	m.node.setState(StationDisconnected)
	m.node.setSSID("")

	creds := m.store.Load()
	visible, err := m.radio.Scan(ctx)
	if err != nil {
		// no scan available: try everything we know
		m.logger.Info("scan failed, trying all known networks", slog.String("err", err.Error()))
		visible = creds.Names()
	}
	for _, ssid := range visible {
		passwd, ok := creds[ssid]
		if !ok {
			continue
		}
		if m.Join(ctx, ssid, passwd) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	m.logger.Info("could not connect to any WiFi network, starting the configuration portal")
	return m.runPortal(ctx)
}

// Join a network and wait (bounded) for the link to come up.
func (m *WifiManager) Join(ctx context.Context, ssid, passwd string) bool {
	m.logger.Info("trying to connect", slog.String("ssid", ssid))
	prev := m.node.State()
	m.node.setState(StationConnecting)
	failed := func() bool {
		if err := m.radio.Leave(); err != nil {
			m.logger.Debug("leave failed", slog.String("err", err.Error()))
		}
		if prev == PortalActive {
			m.node.setState(PortalActive)
		} else {
			m.node.setState(StationDisconnected)
		}
		return false
	}
	if err := m.radio.Join(ctx, ssid, passwd); err != nil {
		m.logger.Warn("join failed", slog.String("ssid", ssid), slog.String("err", err.Error()))
		return failed()
	}
	for i := 0; i < m.polls; i++ {
		if m.radio.Connected() {
			m.node.setState(StationConnected)
			m.node.setSSID(ssid)
			m.logger.Info("connected",
				slog.String("ssid", ssid),
				slog.String("addr", m.radio.Addr().String()))
			return true
		}
		if !sleep(ctx, m.interval) {
			break
		}
	}
	m.logger.Warn("connection failed", slog.String("ssid", ssid))
	return failed()
}

// run the access point and provisioning portal until connected.
func (m *WifiManager) runPortal(ctx context.Context) (err error) {
	m.node.setState(PortalActive)
	if err = m.radio.StartAP(m.cfg.APName, m.cfg.APPasswd); err != nil {
		m.node.setState(StationDisconnected)
		return wrap(CodeTransport, "start access point", err)
	}
	lst, err := m.dev.Listen(m.cfg.PortalPort)
	if err != nil {
		m.stopAP()
		m.node.setState(StationDisconnected)
		return wrap(CodeTransport, "portal listen", err)
	}
	defer lst.Close()
	m.status.Set(StatPORTAL, 0)
	m.logger.Info("configuration portal active",
		slog.String("ap", m.cfg.APName),
		slog.String("listen", lst.Addr().String()))

	err = m.portal.Serve(ctx, lst)
	m.stopAP()
	m.status.Set(StatOK, 0)
	if !m.IsConnected() {
		m.node.setState(StationDisconnected)
		if err == nil {
			err = ErrNotConnected
		}
		return err
	}
	if m.cfg.Restart {
		m.logger.Info("the device will reboot", slog.Duration("delay", m.cfg.RestartDelay.D()))
		if sleep(ctx, m.cfg.RestartDelay.D()) {
			m.dev.Reset()
		}
	}
	return nil
}

func (m *WifiManager) stopAP() {
	if err := m.radio.StopAP(); err != nil && !errors.Is(err, ErrUnsupported) {
		m.logger.Warn("can't stop access point", slog.String("err", err.Error()))
	}
}

// sleep for the given duration; returns false if ctx was done first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
