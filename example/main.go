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

package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/bfix/sentinel"
)

// Build-time settings (-ldflags "-X main.SSID=...")
var (
	SSID       string
	Passwd     string
	ConfigFile string
)

// run sentinel node
func main() {
	flag.StringVar(&ConfigFile, "config", ConfigFile, "YAML configuration file")
	flag.Parse()

	cfg := sentinel.DefaultConfig()
	if ConfigFile != "" {
		var err error
		if cfg, err = sentinel.LoadConfig(ConfigFile); err != nil {
			slog.Error("configuration", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	// access device
	dev, err := sentinel.InitDevice(cfg, logger)
	if err != nil {
		logger.Error("device init failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	ctx, cancel := runContext()
	defer cancel()
	state := sentinel.NewStatus(ctx, dev)
	defer state.Trap(30 * time.Second)

	node, err := sentinel.New(cfg, dev, logger)
	if err != nil {
		logger.Error("node setup failed", slog.String("err", err.Error()))
		state.Set(sentinel.StatCONFIG, 0)
		return
	}
	if SSID != "" {
		if err = node.Provision(SSID, Passwd); err != nil {
			logger.Warn("built-in credentials rejected", slog.String("err", err.Error()))
		}
	}
	if err = node.Run(ctx, state); err != nil && ctx.Err() == nil {
		logger.Error("node stopped", slog.String("err", err.Error()))
	}
}
