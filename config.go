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
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits for access point settings.
const (
	MaxSSIDLen      = 32
	MinPasswdLen    = 8
	MaxPasswdLen    = 63
	credentialsFile = "wifi.dat"
)

// Duration is a time.Duration that reads "2s" style values from YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the standard duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config for a sentinel node.
type Config struct {
	// device identity (shown on the provisioning page)
	DeviceID   string `yaml:"device_id"`
	DeviceType string `yaml:"device_type"`

	// access point for provisioning
	APName    string `yaml:"ap_name"`
	APPasswd  string `yaml:"ap_password"`
	Interface string `yaml:"interface"`    // station interface (host)
	APIface   string `yaml:"ap_interface"` // access point interface (host)

	// provisioning portal
	Credentials  string   `yaml:"credentials"`
	PortalPort   uint16   `yaml:"portal_port"`
	Restart      bool     `yaml:"restart"`
	RestartDelay Duration `yaml:"restart_delay"`

	// station join attempts
	JoinPolls    int      `yaml:"join_polls"`
	PollInterval Duration `yaml:"poll_interval"`

	// presence detection
	Threshold   float64  `yaml:"threshold"`
	StartWindow Duration `yaml:"start_window"`
	StopWindow  Duration `yaml:"stop_window"`
	StartURL    string   `yaml:"start_url"`
	StopURL     string   `yaml:"stop_url"`
	HTTPTimeout Duration `yaml:"http_timeout"`

	// notification channel
	WebSocketURL string   `yaml:"websocket_url"`
	PingInterval Duration `yaml:"ping_interval"`
	RecvTimeout  Duration `yaml:"recv_timeout"`

	// scheduler cadences
	WifiTick     Duration `yaml:"wifi_tick"`
	PresenceTick Duration `yaml:"presence_tick"`
	SocketTick   Duration `yaml:"socket_tick"`

	// hardware
	AuthPin     int    `yaml:"auth_pin"`
	PresencePin int    `yaml:"presence_pin"`
	TriggerPin  int    `yaml:"trigger_pin"`
	EchoPin     int    `yaml:"echo_pin"`
	GPIOChip    string `yaml:"gpio_chip"`
	SensorPort  string `yaml:"sensor_port"`

	// diagnostics (9P); 0 to disable
	DiagPort uint16 `yaml:"diag_port"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the reference settings.
func DefaultConfig() *Config {
	return &Config{
		DeviceID:     "DOOR_LOCK_2",
		DeviceType:   "DOOR_LOCK",
		APName:       "EH_DOOR_LOCK_2",
		APPasswd:     "12345678",
		Interface:    "wlan0",
		APIface:      "wlan0",
		Credentials:  credentialsFile,
		PortalPort:   80,
		Restart:      true,
		RestartDelay: Duration(5 * time.Second),
		JoinPolls:    100,
		PollInterval: Duration(100 * time.Millisecond),
		Threshold:    50,
		StartWindow:  Duration(500 * time.Millisecond),
		StopWindow:   Duration(5 * time.Second),
		StartURL:     "http://192.168.8.100/v1/device/start_read_data/CAMERA_1",
		StopURL:      "http://192.168.8.100/v1/device/stop_read_data/CAMERA_1",
		HTTPTimeout:  Duration(10 * time.Second),
		WebSocketURL: "ws://192.168.8.100/v1/notification/ws/DOOR_LOCK_2",
		PingInterval: Duration(4 * time.Second),
		RecvTimeout:  Duration(100 * time.Millisecond),
		WifiTick:     Duration(2 * time.Second),
		PresenceTick: Duration(2 * time.Second),
		SocketTick:   Duration(500 * time.Millisecond),
		AuthPin:      17,
		PresencePin:  16,
		TriggerPin:   5,
		EchoPin:      18,
		GPIOChip:     "gpiochip0",
		SensorPort:   "/dev/ttyS0",
		LogLevel:     "info",
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate the configuration. All failures are configuration errors
// and fatal at startup.
func (cfg *Config) Validate() error {
	const op = "config"
	switch {
	case len(cfg.APName) == 0:
		return fail(CodeConfiguration, op, "access point name is empty")
	case len(cfg.APName) > MaxSSIDLen:
		return fail(CodeConfiguration, op,
			fmt.Sprintf("access point name cannot be longer than %d characters", MaxSSIDLen))
	case len(cfg.APPasswd) < MinPasswdLen:
		return fail(CodeConfiguration, op,
			fmt.Sprintf("access point password cannot be less than %d characters long", MinPasswdLen))
	case len(cfg.APPasswd) > MaxPasswdLen:
		return fail(CodeConfiguration, op,
			fmt.Sprintf("access point password cannot be longer than %d characters", MaxPasswdLen))
	case cfg.Threshold <= 0:
		return fail(CodeConfiguration, op, "distance threshold must be positive")
	case cfg.JoinPolls <= 0 || cfg.PollInterval <= 0:
		return fail(CodeConfiguration, op, "join polling must be positive")
	case cfg.StartWindow <= 0 || cfg.StopWindow <= 0:
		return fail(CodeConfiguration, op, "confirmation windows must be positive")
	case cfg.WifiTick <= 0 || cfg.PresenceTick <= 0 || cfg.SocketTick <= 0:
		return fail(CodeConfiguration, op, "scheduler cadences must be positive")
	case cfg.PingInterval <= 0 || cfg.RecvTimeout <= 0 || cfg.HTTPTimeout <= 0:
		return fail(CodeConfiguration, op, "timeouts must be positive")
	}
	for _, u := range []struct{ name, val, scheme string }{
		{"start_url", cfg.StartURL, "http"},
		{"stop_url", cfg.StopURL, "http"},
		{"websocket_url", cfg.WebSocketURL, "ws"},
	} {
		p, err := url.Parse(u.val)
		if err != nil {
			return wrap(CodeConfiguration, op, fmt.Errorf("%s: %w", u.name, err))
		}
		if p.Scheme != u.scheme || p.Host == "" {
			return fail(CodeConfiguration, op, fmt.Sprintf("%s: expected %s://host/path", u.name, u.scheme))
		}
	}
	return nil
}

// Level returns the configured log level (default: info).
func (cfg *Config) Level() slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
