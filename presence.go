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
	"log/slog"
	"time"
)

// PresenceSession is the debounce state of the presence machine.
type PresenceSession struct {
	Started bool

	// last sample on either side of the threshold
	LastBelow time.Time
	LastAbove time.Time

	// start of the current continuous run on either side (zero if the
	// last sample was not on that side)
	BelowSince time.Time
	AboveSince time.Time
}

// observe a sample and update the timestamps.
func (s *PresenceSession) observe(d, threshold float64, now time.Time) {
	switch {
	case d < threshold:
		s.LastBelow = now
		if s.BelowSince.IsZero() {
			s.BelowSince = now
		}
		s.AboveSince = time.Time{}
	case d > threshold:
		s.LastAbove = now
		if s.AboveSince.IsZero() {
			s.AboveSince = now
		}
		s.BelowSince = time.Time{}
	default:
		s.BelowSince = time.Time{}
		s.AboveSince = time.Time{}
	}
}

// PresenceMachine triggers remote start/stop calls when an object stays
// below/above the distance threshold for a confirmation window.
type PresenceMachine struct {
	ranger    Ranger
	remote    Poster
	out       Output
	node      *Node
	threshold float64
	startWin  time.Duration
	stopWin   time.Duration
	startURL  string
	stopURL   string
	sess      PresenceSession
	logger    *slog.Logger
}

// NewPresenceMachine creates a presence machine.
func NewPresenceMachine(cfg *Config, ranger Ranger, remote Poster, out Output, node *Node, logger *slog.Logger) *PresenceMachine {
	if out == nil {
		out = NopOutput{}
	}
	return &PresenceMachine{
		ranger:    ranger,
		remote:    remote,
		out:       out,
		node:      node,
		threshold: cfg.Threshold,
		startWin:  cfg.StartWindow.D(),
		stopWin:   cfg.StopWindow.D(),
		startURL:  cfg.StartURL,
		stopURL:   cfg.StopURL,
		logger:    orDiscard(logger),
	}
}

// Session returns a copy of the debounce state.
func (p *PresenceMachine) Session() PresenceSession {
	return p.sess
}

// Tick reads a sample and issues a start or stop call if the object has
// stayed on one side of the threshold long enough. Failed calls leave
// the state unchanged and are retried on a later tick.
func (p *PresenceMachine) Tick(ctx context.Context, now time.Time) error {
	d, err := p.sample(now)
	if err != nil {
		return err
	}
	s := &p.sess
	switch {
	case d < p.threshold && !s.Started && now.Sub(s.BelowSince) >= p.startWin:
		reply, err := p.remote.Post(ctx, p.startURL)
		if err != nil {
			return p.failed("start", reply, err)
		}
		s.Started = true
		p.node.started.Store(true)
		p.out.Set(true)
		p.logger.Info("start process successful", slog.Int("status", reply.Status))

	case d > p.threshold && s.Started && now.Sub(s.AboveSince) >= p.stopWin:
		// confirm with a fresh reading
		if d, err = p.sample(now); err != nil {
			return err
		}
		if d <= p.threshold {
			p.logger.Debug("stop not confirmed", slog.Float64("distance", d))
			return nil
		}
		reply, err := p.remote.Post(ctx, p.stopURL)
		if err != nil {
			return p.failed("stop", reply, err)
		}
		s.Started = false
		p.node.started.Store(false)
		p.out.Set(false)
		p.logger.Info("stop process successful", slog.Int("status", reply.Status))
	}
	return nil
}

// sample the distance and record it.
func (p *PresenceMachine) sample(now time.Time) (float64, error) {
	d, err := p.ranger.Distance()
	if err != nil {
		return 0, wrap(CodeSensor, "distance", err)
	}
	p.logger.Debug("distance from sensor", slog.Float64("cm", d))
	p.node.setDistance(d)
	p.sess.observe(d, p.threshold, now)
	return d, nil
}

func (p *PresenceMachine) failed(what string, reply *Reply, err error) error {
	attrs := []any{slog.String("err", err.Error())}
	if reply != nil {
		attrs = append(attrs, slog.Int("status", reply.Status))
	}
	p.logger.Warn(what+" process failed", attrs...)
	return err
}
