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
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// largest response body we read from the remote service
const maxReplySize = 4096

// Reply of the remote start/stop service.
type Reply struct {
	Status  int    `json:"-"`
	IsError *bool  `json:"is_error"`
	Message string `json:"message"`
}

// OK returns true if the service explicitly reported success.
func (r *Reply) OK() bool {
	return r.IsError != nil && !*r.IsError
}

// Poster issues the start/stop calls.
type Poster interface {
	Post(ctx context.Context, url string) (*Reply, error)
}

// Remote is a minimal HTTP client for the start/stop service: one
// request per connection, bodyless POST, JSON reply.
type Remote struct {
	dialer  Dialer
	timeout time.Duration
	logger  *slog.Logger
}

// NewRemote creates a client using the given transport.
func NewRemote(dialer Dialer, timeout time.Duration, logger *slog.Logger) *Remote {
	return &Remote{
		dialer:  dialer,
		timeout: timeout,
		logger:  orDiscard(logger),
	}
}

// Post to the URL. Transport failures, unparsable replies and replies
// without explicit success are returned as errors; the reply is returned
// whenever one was received.
func (r *Remote) Post(ctx context.Context, rawURL string) (*Reply, error) {
	const op = "post"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, wrap(CodeRequest, op, err)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, http.NoBody)
	if err != nil {
		return nil, wrap(CodeRequest, op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Close = true

	conn, err := r.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrap(CodeTransport, op, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		if err = conn.SetDeadline(dl); err != nil {
			return nil, wrap(CodeTransport, op, err)
		}
	}
	if err = req.Write(conn); err != nil {
		return nil, wrap(CodeTransport, op, err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, wrap(CodeTransport, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, wrap(CodeTransport, op, err)
	}
	r.logger.Debug("remote reply",
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(body)))

	reply := &Reply{Status: resp.StatusCode}
	if err = json.Unmarshal(body, reply); err != nil {
		return reply, wrap(CodeProtocol, op, err)
	}
	if !reply.OK() {
		msg := reply.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return reply, fail(CodeRequest, op, msg)
	}
	return reply, nil
}
