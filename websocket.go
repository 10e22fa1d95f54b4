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
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RFC 6455 accept key suffix
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// timeouts for handshake and for a frame once it started arriving
const (
	handshakeTimeout = 5 * time.Second
	frameTimeout     = 2 * time.Second
)

var errPeerClosed = errors.New("connection closed by peer")

// Notification is the payload of a text frame from the notification
// service.
type Notification struct {
	Authenticated *bool `json:"is_authenticated"`
}

// wsSession is a single WebSocket connection; replaced as a whole on any
// failure.
type wsSession struct {
	conn     net.Conn
	rd       *bufio.Reader
	ready    bool // handshake completed
	lastPing time.Time
}

// WSClient keeps a WebSocket session to the notification service and
// reflects authorization events on the indicator.
type WSClient struct {
	host      string // host[:port] as sent in the request
	addr      string // host:port to dial
	path      string
	dialer    Dialer
	node      *Node
	out       Output
	pingEvery time.Duration
	recvWait  time.Duration
	sess      *wsSession
	logger    *slog.Logger
}

// NewWSClient creates a client for a "ws://host[:port]/path" endpoint.
func NewWSClient(cfg *Config, dialer Dialer, node *Node, out Output, logger *slog.Logger) (*WSClient, error) {
	u, err := url.Parse(cfg.WebSocketURL)
	if err != nil {
		return nil, wrap(CodeConfiguration, "websocket url", err)
	}
	if u.Scheme != "ws" || u.Host == "" {
		return nil, fail(CodeConfiguration, "websocket url", "expected ws://host/path")
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	if out == nil {
		out = NopOutput{}
	}
	return &WSClient{
		host:      u.Host,
		addr:      net.JoinHostPort(u.Hostname(), port),
		path:      u.RequestURI(),
		dialer:    dialer,
		node:      node,
		out:       out,
		pingEvery: cfg.PingInterval.D(),
		recvWait:  cfg.RecvTimeout.D(),
		logger:    orDiscard(logger),
	}, nil
}

// Connected returns true if a session is established.
func (c *WSClient) Connected() bool {
	return c.sess != nil && c.sess.ready
}

// Tick runs one step of the client: establish a session if there is
// none, process received frames and send a ping when due. Any failure
// discards the session; the next tick starts a new one.
func (c *WSClient) Tick(ctx context.Context, now time.Time) error {
	if c.sess == nil {
		sess, err := c.handshake(ctx)
		if err != nil {
			return err
		}
		sess.lastPing = now
		c.sess = sess
		c.node.online.Store(true)
		c.logger.Info("websocket connected", slog.String("addr", c.addr), slog.String("path", c.path))
	}
	if err := c.receive(); err != nil {
		c.Drop()
		return err
	}
	if now.Sub(c.sess.lastPing) >= c.pingEvery {
		if err := c.send(OpPing, nil); err != nil {
			c.Drop()
			return wrap(CodeTransport, "send ping", err)
		}
		c.sess.lastPing = now
		c.logger.Debug("ping sent")
	}
	return nil
}

// Drop the current session (if any).
func (c *WSClient) Drop() {
	if c.sess != nil {
		c.sess.conn.Close()
		c.sess = nil
	}
	c.node.online.Store(false)
}

// Close the session gracefully.
func (c *WSClient) Close() {
	if c.sess == nil {
		return
	}
	payload := binary.BigEndian.AppendUint16(nil, 1000)
	if err := c.send(OpClose, payload); err != nil {
		c.logger.Debug("close frame", slog.String("err", err.Error()))
	}
	c.Drop()
}

// handshake opens a transport connection and upgrades it.
func (c *WSClient) handshake(ctx context.Context) (*wsSession, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, wrap(CodeTransport, "dial", err)
	}
	sess, err := c.upgrade(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

func (c *WSClient) upgrade(conn net.Conn) (*wsSession, error) {
	nonce := uuid.New()
	key := base64.StdEncoding.EncodeToString(nonce[:])
	req := fmt.Sprintf("GET %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: %s\r\n"+
		"Sec-WebSocket-Version: 13\r\n\r\n", c.path, c.host, key)

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, wrap(CodeTransport, "handshake", err)
	}
	if _, err := io.WriteString(conn, req); err != nil {
		return nil, wrap(CodeTransport, "handshake", err)
	}
	rd := bufio.NewReader(conn)
	resp, err := http.ReadResponse(rd, nil)
	if err != nil {
		return nil, wrap(CodeHandshake, "handshake", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fail(CodeHandshake, "handshake", "unexpected status "+resp.Status)
	}
	if accept := resp.Header.Get("Sec-WebSocket-Accept"); accept != "" && accept != AcceptKey(key) {
		return nil, fail(CodeHandshake, "handshake", "accept key mismatch")
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, wrap(CodeTransport, "handshake", err)
	}
	return &wsSession{
		conn:  conn,
		rd:    rd,
		ready: true,
	}, nil
}

// AcceptKey computes the server accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// receive and handle all frames that arrive within the receive window.
func (c *WSClient) receive() error {
	s := c.sess
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(c.recvWait)); err != nil {
			return wrap(CodeTransport, "receive", err)
		}
		if _, err := s.rd.Peek(1); err != nil {
			if isTimeout(err) {
				return nil
			}
			return wrap(CodeTransport, "receive", err)
		}
		// a frame started: give it time to arrive completely
		if err := s.conn.SetReadDeadline(time.Now().Add(frameTimeout)); err != nil {
			return wrap(CodeTransport, "receive", err)
		}
		f, err := ReadFrame(s.rd)
		if err != nil {
			if CodeOf(err) == CodeProtocol {
				return err
			}
			return wrap(CodeTransport, "receive", err)
		}
		if err = c.handleFrame(f); err != nil {
			return err
		}
		if s.rd.Buffered() == 0 {
			return nil
		}
	}
}

func (c *WSClient) handleFrame(f *Frame) error {
	switch f.Opcode {
	case OpText:
		if !f.Fin {
			c.logger.Warn("fragmented message ignored")
			return nil
		}
		c.logger.Debug("websocket message received", slog.String("data", string(f.Payload)))
		c.handlePayload(f.Payload)
	case OpPing:
		if err := c.send(OpPong, f.Payload); err != nil {
			return wrap(CodeTransport, "send pong", err)
		}
	case OpPong:
		c.logger.Debug("pong received")
	case OpClose:
		if err := c.send(OpClose, f.Payload); err != nil {
			c.logger.Debug("close echo", slog.String("err", err.Error()))
		}
		return wrap(CodeTransport, "receive", errPeerClosed)
	default:
		c.logger.Debug("frame ignored", slog.Int("opcode", int(f.Opcode)))
	}
	return nil
}

// handlePayload decodes a notification and updates the authorization
// state. Malformed payloads are logged and ignored.
func (c *WSClient) handlePayload(data []byte) {
	var msg Notification
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("error processing websocket message",
			slog.String("err", wrap(CodeProtocol, "decode", err).Error()))
		return
	}
	auth := msg.Authenticated != nil && *msg.Authenticated
	c.node.authorized.Store(auth)
	c.out.Set(auth)
	if auth {
		c.logger.Info("authorized: door opened")
	} else {
		c.logger.Info("not authorized: door closed")
	}
}

// send a masked frame.
func (c *WSClient) send(op Opcode, payload []byte) error {
	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		return err
	}
	buf := AppendFrame(make([]byte, 0, len(payload)+14), op, payload, mask)
	if err := c.sess.conn.SetWriteDeadline(time.Now().Add(frameTimeout)); err != nil {
		return err
	}
	_, err := c.sess.conn.Write(buf)
	return err
}
