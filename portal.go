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
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Limits for a single portal request.
const (
	maxHeaderSize = 4096
	maxBodySize   = 1024
	portalTimeout = 5 * time.Second
)

// Placeholders in the provisioning page.
const (
	phSSIDs = "<!-- INSERT_SSID_OPTIONS_HERE -->"
	phMAC   = "<!-- INSERT_DEVICE_MAC_HERE -->"
	phID    = "<!-- INSERT_DEVICE_ID_HERE -->"
	phType  = "<!-- INSERT_DEVICE_TYPE_HERE -->"
)

//go:embed portal.html
var portalPage string

// Portal request errors
var (
	errHeaderTooLarge = errors.New("request header too large")
	errBodyTooLarge   = errors.New("request body too large")
	errBadRequestLine = errors.New("malformed request line")
)

// PortalRequest is a parsed request of a portal client.
type PortalRequest struct {
	Method string
	Path   string // without leading/trailing '/' and query
	Header map[string]string
	Body   string
}

// ReadRequest reads a request from a portal client: the header until the
// terminating empty line (within the size budget) and a body of
// Content-Length bytes.
func ReadRequest(r io.Reader) (*PortalRequest, error) {
	var buf []byte
	chunk := make([]byte, 128)
	end := -1
	for end < 0 {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if end = bytes.Index(buf, []byte("\r\n\r\n")); end >= 0 {
			break
		}
		if len(buf) > maxHeaderSize {
			return nil, errHeaderTooLarge
		}
		if err != nil {
			return nil, err
		}
	}
	lines := strings.Split(string(buf[:end]), "\r\n")
	req, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, err
	}
	req.Header = make(map[string]string)
	for _, line := range lines[1:] {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Header[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}

	body := buf[end+4:]
	if cl, ok := req.Header["content-length"]; ok {
		size, err := strconv.Atoi(cl)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("bad content length %q", cl)
		}
		if size > maxBodySize {
			return nil, errBodyTooLarge
		}
		if missing := size - len(body); missing > 0 {
			rest := make([]byte, missing)
			if _, err = io.ReadFull(r, rest); err != nil {
				return nil, err
			}
			body = append(body, rest...)
		}
		body = body[:size]
	}
	req.Body = string(body)
	return req, nil
}

// parse "METHOD /path?query HTTP/1.x"
func parseRequestLine(line string) (*PortalRequest, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") || !strings.HasPrefix(parts[1], "/") {
		return nil, errBadRequestLine
	}
	path, _, _ := strings.Cut(parts[1], "?")
	return &PortalRequest{
		Method: strings.ToUpper(parts[0]),
		Path:   strings.Trim(path, "/"),
	}, nil
}

//----------------------------------------------------------------------

// Portal is the provisioning web server. It handles one client at a
// time and closes every connection after the response.
type Portal struct {
	mgr     *WifiManager
	cfg     *Config
	timeout time.Duration
	logger  *slog.Logger
}

// NewPortal creates a portal for the given connectivity manager.
func NewPortal(mgr *WifiManager, cfg *Config, logger *slog.Logger) *Portal {
	return &Portal{
		mgr:     mgr,
		cfg:     cfg,
		timeout: portalTimeout,
		logger:  orDiscard(logger),
	}
}

// Serve portal clients until the station is connected or ctx is done.
func (p *Portal) Serve(ctx context.Context, lst net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		lst.Close()
	})
	defer stop()
	for {
		if p.mgr.IsConnected() {
			return nil
		}
		conn, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return wrap(CodeTransport, "portal accept", err)
			}
			p.logger.Warn("portal accept failed", slog.String("err", err.Error()))
			continue
		}
		p.handle(ctx, conn)
	}
}

// handle a single client connection. Errors stay with the connection.
func (p *Portal) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(p.timeout)); err != nil {
		p.logger.Debug("portal deadline", slog.String("err", err.Error()))
	}
	req, err := ReadRequest(conn)
	if err != nil {
		p.logger.Debug("portal request failed", slog.String("err", err.Error()))
		if !errors.Is(err, io.EOF) && !isTimeout(err) {
			p.respond(conn, http.StatusBadRequest, "<p>Bad request!</p>")
		}
		return
	}
	p.logger.Debug("portal request", slog.String("method", req.Method), slog.String("path", req.Path))
	switch {
	case req.Method == http.MethodGet && req.Path == "":
		p.handleRoot(ctx, conn)
	case req.Method == http.MethodPost && req.Path == "configure":
		p.handleConfigure(ctx, conn, req)
	default:
		p.respond(conn, http.StatusNotFound, "<p>Page not found!</p>")
	}
}

// render the provisioning page
func (p *Portal) handleRoot(ctx context.Context, w io.Writer) {
	ssids, err := p.mgr.radio.Scan(ctx)
	if err != nil {
		p.logger.Warn("portal scan failed", slog.String("err", err.Error()))
	}
	opts := new(strings.Builder)
	for _, ssid := range ssids {
		s := html.EscapeString(ssid)
		fmt.Fprintf(opts, `<option value="%s">%s</option>`, s, s)
	}
	page := strings.NewReplacer(
		phSSIDs, opts.String(),
		phMAC, p.mgr.radio.HardwareAddr().String(),
		phID, html.EscapeString(p.cfg.DeviceID),
		phType, html.EscapeString(p.cfg.DeviceType),
	).Replace(portalPage)
	p.write(w, http.StatusOK, page)
}

// join the submitted network and remember it on success
func (p *Portal) handleConfigure(ctx context.Context, w io.Writer, req *PortalRequest) {
	form := ParseForm(req.Body)
	ssid, ok := form["ssid"]
	if !ok {
		p.respond(w, http.StatusBadRequest, "<p>Parameters not found!</p>")
		return
	}
	passwd := form["password"]
	if len(ssid) == 0 {
		p.respond(w, http.StatusBadRequest, "<p>SSID must be provided!</p><p>Go back and try again!</p>")
		return
	}
	if err := ValidateCredential(ssid, passwd); err != nil {
		p.respond(w, http.StatusBadRequest,
			fmt.Sprintf("<p>Invalid parameters: %s</p><p>Go back and try again!</p>", html.EscapeString(err.Error())))
		return
	}
	name := html.EscapeString(ssid)
	if !p.mgr.Join(ctx, ssid, passwd) {
		p.respond(w, http.StatusOK,
			fmt.Sprintf("<p>Could not connect to</p><h1>%s</h1><p>Go back and try again!</p>", name))
		return
	}
	if err := p.mgr.store.Put(ssid, passwd); err != nil {
		p.logger.Error("can't persist credentials", slog.String("err", err.Error()))
	}
	p.respond(w, http.StatusOK,
		fmt.Sprintf("<p>Successfully connected to</p><h1>%s</h1><p>IP address: %s</p>",
			name, p.mgr.radio.Addr()))
}

// respond with a payload wrapped in a minimal page.
func (p *Portal) respond(w io.Writer, code int, payload string) {
	page := `<!DOCTYPE html>
<html lang="en">
    <head>
        <title>Device setup</title>
        <meta charset="UTF-8">
        <meta name="viewport" content="width=device-width, initial-scale=1">
        <link rel="icon" href="data:,">
    </head>
    <body>
        ` + payload + `
    </body>
</html>
`
	p.write(w, code, page)
}

func (p *Portal) write(w io.Writer, code int, body string) {
	hdr := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: text/html\r\nConnection: close\r\nContent-Length: %d\r\n\r\n",
		code, http.StatusText(code), len(body))
	if _, err := io.WriteString(w, hdr+body); err != nil {
		p.logger.Debug("portal response failed", slog.String("err", err.Error()))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
