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
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// portal fixture: Connect runs in the background with the portal active.
type portalFixture struct {
	m      *WifiManager
	dev    *fakeDevice
	radio  *fakeRadio
	node   *Node
	addr   string
	done   chan error
	cancel context.CancelFunc
	client *http.Client
}

func startPortal(t *testing.T, cfg *Config) *portalFixture {
	t.Helper()
	radio := newFakeRadio([]string{"home", `<b>"cafe"</b>`}, nil)
	m, dev, node := newTestWifi(t, cfg, radio, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f := &portalFixture{
		m:      m,
		dev:    dev,
		radio:  radio,
		node:   node,
		done:   make(chan error, 1),
		cancel: cancel,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	go func() {
		f.done <- m.Connect(ctx)
	}()
	select {
	case f.addr = <-dev.addrs:
	case <-time.After(2 * time.Second):
		t.Fatal("portal not started")
	}
	t.Cleanup(cancel)
	return f
}

func (f *portalFixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := f.client.Get("http://" + f.addr + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (f *portalFixture) configure(t *testing.T, form url.Values) (int, string) {
	t.Helper()
	resp, err := f.client.PostForm("http://"+f.addr+"/configure", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestPortalPage(t *testing.T) {
	f := startPortal(t, testConfig())
	code, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `<option value="home">home</option>`)
	assert.Contains(t, body, "&lt;b&gt;&#34;cafe&#34;&lt;/b&gt;")
	assert.Contains(t, body, "28:cd:c1:00:00:01")
	assert.Contains(t, body, "DOOR_LOCK_2")
	assert.NotContains(t, body, "INSERT_")

	code, _ = f.get(t, "/index.html")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.get(t, "/configure")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPortalRejectsBadSubmissions(t *testing.T) {
	f := startPortal(t, testConfig())

	code, body := f.configure(t, url.Values{"ssid": {""}, "password": {"secret123"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "SSID must be provided")

	code, body = f.configure(t, url.Values{"password": {"secret123"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "Parameters not found")

	code, _ = f.configure(t, url.Values{"ssid": {"home"}, "password": {"short"}})
	assert.Equal(t, http.StatusBadRequest, code)

	// join fails: portal stays up
	code, body = f.configure(t, url.Values{"ssid": {"home"}, "password": {"secret123"}})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Could not connect")
	assert.Equal(t, PortalActive, f.node.State())
	assert.Empty(t, f.m.store.Load())

	// malformed request
	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "garbage\r\n\r\n")
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 400 "))
}

func TestPortalConfigurePersists(t *testing.T) {
	cfg := testConfig()
	cfg.Restart = true
	cfg.RestartDelay = Duration(time.Millisecond)
	f := startPortal(t, cfg)
	f.radio.setReachable("my home", "pass word!")

	code, body := f.configure(t, url.Values{"ssid": {"my home"}, "password": {"pass word!"}})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Successfully connected")
	assert.Contains(t, body, "192.168.8.42")

	select {
	case err := <-f.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("portal did not end")
	}
	assert.Equal(t, StationConnected, f.node.State())
	assert.Equal(t, "my home", f.node.SSID())
	assert.Equal(t, 1, f.dev.resets)
	assert.Equal(t, Credentials{"my home": "pass word!"}, f.m.store.Load())

	// lost the link; the stored network brings it back without the portal
	require.NoError(t, f.radio.Leave())
	f.radio.Lock()
	f.radio.visible = append(f.radio.visible, "my home")
	f.radio.Unlock()
	require.NoError(t, f.m.Connect(context.Background()))
	assert.True(t, f.m.IsConnected())
	f.radio.Lock()
	assert.Equal(t, 1, f.radio.apStarts)
	f.radio.Unlock()
	assert.Empty(t, f.dev.addrs)
}

func TestReadRequest(t *testing.T) {
	raw := "POST /configure/?x=1 HTTP/1.1\r\nHost: 192.168.4.1\r\nContent-Length: 27\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n\r\nssid=home&password=abcdefgh"
	req, err := ReadRequest(iotest.OneByteReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "configure", req.Path)
	assert.Equal(t, "192.168.4.1", req.Header["host"])
	assert.Equal(t, "ssid=home&password=abcdefgh", req.Body)

	req, err = ReadRequest(strings.NewReader("get / HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "", req.Path)

	_, err = ReadRequest(strings.NewReader("GET /\r\n\r\n"))
	assert.ErrorIs(t, err, errBadRequestLine)

	_, err = ReadRequest(strings.NewReader("GET / HTTP/1.1\r\nX: " + strings.Repeat("a", maxHeaderSize)))
	assert.ErrorIs(t, err, errHeaderTooLarge)

	_, err = ReadRequest(strings.NewReader("POST /configure HTTP/1.1\r\nContent-Length: 4096\r\n\r\n"))
	assert.ErrorIs(t, err, errBodyTooLarge)

	// truncated body
	_, err = ReadRequest(strings.NewReader("POST /configure HTTP/1.1\r\nContent-Length: 10\r\n\r\nssid"))
	assert.Error(t, err)
}
