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
	"testing"

	"git.sr.ht/~moody/ninep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, ns *Namespace, path string) string {
	t.Helper()
	e, err := ns.Get(path)
	require.NoError(t, err, path)
	data, err := e.Read()
	require.NoError(t, err, path)
	return string(data)
}

func TestNamespaceBuild(t *testing.T) {
	ns := NewNamespace("sys", "sys")
	require.NoError(t, ns.NewFile("/readme", 0444, NewTextFile("Just a test...")))
	require.NoError(t, ns.NewDir("/sensors", 0555))
	require.NoError(t, ns.NewFile("/sensors/temp", 0444, NewFuncFile(func() string { return "21.5" })))

	assert.Equal(t, "Just a test...\n", read(t, ns, "/readme"))
	assert.Equal(t, "21.5\n", read(t, ns, "/sensors/temp"))

	dir, err := ns.Get("/sensors/")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())
	assert.Equal(t, "sensors", dir.Name())
	_, err = dir.Read()
	assert.ErrorIs(t, err, errNoFile)

	assert.ErrorIs(t, ns.NewFile("/readme", 0444, NewTextFile("again")), errExists)
	assert.ErrorIs(t, ns.NewFile("/readme/sub", 0444, NewTextFile("x")), errNoDir)
	assert.ErrorIs(t, ns.NewFile("relative", 0444, NewTextFile("x")), errNoAbs)
	_, err = ns.Get("/missing")
	assert.ErrorIs(t, err, errNoFile)
	_, err = ns.Get("sensors")
	assert.ErrorIs(t, err, errNoAbs)

	f, err := ns.Get("/readme")
	require.NoError(t, err)
	assert.ErrorIs(t, f.file.Write([]byte("x")), errReadOnly)
}

func TestNamespaceWalk(t *testing.T) {
	ns := NewNamespace("sys", "sys")
	require.NoError(t, ns.NewFile("/a/b/c", 0444, NewTextFile("deep")))

	q := &ns.Root().ref.Qid
	for _, name := range []string{"a", "b", "c"} {
		q = ns.Walk(q, name)
		require.NotNil(t, q, name)
	}
	assert.Equal(t, byte(ninep.QTFile), q.Type)
	assert.Nil(t, ns.Walk(q, "d"))
	assert.Nil(t, ns.Walk(&ns.Root().ref.Qid, "b"))

	// every entry has its own qid path
	seen := make(map[uint64]bool)
	for path := range ns.dict {
		assert.False(t, seen[path])
		seen[path] = true
	}
	assert.Len(t, seen, 4)
}

func TestDiagnostics(t *testing.T) {
	cfg := testConfig()
	node := NewNode()
	radio := newFakeRadio(nil, map[string]string{"home": "secret123"})
	ns, err := NewDiagnostics(cfg, node, radio)
	require.NoError(t, err)

	assert.Equal(t, "DOOR_LOCK_2\n", read(t, ns, "/device/id"))
	assert.Equal(t, "DOOR_LOCK\n", read(t, ns, "/device/type"))
	assert.Equal(t, "28:cd:c1:00:00:01\n", read(t, ns, "/device/mac"))
	assert.Equal(t, "disconnected\n", read(t, ns, "/network/state"))
	assert.Equal(t, "-\n", read(t, ns, "/presence/distance"))
	assert.Equal(t, "0\n", read(t, ns, "/auth/authorized"))

	// files are live views of the node state
	require.NoError(t, radio.Join(context.Background(), "home", "secret123"))
	node.setState(StationConnected)
	node.setSSID("home")
	node.authorized.Store(true)
	node.online.Store(true)
	node.started.Store(true)
	node.setDistance(42.31)

	assert.Equal(t, "connected\n", read(t, ns, "/network/state"))
	assert.Equal(t, "home\n", read(t, ns, "/network/ssid"))
	assert.Equal(t, "192.168.8.42\n", read(t, ns, "/network/address"))
	assert.Equal(t, "1\n", read(t, ns, "/auth/authorized"))
	assert.Equal(t, "1\n", read(t, ns, "/websocket/connected"))
	assert.Equal(t, "1\n", read(t, ns, "/presence/started"))
	assert.Equal(t, "42.3\n", read(t, ns, "/presence/distance"))
}
