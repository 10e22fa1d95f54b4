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
	"net"
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
	errExists = errors.New("file exists")
)

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

// Read file content
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

//----------------------------------------------------------------------

// Namespace is a synthetic file system exposing node state over 9p.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	user, group string            // owner of all entries
	nextID      uint64            // next Qid.Path
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
}

// NewNamespace creates a new filesystem (with root directory) for the
// given user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	ns.dict[0] = ns.newEntry("/", 0555, nil)
	return ns
}

// Create a new entry in the filesystem.
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextID,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	ns.nextID++
	return e
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.dict[0]
}

// Get entry with given path
func (ns *Namespace) Get(path string) (*Entry, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.Root()
	for _, label := range strings.Split(path[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if curr.children == nil {
			return nil, errNoDir
		}
		e, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = e
	}
	return curr, nil
}

// NewDir creates a directory (and missing parents) at path.
func (ns *Namespace) NewDir(path string, perm uint32) error {
	_, err := ns.mkdirAll(path, perm)
	return err
}

// NewFile creates a file at path; parent directories are created with
// mode 0555 if missing.
func (ns *Namespace) NewFile(path string, perm uint32, impl File) error {
	if len(path) == 0 || path[0] != '/' {
		return errNoAbs
	}
	idx := strings.LastIndexByte(path, '/')
	parent, err := ns.mkdirAll(path[:idx], 0555)
	if err != nil {
		return err
	}
	return ns.addChild(parent, ns.newEntry(path[idx+1:], perm, impl))
}

func (ns *Namespace) mkdirAll(path string, perm uint32) (*Entry, error) {
	curr := ns.Root()
	for _, label := range strings.Split(path, "/") {
		if len(label) == 0 {
			continue
		}
		if curr.children == nil {
			return nil, errNoDir
		}
		next, ok := curr.children[label]
		if !ok {
			next = ns.newEntry(label, perm, nil)
			if err := ns.addChild(curr, next); err != nil {
				return nil, err
			}
		}
		curr = next
	}
	return curr, nil
}

// addChild to parent entry. Parent must be a directory.
func (ns *Namespace) addChild(parent, child *Entry) error {
	if parent.children == nil {
		return errNoDir
	}
	if _, ok := parent.children[child.ref.Name]; ok {
		return errExists
	}
	parent.children[child.ref.Name] = child
	ns.dict[child.ref.Path] = child
	return nil
}

// Serve the 9p protocol on the listener until ctx is done.
func (ns *Namespace) Serve(ctx context.Context, lst net.Listener, logger *slog.Logger) error {
	logger = orDiscard(logger)
	stop := context.AfterFunc(ctx, func() {
		lst.Close()
	})
	defer stop()
	for {
		c, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("diagnostics accept failed", slog.String("err", err.Error()))
			continue
		}
		logger.Debug("diagnostics client", slog.String("remote", c.RemoteAddr().String()))
		srv := ninep.NewSrv(func() ninep.FS { return ns })
		go func() {
			defer c.Close()
			srv.ServeIO(c, c)
		}()
	}
}

// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.dict[0]; ok {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.dict[cur.Path]
	if !ok || e.children == nil {
		return nil
	}
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.children != nil {
		var kids []ninep.Dir
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}

//----------------------------------------------------------------------

// NewDiagnostics builds the read-only namespace of a node.
func NewDiagnostics(cfg *Config, node *Node, radio Radio) (*Namespace, error) {
	ns := NewNamespace("sentinel", "sentinel")
	files := []struct {
		path string
		impl File
	}{
		{"/device/id", NewTextFile(cfg.DeviceID)},
		{"/device/type", NewTextFile(cfg.DeviceType)},
		{"/device/mac", NewFuncFile(func() string { return radio.HardwareAddr().String() })},
		{"/network/state", NewFuncFile(func() string { return node.State().String() })},
		{"/network/ssid", NewFuncFile(node.SSID)},
		{"/network/address", NewFuncFile(func() string { return radio.Addr().String() })},
		{"/auth/authorized", NewBoolFile(node.Authorized)},
		{"/websocket/connected", NewBoolFile(node.SocketUp)},
		{"/presence/started", NewBoolFile(node.Started)},
		{"/presence/distance", NewDistanceFile(node.Distance)},
	}
	for _, f := range files {
		if err := ns.NewFile(f.path, 0444, f.impl); err != nil {
			return nil, err
		}
	}
	return ns, nil
}
