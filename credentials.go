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
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// separator between network name and secret in a credential record
const credSep = ";"

// Storage is a persistence backend for the credential records.
type Storage interface {
	Load() ([]byte, error)
	Save([]byte) error
}

//----------------------------------------------------------------------

// FileStorage keeps credentials in a plain file.
type FileStorage struct {
	Path string
}

// Load file content. A missing file is reported as fs.ErrNotExist.
func (s *FileStorage) Load() ([]byte, error) {
	return os.ReadFile(s.Path)
}

// Save content atomically (write temp file and rename).
func (s *FileStorage) Save(data []byte) error {
	dir := filepath.Dir(s.Path)
	f, err := os.CreateTemp(dir, ".creds-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Path)
}

//----------------------------------------------------------------------

// Credentials maps network names to secrets.
type Credentials map[string]string

// Names returns the network names in sorted order.
func (c Credentials) Names() []string {
	list := make([]string, 0, len(c))
	for name := range c {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// ValidateCredential checks a single entry for storage.
func ValidateCredential(ssid, passwd string) error {
	const op = "credential"
	switch {
	case len(ssid) == 0:
		return fail(CodeProtocol, op, "network name is empty")
	case len(ssid) > MaxSSIDLen:
		return fail(CodeProtocol, op, "network name too long")
	case len(passwd) > 0 && len(passwd) < MinPasswdLen:
		return fail(CodeProtocol, op, "secret too short")
	case len(passwd) > MaxPasswdLen:
		return fail(CodeProtocol, op, "secret too long")
	case strings.ContainsAny(ssid, credSep+"\r\n"), strings.ContainsAny(passwd, credSep+"\r\n"):
		return fail(CodeProtocol, op, "separator in network name or secret")
	}
	return nil
}

// ParseCredentials reads one "<name>;<secret>" record per line.
// Malformed lines are skipped and returned as defects (line number
// starting at 1).
func ParseCredentials(data []byte) (Credentials, []int) {
	creds := make(Credentials)
	var bad []int
	sc := bufio.NewScanner(bytes.NewReader(data))
	num := 0
	for sc.Scan() {
		num++
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		ssid, passwd, ok := strings.Cut(line, credSep)
		if !ok || len(ssid) == 0 {
			bad = append(bad, num)
			continue
		}
		creds[ssid] = passwd
	}
	return creds, bad
}

// FormatCredentials writes the records in name order.
func FormatCredentials(creds Credentials) []byte {
	buf := new(bytes.Buffer)
	for _, ssid := range creds.Names() {
		buf.WriteString(ssid)
		buf.WriteString(credSep)
		buf.WriteString(creds[ssid])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

//----------------------------------------------------------------------

// CredentialStore persists known networks.
type CredentialStore struct {
	mtx     sync.Mutex
	backend Storage
	logger  *slog.Logger
}

// NewCredentialStore on the given backend.
func NewCredentialStore(backend Storage, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		backend: backend,
		logger:  orDiscard(logger),
	}
}

// Load all known networks. An unreadable or missing backend yields an
// empty set; malformed records are skipped.
func (cs *CredentialStore) Load() Credentials {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.load()
}

func (cs *CredentialStore) load() Credentials {
	data, err := cs.backend.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			cs.logger.Warn("can't read credentials", slog.String("err", wrap(CodePersistence, "load", err).Error()))
		}
		return make(Credentials)
	}
	creds, bad := ParseCredentials(data)
	for _, num := range bad {
		cs.logger.Warn("skipping malformed credential record", slog.Int("line", num))
	}
	return creds
}

// Put a network into the store (last write wins) and persist it.
func (cs *CredentialStore) Put(ssid, passwd string) error {
	if err := ValidateCredential(ssid, passwd); err != nil {
		return err
	}
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	creds := cs.load()
	creds[ssid] = passwd
	return cs.save(creds)
}

// Save replaces the persisted set.
func (cs *CredentialStore) Save(creds Credentials) error {
	for ssid, passwd := range creds {
		if err := ValidateCredential(ssid, passwd); err != nil {
			return err
		}
	}
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.save(creds)
}

func (cs *CredentialStore) save(creds Credentials) error {
	return wrap(CodePersistence, "save", cs.backend.Save(FormatCredentials(creds)))
}
