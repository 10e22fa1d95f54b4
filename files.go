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
	"errors"
	"fmt"
	"math"
	"strconv"
)

var errReadOnly = errors.New("write prohibited")

// File interface for file handler implementations:
// The interface methods are called by the 9p protocol handler on demand.
type File interface {
	Read() ([]byte, error)
	Write([]byte) error
}

//----------------------------------------------------------------------

// ReadOnly rejects all writes.
type ReadOnly struct{}

// Write to file is rejected
func (ReadOnly) Write([]byte) error {
	return errReadOnly
}

//----------------------------------------------------------------------

// TextFile with (small) static text content.
type TextFile struct {
	ReadOnly
	body string
}

// NewTextFile with given text content.
func NewTextFile(content string) *TextFile {
	return &TextFile{
		body: content + "\n",
	}
}

// Read implementation: return file content.
func (f *TextFile) Read() ([]byte, error) {
	return []byte(f.body), nil
}

//----------------------------------------------------------------------

// FuncFile content is returned by a function.
type FuncFile struct {
	ReadOnly
	fcn func() string
}

// NewFuncFile with specified function.
func NewFuncFile(fcn func() string) *FuncFile {
	return &FuncFile{
		fcn: fcn,
	}
}

// NewBoolFile reports a flag as "0" or "1".
func NewBoolFile(fcn func() bool) *FuncFile {
	return NewFuncFile(func() string {
		if fcn() {
			return "1"
		}
		return "0"
	})
}

// NewDistanceFile reports a reading in cm ("-" if none).
func NewDistanceFile(fcn func() float64) *FuncFile {
	return NewFuncFile(func() string {
		d := fcn()
		if math.IsNaN(d) {
			return "-"
		}
		return strconv.FormatFloat(d, 'f', 1, 64)
	})
}

// Read implementation: return file content.
func (f *FuncFile) Read() ([]byte, error) {
	return fmt.Appendf(nil, "%s\n", f.fcn()), nil
}
