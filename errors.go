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
)

// Code is a stable error kind identifier. It is comparable and
// implements error, so a bare code can be returned where no context
// is needed.
type Code string

func (c Code) Error() string { return string(c) }

// Error kinds
const (
	CodeOK            Code = "ok"
	CodeConfiguration Code = "configuration" // fatal, at construction
	CodePersistence   Code = "persistence"   // credential storage unreadable
	CodeHandshake     Code = "handshake"     // websocket upgrade rejected
	CodeProtocol      Code = "protocol"      // malformed frame or payload
	CodeTransport     Code = "transport"     // socket-level failure
	CodeRequest       Code = "request"       // remote reported is_error
	CodeSensor        Code = "sensor"        // ranging sensor failed
	CodeError         Code = "error"         // generic fallback
)

// Error messages
var (
	ErrUnsupported  = errors.New("not supported on this device")
	ErrShortFrame   = errors.New("frame shorter than header")
	ErrFrameTooBig  = errors.New("frame payload too large")
	ErrNotConnected = errors.New("not connected")
)

// E wraps an error with its kind and the failing operation.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// wrap an error with kind and operation; nil stays nil.
func wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// fail creates a new error of given kind without a cause.
func fail(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// CodeOf extracts the kind of an error, defaulting to CodeError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return CodeError
}

// IsFatal returns true for errors that must stop the node at startup.
func IsFatal(err error) bool {
	return CodeOf(err) == CodeConfiguration
}
