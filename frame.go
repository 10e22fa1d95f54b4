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
	"encoding/binary"
	"io"
)

// Opcode of a WebSocket frame.
type Opcode byte

// Frame opcodes
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// frame header bits
const (
	finBit   = 0x80
	maskBit  = 0x80
	len16    = 126
	len64    = 127
	maxFrame = 64 * 1024 // largest payload accepted from the server
)

// Frame is a single WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Length  uint64 // payload length
	Offset  int    // payload start in the raw frame
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// IsControl returns true for close/ping/pong frames.
func (f *Frame) IsControl() bool {
	return f.Opcode&0x8 != 0
}

// parseHeader decodes the frame header in buf. It returns the frame
// without payload, or need > 0 if buf is too short to hold the full
// header (need = total header size).
func parseHeader(buf []byte) (f Frame, need int) {
	if len(buf) < 2 {
		return f, 2
	}
	f.Fin = buf[0]&finBit != 0
	f.Opcode = Opcode(buf[0] & 0x0F)
	f.Masked = buf[1]&maskBit != 0
	size := 2
	switch n := buf[1] & 0x7F; n {
	case len16:
		size += 2
		if len(buf) < size {
			return f, size + maskLen(f.Masked)
		}
		f.Length = uint64(binary.BigEndian.Uint16(buf[2:4]))
	case len64:
		size += 8
		if len(buf) < size {
			return f, size + maskLen(f.Masked)
		}
		f.Length = binary.BigEndian.Uint64(buf[2:10])
	default:
		f.Length = uint64(n)
	}
	if f.Masked {
		if len(buf) < size+4 {
			return f, size + 4
		}
		copy(f.Mask[:], buf[size:size+4])
		size += 4
	}
	f.Offset = size
	return f, 0
}

func maskLen(masked bool) int {
	if masked {
		return 4
	}
	return 0
}

// ParseFrame decodes a complete frame from a received buffer. It returns
// the frame and the number of bytes consumed.
func ParseFrame(buf []byte) (*Frame, int, error) {
	f, need := parseHeader(buf)
	if need > 0 {
		return nil, 0, wrap(CodeProtocol, "parse frame", ErrShortFrame)
	}
	if f.Length > maxFrame {
		return nil, 0, wrap(CodeProtocol, "parse frame", ErrFrameTooBig)
	}
	end := f.Offset + int(f.Length)
	if len(buf) < end {
		return nil, 0, wrap(CodeProtocol, "parse frame", io.ErrUnexpectedEOF)
	}
	f.Payload = make([]byte, f.Length)
	copy(f.Payload, buf[f.Offset:end])
	if f.Masked {
		maskBytes(f.Payload, f.Mask)
	}
	return &f, end, nil
}

// ReadFrame reads the next frame from a stream.
func ReadFrame(r io.Reader) (*Frame, error) {
	hdr := make([]byte, 2, 14)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	f, need := parseHeader(hdr)
	for need > 0 {
		// extended length or mask key follows
		have := len(hdr)
		hdr = hdr[:need]
		if _, err := io.ReadFull(r, hdr[have:]); err != nil {
			return nil, err
		}
		f, need = parseHeader(hdr)
	}
	if f.Length > maxFrame {
		return nil, wrap(CodeProtocol, "read frame", ErrFrameTooBig)
	}
	f.Payload = make([]byte, f.Length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, err
	}
	if f.Masked {
		maskBytes(f.Payload, f.Mask)
	}
	return &f, nil
}

// AppendFrame appends a final, masked client frame to dst.
func AppendFrame(dst []byte, op Opcode, payload []byte, mask [4]byte) []byte {
	dst = append(dst, finBit|byte(op))
	n := len(payload)
	switch {
	case n < len16:
		dst = append(dst, maskBit|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, maskBit|len16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, maskBit|len64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	dst = append(dst, mask[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], mask)
	return dst
}

// maskBytes applies (or removes) the XOR mask in place.
func maskBytes(b []byte, mask [4]byte) {
	for i := range b {
		b[i] ^= mask[i%4]
	}
}
