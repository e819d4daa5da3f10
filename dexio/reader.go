// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"encoding/binary"
	"fmt"

	"github.com/grailbio/base/errors"
)

// NoIndex is the dex sentinel for an absent index.
const NoIndex = 0xffffffff

// A Reader is a cursor over an in-memory dex image.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a reader positioned at offset off in buf.
func NewReader(buf []byte, off int) *Reader {
	r := &Reader{buf: buf, off: off}
	if off < 0 || off > len(buf) {
		r.fail(off, 0)
	}
	return r
}

// Pos returns the reader's current offset.
func (r *Reader) Pos() int { return r.off }

// Seek repositions the reader at offset off.
func (r *Reader) Seek(off int) {
	if off < 0 || off > len(r.buf) {
		r.fail(off, 0)
		return
	}
	r.off = off
}

// Err returns the first error encountered by the reader.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.buf) - r.off
}

func (r *Reader) fail(off, n int) {
	if r.err == nil {
		r.err = errors.E(errors.Invalid, fmt.Sprintf("dexio: read of %d bytes at offset %d past end of %d-byte buffer", n, off, len(r.buf)))
	}
	r.off = len(r.buf)
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail(r.off, n)
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

// Peek returns the next byte without consuming it.
func (r *Reader) Peek() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.buf) {
		r.fail(r.off, 1)
		return 0
	}
	return r.buf[r.off]
}

// U1 reads an unsigned byte.
func (r *Reader) U1() uint8 {
	p := r.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

// U2 reads a little-endian uint16.
func (r *Reader) U2() uint16 {
	p := r.next(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

// U4 reads a little-endian uint32.
func (r *Reader) U4() uint32 {
	p := r.next(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

// Bytes reads n raw bytes. The returned slice aliases the
// underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	return r.next(n)
}

// Align skips forward to the next multiple of n.
func (r *Reader) Align(n int) {
	if pad := (n - r.off%n) % n; pad > 0 {
		r.next(pad)
	}
}

// ULEB128 reads an unsigned LEB128 value of at most five bytes.
func (r *Reader) ULEB128() uint32 {
	var v uint32
	for i := 0; i < 5; i++ {
		b := r.U1()
		if r.err != nil {
			return 0
		}
		v |= uint32(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v
		}
	}
	if r.err == nil {
		r.err = errors.E(errors.Invalid, fmt.Sprintf("dexio: invalid LEB128 sequence at offset %d", r.off))
	}
	return 0
}

// ULEB128p1 reads a uleb128p1 value: the encoded value minus one, so
// that NoIndex is represented by a single zero byte.
func (r *Reader) ULEB128p1() uint32 {
	return r.ULEB128() - 1
}

// SLEB128 reads a signed LEB128 value of at most five bytes.
func (r *Reader) SLEB128() int32 {
	var (
		v     int32
		shift uint
	)
	for i := 0; i < 5; i++ {
		b := r.U1()
		if r.err != nil {
			return 0
		}
		v |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v
		}
	}
	if r.err == nil {
		r.err = errors.E(errors.Invalid, fmt.Sprintf("dexio: invalid LEB128 sequence at offset %d", r.off))
	}
	return 0
}

// Signed reads an n-byte little-endian value and sign-extends it.
func (r *Reader) Signed(n int) int64 {
	p := r.next(n)
	if p == nil || n == 0 {
		return 0
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(p[i])
	}
	shift := uint(64 - 8*n)
	return int64(v<<shift) >> shift
}

// Unsigned reads an n-byte little-endian value and zero-extends it.
func (r *Reader) Unsigned(n int) uint64 {
	p := r.next(n)
	var v uint64
	for i := len(p) - 1; i >= 0; i-- {
		v = v<<8 | uint64(p[i])
	}
	return v
}

// RightZeroExtended reads an n-byte little-endian value that holds
// the high-order bytes of a value of the given width (4 or 8 bytes).
// The missing low-order bytes are zero.
func (r *Reader) RightZeroExtended(n, width int) uint64 {
	if n > width {
		if r.err == nil {
			r.err = errors.E(errors.Invalid, fmt.Sprintf("dexio: %d-byte value wider than %d at offset %d", n, width, r.off))
		}
		return 0
	}
	return r.Unsigned(n) << uint(8*(width-n))
}
