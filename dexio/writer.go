// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"encoding/binary"
	"math/bits"
)

// A Writer accumulates an encoded byte stream. The zero Writer is
// ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer whose buffer has the provided capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Grow grows the writer's buffer to guarantee space for another n
// bytes.
func (w *Writer) Grow(n int) {
	if cap(w.buf)-len(w.buf) < n {
		buf := make([]byte, len(w.buf), len(w.buf)+n)
		copy(buf, w.buf)
		w.buf = buf
	}
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes. The slice aliases the writer's
// buffer until the next write.
func (w *Writer) Bytes() []byte { return w.buf }

// Write implements io.Writer; it never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// U1 writes a byte.
func (w *Writer) U1(v uint8) { w.buf = append(w.buf, v) }

// U2 writes a little-endian uint16.
func (w *Writer) U2(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

// U4 writes a little-endian uint32.
func (w *Writer) U4(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// PutU2 overwrites the uint16 at offset off.
func (w *Writer) PutU2(off int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[off:], v)
}

// PutU4 overwrites the uint32 at offset off.
func (w *Writer) PutU4(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:], v)
}

// Pad writes n zero bytes.
func (w *Writer) Pad(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Align pads the stream with zeros to a multiple of n.
func (w *Writer) Align(n int) {
	w.Pad(AlignPad(len(w.buf), n))
}

// AlignPad returns the number of bytes needed to bring off to a
// multiple of n.
func AlignPad(off, n int) int {
	return (n - off%n) % n
}

// ULEB128 writes an unsigned LEB128 value.
func (w *Writer) ULEB128(v uint32) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// ULEB128p1 writes v+1 as an unsigned LEB128 value.
func (w *Writer) ULEB128p1(v uint32) {
	w.ULEB128(v + 1)
}

// SLEB128 writes a signed LEB128 value.
func (w *Writer) SLEB128(v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf = append(w.buf, b)
			return
		}
		w.buf = append(w.buf, b|0x80)
	}
}

// ULEB128Size returns the encoded size of v.
func ULEB128Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Tag packs a value type and its argument into an encoded value
// header byte.
func Tag(typ, arg int) byte {
	return byte(arg<<5 | typ)
}

// Signed writes the header byte for typ followed by the minimal
// number of little-endian bytes that sign-extend back to v.
func (w *Writer) Signed(typ int, v int64) {
	n := (65 - bits.LeadingZeros64(uint64(v^(v>>63))) + 7) >> 3
	w.U1(Tag(typ, n-1))
	for i := 0; i < n; i++ {
		w.U1(byte(v))
		v >>= 8
	}
}

// Unsigned writes the header byte for typ followed by the minimal
// number of little-endian bytes that zero-extend back to v.
func (w *Writer) Unsigned(typ int, v uint64) {
	nbits := 64 - bits.LeadingZeros64(v)
	if nbits == 0 {
		nbits = 1
	}
	n := (nbits + 7) >> 3
	w.U1(Tag(typ, n-1))
	for i := 0; i < n; i++ {
		w.U1(byte(v))
		v >>= 8
	}
}

// RightZeroExtended writes the header byte for typ followed by the
// minimal number of high-order bytes of v; the omitted low-order
// bytes must be zero.
func (w *Writer) RightZeroExtended(typ int, v uint64) {
	nbits := 64 - bits.TrailingZeros64(v)
	if nbits == 0 {
		nbits = 1
	}
	n := (nbits + 7) >> 3
	v >>= uint(64 - 8*n)
	w.U1(Tag(typ, n-1))
	for i := 0; i < n; i++ {
		w.U1(byte(v))
		v >>= 8
	}
}
