// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"bytes"
	"math"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
)

func TestLEB128(t *testing.T) {
	for _, c := range []struct {
		v   uint32
		enc []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16256, []byte{0x80, 0x7f}},
		{math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	} {
		var w Writer
		w.ULEB128(c.v)
		if got, want := w.Bytes(), c.enc; !bytes.Equal(got, want) {
			t.Errorf("uleb %d: got %x, want %x", c.v, got, want)
		}
		if got, want := ULEB128Size(c.v), len(c.enc); got != want {
			t.Errorf("uleb size %d: got %v, want %v", c.v, got, want)
		}
		r := NewReader(c.enc, 0)
		if got, want := r.ULEB128(), c.v; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	for _, c := range []struct {
		v   int32
		enc []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{-1, []byte{0x7f}},
		{-128, []byte{0x80, 0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
	} {
		var w Writer
		w.SLEB128(c.v)
		if got, want := w.Bytes(), c.enc; !bytes.Equal(got, want) {
			t.Errorf("sleb %d: got %x, want %x", c.v, got, want)
		}
		r := NewReader(c.enc, 0)
		if got, want := r.SLEB128(), c.v; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestLEB128Fuzz(t *testing.T) {
	fz := fuzz.NewWithSeed(1)
	var w Writer
	var (
		us []uint32
		ss []int32
	)
	for i := 0; i < 1000; i++ {
		var (
			u uint32
			s int32
		)
		fz.Fuzz(&u)
		fz.Fuzz(&s)
		us = append(us, u)
		ss = append(ss, s)
		w.ULEB128(u)
		w.SLEB128(s)
		w.ULEB128p1(u)
	}
	r := NewReader(w.Bytes(), 0)
	for i := range us {
		if got, want := r.ULEB128(), us[i]; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		if got, want := r.SLEB128(), ss[i]; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		if got, want := r.ULEB128p1(), us[i]; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
	if got, want := r.Remaining(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNoIndexP1(t *testing.T) {
	var w Writer
	w.ULEB128p1(NoIndex)
	if got, want := w.Bytes(), []byte{0}; !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
	if got, want := NewReader(w.Bytes(), 0).ULEB128p1(), uint32(NoIndex); got != want {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestIntegralValues(t *testing.T) {
	fz := fuzz.NewWithSeed(2)
	for i := 0; i < 1000; i++ {
		var v int64
		fz.Fuzz(&v)
		if i%3 == 0 {
			v >>= uint(i % 64)
		}
		var w Writer
		w.Signed(0x06, v)
		r := NewReader(w.Bytes(), 0)
		tag := r.U1()
		if got, want := tag&0x1f, byte(0x06); got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		if got, want := r.Signed(int(tag>>5)+1), v; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}

		u := uint64(v)
		w = Writer{}
		w.Unsigned(0x17, u)
		r = NewReader(w.Bytes(), 0)
		tag = r.U1()
		if got, want := r.Unsigned(int(tag>>5)+1), u; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}

		w = Writer{}
		w.RightZeroExtended(0x11, u)
		r = NewReader(w.Bytes(), 0)
		tag = r.U1()
		if got, want := r.RightZeroExtended(int(tag>>5)+1, 8), u; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMinimalWidths(t *testing.T) {
	for _, c := range []struct {
		v   int64
		enc []byte
	}{
		{0, []byte{0x04, 0x00}},
		{-1, []byte{0x04, 0xff}},
		{127, []byte{0x04, 0x7f}},
		{128, []byte{0x24, 0x80, 0x00}},
		{-129, []byte{0x24, 0x7f, 0xff}},
	} {
		var w Writer
		w.Signed(0x04, c.v)
		if got, want := w.Bytes(), c.enc; !bytes.Equal(got, want) {
			t.Errorf("%d: got %x, want %x", c.v, got, want)
		}
	}
	var w Writer
	w.RightZeroExtended(0x10, uint64(math.Float32bits(1))<<32)
	if got, want := w.Bytes(), []byte{0x30, 0x80, 0x3f}; !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestReadPastEnd(t *testing.T) {
	r := NewReader([]byte{1, 2, 3}, 0)
	r.U2()
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
	if got, want := r.U4(), uint32(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Invalid, r.Err()) {
		t.Errorf("expected invalid error, got %v", r.Err())
	}
	if got, want := r.U1(), uint8(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMUTF8(t *testing.T) {
	for _, s := range []string{"", "A", "hello", "\x00", "é", "日本", "\U0001F600"} {
		data, n := EncodeMUTF8(s)
		if bytes.IndexByte(data, 0) >= 0 {
			t.Errorf("%q: encoding contains NUL: %x", s, data)
		}
		units, err := DecodeMUTF8(data)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(units), n; got != want {
			t.Errorf("%q: got %v, want %v", s, got, want)
		}
		str, err := MUTF8String(data)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := str, s; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	// A supplementary character is encoded as a surrogate pair of
	// three-byte sequences.
	data, n := EncodeMUTF8("\U0001F600")
	if got, want := len(data), 6; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompareUTF16(t *testing.T) {
	// U+FFFF sorts before a surrogate pair in UTF-8 order but after
	// it in UTF-16 order.
	a, _ := DecodeMUTF8(mustEncode("\uffff"))
	b, _ := DecodeMUTF8(mustEncode("\U00010000"))
	if got, want := CompareUTF16(a, b), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x, _ := DecodeMUTF8(mustEncode("A"))
	y, _ := DecodeMUTF8(mustEncode("AB"))
	if got, want := CompareUTF16(x, y), -1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := CompareUTF16(y, y), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func mustEncode(s string) []byte {
	b, _ := EncodeMUTF8(s)
	return b
}
