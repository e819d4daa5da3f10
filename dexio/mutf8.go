// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexio

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/grailbio/base/errors"
)

// DecodeMUTF8 decodes modified UTF-8 bytes into UTF-16 code units.
// Surrogates are encoded individually in modified UTF-8, so each
// 1-, 2- or 3-byte sequence yields exactly one code unit.
func DecodeMUTF8(b []byte) ([]uint16, error) {
	out := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			if c == 0 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("dexio: unexpected NUL at byte %d", i))
			}
			out = append(out, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("dexio: bad two-byte sequence at byte %d", i))
			}
			out = append(out, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("dexio: bad three-byte sequence at byte %d", i))
			}
			out = append(out, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("dexio: bad byte 0x%02x at byte %d", c, i))
		}
	}
	return out, nil
}

// EncodeMUTF8 encodes a Go string as modified UTF-8. It returns the
// encoded bytes (without the terminating NUL) and the string's
// length in UTF-16 code units.
func EncodeMUTF8(s string) (data []byte, utf16Len int) {
	units := utf16.Encode([]rune(s))
	data = make([]byte, 0, len(s))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			data = append(data, byte(u))
		case u < 0x800:
			data = append(data, byte(0xc0|u>>6), byte(0x80|u&0x3f))
		default:
			data = append(data, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	return data, len(units)
}

// MUTF8String converts modified UTF-8 bytes to a Go string.
// Unpaired surrogates are replaced with utf8.RuneError.
func MUTF8String(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii && utf8.Valid(b) {
		return string(b), nil
	}
	units, err := DecodeMUTF8(b)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// CompareUTF16 compares two sequences of UTF-16 code units
// lexicographically, which is the order of the dex string table.
func CompareUTF16(a, b []uint16) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
