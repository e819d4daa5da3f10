// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package encval

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
)

// A Remapper translates references from a source image into the
// index space of a target image. Lookups of indices outside the
// source tables panic with a *dex.IndexError.
type Remapper interface {
	AdjustString(uint32) uint32
	AdjustType(uint32) uint32
	AdjustField(uint32) uint32
	AdjustMethod(uint32) uint32
}

type identity struct{}

func (identity) AdjustString(i uint32) uint32 { return i }
func (identity) AdjustType(i uint32) uint32   { return i }
func (identity) AdjustField(i uint32) uint32  { return i }
func (identity) AdjustMethod(i uint32) uint32 { return i }

// Identity is the Remapper that leaves every index unchanged.
var Identity Remapper = identity{}

// Transcode copies a single value from r to w, passing every
// embedded reference through m. Integral and floating point payloads
// are re-encoded in their minimal width, so that a minimally encoded
// value transcoded through Identity is reproduced byte for byte.
// References to indices outside the source tables are reported as
// errors.Invalid.
func Transcode(r *dexio.Reader, w *dexio.Writer, m Remapper) (err error) {
	defer dex.CatchIndexError(&err)
	return transcode(r, w, m, 0)
}

// TranscodeArray copies an encoded_array (which has no header
// byte) from r to w.
func TranscodeArray(r *dexio.Reader, w *dexio.Writer, m Remapper) (err error) {
	defer dex.CatchIndexError(&err)
	return transcodeArray(r, w, m, 0)
}

// TranscodeAnnotation copies an encoded_annotation (which has no
// header byte) from r to w.
func TranscodeAnnotation(r *dexio.Reader, w *dexio.Writer, m Remapper) (err error) {
	defer dex.CatchIndexError(&err)
	return transcodeAnnotation(r, w, m, 0)
}

func transcode(r *dexio.Reader, w *dexio.Writer, m Remapper, depth int) error {
	if depth > maxDepth {
		return errors.E(errors.Invalid, "encval: values nested too deeply")
	}
	typ, arg, err := header(r)
	if err != nil {
		return err
	}
	n := arg + 1
	switch typ {
	case TypeByte, TypeShort, TypeInt, TypeLong:
		w.Signed(typ, r.Signed(n))
	case TypeChar:
		w.Unsigned(typ, r.Unsigned(n))
	case TypeFloat:
		w.RightZeroExtended(typ, r.RightZeroExtended(n, 4)<<32)
	case TypeDouble:
		w.RightZeroExtended(typ, r.RightZeroExtended(n, 8))
	case TypeString:
		w.Unsigned(typ, uint64(m.AdjustString(uint32(r.Unsigned(n)))))
	case TypeType:
		w.Unsigned(typ, uint64(m.AdjustType(uint32(r.Unsigned(n)))))
	case TypeField, TypeEnum:
		w.Unsigned(typ, uint64(m.AdjustField(uint32(r.Unsigned(n)))))
	case TypeMethod:
		w.Unsigned(typ, uint64(m.AdjustMethod(uint32(r.Unsigned(n)))))
	case TypeArray:
		w.U1(dexio.Tag(typ, 0))
		return transcodeArray(r, w, m, depth+1)
	case TypeAnnotation:
		w.U1(dexio.Tag(typ, 0))
		return transcodeAnnotation(r, w, m, depth+1)
	case TypeNull:
		w.U1(dexio.Tag(typ, 0))
	case TypeBoolean:
		w.U1(dexio.Tag(typ, arg))
	default:
		panic(fmt.Sprintf("encval: unhandled value type 0x%02x", typ))
	}
	return r.Err()
}

func transcodeArray(r *dexio.Reader, w *dexio.Writer, m Remapper, depth int) error {
	n := r.ULEB128()
	if err := r.Err(); err != nil {
		return err
	}
	w.ULEB128(n)
	for i := uint32(0); i < n; i++ {
		if err := transcode(r, w, m, depth); err != nil {
			return err
		}
	}
	return nil
}

func transcodeAnnotation(r *dexio.Reader, w *dexio.Writer, m Remapper, depth int) error {
	typ := r.ULEB128()
	n := r.ULEB128()
	if err := r.Err(); err != nil {
		return err
	}
	w.ULEB128(m.AdjustType(typ))
	w.ULEB128(n)
	for i := uint32(0); i < n; i++ {
		name := r.ULEB128()
		if err := r.Err(); err != nil {
			return err
		}
		w.ULEB128(m.AdjustString(name))
		if err := transcode(r, w, m, depth); err != nil {
			return err
		}
	}
	return nil
}
