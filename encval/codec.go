// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package encval

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexio"
)

// maxDepth bounds the nesting of arrays and annotations.
const maxDepth = 256

// width returns the maximum payload width of values of type typ, or
// 0 if the type carries no sized payload.
func width(typ int) int {
	switch typ {
	case TypeByte:
		return 1
	case TypeShort, TypeChar:
		return 2
	case TypeInt, TypeFloat, TypeString, TypeType, TypeField, TypeMethod, TypeEnum,
		TypeMethodType, TypeMethodHandle:
		return 4
	case TypeLong, TypeDouble:
		return 8
	}
	return 0
}

// header reads and checks a value header, returning its type and
// argument.
func header(r *dexio.Reader) (typ, arg int, err error) {
	pos := r.Pos()
	b := r.U1()
	if err := r.Err(); err != nil {
		return 0, 0, err
	}
	typ, arg = int(b&0x1f), int(b>>5)
	switch typ {
	case TypeByte, TypeShort, TypeChar, TypeInt, TypeLong, TypeFloat, TypeDouble,
		TypeString, TypeType, TypeField, TypeMethod, TypeEnum:
		if arg+1 > width(typ) {
			return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("encval: value type 0x%02x with size %d at offset %d", typ, arg+1, pos))
		}
	case TypeArray, TypeAnnotation, TypeNull:
		if arg != 0 {
			return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("encval: value type 0x%02x with argument %d at offset %d", typ, arg, pos))
		}
	case TypeBoolean:
		if arg > 1 {
			return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("encval: boolean argument %d at offset %d", arg, pos))
		}
	case TypeMethodType, TypeMethodHandle:
		return 0, 0, errors.E(errors.NotSupported, fmt.Sprintf("encval: value type 0x%02x at offset %d", typ, pos))
	default:
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("encval: unexpected value type 0x%02x (header byte 0x%02x) at offset %d", typ, b, pos))
	}
	return typ, arg, nil
}

// Decode decodes a single value from r.
func Decode(r *dexio.Reader) (Value, error) {
	return decode(r, 0)
}

func decode(r *dexio.Reader, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, errors.E(errors.Invalid, "encval: values nested too deeply")
	}
	typ, arg, err := header(r)
	if err != nil {
		return nil, err
	}
	n := arg + 1
	var v Value
	switch typ {
	case TypeByte:
		v = Byte(r.Signed(n))
	case TypeShort:
		v = Short(r.Signed(n))
	case TypeChar:
		v = Char(r.Unsigned(n))
	case TypeInt:
		v = Int(r.Signed(n))
	case TypeLong:
		v = Long(r.Signed(n))
	case TypeFloat:
		v = Float(math.Float32frombits(uint32(r.RightZeroExtended(n, 4))))
	case TypeDouble:
		v = Double(math.Float64frombits(r.RightZeroExtended(n, 8)))
	case TypeString:
		v = String(r.Unsigned(n))
	case TypeType:
		v = Type(r.Unsigned(n))
	case TypeField:
		v = Field(r.Unsigned(n))
	case TypeMethod:
		v = Method(r.Unsigned(n))
	case TypeEnum:
		v = Enum(r.Unsigned(n))
	case TypeArray:
		v, err = decodeArray(r, depth+1)
	case TypeAnnotation:
		v, err = decodeAnnotation(r, depth+1)
	case TypeNull:
		v = Null{}
	case TypeBoolean:
		v = Boolean(arg == 1)
	}
	if err != nil {
		return nil, err
	}
	return v, r.Err()
}

// DecodeArray decodes an encoded_array: a value array without a
// header byte, as stored in an encoded_array_item.
func DecodeArray(r *dexio.Reader) (Array, error) {
	return decodeArray(r, 0)
}

func decodeArray(r *dexio.Reader, depth int) (Array, error) {
	n := r.ULEB128()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if int(n) > r.Remaining() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("encval: array of %d values overruns buffer", n))
	}
	a := make(Array, n)
	for i := range a {
		var err error
		if a[i], err = decode(r, depth); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// DecodeAnnotation decodes an encoded_annotation, which has no
// header byte.
func DecodeAnnotation(r *dexio.Reader) (Annotation, error) {
	return decodeAnnotation(r, 0)
}

func decodeAnnotation(r *dexio.Reader, depth int) (Annotation, error) {
	var a Annotation
	a.TypeIdx = r.ULEB128()
	n := r.ULEB128()
	if err := r.Err(); err != nil {
		return a, err
	}
	if int(n) > r.Remaining() {
		return a, errors.E(errors.Invalid, fmt.Sprintf("encval: annotation of %d elements overruns buffer", n))
	}
	if n > 0 {
		a.Elements = make([]Element, n)
	}
	for i := range a.Elements {
		a.Elements[i].NameIdx = r.ULEB128()
		var err error
		if a.Elements[i].Value, err = decode(r, depth); err != nil {
			return a, err
		}
	}
	return a, r.Err()
}

// Encode encodes v to w using the minimal representation of its
// payload.
func Encode(w *dexio.Writer, v Value) {
	switch v := v.(type) {
	case Byte:
		w.Signed(TypeByte, int64(v))
	case Short:
		w.Signed(TypeShort, int64(v))
	case Char:
		w.Unsigned(TypeChar, uint64(v))
	case Int:
		w.Signed(TypeInt, int64(v))
	case Long:
		w.Signed(TypeLong, int64(v))
	case Float:
		w.RightZeroExtended(TypeFloat, uint64(math.Float32bits(float32(v)))<<32)
	case Double:
		w.RightZeroExtended(TypeDouble, math.Float64bits(float64(v)))
	case String:
		w.Unsigned(TypeString, uint64(v))
	case Type:
		w.Unsigned(TypeType, uint64(v))
	case Field:
		w.Unsigned(TypeField, uint64(v))
	case Method:
		w.Unsigned(TypeMethod, uint64(v))
	case Enum:
		w.Unsigned(TypeEnum, uint64(v))
	case Array:
		w.U1(dexio.Tag(TypeArray, 0))
		EncodeArray(w, v)
	case Annotation:
		w.U1(dexio.Tag(TypeAnnotation, 0))
		EncodeAnnotation(w, v)
	case Null:
		w.U1(dexio.Tag(TypeNull, 0))
	case Boolean:
		arg := 0
		if v {
			arg = 1
		}
		w.U1(dexio.Tag(TypeBoolean, arg))
	default:
		panic(fmt.Sprintf("encval.Encode: invalid value %T", v))
	}
}

// EncodeArray encodes a as an encoded_array, without a header byte.
func EncodeArray(w *dexio.Writer, a Array) {
	w.ULEB128(uint32(len(a)))
	for _, v := range a {
		Encode(w, v)
	}
}

// EncodeAnnotation encodes a as an encoded_annotation, without a
// header byte.
func EncodeAnnotation(w *dexio.Writer, a Annotation) {
	w.ULEB128(a.TypeIdx)
	w.ULEB128(uint32(len(a.Elements)))
	for _, e := range a.Elements {
		w.ULEB128(e.NameIdx)
		Encode(w, e.Value)
	}
}
