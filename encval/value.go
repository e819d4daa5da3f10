// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package encval implements the dex encoded_value format: the
// self-describing constants used by annotations and static field
// initializers.
//
// Values are represented by a closed set of Go types, one per value
// type. Decode and Encode convert between the wire format and these
// types; Transcode copies a value from one stream to another while
// translating the string, type, field and method references that it
// embeds.
package encval

import (
	"fmt"
	"strings"
)

// Value types, as carried in the low five bits of a value's header
// byte.
const (
	TypeByte         = 0x00
	TypeShort        = 0x02
	TypeChar         = 0x03
	TypeInt          = 0x04
	TypeLong         = 0x06
	TypeFloat        = 0x10
	TypeDouble       = 0x11
	TypeMethodType   = 0x15
	TypeMethodHandle = 0x16
	TypeString       = 0x17
	TypeType         = 0x18
	TypeField        = 0x19
	TypeMethod       = 0x1a
	TypeEnum         = 0x1b
	TypeArray        = 0x1c
	TypeAnnotation   = 0x1d
	TypeNull         = 0x1e
	TypeBoolean      = 0x1f
)

// A Value is a decoded encoded_value. Its dynamic type is one of
// Byte, Short, Char, Int, Long, Float, Double, String, Type, Field,
// Method, Enum, Array, Annotation, Null, or Boolean.
type Value interface {
	// Tag returns the value's type.
	Tag() int
	isValue()
}

type (
	// Byte is a signed 8-bit integer.
	Byte int8
	// Short is a signed 16-bit integer.
	Short int16
	// Char is an unsigned 16-bit character.
	Char uint16
	// Int is a signed 32-bit integer.
	Int int32
	// Long is a signed 64-bit integer.
	Long int64
	// Float is a 32-bit IEEE754 value.
	Float float32
	// Double is a 64-bit IEEE754 value.
	Double float64
	// String is a string index.
	String uint32
	// Type is a type index.
	Type uint32
	// Field is a field index.
	Field uint32
	// Method is a method index.
	Method uint32
	// Enum is the field index of an enum constant.
	Enum uint32
	// Array is an ordered list of values.
	Array []Value
	// Null is the null reference.
	Null struct{}
	// Boolean is a boolean value; it has no payload.
	Boolean bool
)

// An Element is a name-value pair of an annotation.
type Element struct {
	NameIdx uint32
	Value   Value
}

// Annotation is an encoded_annotation: an annotation type and its
// elements.
type Annotation struct {
	TypeIdx  uint32
	Elements []Element
}

func (Byte) Tag() int       { return TypeByte }
func (Short) Tag() int      { return TypeShort }
func (Char) Tag() int       { return TypeChar }
func (Int) Tag() int        { return TypeInt }
func (Long) Tag() int       { return TypeLong }
func (Float) Tag() int      { return TypeFloat }
func (Double) Tag() int     { return TypeDouble }
func (String) Tag() int     { return TypeString }
func (Type) Tag() int       { return TypeType }
func (Field) Tag() int      { return TypeField }
func (Method) Tag() int     { return TypeMethod }
func (Enum) Tag() int       { return TypeEnum }
func (Array) Tag() int      { return TypeArray }
func (Annotation) Tag() int { return TypeAnnotation }
func (Null) Tag() int       { return TypeNull }
func (Boolean) Tag() int    { return TypeBoolean }

func (Byte) isValue()       {}
func (Short) isValue()      {}
func (Char) isValue()       {}
func (Int) isValue()        {}
func (Long) isValue()       {}
func (Float) isValue()      {}
func (Double) isValue()     {}
func (String) isValue()     {}
func (Type) isValue()       {}
func (Field) isValue()      {}
func (Method) isValue()     {}
func (Enum) isValue()       {}
func (Array) isValue()      {}
func (Annotation) isValue() {}
func (Null) isValue()       {}
func (Boolean) isValue()    {}

// Format renders v in a compact, human-readable form, with indices
// shown as kind@index.
func Format(v Value) string {
	var b strings.Builder
	format(&b, v)
	return b.String()
}

func format(b *strings.Builder, v Value) {
	switch v := v.(type) {
	case Byte:
		fmt.Fprintf(b, "byte %d", v)
	case Short:
		fmt.Fprintf(b, "short %d", v)
	case Char:
		fmt.Fprintf(b, "char %q", rune(v))
	case Int:
		fmt.Fprintf(b, "int %d", v)
	case Long:
		fmt.Fprintf(b, "long %d", v)
	case Float:
		fmt.Fprintf(b, "float %v", float32(v))
	case Double:
		fmt.Fprintf(b, "double %v", float64(v))
	case String:
		fmt.Fprintf(b, "string@%d", v)
	case Type:
		fmt.Fprintf(b, "type@%d", v)
	case Field:
		fmt.Fprintf(b, "field@%d", v)
	case Method:
		fmt.Fprintf(b, "method@%d", v)
	case Enum:
		fmt.Fprintf(b, "enum@%d", v)
	case Array:
		b.WriteString("[")
		for i, e := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, e)
		}
		b.WriteString("]")
	case Annotation:
		fmt.Fprintf(b, "@type@%d{", v.TypeIdx)
		for i, e := range v.Elements {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "string@%d=", e.NameIdx)
			format(b, e.Value)
		}
		b.WriteString("}")
	case Null:
		b.WriteString("null")
	case Boolean:
		fmt.Fprintf(b, "%v", bool(v))
	default:
		fmt.Fprintf(b, "%T", v)
	}
}
