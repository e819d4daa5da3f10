// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexio"
)

// TypeID is a type_id_item: the descriptor string of a type.
type TypeID struct {
	DescriptorIdx uint32
}

// ProtoID is a proto_id_item: a method prototype.
type ProtoID struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	// ParametersOff is the offset of the parameter type list, or 0
	// if the prototype takes no parameters.
	ParametersOff uint32
}

// FieldID is a field_id_item.
type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

// MethodID is a method_id_item.
type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

// ClassDef is a class_def_item.
type ClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

// IndexError reports a reference to an index beyond the end of its
// table. It is raised as a panic by index lookups and converted to an
// error by CatchIndexError.
type IndexError struct {
	Type  ItemType
	Index uint32
	Size  int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0, %d)", e.Type, e.Index, e.Size)
}

// CatchIndexError recovers an *IndexError panic into *err as an
// errors.Invalid error. Other panics are propagated. It must be
// called directly by defer.
func CatchIndexError(err *error) {
	e := recover()
	if e == nil {
		return
	}
	ie, ok := e.(*IndexError)
	if !ok {
		panic(e)
	}
	*err = errors.E(errors.Invalid, ie)
}

// Dex is a parsed, immutable dex image.
type Dex struct {
	Header
	toc TableOfContents
	buf []byte
}

// Parse parses and validates the dex image in buf. The returned Dex
// retains buf, which must not be modified thereafter.
func Parse(buf []byte) (*Dex, error) {
	h, err := readHeader(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[:h.FileSize]
	toc, err := readMapList(buf, h.MapOff)
	if err != nil {
		return nil, err
	}
	d := &Dex{Header: h, toc: toc, buf: buf}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// TableOfContents returns the image's table of contents.
func (d *Dex) TableOfContents() TableOfContents { return d.toc }

// Bytes returns the underlying image.
func (d *Dex) Bytes() []byte { return d.buf }

// Reader returns a reader positioned at offset off.
func (d *Dex) Reader(off uint32) *dexio.Reader {
	return dexio.NewReader(d.buf, int(off))
}

func (d *Dex) validate() error {
	for _, t := range []struct {
		typ      ItemType
		size     uint32
		off      uint32
		itemSize uint32
	}{
		{ItemStringID, d.StringIDsSize, d.StringIDsOff, StringIDSize},
		{ItemTypeID, d.TypeIDsSize, d.TypeIDsOff, TypeIDSize},
		{ItemProtoID, d.ProtoIDsSize, d.ProtoIDsOff, ProtoIDSize},
		{ItemFieldID, d.FieldIDsSize, d.FieldIDsOff, FieldIDSize},
		{ItemMethodID, d.MethodIDsSize, d.MethodIDsOff, MethodIDSize},
		{ItemClassDef, d.ClassDefsSize, d.ClassDefsOff, ClassDefSize},
	} {
		if t.size == 0 {
			continue
		}
		if uint64(t.off)+uint64(t.size)*uint64(t.itemSize) > uint64(len(d.buf)) {
			return errors.E(errors.Invalid, fmt.Sprintf("dex: %s table of %d items at 0x%x overruns image", t.typ, t.size, t.off))
		}
		if s, _ := d.toc.Section(t.typ); s.Size != t.size || s.Off != t.off {
			return errors.E(errors.Invalid, fmt.Sprintf("dex: %s table disagrees with map list", t.typ))
		}
	}
	if d.TypeIDsSize > MaxIndex || d.ProtoIDsSize > MaxIndex || d.FieldIDsSize > MaxIndex || d.MethodIDsSize > MaxIndex {
		return errors.E(errors.Invalid, "dex: id table exceeds 16-bit index space")
	}
	var (
		nstring = d.StringIDsSize
		ntype   = d.TypeIDsSize
	)
	check := func(typ ItemType, what string, i int, idx, n uint32) error {
		if idx >= n {
			return errors.E(errors.Invalid, fmt.Sprintf("dex: %s %d: %s index %d out of range [0, %d)", typ, i, what, idx, n))
		}
		return nil
	}
	for i := 0; i < int(d.StringIDsSize); i++ {
		if off := d.stringDataOff(i); off == 0 || int(off) >= len(d.buf) {
			return errors.E(errors.Invalid, fmt.Sprintf("dex: string %d: bad data offset 0x%x", i, off))
		}
	}
	for i := 0; i < d.NumTypes(); i++ {
		if err := check(ItemTypeID, "descriptor", i, d.TypeID(i).DescriptorIdx, nstring); err != nil {
			return err
		}
	}
	for i := 0; i < d.NumProtos(); i++ {
		p := d.ProtoID(i)
		if err := check(ItemProtoID, "shorty", i, p.ShortyIdx, nstring); err != nil {
			return err
		}
		if err := check(ItemProtoID, "return type", i, p.ReturnTypeIdx, ntype); err != nil {
			return err
		}
	}
	for i := 0; i < d.NumFields(); i++ {
		f := d.FieldID(i)
		if err := check(ItemFieldID, "class", i, uint32(f.ClassIdx), ntype); err != nil {
			return err
		}
		if err := check(ItemFieldID, "type", i, uint32(f.TypeIdx), ntype); err != nil {
			return err
		}
		if err := check(ItemFieldID, "name", i, f.NameIdx, nstring); err != nil {
			return err
		}
	}
	for i := 0; i < d.NumMethods(); i++ {
		m := d.MethodID(i)
		if err := check(ItemMethodID, "class", i, uint32(m.ClassIdx), ntype); err != nil {
			return err
		}
		if err := check(ItemMethodID, "proto", i, uint32(m.ProtoIdx), d.ProtoIDsSize); err != nil {
			return err
		}
		if err := check(ItemMethodID, "name", i, m.NameIdx, nstring); err != nil {
			return err
		}
	}
	for i := 0; i < d.NumClassDefs(); i++ {
		c := d.ClassDef(i)
		if err := check(ItemClassDef, "class", i, c.ClassIdx, ntype); err != nil {
			return err
		}
		if c.SuperclassIdx != NoIndex {
			if err := check(ItemClassDef, "superclass", i, c.SuperclassIdx, ntype); err != nil {
				return err
			}
		}
		if c.SourceFileIdx != NoIndex {
			if err := check(ItemClassDef, "source file", i, c.SourceFileIdx, nstring); err != nil {
				return err
			}
		}
	}
	return nil
}

// NumStrings returns the size of the string table.
func (d *Dex) NumStrings() int { return int(d.StringIDsSize) }

// NumTypes returns the size of the type table.
func (d *Dex) NumTypes() int { return int(d.TypeIDsSize) }

// NumProtos returns the size of the proto table.
func (d *Dex) NumProtos() int { return int(d.ProtoIDsSize) }

// NumFields returns the size of the field table.
func (d *Dex) NumFields() int { return int(d.FieldIDsSize) }

// NumMethods returns the size of the method table.
func (d *Dex) NumMethods() int { return int(d.MethodIDsSize) }

// NumClassDefs returns the number of class definitions.
func (d *Dex) NumClassDefs() int { return int(d.ClassDefsSize) }

func (d *Dex) u4(off uint32) uint32 {
	return binary.LittleEndian.Uint32(d.buf[off:])
}

func (d *Dex) u2(off uint32) uint16 {
	return binary.LittleEndian.Uint16(d.buf[off:])
}

func (d *Dex) bounds(typ ItemType, i, n int) {
	if i < 0 || i >= n {
		panic(&IndexError{Type: typ, Index: uint32(i), Size: n})
	}
}

func (d *Dex) stringDataOff(i int) uint32 {
	d.bounds(ItemStringID, i, d.NumStrings())
	return d.u4(d.StringIDsOff + uint32(i)*StringIDSize)
}

// StringData returns the modified UTF-8 bytes of string i (without
// the terminating NUL) and its length in UTF-16 code units.
func (d *Dex) StringData(i int) (data []byte, utf16Len uint32, err error) {
	off := d.stringDataOff(i)
	r := d.Reader(off)
	utf16Len = r.ULEB128()
	start := r.Pos()
	if err = r.Err(); err != nil {
		return nil, 0, errors.E(fmt.Sprintf("dex: string %d", i), err)
	}
	end := start
	for end < len(d.buf) && d.buf[end] != 0 {
		end++
	}
	if end == len(d.buf) {
		return nil, 0, errors.E(errors.Invalid, fmt.Sprintf("dex: string %d is not terminated", i))
	}
	return d.buf[start:end], utf16Len, nil
}

// StringAt returns string i as a Go string.
func (d *Dex) StringAt(i int) (string, error) {
	data, _, err := d.StringData(i)
	if err != nil {
		return "", err
	}
	return dexio.MUTF8String(data)
}

// TypeID returns type i.
func (d *Dex) TypeID(i int) TypeID {
	d.bounds(ItemTypeID, i, d.NumTypes())
	return TypeID{DescriptorIdx: d.u4(d.TypeIDsOff + uint32(i)*TypeIDSize)}
}

// TypeName returns the descriptor of type i.
func (d *Dex) TypeName(i int) (string, error) {
	return d.StringAt(int(d.TypeID(i).DescriptorIdx))
}

// ProtoID returns proto i.
func (d *Dex) ProtoID(i int) ProtoID {
	d.bounds(ItemProtoID, i, d.NumProtos())
	off := d.ProtoIDsOff + uint32(i)*ProtoIDSize
	return ProtoID{
		ShortyIdx:     d.u4(off),
		ReturnTypeIdx: d.u4(off + 4),
		ParametersOff: d.u4(off + 8),
	}
}

// FieldID returns field i.
func (d *Dex) FieldID(i int) FieldID {
	d.bounds(ItemFieldID, i, d.NumFields())
	off := d.FieldIDsOff + uint32(i)*FieldIDSize
	return FieldID{
		ClassIdx: d.u2(off),
		TypeIdx:  d.u2(off + 2),
		NameIdx:  d.u4(off + 4),
	}
}

// MethodID returns method i.
func (d *Dex) MethodID(i int) MethodID {
	d.bounds(ItemMethodID, i, d.NumMethods())
	off := d.MethodIDsOff + uint32(i)*MethodIDSize
	return MethodID{
		ClassIdx: d.u2(off),
		ProtoIdx: d.u2(off + 2),
		NameIdx:  d.u4(off + 4),
	}
}

// ClassDef returns class definition i.
func (d *Dex) ClassDef(i int) ClassDef {
	d.bounds(ItemClassDef, i, d.NumClassDefs())
	off := d.ClassDefsOff + uint32(i)*ClassDefSize
	return ClassDef{
		ClassIdx:        d.u4(off),
		AccessFlags:     d.u4(off + 4),
		SuperclassIdx:   d.u4(off + 8),
		InterfacesOff:   d.u4(off + 12),
		SourceFileIdx:   d.u4(off + 16),
		AnnotationsOff:  d.u4(off + 20),
		ClassDataOff:    d.u4(off + 24),
		StaticValuesOff: d.u4(off + 28),
	}
}
