// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexio"
)

// TypeList is a type_list item: an ordered list of type indices.
// The empty list is represented by a nil TypeList, and is stored at
// offset 0.
type TypeList []uint16

// EmptyTypeList is the canonical empty type list.
var EmptyTypeList TypeList

// TypeList reads the type list at offset off. Offset 0 yields
// EmptyTypeList.
func (d *Dex) TypeList(off uint32) (TypeList, error) {
	if off == 0 {
		return EmptyTypeList, nil
	}
	r := d.Reader(off)
	n := r.U4()
	if r.Err() == nil && int(n) > r.Remaining()/2 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dex: type list at 0x%x: bad size %d", off, n))
	}
	list := make(TypeList, n)
	for i := range list {
		list[i] = r.U2()
		if uint32(list[i]) >= d.TypeIDsSize {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("dex: type list at 0x%x: type index %d out of range", off, list[i]))
		}
	}
	if err := r.Err(); err != nil {
		return nil, errors.E(fmt.Sprintf("dex: type list at 0x%x", off), err)
	}
	return list, nil
}

// Encode encodes the type list. It must be placed at a 4-byte
// aligned offset.
func (t TypeList) Encode(w *dexio.Writer) {
	w.U4(uint32(len(t)))
	for _, typ := range t {
		w.U2(typ)
	}
}

// Compare orders type lists lexicographically.
func (t TypeList) Compare(u TypeList) int {
	for i := 0; i < len(t) && i < len(u); i++ {
		if t[i] != u[i] {
			if t[i] < u[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(t) < len(u):
		return -1
	case len(t) > len(u):
		return 1
	}
	return 0
}

// Offsets is a list of item offsets, as used by annotation_set
// (annotation offsets) and annotation_set_ref_list (annotation set
// offsets; 0 denotes an absent set).
type Offsets []uint32

func (d *Dex) offsets(typ ItemType, off uint32) (Offsets, error) {
	r := d.Reader(off)
	n := r.U4()
	if r.Err() == nil && int(n) > r.Remaining()/4 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dex: %s at 0x%x: bad size %d", typ, off, n))
	}
	list := make(Offsets, n)
	for i := range list {
		list[i] = r.U4()
	}
	if err := r.Err(); err != nil {
		return nil, errors.E(fmt.Sprintf("dex: %s at 0x%x", typ, off), err)
	}
	return list, nil
}

// AnnotationSet reads the annotation set at offset off.
func (d *Dex) AnnotationSet(off uint32) (Offsets, error) {
	return d.offsets(ItemAnnotationSet, off)
}

// AnnotationSetRefList reads the annotation set ref list at offset
// off.
func (d *Dex) AnnotationSetRefList(off uint32) (Offsets, error) {
	return d.offsets(ItemAnnotationSetRefList, off)
}

// Encode encodes the offset list.
func (o Offsets) Encode(w *dexio.Writer) {
	w.U4(uint32(len(o)))
	for _, off := range o {
		w.U4(off)
	}
}

// MemberAnnotations associates a field or method index with the
// offset of its annotation set (or, for parameters, its annotation
// set ref list).
type MemberAnnotations struct {
	Idx uint32
	Off uint32
}

// AnnotationsDirectory is an annotations_directory_item.
type AnnotationsDirectory struct {
	ClassAnnotationsOff uint32
	Fields              []MemberAnnotations
	Methods             []MemberAnnotations
	Parameters          []MemberAnnotations
}

// AnnotationsDirectory reads the annotations directory at offset off.
func (d *Dex) AnnotationsDirectory(off uint32) (AnnotationsDirectory, error) {
	var dir AnnotationsDirectory
	r := d.Reader(off)
	dir.ClassAnnotationsOff = r.U4()
	nfield, nmethod, nparam := r.U4(), r.U4(), r.U4()
	if r.Err() == nil && uint64(nfield)+uint64(nmethod)+uint64(nparam) > uint64(r.Remaining()/8) {
		return dir, errors.E(errors.Invalid, fmt.Sprintf("dex: annotations directory at 0x%x: bad sizes", off))
	}
	read := func(n uint32) []MemberAnnotations {
		if n == 0 {
			return nil
		}
		list := make([]MemberAnnotations, n)
		for i := range list {
			list[i].Idx = r.U4()
			list[i].Off = r.U4()
		}
		return list
	}
	dir.Fields = read(nfield)
	dir.Methods = read(nmethod)
	dir.Parameters = read(nparam)
	if err := r.Err(); err != nil {
		return dir, errors.E(fmt.Sprintf("dex: annotations directory at 0x%x", off), err)
	}
	return dir, nil
}

// Encode encodes the directory.
func (dir AnnotationsDirectory) Encode(w *dexio.Writer) {
	w.U4(dir.ClassAnnotationsOff)
	w.U4(uint32(len(dir.Fields)))
	w.U4(uint32(len(dir.Methods)))
	w.U4(uint32(len(dir.Parameters)))
	for _, list := range [][]MemberAnnotations{dir.Fields, dir.Methods, dir.Parameters} {
		for _, m := range list {
			w.U4(m.Idx)
			w.U4(m.Off)
		}
	}
}

// EncodedField is a field entry of a class_data_item.
type EncodedField struct {
	FieldIdx    uint32
	AccessFlags uint32
}

// EncodedMethod is a method entry of a class_data_item.
type EncodedMethod struct {
	MethodIdx   uint32
	AccessFlags uint32
	// CodeOff is the offset of the method's code item, or 0 for
	// abstract and native methods.
	CodeOff uint32
}

// ClassData is a class_data_item. Member indices are absolute; the
// delta encoding is applied by Encode and undone by ClassData.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// ClassData reads the class data item at offset off.
func (d *Dex) ClassData(off uint32) (ClassData, error) {
	var data ClassData
	r := d.Reader(off)
	nstatic, ninstance := r.ULEB128(), r.ULEB128()
	ndirect, nvirtual := r.ULEB128(), r.ULEB128()
	if r.Err() == nil && uint64(nstatic)+uint64(ninstance)+uint64(ndirect)+uint64(nvirtual) > uint64(r.Remaining()) {
		return data, errors.E(errors.Invalid, fmt.Sprintf("dex: class data at 0x%x: bad sizes", off))
	}
	fields := func(n uint32) []EncodedField {
		if n == 0 {
			return nil
		}
		list := make([]EncodedField, n)
		var idx uint32
		for i := range list {
			idx += r.ULEB128()
			list[i] = EncodedField{FieldIdx: idx, AccessFlags: r.ULEB128()}
		}
		return list
	}
	methods := func(n uint32) []EncodedMethod {
		if n == 0 {
			return nil
		}
		list := make([]EncodedMethod, n)
		var idx uint32
		for i := range list {
			idx += r.ULEB128()
			list[i] = EncodedMethod{MethodIdx: idx, AccessFlags: r.ULEB128(), CodeOff: r.ULEB128()}
		}
		return list
	}
	data.StaticFields = fields(nstatic)
	data.InstanceFields = fields(ninstance)
	data.DirectMethods = methods(ndirect)
	data.VirtualMethods = methods(nvirtual)
	if err := r.Err(); err != nil {
		return data, errors.E(fmt.Sprintf("dex: class data at 0x%x", off), err)
	}
	return data, nil
}

// Encode encodes the class data. Each member list must be sorted by
// index.
func (c ClassData) Encode(w *dexio.Writer) {
	w.ULEB128(uint32(len(c.StaticFields)))
	w.ULEB128(uint32(len(c.InstanceFields)))
	w.ULEB128(uint32(len(c.DirectMethods)))
	w.ULEB128(uint32(len(c.VirtualMethods)))
	for _, list := range [][]EncodedField{c.StaticFields, c.InstanceFields} {
		var prev uint32
		for _, f := range list {
			w.ULEB128(f.FieldIdx - prev)
			w.ULEB128(f.AccessFlags)
			prev = f.FieldIdx
		}
	}
	for _, list := range [][]EncodedMethod{c.DirectMethods, c.VirtualMethods} {
		var prev uint32
		for _, m := range list {
			w.ULEB128(m.MethodIdx - prev)
			w.ULEB128(m.AccessFlags)
			w.ULEB128(m.CodeOff)
			prev = m.MethodIdx
		}
	}
}

// TypeAddr is a typed catch clause: the exception type and the
// handler address.
type TypeAddr struct {
	TypeIdx uint32
	Addr    uint32
}

// CatchHandler is an encoded_catch_handler.
type CatchHandler struct {
	Handlers    []TypeAddr
	HasCatchAll bool
	CatchAll    uint32
}

// Try is a try_item. Handler indexes Code.Handlers.
type Try struct {
	StartAddr uint32
	InsnCount uint16
	Handler   int
}

// Code is a code_item.
type Code struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	DebugInfoOff  uint32
	Insns         []uint16
	Tries         []Try
	Handlers      []CatchHandler
}

// CodeDebugInfoOffset is the position of the debug_info_off field
// within an encoded code item.
const CodeDebugInfoOffset = 8

// Code reads the code item at offset off.
func (d *Dex) Code(off uint32) (Code, error) {
	var c Code
	r := d.Reader(off)
	c.RegistersSize = r.U2()
	c.InsSize = r.U2()
	c.OutsSize = r.U2()
	ntries := r.U2()
	c.DebugInfoOff = r.U4()
	ninsns := r.U4()
	if r.Err() == nil && int(ninsns) > r.Remaining()/2 {
		return c, errors.E(errors.Invalid, fmt.Sprintf("dex: code at 0x%x: bad instruction count %d", off, ninsns))
	}
	c.Insns = make([]uint16, ninsns)
	for i := range c.Insns {
		c.Insns[i] = r.U2()
	}
	if ntries == 0 {
		if err := r.Err(); err != nil {
			return c, errors.E(fmt.Sprintf("dex: code at 0x%x", off), err)
		}
		return c, nil
	}
	if ninsns%2 != 0 {
		r.U2()
	}
	type rawTry struct {
		start uint32
		count uint16
		off   uint16
	}
	raw := make([]rawTry, ntries)
	for i := range raw {
		raw[i] = rawTry{r.U4(), r.U2(), r.U2()}
	}
	base := r.Pos()
	nhandlers := r.ULEB128()
	if r.Err() == nil && int(nhandlers) > r.Remaining() {
		return c, errors.E(errors.Invalid, fmt.Sprintf("dex: code at 0x%x: bad handler count %d", off, nhandlers))
	}
	byOff := make(map[int]int)
	c.Handlers = make([]CatchHandler, nhandlers)
	for i := range c.Handlers {
		byOff[r.Pos()-base] = i
		size := r.SLEB128()
		h := &c.Handlers[i]
		n := size
		if n < 0 {
			n = -n
		}
		if r.Err() == nil && int(n) > r.Remaining() {
			return c, errors.E(errors.Invalid, fmt.Sprintf("dex: code at 0x%x: bad handler size %d", off, size))
		}
		h.Handlers = make([]TypeAddr, n)
		for j := range h.Handlers {
			h.Handlers[j] = TypeAddr{TypeIdx: r.ULEB128(), Addr: r.ULEB128()}
		}
		if size <= 0 {
			h.HasCatchAll = true
			h.CatchAll = r.ULEB128()
		}
	}
	if err := r.Err(); err != nil {
		return c, errors.E(fmt.Sprintf("dex: code at 0x%x", off), err)
	}
	c.Tries = make([]Try, ntries)
	for i, t := range raw {
		h, ok := byOff[int(t.off)]
		if !ok {
			return c, errors.E(errors.Invalid, fmt.Sprintf("dex: code at 0x%x: try %d: no handler at offset %d", off, i, t.off))
		}
		c.Tries[i] = Try{StartAddr: t.start, InsnCount: t.count, Handler: h}
	}
	return c, nil
}

// Encode encodes the code item. It must be placed at a 4-byte
// aligned offset.
func (c Code) Encode(w *dexio.Writer) {
	w.U2(c.RegistersSize)
	w.U2(c.InsSize)
	w.U2(c.OutsSize)
	w.U2(uint16(len(c.Tries)))
	w.U4(c.DebugInfoOff)
	w.U4(uint32(len(c.Insns)))
	for _, insn := range c.Insns {
		w.U2(insn)
	}
	if len(c.Tries) == 0 {
		return
	}
	if len(c.Insns)%2 != 0 {
		w.U2(0)
	}
	tries := w.Len()
	for _, t := range c.Tries {
		w.U4(t.StartAddr)
		w.U2(t.InsnCount)
		w.U2(0)
	}
	base := w.Len()
	offs := make([]int, len(c.Handlers))
	w.ULEB128(uint32(len(c.Handlers)))
	for i, h := range c.Handlers {
		offs[i] = w.Len() - base
		size := int32(len(h.Handlers))
		if h.HasCatchAll {
			size = -size
		}
		w.SLEB128(size)
		for _, p := range h.Handlers {
			w.ULEB128(p.TypeIdx)
			w.ULEB128(p.Addr)
		}
		if h.HasCatchAll {
			w.ULEB128(h.CatchAll)
		}
	}
	buf := w.Bytes()
	for i, t := range c.Tries {
		off := offs[t.Handler]
		p := tries + i*8 + 6
		buf[p] = byte(off)
		buf[p+1] = byte(off >> 8)
	}
}

// EncodeStringData encodes a string_data_item from modified UTF-8
// bytes and the string's UTF-16 length.
func EncodeStringData(w *dexio.Writer, data []byte, utf16Len uint32) {
	w.ULEB128(utf16Len)
	w.Write(data)
	w.U1(0)
}
