// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dextest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/encval"
)

// member is a field or method definition with its resolved index.
type member struct {
	idx   uint32
	field *Field
	meth  *Method
}

type classLayout struct {
	class             *Class
	static, instance  []member
	direct, virtual   []member
	interfacesOff     uint32
	annotationsOff    uint32
	staticValuesOff   uint32
	classDataOff      uint32
	codeOff, debugOff map[uint32]uint32
	paramLists        map[uint32]uint32
}

type writer struct {
	p       *pools
	classes []classLayout
	img     *dex.Image

	typeLists map[string]uint32
}

func newWriter(p *pools, classes []Class) *writer {
	w := &writer{p: p, img: dex.NewImage(), typeLists: make(map[string]uint32)}
	for i := range classes {
		c := &classes[i]
		l := classLayout{
			class:      c,
			codeOff:    make(map[uint32]uint32),
			debugOff:   make(map[uint32]uint32),
			paramLists: make(map[uint32]uint32),
		}
		for j := range c.StaticFields {
			f := &c.StaticFields[j]
			l.static = append(l.static, member{idx: p.fields[FieldRef{c.Name, f.Name, f.Type}], field: f})
		}
		for j := range c.InstanceFields {
			f := &c.InstanceFields[j]
			l.instance = append(l.instance, member{idx: p.fields[FieldRef{c.Name, f.Name, f.Type}], field: f})
		}
		for j := range c.DirectMethods {
			m := &c.DirectMethods[j]
			l.direct = append(l.direct, member{idx: p.methods[MethodRef{c.Name, m.Name, m.Return, m.Params}.key()], meth: m})
		}
		for j := range c.VirtualMethods {
			m := &c.VirtualMethods[j]
			l.virtual = append(l.virtual, member{idx: p.methods[MethodRef{c.Name, m.Name, m.Return, m.Params}.key()], meth: m})
		}
		for _, list := range [][]member{l.static, l.instance, l.direct, l.virtual} {
			sort.Slice(list, func(i, j int) bool { return list[i].idx < list[j].idx })
		}
		w.classes = append(w.classes, l)
	}
	return w
}

func (w *writer) write() (buf []byte, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("dextest: %v", e)
		}
	}()
	p := w.p
	stringIDs := w.img.Reserve(dex.ItemStringID, len(p.strings))
	typeIDs := w.img.Reserve(dex.ItemTypeID, len(p.types))
	protoIDs := w.img.Reserve(dex.ItemProtoID, len(p.protos))
	fieldIDs := w.img.Reserve(dex.ItemFieldID, len(p.fields))
	methodIDs := w.img.Reserve(dex.ItemMethodID, len(p.methods))
	classDefs := w.img.Reserve(dex.ItemClassDef, len(w.classes))
	w.img.BeginData()

	w.writeTypeLists()
	w.writeAnnotations()
	w.writeStaticValues()
	w.writeCode()
	w.writeClassData()

	// String data.
	w.img.Begin(dex.ItemStringData)
	strs := make([]string, len(p.strings))
	for s, i := range p.strings {
		strs[i] = s
	}
	for i, s := range strs {
		w.img.PutU4(int(stringIDs)+dex.StringIDSize*i, w.img.Item())
		data, n := dexio.EncodeMUTF8(s)
		dex.EncodeStringData(&w.img.Writer, data, uint32(n))
	}

	for i, t := range p.typeOrder {
		w.img.PutU4(int(typeIDs)+dex.TypeIDSize*i, p.strings[t])
	}
	for i, proto := range p.protoOrder {
		off := int(protoIDs) + dex.ProtoIDSize*i
		w.img.PutU4(off, p.strings[shorty(proto.ret, proto.params)])
		w.img.PutU4(off+4, p.types[proto.ret])
		w.img.PutU4(off+8, w.typeListOff(proto.params))
	}
	for i, f := range p.fieldOrder {
		off := int(fieldIDs) + dex.FieldIDSize*i
		w.img.PutU2(off, uint16(p.types[f.Class]))
		w.img.PutU2(off+2, uint16(p.types[f.Type]))
		w.img.PutU4(off+4, p.strings[f.Name])
	}
	for i, m := range p.methodOrder {
		off := int(methodIDs) + dex.MethodIDSize*i
		w.img.PutU2(off, uint16(p.types[m.Class]))
		w.img.PutU2(off+2, uint16(p.protos[protoKey(m.Return, m.Params)]))
		w.img.PutU4(off+4, p.strings[m.Name])
	}
	for i := range w.classes {
		l := &w.classes[i]
		c := l.class
		off := int(classDefs) + dex.ClassDefSize*i
		w.img.PutU4(off, p.types[c.Name])
		w.img.PutU4(off+4, c.Access)
		super := uint32(dex.NoIndex)
		if s := c.super(); s != "" {
			super = p.types[s]
		}
		w.img.PutU4(off+8, super)
		w.img.PutU4(off+12, l.interfacesOff)
		source := uint32(dex.NoIndex)
		if c.SourceFile != "" {
			source = p.strings[c.SourceFile]
		}
		w.img.PutU4(off+16, source)
		w.img.PutU4(off+20, l.annotationsOff)
		w.img.PutU4(off+24, l.classDataOff)
		w.img.PutU4(off+28, l.staticValuesOff)
	}
	return w.img.Finish(), nil
}

func typeListKey(types []string) string {
	return strings.Join(types, "")
}

func (w *writer) typeListOff(types []string) uint32 {
	if len(types) == 0 {
		return 0
	}
	off, ok := w.typeLists[typeListKey(types)]
	if !ok {
		panic(fmt.Sprintf("type list %v not placed", types))
	}
	return off
}

func (w *writer) writeTypeLists() {
	var lists [][]string
	add := func(types []string) {
		if len(types) == 0 {
			return
		}
		key := typeListKey(types)
		if _, ok := w.typeLists[key]; ok {
			return
		}
		w.typeLists[key] = 0
		lists = append(lists, types)
	}
	for _, proto := range w.p.protoOrder {
		add(proto.params)
	}
	for _, l := range w.classes {
		add(l.class.Interfaces)
	}
	if len(lists) == 0 {
		return
	}
	w.img.Begin(dex.ItemTypeList)
	for _, types := range lists {
		w.typeLists[typeListKey(types)] = w.img.Item()
		w.p.typeList(types).Encode(&w.img.Writer)
	}
	for i := range w.classes {
		w.classes[i].interfacesOff = w.typeListOff(w.classes[i].class.Interfaces)
	}
}

func (w *writer) annotationSet(annos []Annotation, annoOffs map[*Annotation]uint32) dex.Offsets {
	type entry struct {
		typ uint32
		off uint32
	}
	var entries []entry
	for i := range annos {
		entries = append(entries, entry{w.p.types[annos[i].Type], annoOffs[&annos[i]]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].typ < entries[j].typ })
	set := make(dex.Offsets, len(entries))
	for i, e := range entries {
		set[i] = e.off
	}
	return set
}

func (w *writer) writeAnnotations() {
	// Annotation items.
	annoOffs := make(map[*Annotation]uint32)
	var begun bool
	emit := func(annos []Annotation) {
		for i := range annos {
			if !begun {
				w.img.Begin(dex.ItemAnnotation)
				begun = true
			}
			a := &annos[i]
			annoOffs[a] = w.img.Item()
			w.img.U1(a.Visibility)
			encval.EncodeAnnotation(&w.img.Writer, w.p.resolveAnnotation(*a))
		}
	}
	w.eachAnnotationSet(emit)
	if !begun {
		return
	}

	// Annotation sets.
	setOffs := make(map[*Annotation]uint32)
	w.img.Begin(dex.ItemAnnotationSet)
	w.eachAnnotationSet(func(annos []Annotation) {
		if len(annos) == 0 {
			return
		}
		off := w.img.Item()
		w.annotationSet(annos, annoOffs).Encode(&w.img.Writer)
		setOffs[&annos[0]] = off
	})
	setOff := func(annos []Annotation) uint32 {
		if len(annos) == 0 {
			return 0
		}
		return setOffs[&annos[0]]
	}

	// Parameter annotation ref lists.
	var refBegun bool
	for i := range w.classes {
		l := &w.classes[i]
		for _, list := range [][]member{l.direct, l.virtual} {
			for _, m := range list {
				if len(m.meth.ParamAnnotations) == 0 {
					continue
				}
				if !refBegun {
					w.img.Begin(dex.ItemAnnotationSetRefList)
					refBegun = true
				}
				l.paramLists[m.idx] = w.img.Item()
				refs := make(dex.Offsets, len(m.meth.ParamAnnotations))
				for j, annos := range m.meth.ParamAnnotations {
					refs[j] = setOff(annos)
				}
				refs.Encode(&w.img.Writer)
			}
		}
	}

	// Directories.
	var dirBegun bool
	for i := range w.classes {
		l := &w.classes[i]
		var dir dex.AnnotationsDirectory
		dir.ClassAnnotationsOff = setOff(l.class.Annotations)
		for _, list := range [][]member{l.static, l.instance} {
			for _, m := range list {
				if off := setOff(m.field.Annotations); off != 0 {
					dir.Fields = append(dir.Fields, dex.MemberAnnotations{Idx: m.idx, Off: off})
				}
			}
		}
		for _, list := range [][]member{l.direct, l.virtual} {
			for _, m := range list {
				if off := setOff(m.meth.Annotations); off != 0 {
					dir.Methods = append(dir.Methods, dex.MemberAnnotations{Idx: m.idx, Off: off})
				}
				if off, ok := l.paramLists[m.idx]; ok {
					dir.Parameters = append(dir.Parameters, dex.MemberAnnotations{Idx: m.idx, Off: off})
				}
			}
		}
		if dir.ClassAnnotationsOff == 0 && len(dir.Fields) == 0 && len(dir.Methods) == 0 && len(dir.Parameters) == 0 {
			continue
		}
		for _, list := range [][]dex.MemberAnnotations{dir.Fields, dir.Methods, dir.Parameters} {
			sort.Slice(list, func(i, j int) bool { return list[i].Idx < list[j].Idx })
		}
		if !dirBegun {
			w.img.Begin(dex.ItemAnnotationsDirectory)
			dirBegun = true
		}
		l.annotationsOff = w.img.Item()
		dir.Encode(&w.img.Writer)
	}
}

// eachAnnotationSet calls fn for every annotation set in the image,
// in a fixed order.
func (w *writer) eachAnnotationSet(fn func(annos []Annotation)) {
	for i := range w.classes {
		l := &w.classes[i]
		fn(l.class.Annotations)
		for _, list := range [][]member{l.static, l.instance} {
			for _, m := range list {
				fn(m.field.Annotations)
			}
		}
		for _, list := range [][]member{l.direct, l.virtual} {
			for _, m := range list {
				fn(m.meth.Annotations)
				for _, annos := range m.meth.ParamAnnotations {
					fn(annos)
				}
			}
		}
	}
}

// zero returns the default value of a field of type desc.
func zero(desc string) encval.Value {
	switch desc {
	case "Z":
		return encval.Boolean(false)
	case "B":
		return encval.Byte(0)
	case "S":
		return encval.Short(0)
	case "C":
		return encval.Char(0)
	case "I":
		return encval.Int(0)
	case "J":
		return encval.Long(0)
	case "F":
		return encval.Float(0)
	case "D":
		return encval.Double(0)
	}
	return encval.Null{}
}

func (w *writer) writeStaticValues() {
	var begun bool
	for i := range w.classes {
		l := &w.classes[i]
		last := -1
		for j, m := range l.static {
			if m.field.Value != nil {
				last = j
			}
		}
		if last < 0 {
			continue
		}
		var values encval.Array
		for _, m := range l.static[:last+1] {
			if m.field.Value == nil {
				values = append(values, zero(m.field.Type))
			} else {
				values = append(values, m.field.Value.resolve(w.p))
			}
		}
		if !begun {
			w.img.Begin(dex.ItemEncodedArray)
			begun = true
		}
		l.staticValuesOff = w.img.Item()
		encval.EncodeArray(&w.img.Writer, values)
	}
}

func (w *writer) writeDebugInfo(d *Debug) {
	p := w.p
	w.img.ULEB128(d.Line)
	w.img.ULEB128(uint32(len(d.ParamNames)))
	for _, name := range d.ParamNames {
		if name == "" {
			w.img.ULEB128p1(dex.NoIndex)
		} else {
			w.img.ULEB128p1(p.strings[name])
		}
	}
	for _, local := range d.Locals {
		if local.Signature == "" {
			w.img.U1(dex.DbgStartLocal)
		} else {
			w.img.U1(dex.DbgStartLocalExtended)
		}
		w.img.ULEB128(local.Reg)
		w.img.ULEB128p1(p.strings[local.Name])
		w.img.ULEB128p1(p.types[local.Type])
		if local.Signature != "" {
			w.img.ULEB128p1(p.strings[local.Signature])
		}
	}
	if d.SourceFile != "" {
		w.img.U1(dex.DbgSetFile)
		w.img.ULEB128p1(p.strings[d.SourceFile])
	}
	// Emit a position entry for address 0 at the starting line.
	w.img.U1(dex.DbgFirstSpecial + 4)
	w.img.U1(dex.DbgEndSequence)
}

func (w *writer) eachCode(fn func(l *classLayout, m member)) {
	for i := range w.classes {
		l := &w.classes[i]
		for _, list := range [][]member{l.direct, l.virtual} {
			for _, m := range list {
				if m.meth.Code != nil {
					fn(l, m)
				}
			}
		}
	}
}

func (w *writer) writeCode() {
	var begun bool
	w.eachCode(func(l *classLayout, m member) {
		if m.meth.Code.Debug == nil {
			return
		}
		if !begun {
			w.img.Begin(dex.ItemDebugInfo)
			begun = true
		}
		l.debugOff[m.idx] = w.img.Item()
		w.writeDebugInfo(m.meth.Code.Debug)
	})
	begun = false
	w.eachCode(func(l *classLayout, m member) {
		if !begun {
			w.img.Begin(dex.ItemCode)
			begun = true
		}
		l.codeOff[m.idx] = w.img.Item()
		w.encodeCode(m.meth.Code, l.debugOff[m.idx]).Encode(&w.img.Writer)
	})
}

func (w *writer) encodeCode(code *Code, debugOff uint32) dex.Code {
	p := w.p
	c := dex.Code{
		RegistersSize: code.Registers,
		InsSize:       code.Ins,
		OutsSize:      code.Outs,
		DebugInfoOff:  debugOff,
	}
	for _, in := range code.Insns {
		units := append([]uint16(nil), in.Units...)
		var idx uint32
		switch ref := in.Ref.(type) {
		case nil:
		case stringRef:
			idx = p.strings[string(ref)]
		case typeRef:
			idx = p.types[string(ref)]
		case FieldRef:
			idx = p.fields[ref]
		case MethodRef:
			idx = p.methods[ref.key()]
		default:
			panic(fmt.Sprintf("bad instruction reference %T", ref))
		}
		if in.Ref != nil {
			units[1] = uint16(idx)
			if in.jumbo() {
				units[2] = uint16(idx >> 16)
			}
		}
		c.Insns = append(c.Insns, units...)
	}
	for i, t := range code.Tries {
		var h dex.CatchHandler
		for _, catch := range t.Catches {
			h.Handlers = append(h.Handlers, dex.TypeAddr{TypeIdx: p.types[catch.Type], Addr: catch.Addr})
		}
		if t.CatchAll >= 0 {
			h.HasCatchAll = true
			h.CatchAll = uint32(t.CatchAll)
		}
		c.Handlers = append(c.Handlers, h)
		c.Tries = append(c.Tries, dex.Try{StartAddr: uint32(t.Start), InsnCount: t.Count, Handler: i})
	}
	return c
}

func (w *writer) writeClassData() {
	var begun bool
	for i := range w.classes {
		l := &w.classes[i]
		if len(l.static)+len(l.instance)+len(l.direct)+len(l.virtual) == 0 {
			continue
		}
		var data dex.ClassData
		for _, m := range l.static {
			data.StaticFields = append(data.StaticFields, dex.EncodedField{FieldIdx: m.idx, AccessFlags: m.field.Access})
		}
		for _, m := range l.instance {
			data.InstanceFields = append(data.InstanceFields, dex.EncodedField{FieldIdx: m.idx, AccessFlags: m.field.Access})
		}
		for _, m := range l.direct {
			data.DirectMethods = append(data.DirectMethods, dex.EncodedMethod{MethodIdx: m.idx, AccessFlags: m.meth.Access, CodeOff: l.codeOff[m.idx]})
		}
		for _, m := range l.virtual {
			data.VirtualMethods = append(data.VirtualMethods, dex.EncodedMethod{MethodIdx: m.idx, AccessFlags: m.meth.Access, CodeOff: l.codeOff[m.idx]})
		}
		if !begun {
			w.img.Begin(dex.ItemClassData)
			begun = true
		}
		l.classDataOff = w.img.Item()
		data.Encode(&w.img.Writer)
	}
}
