// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package indexmap

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/encval"
)

// AdjustEncodedValue transcodes the encoded value read from r into a
// fresh buffer, translating every reference it embeds.
func (d *Dense) AdjustEncodedValue(r *dexio.Reader) ([]byte, error) {
	var w dexio.Writer
	if err := encval.Transcode(r, &w, d); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// AdjustEncodedArray transcodes the encoded_array read from r (as
// found in an encoded_array_item, without a header byte) into a
// fresh buffer.
func (d *Dense) AdjustEncodedArray(r *dexio.Reader) ([]byte, error) {
	var w dexio.Writer
	if err := encval.TranscodeArray(r, &w, d); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// AdjustAnnotationItem transcodes the annotation_item read from r:
// its visibility byte followed by an encoded annotation.
func (d *Dense) AdjustAnnotationItem(r *dexio.Reader) ([]byte, error) {
	var w dexio.Writer
	vis := r.U1()
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch vis {
	case dex.VisibilityBuild, dex.VisibilityRuntime, dex.VisibilitySystem:
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("indexmap: bad annotation visibility 0x%02x at offset %d", vis, r.Pos()-1))
	}
	w.U1(vis)
	if err := encval.TranscodeAnnotation(r, &w, d); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// AdjustMethodID returns m with its class, proto and name
// translated.
func (d *Dense) AdjustMethodID(m dex.MethodID) dex.MethodID {
	return dex.MethodID{
		ClassIdx: uint16(d.AdjustType(uint32(m.ClassIdx))),
		ProtoIdx: uint16(d.AdjustProto(uint32(m.ProtoIdx))),
		NameIdx:  d.AdjustString(m.NameIdx),
	}
}

// AdjustFieldID returns f with its class, type and name translated.
func (d *Dense) AdjustFieldID(f dex.FieldID) dex.FieldID {
	return dex.FieldID{
		ClassIdx: uint16(d.AdjustType(uint32(f.ClassIdx))),
		TypeIdx:  uint16(d.AdjustType(uint32(f.TypeIdx))),
		NameIdx:  d.AdjustString(f.NameIdx),
	}
}

// AdjustProtoID returns p with its shorty, return type and parameter
// list translated. The parameter list must have been placed.
func (m *IndexMap) AdjustProtoID(p dex.ProtoID) dex.ProtoID {
	return dex.ProtoID{
		ShortyIdx:     m.AdjustString(p.ShortyIdx),
		ReturnTypeIdx: m.AdjustType(p.ReturnTypeIdx),
		ParametersOff: m.AdjustTypeListOffset(p.ParametersOff),
	}
}

// AdjustClassDef returns c with its type, superclass and interface
// list translated. The access flags are copied. The source file,
// annotations, class data and static values fields are copied
// untranslated: they refer to the source image, and must be
// resolved by the caller (see ResolveClassDef) once the class's
// data has been placed.
func (m *IndexMap) AdjustClassDef(c dex.ClassDef) dex.ClassDef {
	return dex.ClassDef{
		ClassIdx:        m.AdjustType(c.ClassIdx),
		AccessFlags:     c.AccessFlags,
		SuperclassIdx:   m.AdjustType(c.SuperclassIdx),
		InterfacesOff:   m.AdjustTypeListOffset(c.InterfacesOff),
		SourceFileIdx:   c.SourceFileIdx,
		AnnotationsOff:  c.AnnotationsOff,
		ClassDataOff:    c.ClassDataOff,
		StaticValuesOff: c.StaticValuesOff,
	}
}

// ResolveClassDef completes a class definition produced by
// AdjustClassDef: the source file is translated through the string
// table, the annotations and static values offsets through their
// offset tables, and the class data offset is replaced by
// classDataOff, the target offset at which the caller placed the
// class's data.
func (m *IndexMap) ResolveClassDef(c dex.ClassDef, classDataOff uint32) dex.ClassDef {
	c.SourceFileIdx = m.AdjustString(c.SourceFileIdx)
	c.AnnotationsOff = m.AdjustAnnotationDirectory(c.AnnotationsOff)
	c.StaticValuesOff = m.AdjustStaticValues(c.StaticValuesOff)
	c.ClassDataOff = classDataOff
	return c
}

// A SortableType pairs a class definition with the information
// needed to order class definitions so that every class follows its
// superclass and interfaces.
type SortableType struct {
	// Source is the image that defines the class.
	Source *dex.Dex
	// Map is the index map of Source.
	Map *IndexMap
	// Def is the class definition, in either source or target index
	// space.
	Def dex.ClassDef
	// Interfaces holds the class's interfaces, in the same index
	// space as Def.
	Interfaces dex.TypeList
	// Depth is the class's depth in the type hierarchy, or -1 if not
	// yet assigned.
	Depth int
}

// NewSortableType returns the sortable type for class definition
// def of src, whose index map is m.
func NewSortableType(src *dex.Dex, m *IndexMap, def dex.ClassDef) (SortableType, error) {
	interfaces, err := src.TypeList(def.InterfacesOff)
	if err != nil {
		return SortableType{}, err
	}
	return SortableType{Source: src, Map: m, Def: def, Interfaces: interfaces, Depth: -1}, nil
}

// AdjustSortableType returns t with its class definition and
// interfaces translated into the target index space.
func (m *IndexMap) AdjustSortableType(t SortableType) SortableType {
	return SortableType{
		Source:     t.Source,
		Map:        t.Map,
		Def:        m.AdjustClassDef(t.Def),
		Interfaces: m.AdjustTypeList(t.Interfaces),
		Depth:      t.Depth,
	}
}

// TryAssignDepth assigns t's depth from the depths of its superclass
// and interfaces, which are looked up in types by (target) type
// index; types that are not defined in types count as depth 1, so a
// class extending only external types has depth 2. It returns false if a supertype's depth is not yet known, and an
// errors.Invalid error if the class is its own supertype.
func (t *SortableType) TryAssignDepth(types []*SortableType) (bool, error) {
	max := 0
	super := func(idx uint32) (bool, error) {
		if idx == t.Def.ClassIdx {
			return false, errors.E(errors.Invalid, fmt.Sprintf("indexmap: class with type index %d extends itself", idx))
		}
		if int(idx) >= len(types) || types[idx] == nil {
			if max < 1 {
				max = 1
			}
			return true, nil
		}
		if types[idx].Depth < 0 {
			return false, nil
		}
		if d := types[idx].Depth; d > max {
			max = d
		}
		return true, nil
	}
	if t.Def.SuperclassIdx != dex.NoIndex {
		if ok, err := super(t.Def.SuperclassIdx); !ok || err != nil {
			return false, err
		}
	}
	for _, iface := range t.Interfaces {
		if ok, err := super(uint32(iface)); !ok || err != nil {
			return false, err
		}
	}
	t.Depth = max + 1
	return true, nil
}
