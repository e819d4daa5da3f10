// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package indexmap

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dex"
)

// A Builder accumulates the dense index assignments for one source
// image.
type Builder struct {
	d      Dense
	filled [numDense][]bool
}

const (
	denseString = iota
	denseType
	denseProto
	denseField
	denseMethod
	numDense
)

var denseItems = [numDense]dex.ItemType{
	denseString: dex.ItemStringID,
	denseType:   dex.ItemTypeID,
	denseProto:  dex.ItemProtoID,
	denseField:  dex.ItemFieldID,
	denseMethod: dex.ItemMethodID,
}

// NewBuilder returns a builder whose dense tables are sized from the
// source image's table of contents.
func NewBuilder(toc dex.TableOfContents) *Builder {
	b := &Builder{d: Dense{
		stringIds: make([]uint32, toc.Count(dex.ItemStringID)),
		typeIds:   make([]uint16, toc.Count(dex.ItemTypeID)),
		protoIds:  make([]uint16, toc.Count(dex.ItemProtoID)),
		fieldIds:  make([]uint16, toc.Count(dex.ItemFieldID)),
		methodIds: make([]uint16, toc.Count(dex.ItemMethodID)),
	}}
	b.filled[denseString] = make([]bool, len(b.d.stringIds))
	b.filled[denseType] = make([]bool, len(b.d.typeIds))
	b.filled[denseProto] = make([]bool, len(b.d.protoIds))
	b.filled[denseField] = make([]bool, len(b.d.fieldIds))
	b.filled[denseMethod] = make([]bool, len(b.d.methodIds))
	return b
}

func (b *Builder) fill(table, old int) {
	if old < 0 || old >= len(b.filled[table]) {
		panic(&dex.IndexError{Type: denseItems[table], Index: uint32(old), Size: len(b.filled[table])})
	}
	b.filled[table][old] = true
}

// SetString assigns target string index new to source string old.
func (b *Builder) SetString(old int, new uint32) {
	b.fill(denseString, old)
	b.d.stringIds[old] = new
}

// SetType assigns target type index new to source type old.
func (b *Builder) SetType(old int, new uint16) {
	b.fill(denseType, old)
	b.d.typeIds[old] = new
}

// SetProto assigns target proto index new to source proto old.
func (b *Builder) SetProto(old int, new uint16) {
	b.fill(denseProto, old)
	b.d.protoIds[old] = new
}

// SetField assigns target field index new to source field old.
func (b *Builder) SetField(old int, new uint16) {
	b.fill(denseField, old)
	b.d.fieldIds[old] = new
}

// SetMethod assigns target method index new to source method old.
func (b *Builder) SetMethod(old int, new uint16) {
	b.fill(denseMethod, old)
	b.d.methodIds[old] = new
}

// Seal freezes the dense tables and returns a Placer with which
// offsets may be registered. Seal returns an errors.Precondition
// error naming the first unassigned slot if any dense table is
// incomplete. The builder may not be used after Seal.
func (b *Builder) Seal() (*Placer, error) {
	for table, filled := range b.filled {
		for i, ok := range filled {
			if !ok {
				return nil, errors.E(errors.Precondition,
					fmt.Sprintf("indexmap: %s %d of %d was never assigned", denseItems[table], i, len(filled)))
			}
		}
	}
	d := new(Dense)
	*d = b.d
	b.d = Dense{}
	return &Placer{Dense: d, offsets: newOffsets()}, nil
}

// Dense holds the frozen dense tables of an index map.
type Dense struct {
	stringIds []uint32
	typeIds   []uint16
	protoIds  []uint16
	fieldIds  []uint16
	methodIds []uint16
}

func outOfRange(typ dex.ItemType, i uint32, n int) {
	panic(&dex.IndexError{Type: typ, Index: i, Size: n})
}

// AdjustString returns the target index of source string i.
// dex.NoIndex is returned unchanged.
func (d *Dense) AdjustString(i uint32) uint32 {
	if i == dex.NoIndex {
		return i
	}
	if i >= uint32(len(d.stringIds)) {
		outOfRange(dex.ItemStringID, i, len(d.stringIds))
	}
	return d.stringIds[i]
}

// AdjustType returns the target index of source type i.
// dex.NoIndex is returned unchanged.
func (d *Dense) AdjustType(i uint32) uint32 {
	if i == dex.NoIndex {
		return i
	}
	if i >= uint32(len(d.typeIds)) {
		outOfRange(dex.ItemTypeID, i, len(d.typeIds))
	}
	return uint32(d.typeIds[i])
}

// AdjustProto returns the target index of source proto i.
func (d *Dense) AdjustProto(i uint32) uint32 {
	if i >= uint32(len(d.protoIds)) {
		outOfRange(dex.ItemProtoID, i, len(d.protoIds))
	}
	return uint32(d.protoIds[i])
}

// AdjustField returns the target index of source field i.
func (d *Dense) AdjustField(i uint32) uint32 {
	if i >= uint32(len(d.fieldIds)) {
		outOfRange(dex.ItemFieldID, i, len(d.fieldIds))
	}
	return uint32(d.fieldIds[i])
}

// AdjustMethod returns the target index of source method i.
func (d *Dense) AdjustMethod(i uint32) uint32 {
	if i >= uint32(len(d.methodIds)) {
		outOfRange(dex.ItemMethodID, i, len(d.methodIds))
	}
	return uint32(d.methodIds[i])
}

// AdjustTypeList returns a copy of list with every element adjusted.
// The empty list is returned as is.
func (d *Dense) AdjustTypeList(list dex.TypeList) dex.TypeList {
	if len(list) == 0 {
		return list
	}
	out := make(dex.TypeList, len(list))
	for i, typ := range list {
		out[i] = uint16(d.AdjustType(uint32(typ)))
	}
	return out
}

// A Placer is an index map whose dense tables are frozen and whose
// offset tables are being populated as structures are placed in the
// target image.
type Placer struct {
	*Dense
	offsets
	built bool
}

func (p *Placer) put(kind OffsetKind, old, new uint32) error {
	if p.built {
		return errors.E(errors.Precondition, fmt.Sprintf("indexmap: put %s offset after Build", kind))
	}
	if int32(old) <= 0 || int32(new) <= 0 {
		return errors.E(errors.Precondition, fmt.Sprintf("indexmap: put %s offset 0x%x -> 0x%x: offsets must be positive", kind, old, new))
	}
	if prev, ok := p.m[kind][old]; ok && prev != new {
		return errors.E(errors.Precondition, fmt.Sprintf("indexmap: %s offset 0x%x already placed at 0x%x", kind, old, prev))
	}
	p.m[kind][old] = new
	return nil
}

// PutTypeListOffset registers the target offset of a type list.
func (p *Placer) PutTypeListOffset(old, new uint32) error {
	return p.put(TypeListOffset, old, new)
}

// PutAnnotationOffset registers the target offset of an annotation.
func (p *Placer) PutAnnotationOffset(old, new uint32) error {
	return p.put(AnnotationOffset, old, new)
}

// PutAnnotationSetOffset registers the target offset of an
// annotation set.
func (p *Placer) PutAnnotationSetOffset(old, new uint32) error {
	return p.put(AnnotationSetOffset, old, new)
}

// PutAnnotationSetRefListOffset registers the target offset of an
// annotation set ref list.
func (p *Placer) PutAnnotationSetRefListOffset(old, new uint32) error {
	return p.put(AnnotationSetRefListOffset, old, new)
}

// PutAnnotationDirectoryOffset registers the target offset of an
// annotations directory.
func (p *Placer) PutAnnotationDirectoryOffset(old, new uint32) error {
	return p.put(AnnotationDirectoryOffset, old, new)
}

// PutStaticValuesOffset registers the target offset of a static
// values array.
func (p *Placer) PutStaticValuesOffset(old, new uint32) error {
	return p.put(StaticValuesOffset, old, new)
}

// Build freezes the offset tables and returns the completed,
// read-only index map. No further offsets may be registered.
func (p *Placer) Build() *IndexMap {
	p.built = true
	return &IndexMap{Dense: p.Dense, offsets: p.offsets}
}

// IndexMap is a complete, read-only index map for one source image.
type IndexMap struct {
	*Dense
	offsets
}
