// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package indexmap

import "fmt"

// OffsetKind names one of the offset-addressed structure kinds
// tracked by an index map.
type OffsetKind int

const (
	TypeListOffset OffsetKind = iota
	AnnotationOffset
	AnnotationSetOffset
	AnnotationSetRefListOffset
	AnnotationDirectoryOffset
	StaticValuesOffset
	numOffsetKinds
)

var offsetKindNames = [numOffsetKinds]string{
	"type list",
	"annotation",
	"annotation set",
	"annotation set ref list",
	"annotations directory",
	"static values",
}

func (k OffsetKind) String() string {
	if k < 0 || k >= numOffsetKinds {
		return fmt.Sprintf("offset(%d)", int(k))
	}
	return offsetKindNames[k]
}

// MissError is the panic value raised when an offset is looked up
// before it was registered. It indicates that structures were placed
// out of dependency order.
type MissError struct {
	Kind   OffsetKind
	Offset uint32
}

func (e *MissError) Error() string {
	return fmt.Sprintf("indexmap: %s at source offset 0x%x was never placed", e.Kind, e.Offset)
}

type offsets struct {
	m [numOffsetKinds]map[uint32]uint32
}

func newOffsets() offsets {
	var o offsets
	for k := range o.m {
		o.m[k] = make(map[uint32]uint32)
	}
	for _, k := range []OffsetKind{TypeListOffset, AnnotationSetOffset, AnnotationDirectoryOffset, StaticValuesOffset} {
		o.m[k][0] = 0
	}
	return o
}

func (o offsets) lookup(kind OffsetKind, old uint32) uint32 {
	new, ok := o.m[kind][old]
	if !ok {
		panic(&MissError{kind, old})
	}
	return new
}

// Placed tells whether the structure of the given kind at source
// offset old has been registered.
func (o offsets) Placed(kind OffsetKind, old uint32) bool {
	_, ok := o.m[kind][old]
	return ok
}

// AdjustTypeListOffset returns the target offset of a type list.
func (o offsets) AdjustTypeListOffset(old uint32) uint32 {
	return o.lookup(TypeListOffset, old)
}

// AdjustAnnotation returns the target offset of an annotation.
func (o offsets) AdjustAnnotation(old uint32) uint32 {
	return o.lookup(AnnotationOffset, old)
}

// AdjustAnnotationSet returns the target offset of an annotation set.
func (o offsets) AdjustAnnotationSet(old uint32) uint32 {
	return o.lookup(AnnotationSetOffset, old)
}

// AdjustAnnotationSetRefList returns the target offset of an
// annotation set ref list.
func (o offsets) AdjustAnnotationSetRefList(old uint32) uint32 {
	return o.lookup(AnnotationSetRefListOffset, old)
}

// AdjustAnnotationDirectory returns the target offset of an
// annotations directory.
func (o offsets) AdjustAnnotationDirectory(old uint32) uint32 {
	return o.lookup(AnnotationDirectoryOffset, old)
}

// AdjustStaticValues returns the target offset of a static values
// array.
func (o offsets) AdjustStaticValues(old uint32) uint32 {
	return o.lookup(StaticValuesOffset, old)
}
