// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"fmt"

	"github.com/grailbio/dexmerge/dexio"
)

// NoIndex is the sentinel for an absent string or type index.
const NoIndex = dexio.NoIndex

// MaxIndex is the number of entries addressable by a 16-bit index.
// It bounds the type, proto, field and method tables of a single
// dex image.
const MaxIndex = 1 << 16

const (
	// HeaderSize is the size of the dex header.
	HeaderSize = 0x70
	// EndianTag is the value of the header's endian_tag field in
	// little-endian images.
	EndianTag = 0x12345678
)

// Magic is the default magic for images written by this package.
var Magic = [8]byte{'d', 'e', 'x', '\n', '0', '3', '5', 0}

// Sizes of the fixed-size id items.
const (
	StringIDSize = 4
	TypeIDSize   = 4
	ProtoIDSize  = 12
	FieldIDSize  = 8
	MethodIDSize = 8
	ClassDefSize = 32
)

// ItemType is the type code of a section in the map list.
type ItemType uint16

// Item types, as listed in a dex map list.
const (
	ItemHeader               ItemType = 0x0000
	ItemStringID             ItemType = 0x0001
	ItemTypeID               ItemType = 0x0002
	ItemProtoID              ItemType = 0x0003
	ItemFieldID              ItemType = 0x0004
	ItemMethodID             ItemType = 0x0005
	ItemClassDef             ItemType = 0x0006
	ItemCallSiteID           ItemType = 0x0007
	ItemMethodHandle         ItemType = 0x0008
	ItemMapList              ItemType = 0x1000
	ItemTypeList             ItemType = 0x1001
	ItemAnnotationSetRefList ItemType = 0x1002
	ItemAnnotationSet        ItemType = 0x1003
	ItemClassData            ItemType = 0x2000
	ItemCode                 ItemType = 0x2001
	ItemStringData           ItemType = 0x2002
	ItemDebugInfo            ItemType = 0x2003
	ItemAnnotation           ItemType = 0x2004
	ItemEncodedArray         ItemType = 0x2005
	ItemAnnotationsDirectory ItemType = 0x2006
)

var itemNames = map[ItemType]string{
	ItemHeader:               "header",
	ItemStringID:             "string_id",
	ItemTypeID:               "type_id",
	ItemProtoID:              "proto_id",
	ItemFieldID:              "field_id",
	ItemMethodID:             "method_id",
	ItemClassDef:             "class_def",
	ItemCallSiteID:           "call_site_id",
	ItemMethodHandle:         "method_handle",
	ItemMapList:              "map_list",
	ItemTypeList:             "type_list",
	ItemAnnotationSetRefList: "annotation_set_ref_list",
	ItemAnnotationSet:        "annotation_set",
	ItemClassData:            "class_data",
	ItemCode:                 "code",
	ItemStringData:           "string_data",
	ItemDebugInfo:            "debug_info",
	ItemAnnotation:           "annotation",
	ItemEncodedArray:         "encoded_array",
	ItemAnnotationsDirectory: "annotations_directory",
}

func (t ItemType) String() string {
	if name, ok := itemNames[t]; ok {
		return name
	}
	return fmt.Sprintf("item(0x%04x)", uint16(t))
}

// Alignment returns the required alignment of items of type t.
func (t ItemType) Alignment() int {
	switch t {
	case ItemClassData, ItemStringData, ItemDebugInfo, ItemAnnotation, ItemEncodedArray:
		return 1
	}
	return 4
}

// Access flags used when presenting classes and members.
const (
	AccPublic      = 0x1
	AccPrivate     = 0x2
	AccProtected   = 0x4
	AccStatic      = 0x8
	AccFinal       = 0x10
	AccNative      = 0x100
	AccInterface   = 0x200
	AccAbstract    = 0x400
	AccSynthetic   = 0x1000
	AccEnum        = 0x4000
	AccConstructor = 0x10000
)

// Annotation visibilities.
const (
	VisibilityBuild   = 0x00
	VisibilityRuntime = 0x01
	VisibilitySystem  = 0x02
)
