// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"fmt"

	"github.com/grailbio/dexmerge/dexio"
)

// Image assembles a dex image. Sections are appended in the order in
// which they are begun; the id tables are reserved up front and
// filled in place once their contents are known. A typical use is:
//
//	img := dex.NewImage()
//	off := img.Reserve(dex.ItemStringID, n)
//	img.BeginData()
//	img.Begin(dex.ItemStringData)
//	for ... {
//		img.PutU4(int(off)+4*i, img.Item())
//		dex.EncodeStringData(&img.Writer, ...)
//	}
//	buf := img.Finish()
type Image struct {
	dexio.Writer
	sections []Section
	cur      int
	dataOff  uint32
}

// NewImage returns an image with space reserved for the header.
func NewImage() *Image {
	m := &Image{cur: -1}
	m.Pad(HeaderSize)
	m.sections = append(m.sections, Section{Type: ItemHeader, Size: 1, Off: 0})
	return m
}

// Reserve appends a zeroed id table of n fixed-size items of the
// given type and returns its offset. Empty tables are not recorded.
func (m *Image) Reserve(typ ItemType, n int) uint32 {
	var size int
	switch typ {
	case ItemStringID:
		size = StringIDSize
	case ItemTypeID:
		size = TypeIDSize
	case ItemProtoID:
		size = ProtoIDSize
	case ItemFieldID:
		size = FieldIDSize
	case ItemMethodID:
		size = MethodIDSize
	case ItemClassDef:
		size = ClassDefSize
	default:
		panic(fmt.Sprintf("dex.Image.Reserve: %s is not an id table", typ))
	}
	if n == 0 {
		return 0
	}
	m.Align(4)
	off := uint32(m.Len())
	m.sections = append(m.sections, Section{Type: typ, Size: uint32(n), Off: off})
	m.cur = -1
	m.Pad(n * size)
	return off
}

// BeginData marks the start of the data area.
func (m *Image) BeginData() {
	m.Align(4)
	m.dataOff = uint32(m.Len())
	m.cur = -1
}

// Begin starts a section of data items of the given type.
func (m *Image) Begin(typ ItemType) {
	m.sections = append(m.sections, Section{Type: typ})
	m.cur = len(m.sections) - 1
}

// Item aligns the image for the next item of the current section,
// counts it, and returns its offset.
func (m *Image) Item() uint32 {
	if m.cur < 0 {
		panic("dex.Image.Item: no current section")
	}
	s := &m.sections[m.cur]
	m.Align(s.Type.Alignment())
	off := uint32(m.Len())
	if s.Size == 0 {
		s.Off = off
	}
	s.Size++
	return off
}

// Finish appends the map list, fills in the header, and computes the
// image's signature and checksum. The image may not be modified
// afterwards.
func (m *Image) Finish() []byte {
	var toc TableOfContents
	for _, s := range m.sections {
		if s.Size > 0 {
			toc.Sections = append(toc.Sections, s)
		}
	}
	if m.dataOff == 0 {
		m.BeginData()
	}
	m.Align(4)
	mapOff := uint32(m.Len())
	toc.Sections = append(toc.Sections, Section{Type: ItemMapList, Size: 1, Off: mapOff})
	toc.encode(&m.Writer)

	h := Header{
		Magic:      Magic,
		FileSize:   uint32(m.Len()),
		HeaderSize: HeaderSize,
		EndianTag:  EndianTag,
		MapOff:     mapOff,
		DataOff:    m.dataOff,
		DataSize:   uint32(m.Len()) - m.dataOff,
	}
	for _, s := range toc.Sections {
		switch s.Type {
		case ItemStringID:
			h.StringIDsSize, h.StringIDsOff = s.Size, s.Off
		case ItemTypeID:
			h.TypeIDsSize, h.TypeIDsOff = s.Size, s.Off
		case ItemProtoID:
			h.ProtoIDsSize, h.ProtoIDsOff = s.Size, s.Off
		case ItemFieldID:
			h.FieldIDsSize, h.FieldIDsOff = s.Size, s.Off
		case ItemMethodID:
			h.MethodIDsSize, h.MethodIDsOff = s.Size, s.Off
		case ItemClassDef:
			h.ClassDefsSize, h.ClassDefsOff = s.Size, s.Off
		}
	}
	buf := m.Bytes()
	copy(buf, h.encode())
	Finish(buf)
	return buf
}
