// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/indexmap"
	"github.com/grailbio/dexmerge/internal/defaultsize"
	"github.com/spaolacci/murmur3"
)

// dedup indexes the items of one section by content so that
// identical items are stored once.
type dedup struct {
	items map[uint64][]item
}

func newDedup() *dedup {
	return &dedup{items: make(map[uint64][]item)}
}

func (d *dedup) lookup(data []byte) (uint32, bool) {
	for _, it := range d.items[murmur3.Sum64(data)] {
		if bytes.Equal(it.data, data) {
			return it.off, true
		}
	}
	return 0, false
}

func (d *dedup) add(data []byte, off uint32) {
	h := murmur3.Sum64(data)
	d.items[h] = append(d.items[h], item{off, data})
}

// section places items of a single type in the target image.
type section struct {
	m     *merger
	img   *dex.Image
	typ   dex.ItemType
	dedup *dedup
	begun bool
}

func (m *merger) section(img *dex.Image, typ dex.ItemType, dedup bool) *section {
	s := &section{m: m, img: img, typ: typ}
	if dedup {
		s.dedup = newDedup()
	}
	return s
}

// place writes an encoded item, or finds an identical one already
// written, and returns its target offset.
func (s *section) place(data []byte) uint32 {
	if s.dedup != nil {
		if off, ok := s.dedup.lookup(data); ok {
			s.m.stats.Int("dedup").Add(1)
			return off
		}
	}
	if !s.begun {
		s.img.Begin(s.typ)
		s.begun = true
	}
	off := s.img.Item()
	s.img.Write(data)
	if s.dedup != nil {
		s.dedup.add(data, off)
	}
	return off
}

func encode(fn func(w *dexio.Writer)) []byte {
	var w dexio.Writer
	fn(&w)
	return w.Bytes()
}

// put registers a placement, converting a rejected registration into
// a fatal error.
func put(u *unit, err error) error {
	if err != nil {
		return errors.E(errors.Fatal, u.Name, err)
	}
	return nil
}

// layout lays out the target image and returns it.
func (m *merger) layout() ([]byte, error) {
	img := dex.NewImage()
	img.Grow(defaultsize.ImageCapacity)
	var (
		stringIDs = img.Reserve(dex.ItemStringID, len(m.strings))
		typeIDs   = img.Reserve(dex.ItemTypeID, len(m.types))
		protoIDs  = img.Reserve(dex.ItemProtoID, len(m.protos))
		fieldIDs  = img.Reserve(dex.ItemFieldID, len(m.fields))
		methodIDs = img.Reserve(dex.ItemMethodID, len(m.methods))
		classDefs = img.Reserve(dex.ItemClassDef, m.nclasses)
	)
	img.BeginData()

	var cur *unit
	err := guard(&cur, func() error {
		s := m.section(img, dex.ItemTypeList, true)
		for _, u := range m.units {
			cur = u
			for _, it := range u.plan.typeLists {
				off := s.place(encode(it.list.Encode))
				if err := put(u, u.placer.PutTypeListOffset(it.off, off)); err != nil {
					return err
				}
			}
		}
		s = m.section(img, dex.ItemAnnotation, true)
		for _, u := range m.units {
			cur = u
			for _, it := range u.plan.annotations {
				if err := put(u, u.placer.PutAnnotationOffset(it.off, s.place(it.data))); err != nil {
					return err
				}
			}
		}
		s = m.section(img, dex.ItemAnnotationSet, true)
		for _, u := range m.units {
			cur = u
			for _, it := range u.plan.annotationSets {
				set := make(dex.Offsets, len(it.entries))
				for i, off := range it.entries {
					set[i] = u.placer.AdjustAnnotation(off)
				}
				if err := put(u, u.placer.PutAnnotationSetOffset(it.off, s.place(encode(set.Encode)))); err != nil {
					return err
				}
			}
		}
		s = m.section(img, dex.ItemAnnotationSetRefList, true)
		for _, u := range m.units {
			cur = u
			for _, it := range u.plan.refLists {
				refs := make(dex.Offsets, len(it.entries))
				for i, off := range it.entries {
					refs[i] = u.placer.AdjustAnnotationSet(off)
				}
				if err := put(u, u.placer.PutAnnotationSetRefListOffset(it.off, s.place(encode(refs.Encode)))); err != nil {
					return err
				}
			}
		}
		s = m.section(img, dex.ItemAnnotationsDirectory, false)
		for _, u := range m.units {
			cur = u
			for _, it := range u.plan.dirs {
				dir := it.dir
				dir.ClassAnnotationsOff = u.placer.AdjustAnnotationSet(dir.ClassAnnotationsOff)
				for i := range dir.Fields {
					dir.Fields[i].Off = u.placer.AdjustAnnotationSet(dir.Fields[i].Off)
				}
				for i := range dir.Methods {
					dir.Methods[i].Off = u.placer.AdjustAnnotationSet(dir.Methods[i].Off)
				}
				for i := range dir.Parameters {
					dir.Parameters[i].Off = u.placer.AdjustAnnotationSetRefList(dir.Parameters[i].Off)
				}
				if err := put(u, u.placer.PutAnnotationDirectoryOffset(it.off, s.place(encode(dir.Encode)))); err != nil {
					return err
				}
			}
		}
		s = m.section(img, dex.ItemEncodedArray, true)
		for _, u := range m.units {
			cur = u
			for _, it := range u.plan.staticValues {
				if err := put(u, u.placer.PutStaticValuesOffset(it.off, s.place(it.data))); err != nil {
					return err
				}
			}
		}

		// Debug info, code and class data are not shared between
		// classes, so their placements are tracked here rather than
		// in the index maps.
		debugOffs := make([]map[uint32]uint32, len(m.units))
		s = m.section(img, dex.ItemDebugInfo, false)
		for k, u := range m.units {
			debugOffs[k] = map[uint32]uint32{0: 0}
			for _, it := range u.plan.debugInfos {
				debugOffs[k][it.off] = s.place(it.data)
			}
		}
		codeOffs := make([]map[uint32]uint32, len(m.units))
		s = m.section(img, dex.ItemCode, false)
		for k, u := range m.units {
			codeOffs[k] = map[uint32]uint32{0: 0}
			for _, it := range u.plan.codes {
				off := s.place(it.data)
				img.PutU4(int(off)+dex.CodeDebugInfoOffset, debugOffs[k][it.debugOff])
				codeOffs[k][it.off] = off
			}
		}
		classDataOffs := make([]map[uint32]uint32, len(m.units))
		s = m.section(img, dex.ItemClassData, false)
		for k, u := range m.units {
			classDataOffs[k] = map[uint32]uint32{0: 0}
			for _, it := range u.plan.classData {
				data := it.data
				for _, methods := range [][]dex.EncodedMethod{data.DirectMethods, data.VirtualMethods} {
					for i := range methods {
						methods[i].CodeOff = codeOffs[k][methods[i].CodeOff]
					}
				}
				classDataOffs[k][it.off] = s.place(encode(data.Encode))
			}
		}

		s = m.section(img, dex.ItemStringData, false)
		for i, str := range m.strings {
			off := s.place(encode(func(w *dexio.Writer) { dex.EncodeStringData(w, str.data, str.utf16Len) }))
			img.PutU4(int(stringIDs)+dex.StringIDSize*i, off)
		}
		cur = nil

		for _, u := range m.units {
			u.m = u.placer.Build()
		}

		for i, desc := range m.types {
			img.PutU4(int(typeIDs)+dex.TypeIDSize*i, desc)
		}
		for i, r := range m.protos {
			cur = r.u
			p := r.u.m.AdjustProtoID(r.u.Dex.ProtoID(r.idx))
			off := int(protoIDs) + dex.ProtoIDSize*i
			img.PutU4(off, p.ShortyIdx)
			img.PutU4(off+4, p.ReturnTypeIdx)
			img.PutU4(off+8, p.ParametersOff)
		}
		for i, r := range m.fields {
			cur = r.u
			f := r.u.m.AdjustFieldID(r.u.Dex.FieldID(r.idx))
			off := int(fieldIDs) + dex.FieldIDSize*i
			img.PutU2(off, f.ClassIdx)
			img.PutU2(off+2, f.TypeIdx)
			img.PutU4(off+4, f.NameIdx)
		}
		for i, r := range m.methods {
			cur = r.u
			mid := r.u.m.AdjustMethodID(r.u.Dex.MethodID(r.idx))
			off := int(methodIDs) + dex.MethodIDSize*i
			img.PutU2(off, mid.ClassIdx)
			img.PutU2(off+2, mid.ProtoIdx)
			img.PutU4(off+4, mid.NameIdx)
		}
		cur = nil

		defs, err := m.orderClasses()
		if err != nil {
			return err
		}
		for i, t := range defs {
			k := t.unit.index
			cur = t.unit
			def := t.unit.m.ResolveClassDef(t.Def, classDataOffs[k][t.Def.ClassDataOff])
			off := int(classDefs) + dex.ClassDefSize*i
			img.PutU4(off, def.ClassIdx)
			img.PutU4(off+4, def.AccessFlags)
			img.PutU4(off+8, def.SuperclassIdx)
			img.PutU4(off+12, def.InterfacesOff)
			img.PutU4(off+16, def.SourceFileIdx)
			img.PutU4(off+20, def.AnnotationsOff)
			img.PutU4(off+24, def.ClassDataOff)
			img.PutU4(off+28, def.StaticValuesOff)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img.Finish(), nil
}

// classDef is a retained class definition, translated into the
// target index space.
type classDef struct {
	indexmap.SortableType
	unit *unit
}

// orderClasses returns the retained class definitions of all units,
// ordered so that every class follows its superclass and interfaces,
// and otherwise by type index.
func (m *merger) orderClasses() ([]*classDef, error) {
	var (
		defs  []*classDef
		types = make([]*indexmap.SortableType, len(m.types))
	)
	for _, u := range m.units {
		for _, i := range u.classes {
			st, err := indexmap.NewSortableType(u.Dex, u.m, u.Dex.ClassDef(i))
			if err != nil {
				return nil, errors.E(u.Name, err)
			}
			def := &classDef{SortableType: u.m.AdjustSortableType(st), unit: u}
			types[def.Def.ClassIdx] = &def.SortableType
			defs = append(defs, def)
		}
	}
	for remaining := len(defs); remaining > 0; {
		progress := false
		for _, def := range defs {
			if def.Depth >= 0 {
				continue
			}
			ok, err := def.TryAssignDepth(types)
			if err != nil {
				return nil, errors.E(def.unit.Name, err)
			}
			if ok {
				remaining--
				progress = true
			}
		}
		if !progress {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("merge: cyclic class hierarchy among %d classes", remaining))
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Depth != defs[j].Depth {
			return defs[i].Depth < defs[j].Depth
		}
		return defs[i].Def.ClassIdx < defs[j].Def.ClassIdx
	})
	return defs, nil
}
