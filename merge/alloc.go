// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/indexmap"
	"github.com/grailbio/dexmerge/sortio"
)

// unit holds the per-input state of a merge.
type unit struct {
	Unit
	index int

	// Decoded strings, used for ordering.
	strs [][]uint16
	// Target indices, by source index.
	strings []uint32
	types   []uint32
	protos  []uint32
	fields  []uint32
	methods []uint32
	// Target parameter lists, by source proto index.
	params []dex.TypeList

	// Indices of the class definitions retained in the output.
	classes []int
	// Descriptors of classes retained by another merge.
	skip map[string]bool

	placer *indexmap.Placer
	m      *indexmap.IndexMap

	plan unitPlan
}

func compareUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// allocateTable merges the runs of one table across all units.
// Compare orders item i of unit a against item j of unit b; set
// records the target index of an item, and first is called once per
// target entry, in order, with its representative item. The size of
// the merged table is returned.
func (m *merger) allocateTable(
	size func(u *unit) int,
	compare func(a *unit, i int, b *unit, j int) int,
	set func(u *unit, i int, target uint32),
	first func(u *unit, i int),
) (int, error) {
	lens := make([]int, len(m.units))
	perms := make([][]int, len(m.units))
	for k, u := range m.units {
		u := u
		lens[k] = size(u)
		perms[k] = sortio.SortRun(lens[k], func(i, j int) bool { return compare(u, i, u, j) < 0 })
	}
	return sortio.Merge(lens,
		func(a, b sortio.Cursor) int {
			return compare(m.units[a.Run], perms[a.Run][a.Index], m.units[b.Run], perms[b.Run][b.Index])
		},
		func(ordinal int, group []sortio.Cursor) error {
			for i, c := range group {
				u, idx := m.units[c.Run], perms[c.Run][c.Index]
				if i == 0 {
					first(u, idx)
				}
				set(u, idx, uint32(ordinal))
			}
			return nil
		})
}

func (m *merger) checkLimit(table dex.ItemType, n int) error {
	if limit := m.opts.limit(); n > limit {
		return &CapacityError{Table: table, Count: n, Limit: limit}
	}
	return nil
}

// allocate assigns target indices for every dense table, in
// dependency order: strings, types, protos, fields, methods.
func (m *merger) allocate() error {
	var cur *unit
	return guard(&cur, func() error {
		for _, u := range m.units {
			cur = u
			d := u.Dex
			u.strs = make([][]uint16, d.NumStrings())
			for i := range u.strs {
				data, _, err := d.StringData(i)
				if err != nil {
					return errors.E(u.Name, err)
				}
				if u.strs[i], err = dexio.DecodeMUTF8(data); err != nil {
					return errors.E(u.Name, fmt.Sprintf("string %d", i), err)
				}
			}
			u.strings = make([]uint32, d.NumStrings())
			u.types = make([]uint32, d.NumTypes())
			u.protos = make([]uint32, d.NumProtos())
			u.fields = make([]uint32, d.NumFields())
			u.methods = make([]uint32, d.NumMethods())
		}
		cur = nil

		n, err := m.allocateTable(
			func(u *unit) int { return len(u.strs) },
			func(a *unit, i int, b *unit, j int) int { return dexio.CompareUTF16(a.strs[i], b.strs[j]) },
			func(u *unit, i int, target uint32) { u.strings[i] = target },
			func(u *unit, i int) {
				data, n, _ := u.Dex.StringData(i)
				m.strings = append(m.strings, targetString{data, n})
			})
		if err != nil {
			return err
		}
		m.stats.Int("strings").Add(int64(n))

		typeKey := func(u *unit, i int) uint32 { return u.strings[u.Dex.TypeID(i).DescriptorIdx] }
		n, err = m.allocateTable(
			func(u *unit) int { return len(u.types) },
			func(a *unit, i int, b *unit, j int) int { return compareUint32(typeKey(a, i), typeKey(b, j)) },
			func(u *unit, i int, target uint32) { u.types[i] = target },
			func(u *unit, i int) { m.types = append(m.types, typeKey(u, i)) })
		if err != nil {
			return err
		}
		if err := m.checkLimit(dex.ItemTypeID, n); err != nil {
			return err
		}
		m.stats.Int("types").Add(int64(n))

		for _, u := range m.units {
			cur = u
			u.params = make([]dex.TypeList, len(u.protos))
			for i := range u.params {
				list, err := u.Dex.TypeList(u.Dex.ProtoID(i).ParametersOff)
				if err != nil {
					return errors.E(u.Name, fmt.Sprintf("proto %d", i), err)
				}
				if len(list) > 0 {
					u.params[i] = make(dex.TypeList, len(list))
					for j, t := range list {
						u.params[i][j] = uint16(u.types[t])
					}
				}
			}
		}
		cur = nil
		n, err = m.allocateTable(
			func(u *unit) int { return len(u.protos) },
			func(a *unit, i int, b *unit, j int) int {
				pa, pb := a.Dex.ProtoID(i), b.Dex.ProtoID(j)
				if c := compareUint32(a.types[pa.ReturnTypeIdx], b.types[pb.ReturnTypeIdx]); c != 0 {
					return c
				}
				return a.params[i].Compare(b.params[j])
			},
			func(u *unit, i int, target uint32) { u.protos[i] = target },
			func(u *unit, i int) { m.protos = append(m.protos, ref{u, i}) })
		if err != nil {
			return err
		}
		if err := m.checkLimit(dex.ItemProtoID, n); err != nil {
			return err
		}
		m.stats.Int("protos").Add(int64(n))

		n, err = m.allocateTable(
			func(u *unit) int { return len(u.fields) },
			func(a *unit, i int, b *unit, j int) int {
				fa, fb := a.Dex.FieldID(i), b.Dex.FieldID(j)
				if c := compareUint32(a.types[fa.ClassIdx], b.types[fb.ClassIdx]); c != 0 {
					return c
				}
				if c := compareUint32(a.strings[fa.NameIdx], b.strings[fb.NameIdx]); c != 0 {
					return c
				}
				return compareUint32(a.types[fa.TypeIdx], b.types[fb.TypeIdx])
			},
			func(u *unit, i int, target uint32) { u.fields[i] = target },
			func(u *unit, i int) { m.fields = append(m.fields, ref{u, i}) })
		if err != nil {
			return err
		}
		if err := m.checkLimit(dex.ItemFieldID, n); err != nil {
			return err
		}
		m.stats.Int("fields").Add(int64(n))

		n, err = m.allocateTable(
			func(u *unit) int { return len(u.methods) },
			func(a *unit, i int, b *unit, j int) int {
				ma, mb := a.Dex.MethodID(i), b.Dex.MethodID(j)
				if c := compareUint32(a.types[ma.ClassIdx], b.types[mb.ClassIdx]); c != 0 {
					return c
				}
				if c := compareUint32(a.strings[ma.NameIdx], b.strings[mb.NameIdx]); c != 0 {
					return c
				}
				return compareUint32(a.protos[ma.ProtoIdx], b.protos[mb.ProtoIdx])
			},
			func(u *unit, i int, target uint32) { u.methods[i] = target },
			func(u *unit, i int) { m.methods = append(m.methods, ref{u, i}) })
		if err != nil {
			return err
		}
		if err := m.checkLimit(dex.ItemMethodID, n); err != nil {
			return err
		}
		m.stats.Int("methods").Add(int64(n))
		return nil
	})
}

// selectClasses chooses the class definitions to retain, applying
// the collision policy. It returns the descriptors of dropped
// classes.
func (m *merger) selectClasses() ([]string, error) {
	var (
		owners  = make(map[uint32]*unit)
		dropped []string
		cur     *unit
	)
	err := guard(&cur, func() error {
		for _, u := range m.units {
			cur = u
			for i := 0; i < u.Dex.NumClassDefs(); i++ {
				def := u.Dex.ClassDef(i)
				name, err := u.Dex.TypeName(int(def.ClassIdx))
				if err != nil {
					return errors.E(u.Name, err)
				}
				if u.skip[name] {
					dropped = append(dropped, name)
					m.stats.Int("collisions").Add(1)
					continue
				}
				typ := u.types[def.ClassIdx]
				owner, ok := owners[typ]
				if !ok {
					owners[typ] = u
					u.classes = append(u.classes, i)
					continue
				}
				if m.opts.Collisions == Fail {
					return errors.E(errors.Exists, fmt.Sprintf("merge: class %s is defined by both %s and %s", dex.DescriptorName(name), owner.Name, u.Name))
				}
				log.Debug.Printf("merge: %s: dropping class %s, already defined by %s", u.Name, dex.DescriptorName(name), owner.Name)
				dropped = append(dropped, name)
				m.stats.Int("collisions").Add(1)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.nclasses = len(owners)
	m.stats.Int("classes").Add(int64(m.nclasses))
	return dropped, nil
}

// seal transfers each unit's allocation into its index map and
// seals the map's dense tables.
func (m *merger) seal() error {
	for _, u := range m.units {
		b := indexmap.NewBuilder(u.Dex.TableOfContents())
		for i, t := range u.strings {
			b.SetString(i, t)
		}
		for i, t := range u.types {
			b.SetType(i, uint16(t))
		}
		for i, t := range u.protos {
			b.SetProto(i, uint16(t))
		}
		for i, t := range u.fields {
			b.SetField(i, uint16(t))
		}
		for i, t := range u.methods {
			b.SetMethod(i, uint16(t))
		}
		p, err := b.Seal()
		if err != nil {
			return errors.E(errors.Fatal, u.Name, err)
		}
		u.placer = p
		u.strs = nil
	}
	return nil
}
