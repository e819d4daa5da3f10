// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dextest

import (
	"sort"
	"strings"

	"github.com/google/btree"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/encval"
)

// stringItem orders strings by their UTF-16 code units, the order of
// the dex string table.
type stringItem struct {
	s     string
	units []uint16
}

func newStringItem(s string) stringItem {
	data, _ := dexio.EncodeMUTF8(s)
	units, err := dexio.DecodeMUTF8(data)
	if err != nil {
		panic(err)
	}
	return stringItem{s, units}
}

func (s stringItem) Less(than btree.Item) bool {
	return dexio.CompareUTF16(s.units, than.(stringItem).units) < 0
}

type protoItem struct {
	ret    string
	params []string
}

// pools collects the references of a dex image and, once frozen,
// maps them to indices.
type pools struct {
	stringTree, typeTree *btree.BTree
	protoSet             map[string]protoItem
	fieldSet             map[FieldRef]bool
	methodSet            map[string]MethodRef

	strings map[string]uint32
	types   map[string]uint32
	protos  map[string]uint32
	fields  map[FieldRef]uint32
	methods map[string]uint32

	typeOrder   []string
	protoOrder  []protoItem
	fieldOrder  []FieldRef
	methodOrder []MethodRef
}

func newPools() *pools {
	return &pools{
		stringTree: btree.New(8),
		typeTree:   btree.New(8),
		protoSet:   make(map[string]protoItem),
		fieldSet:   make(map[FieldRef]bool),
		methodSet:  make(map[string]MethodRef),
	}
}

func (p *pools) string(s string) {
	p.stringTree.ReplaceOrInsert(newStringItem(s))
}

func (p *pools) typ(desc string) {
	p.string(desc)
	p.typeTree.ReplaceOrInsert(newStringItem(desc))
}

func shorty(ret string, params []string) string {
	b := []byte{dex.ShortyChar(ret)}
	for _, p := range params {
		b = append(b, dex.ShortyChar(p))
	}
	return string(b)
}

func (p *pools) proto(ret string, params []string) {
	p.string(shorty(ret, params))
	p.typ(ret)
	for _, t := range params {
		p.typ(t)
	}
	p.protoSet[protoKey(ret, params)] = protoItem{ret, params}
}

func (p *pools) field(f FieldRef) {
	p.typ(f.Class)
	p.typ(f.Type)
	p.string(f.Name)
	p.fieldSet[f] = true
}

func (p *pools) method(m MethodRef) {
	p.typ(m.Class)
	p.string(m.Name)
	p.proto(m.Return, m.Params)
	p.methodSet[m.key()] = m
}

func (p *pools) annotation(a Annotation) {
	p.typ(a.Type)
	for _, e := range a.Elements {
		p.string(e.Name)
		e.Value.collect(p)
	}
}

func (p *pools) resolveAnnotation(a Annotation) encval.Annotation {
	out := encval.Annotation{TypeIdx: p.types[a.Type]}
	for _, e := range a.Elements {
		out.Elements = append(out.Elements, encval.Element{NameIdx: p.strings[e.Name], Value: e.Value.resolve(p)})
	}
	// Elements are sorted by name index.
	sort.SliceStable(out.Elements, func(i, j int) bool {
		return out.Elements[i].NameIdx < out.Elements[j].NameIdx
	})
	return out
}

func (p *pools) typeList(types []string) dex.TypeList {
	if len(types) == 0 {
		return dex.EmptyTypeList
	}
	list := make(dex.TypeList, len(types))
	for i, t := range types {
		list[i] = uint16(p.types[t])
	}
	return list
}

// freeze assigns indices in dex order.
func (p *pools) freeze() {
	p.strings = make(map[string]uint32)
	p.stringTree.Ascend(func(it btree.Item) bool {
		p.strings[it.(stringItem).s] = uint32(len(p.strings))
		return true
	})
	p.types = make(map[string]uint32)
	p.typeTree.Ascend(func(it btree.Item) bool {
		s := it.(stringItem).s
		p.types[s] = uint32(len(p.types))
		p.typeOrder = append(p.typeOrder, s)
		return true
	})
	for _, proto := range p.protoSet {
		p.protoOrder = append(p.protoOrder, proto)
	}
	sort.Slice(p.protoOrder, func(i, j int) bool {
		a, b := p.protoOrder[i], p.protoOrder[j]
		if a.ret != b.ret {
			return p.types[a.ret] < p.types[b.ret]
		}
		return p.typeList(a.params).Compare(p.typeList(b.params)) < 0
	})
	p.protos = make(map[string]uint32)
	for i, proto := range p.protoOrder {
		p.protos[protoKey(proto.ret, proto.params)] = uint32(i)
	}
	for f := range p.fieldSet {
		p.fieldOrder = append(p.fieldOrder, f)
	}
	sort.Slice(p.fieldOrder, func(i, j int) bool {
		a, b := p.fieldOrder[i], p.fieldOrder[j]
		switch {
		case a.Class != b.Class:
			return p.types[a.Class] < p.types[b.Class]
		case a.Name != b.Name:
			return p.strings[a.Name] < p.strings[b.Name]
		}
		return p.types[a.Type] < p.types[b.Type]
	})
	p.fields = make(map[FieldRef]uint32)
	for i, f := range p.fieldOrder {
		p.fields[f] = uint32(i)
	}
	for _, m := range p.methodSet {
		p.methodOrder = append(p.methodOrder, m)
	}
	sort.Slice(p.methodOrder, func(i, j int) bool {
		a, b := p.methodOrder[i], p.methodOrder[j]
		switch {
		case a.Class != b.Class:
			return p.types[a.Class] < p.types[b.Class]
		case a.Name != b.Name:
			return p.strings[a.Name] < p.strings[b.Name]
		}
		return p.protos[protoKey(a.Return, a.Params)] < p.protos[protoKey(b.Return, b.Params)]
	})
	p.methods = make(map[string]uint32)
	for i, m := range p.methodOrder {
		p.methods[m.key()] = uint32(i)
	}
}

// A Builder accumulates class definitions and builds a dex image
// containing them.
type Builder struct {
	classes []Class
	strings []string
}

// Add adds class definitions to the image.
func (b *Builder) Add(classes ...Class) *Builder {
	b.classes = append(b.classes, classes...)
	return b
}

// AddStrings adds strings to the string table that are not
// otherwise referenced.
func (b *Builder) AddStrings(strs ...string) *Builder {
	b.strings = append(b.strings, strs...)
	return b
}

func (c *Class) super() string {
	if c.NoSuper {
		return ""
	}
	if c.Super == "" {
		return Object
	}
	return c.Super
}

func (b *Builder) collect() *pools {
	p := newPools()
	for _, s := range b.strings {
		p.string(s)
	}
	for i := range b.classes {
		c := &b.classes[i]
		p.typ(c.Name)
		if s := c.super(); s != "" {
			p.typ(s)
		}
		for _, iface := range c.Interfaces {
			p.typ(iface)
		}
		if c.SourceFile != "" {
			p.string(c.SourceFile)
		}
		for _, a := range c.Annotations {
			p.annotation(a)
		}
		for _, list := range [][]Field{c.StaticFields, c.InstanceFields} {
			for _, f := range list {
				p.field(FieldRef{c.Name, f.Name, f.Type})
				if f.Value != nil {
					f.Value.collect(p)
				}
				for _, a := range f.Annotations {
					p.annotation(a)
				}
			}
		}
		for _, list := range [][]Method{c.DirectMethods, c.VirtualMethods} {
			for _, m := range list {
				p.method(MethodRef{c.Name, m.Name, m.Return, m.Params})
				for _, a := range m.Annotations {
					p.annotation(a)
				}
				for _, set := range m.ParamAnnotations {
					for _, a := range set {
						p.annotation(a)
					}
				}
				if m.Code != nil {
					collectCode(p, m.Code)
				}
			}
		}
	}
	p.freeze()
	return p
}

func collectCode(p *pools, code *Code) {
	for _, insn := range code.Insns {
		switch ref := insn.Ref.(type) {
		case nil:
		case stringRef:
			p.string(string(ref))
		case typeRef:
			p.typ(string(ref))
		case FieldRef:
			p.field(ref)
		case MethodRef:
			p.method(ref)
		}
	}
	for _, t := range code.Tries {
		for _, c := range t.Catches {
			p.typ(c.Type)
		}
	}
	if d := code.Debug; d != nil {
		for _, name := range d.ParamNames {
			if name != "" {
				p.string(name)
			}
		}
		for _, l := range d.Locals {
			p.string(l.Name)
			p.typ(l.Type)
			if l.Signature != "" {
				p.string(l.Signature)
			}
		}
		if d.SourceFile != "" {
			p.string(d.SourceFile)
		}
	}
}

// Build lays out and encodes the image.
func (b *Builder) Build() ([]byte, error) {
	p := b.collect()
	return newWriter(p, b.classes).write()
}

// MustBuild is like Build, but panics on error.
func (b *Builder) MustBuild() []byte {
	buf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return buf
}

// Parse builds the image and parses it.
func (b *Builder) Parse() (*dex.Dex, error) {
	buf, err := b.Build()
	if err != nil {
		return nil, err
	}
	return dex.Parse(buf)
}

// Descriptor returns the class descriptor for a dotted class name:
// "com.example.Foo" becomes "Lcom/example/Foo;".
func Descriptor(name string) string {
	return "L" + strings.Replace(name, ".", "/", -1) + ";"
}
