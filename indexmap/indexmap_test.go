// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package indexmap

import (
	"bytes"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"github.com/grailbio/dexmerge/encval"
)

func toc(nstring, ntype, nproto, nfield, nmethod int) dex.TableOfContents {
	return dex.TableOfContents{Sections: []dex.Section{
		{Type: dex.ItemStringID, Size: uint32(nstring)},
		{Type: dex.ItemTypeID, Size: uint32(ntype)},
		{Type: dex.ItemProtoID, Size: uint32(nproto)},
		{Type: dex.ItemFieldID, Size: uint32(nfield)},
		{Type: dex.ItemMethodID, Size: uint32(nmethod)},
	}}
}

// identity returns a builder that maps every index of a table of n
// entries to itself.
func identity(n int) *Builder {
	b := NewBuilder(toc(n, n, n, n, n))
	for i := 0; i < n; i++ {
		b.SetString(i, uint32(i))
		b.SetType(i, uint16(i))
		b.SetProto(i, uint16(i))
		b.SetField(i, uint16(i))
		b.SetMethod(i, uint16(i))
	}
	return b
}

func seal(t *testing.T, b *Builder) *Placer {
	t.Helper()
	p, err := b.Seal()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func expectMiss(t *testing.T, kind OffsetKind, off uint32, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		e := recover()
		miss, ok := e.(*MissError)
		if !ok {
			t.Errorf("expected *MissError panic, got %v", e)
			return
		}
		if got, want := *miss, (MissError{kind, off}); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}()
	fn()
}

func TestSentinel(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		m := seal(t, identity(n)).Build()
		if got, want := m.AdjustString(dex.NoIndex), uint32(dex.NoIndex); got != want {
			t.Errorf("got %x, want %x", got, want)
		}
		if got, want := m.AdjustType(dex.NoIndex), uint32(dex.NoIndex); got != want {
			t.Errorf("got %x, want %x", got, want)
		}
	}
}

func TestOffsetZero(t *testing.T) {
	m := seal(t, identity(0)).Build()
	for _, fn := range []func(uint32) uint32{
		m.AdjustTypeListOffset,
		m.AdjustAnnotationSet,
		m.AdjustAnnotationDirectory,
		m.AdjustStaticValues,
	} {
		if got, want := fn(0), uint32(0); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	expectMiss(t, AnnotationOffset, 0, func() { m.AdjustAnnotation(0) })
	expectMiss(t, AnnotationSetRefListOffset, 0, func() { m.AdjustAnnotationSetRefList(0) })
}

func TestFailFast(t *testing.T) {
	p := seal(t, identity(0))
	expectMiss(t, AnnotationOffset, 42, func() { p.AdjustAnnotation(42) })
	if err := p.PutAnnotationOffset(42, 100); err != nil {
		t.Fatal(err)
	}
	if got, want := p.AdjustAnnotation(42), uint32(100); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	m := p.Build()
	expectMiss(t, TypeListOffset, 8, func() { m.AdjustTypeListOffset(8) })
	expectMiss(t, StaticValuesOffset, 42, func() { m.AdjustStaticValues(42) })
	if got, want := m.AdjustAnnotation(42), uint32(100); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPut(t *testing.T) {
	p := seal(t, identity(0))
	puts := []func(old, new uint32) error{
		p.PutTypeListOffset,
		p.PutAnnotationOffset,
		p.PutAnnotationSetOffset,
		p.PutAnnotationSetRefListOffset,
		p.PutAnnotationDirectoryOffset,
		p.PutStaticValuesOffset,
	}
	for i, put := range puts {
		if err := put(0, 4); !errors.Is(errors.Precondition, err) {
			t.Errorf("%d: got %v, want precondition error", i, err)
		}
		if err := put(4, 0); !errors.Is(errors.Precondition, err) {
			t.Errorf("%d: got %v, want precondition error", i, err)
		}
		if err := put(0x80000000, 4); !errors.Is(errors.Precondition, err) {
			t.Errorf("%d: got %v, want precondition error", i, err)
		}
		if err := put(4, uint32(8+i)); err != nil {
			t.Errorf("%d: %v", i, err)
		}
		if err := put(4, uint32(8+i)); err != nil {
			t.Errorf("%d: repeated put: %v", i, err)
		}
		if err := put(4, 100); !errors.Is(errors.Precondition, err) {
			t.Errorf("%d: got %v, want precondition error", i, err)
		}
	}
	m := p.Build()
	for i, fn := range []func(uint32) uint32{
		m.AdjustTypeListOffset,
		m.AdjustAnnotation,
		m.AdjustAnnotationSet,
		m.AdjustAnnotationSetRefList,
		m.AdjustAnnotationDirectory,
		m.AdjustStaticValues,
	} {
		if got, want := fn(4), uint32(8+i); got != want {
			t.Errorf("%d: got %v, want %v", i, got, want)
		}
	}
	if err := p.PutTypeListOffset(12, 16); !errors.Is(errors.Precondition, err) {
		t.Errorf("got %v, want precondition error", err)
	}
}

func TestSeal(t *testing.T) {
	b := NewBuilder(toc(2, 1, 0, 0, 1))
	b.SetString(0, 0)
	b.SetString(1, 1)
	b.SetType(0, 0)
	if _, err := b.Seal(); !errors.Is(errors.Precondition, err) {
		t.Fatalf("got %v, want precondition error", err)
	}
	b.SetMethod(0, 3)
	p := seal(t, b)
	if got, want := p.AdjustMethod(0), uint32(3); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMasking(t *testing.T) {
	b := NewBuilder(toc(0, 2, 1, 1, 1))
	b.SetType(0, 0xffff)
	b.SetType(1, uint16(0x8000))
	b.SetProto(0, 0xffff)
	b.SetField(0, 0xffff)
	b.SetMethod(0, 0xffff)
	m := seal(t, b).Build()
	for _, c := range []struct {
		got, want uint32
	}{
		{m.AdjustType(0), 0xffff},
		{m.AdjustType(1), 0x8000},
		{m.AdjustProto(0), 0xffff},
		{m.AdjustField(0), 0xffff},
		{m.AdjustMethod(0), 0xffff},
	} {
		if c.got != c.want {
			t.Errorf("got %x, want %x", c.got, c.want)
		}
	}
}

func TestOutOfRange(t *testing.T) {
	m := seal(t, identity(3)).Build()
	func() {
		defer func() {
			if _, ok := recover().(*dex.IndexError); !ok {
				t.Error("expected *dex.IndexError panic")
			}
		}()
		m.AdjustField(3)
	}()
	var w dexio.Writer
	encval.Encode(&w, encval.String(3))
	if _, err := m.AdjustEncodedValue(dexio.NewReader(w.Bytes(), 0)); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestAdjustEncodedValue(t *testing.T) {
	b := NewBuilder(toc(10, 0, 0, 0, 0))
	for i := 0; i < 10; i++ {
		b.SetString(i, uint32(i))
	}
	b.SetString(5, 9)
	m := seal(t, b).Build()

	var in, want dexio.Writer
	encval.Encode(&in, encval.String(5))
	want.U1(dexio.Tag(encval.TypeString, 0))
	want.U1(9)
	got, err := m.AdjustEncodedValue(dexio.NewReader(in.Bytes(), 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Errorf("got %x, want %x", got, want.Bytes())
	}
	// The input is not modified.
	if got, want := in.Bytes()[1], byte(5); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAdjustItems(t *testing.T) {
	m := seal(t, identity(4)).Build()

	// Static values are stored without a header byte.
	var w dexio.Writer
	encval.EncodeArray(&w, encval.Array{encval.Int(7), encval.String(2)})
	got, err := m.AdjustEncodedArray(dexio.NewReader(w.Bytes(), 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, w.Bytes()) {
		t.Errorf("got %x, want %x", got, w.Bytes())
	}

	w = dexio.Writer{}
	w.U1(dex.VisibilityRuntime)
	encval.EncodeAnnotation(&w, encval.Annotation{TypeIdx: 1, Elements: []encval.Element{{NameIdx: 3, Value: encval.Boolean(true)}}})
	got, err = m.AdjustAnnotationItem(dexio.NewReader(w.Bytes(), 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, w.Bytes()) {
		t.Errorf("got %x, want %x", got, w.Bytes())
	}
	if _, err := m.AdjustAnnotationItem(dexio.NewReader([]byte{7, 1, 0}, 0)); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestStructural(t *testing.T) {
	b := NewBuilder(toc(4, 3, 2, 1, 1))
	for i, s := range []uint32{10, 11, 12, 13} {
		b.SetString(i, s)
	}
	for i, s := range []uint16{20, 21, 22} {
		b.SetType(i, s)
	}
	b.SetProto(0, 30)
	b.SetProto(1, 31)
	b.SetField(0, 40)
	b.SetMethod(0, 50)
	p := seal(t, b)
	if err := p.PutTypeListOffset(0x100, 0x200); err != nil {
		t.Fatal(err)
	}
	m := p.Build()

	if got, want := m.AdjustMethodID(dex.MethodID{ClassIdx: 1, ProtoIdx: 1, NameIdx: 3}), (dex.MethodID{ClassIdx: 21, ProtoIdx: 31, NameIdx: 13}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got, want := m.AdjustFieldID(dex.FieldID{ClassIdx: 0, TypeIdx: 2, NameIdx: 1}), (dex.FieldID{ClassIdx: 20, TypeIdx: 22, NameIdx: 11}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got, want := m.AdjustProtoID(dex.ProtoID{ShortyIdx: 0, ReturnTypeIdx: 2, ParametersOff: 0x100}), (dex.ProtoID{ShortyIdx: 10, ReturnTypeIdx: 22, ParametersOff: 0x200}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got, want := m.AdjustProtoID(dex.ProtoID{ShortyIdx: 1}), (dex.ProtoID{ShortyIdx: 11, ReturnTypeIdx: 20}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	def := dex.ClassDef{
		ClassIdx:        2,
		AccessFlags:     dex.AccPublic | dex.AccFinal,
		SuperclassIdx:   dex.NoIndex,
		InterfacesOff:   0x100,
		SourceFileIdx:   3,
		AnnotationsOff:  0x300,
		ClassDataOff:    0x400,
		StaticValuesOff: 0x500,
	}
	want := def
	want.ClassIdx = 22
	want.InterfacesOff = 0x200
	if got := m.AdjustClassDef(def); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if got := m.AdjustTypeList(dex.EmptyTypeList); got != nil {
		t.Errorf("got %v, want empty list", got)
	}
	in := dex.TypeList{0, 2}
	if got, want := m.AdjustTypeList(in), (dex.TypeList{20, 22}); got.Compare(want) != 0 {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := in[1], uint16(2); got != want {
		t.Errorf("input list was modified")
	}
}

func TestResolveClassDef(t *testing.T) {
	p := seal(t, identity(4))
	if err := p.PutAnnotationDirectoryOffset(0x300, 0x330); err != nil {
		t.Fatal(err)
	}
	if err := p.PutStaticValuesOffset(0x500, 0x550); err != nil {
		t.Fatal(err)
	}
	m := p.Build()
	c := m.AdjustClassDef(dex.ClassDef{ClassIdx: 1, SuperclassIdx: 0, SourceFileIdx: 3, AnnotationsOff: 0x300, StaticValuesOff: 0x500, ClassDataOff: 0x400})
	c = m.ResolveClassDef(c, 0x440)
	if got, want := c, (dex.ClassDef{ClassIdx: 1, SuperclassIdx: 0, SourceFileIdx: 3, AnnotationsOff: 0x330, StaticValuesOff: 0x550, ClassDataOff: 0x440}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	c = m.ResolveClassDef(m.AdjustClassDef(dex.ClassDef{SuperclassIdx: dex.NoIndex, SourceFileIdx: dex.NoIndex}), 0)
	if got, want := c.SourceFileIdx, uint32(dex.NoIndex); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAssignDepth(t *testing.T) {
	// Type 0 is java.lang.Object (not defined); 1 extends 0; 2
	// extends 1 and implements 3; 3 is an interface.
	def := func(class, super uint32, ifaces ...uint16) *SortableType {
		return &SortableType{Def: dex.ClassDef{ClassIdx: class, SuperclassIdx: super}, Interfaces: ifaces, Depth: -1}
	}
	types := make([]*SortableType, 4)
	types[1] = def(1, 0)
	types[2] = def(2, 1, 3)
	types[3] = def(3, 0)
	for pass := 0; pass < 3; pass++ {
		for _, typ := range types {
			if typ == nil || typ.Depth >= 0 {
				continue
			}
			if _, err := typ.TryAssignDepth(types); err != nil {
				t.Fatal(err)
			}
		}
	}
	for i, want := range []int{0, 2, 3, 2} {
		if types[i] == nil {
			continue
		}
		if got := types[i].Depth; got != want {
			t.Errorf("type %d: got %v, want %v", i, got, want)
		}
	}
	root := def(0, dex.NoIndex)
	if ok, err := root.TryAssignDepth(types); !ok || err != nil {
		t.Fatal(ok, err)
	}
	if got, want := root.Depth, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	self := def(1, 1)
	if _, err := self.TryAssignDepth(types); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}

func TestTwoUnits(t *testing.T) {
	// Unit 1 holds "A" and unit 2 holds "B"; the target string table
	// is ["A", "B"]. Each unit has one type, whose descriptor is its
	// string, and a field named by that string.
	b1 := NewBuilder(toc(1, 1, 0, 1, 0))
	b1.SetString(0, 0)
	b1.SetType(0, 0)
	b1.SetField(0, 0)
	b2 := NewBuilder(toc(1, 1, 0, 1, 0))
	b2.SetString(0, 1)
	b2.SetType(0, 1)
	b2.SetField(0, 1)
	m1, m2 := seal(t, b1).Build(), seal(t, b2).Build()

	if got, want := m1.AdjustString(0), uint32(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := m2.AdjustString(0), uint32(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	f := dex.FieldID{ClassIdx: 0, TypeIdx: 0, NameIdx: 0}
	if got, want := m2.AdjustFieldID(f), (dex.FieldID{ClassIdx: 1, TypeIdx: 1, NameIdx: 1}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := m1.AdjustFieldID(f), f; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
