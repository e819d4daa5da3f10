// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dextest"
	"github.com/grailbio/dexmerge/encval"
	"github.com/grailbio/dexmerge/merge"
	"github.com/grailbio/dexmerge/stats"
)

const (
	fooType = "Lcom/example/Foo;"
	barType = "Lcom/example/Bar;"
	bazType = "Lcom/example/Baz;"
)

var (
	count = dextest.FieldRef{Class: fooType, Name: "count", Type: "I"}
	run   = dextest.MethodRef{Class: fooType, Name: "run", Return: "V"}
)

func foo(source string) dextest.Class {
	return dextest.Class{
		Name:       fooType,
		SourceFile: source,
		Access:     dex.AccPublic,
		Interfaces: []string{"Ljava/lang/Runnable;"},
		StaticFields: []dextest.Field{
			{Name: "count", Type: "I", Access: dex.AccStatic, Value: dextest.Int(42)},
		},
		DirectMethods: []dextest.Method{{
			Name: "<init>", Return: "V", Access: dex.AccPublic | dex.AccConstructor,
			Code: &dextest.Code{
				Registers: 1, Ins: 1, Outs: 1,
				Insns: []dextest.Insn{
					dextest.InvokeDirect(dextest.MethodRef{Class: dextest.Object, Name: "<init>", Return: "V"}, 0),
					dextest.ReturnVoid(),
				},
			},
		}},
		VirtualMethods: []dextest.Method{{
			Name: "run", Return: "V", Access: dex.AccPublic,
			Code: &dextest.Code{
				Registers: 2, Ins: 1,
				Insns: []dextest.Insn{
					dextest.ConstString(0, "hello"),
					dextest.SGet(1, count),
					dextest.ReturnVoid(),
				},
				Tries: []dextest.Try{{
					Start: 0, Count: 4, CatchAll: -1,
					Catches: []dextest.Catch{{Type: "Ljava/lang/Exception;", Addr: 5}},
				}},
				Debug: &dextest.Debug{Line: 7, Locals: []dextest.Local{{Reg: 1, Name: "x", Type: "I"}}},
			},
			Annotations: []dextest.Annotation{{
				Visibility: dex.VisibilityRuntime,
				Type:       "Ljava/lang/Deprecated;",
			}},
		}},
		Annotations: []dextest.Annotation{{
			Visibility: dex.VisibilityRuntime,
			Type:       "Lcom/example/Marker;",
			Elements:   []dextest.Element{{Name: "value", Value: dextest.MethodVal(run)}},
		}},
	}
}

// baz implements the same interface as foo and calls into it.
func baz() dextest.Class {
	return dextest.Class{
		Name:       bazType,
		Interfaces: []string{"Ljava/lang/Runnable;"},
		VirtualMethods: []dextest.Method{{
			Name: "run", Return: "V", Access: dex.AccPublic,
			Code: &dextest.Code{
				Registers: 2, Ins: 1, Outs: 1,
				Insns: []dextest.Insn{
					dextest.NewInstance(1, fooType),
					dextest.InvokeVirtual(run, 1),
					dextest.ConstString(0, "world"),
					dextest.ReturnVoid(),
				},
			},
		}},
	}
}

func newUnit(t *testing.T, name string, b *dextest.Builder) merge.Unit {
	t.Helper()
	d, err := b.Parse()
	if err != nil {
		t.Fatal(err)
	}
	return merge.Unit{Name: name, Dex: d}
}

func classUnit(t *testing.T, name string, classes ...dextest.Class) merge.Unit {
	t.Helper()
	return newUnit(t, name, new(dextest.Builder).Add(classes...))
}

func parse(t *testing.T, img []byte) *dex.Dex {
	t.Helper()
	d, err := dex.Parse(img)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Verify(); err != nil {
		t.Fatal(err)
	}
	return d
}

func classNames(t *testing.T, d *dex.Dex) []string {
	t.Helper()
	var names []string
	for i := 0; i < d.NumClassDefs(); i++ {
		name, err := d.TypeName(int(d.ClassDef(i).ClassIdx))
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	return names
}

func findClass(t *testing.T, d *dex.Dex, desc string) dex.ClassDef {
	t.Helper()
	for i := 0; i < d.NumClassDefs(); i++ {
		def := d.ClassDef(i)
		if name, _ := d.TypeName(int(def.ClassIdx)); name == desc {
			return def
		}
	}
	t.Fatalf("class %s not found", desc)
	panic("unreachable")
}

func stringAt(t *testing.T, d *dex.Dex, i uint32) string {
	t.Helper()
	s, err := d.StringAt(int(i))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMergeStrings(t *testing.T) {
	units := []merge.Unit{
		newUnit(t, "a", new(dextest.Builder).AddStrings("B")),
		newUnit(t, "b", new(dextest.Builder).AddStrings("A", "B")),
	}
	res, err := merge.Merge(context.Background(), units, merge.Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := parse(t, res.Image)
	var strs []string
	for i := 0; i < d.NumStrings(); i++ {
		strs = append(strs, stringAt(t, d, uint32(i)))
	}
	if diff := cmp.Diff([]string{"A", "B"}, strs); diff != "" {
		t.Errorf("strings: (-want +got)\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	st := stats.NewMap()
	units := []merge.Unit{
		classUnit(t, "foo", foo("Foo.java")),
		classUnit(t, "baz", baz()),
	}
	res, err := merge.Merge(context.Background(), units, merge.Options{Stats: st})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Classes, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(res.Dropped) != 0 {
		t.Errorf("unexpected dropped classes %v", res.Dropped)
	}
	d := parse(t, res.Image)
	if diff := cmp.Diff([]string{bazType, fooType}, classNames(t, d)); diff != "" {
		t.Errorf("classes: (-want +got)\n%s", diff)
	}
	// Both classes share the interface list.
	if got, want := d.TableOfContents().Count(dex.ItemTypeList), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if st.Int("dedup").Get() == 0 {
		t.Error("expected deduplicated items")
	}
	if got, want := st.Int("classes").Get(), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := st.Int("units").Get(), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	def := findClass(t, d, fooType)
	if got, want := stringAt(t, d, def.SourceFileIdx), "Foo.java"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	r := d.Reader(def.StaticValuesOff)
	values, err := encval.DecodeArray(r)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(encval.Array{encval.Int(42)}, values); diff != "" {
		t.Errorf("static values: (-want +got)\n%s", diff)
	}

	dir, err := d.AnnotationsDirectory(def.AnnotationsOff)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(dir.Methods), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := stringAt(t, d, d.MethodID(int(dir.Methods[0].Idx)).NameIdx), "run"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	set, err := d.AnnotationSet(dir.ClassAnnotationsOff)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(set), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	r = d.Reader(set[0])
	r.U1()
	a, err := encval.DecodeAnnotation(r)
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := d.TypeName(int(a.TypeIdx)); name != "Lcom/example/Marker;" {
		t.Errorf("bad annotation type %s", name)
	}
	m, ok := a.Elements[0].Value.(encval.Method)
	if !ok {
		t.Fatalf("bad element value %v", encval.Format(a.Elements[0].Value))
	}
	mid := d.MethodID(int(m))
	if got, want := stringAt(t, d, mid.NameIdx), "run"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if name, _ := d.TypeName(int(mid.ClassIdx)); name != fooType {
		t.Errorf("bad method class %s", name)
	}
}

func TestMergeCode(t *testing.T) {
	units := []merge.Unit{
		classUnit(t, "baz", baz()),
		classUnit(t, "foo", foo("Foo.java")),
	}
	res, err := merge.Merge(context.Background(), units, merge.Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := parse(t, res.Image)
	data, err := d.ClassData(findClass(t, d, fooType).ClassDataOff)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(data.VirtualMethods), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	code, err := d.Code(data.VirtualMethods[0].CodeOff)
	if err != nil {
		t.Fatal(err)
	}
	var refs []string
	err = dex.WalkInsns(code.Insns, func(in dex.Insn) error {
		switch in.Index {
		case dex.IndexString:
			refs = append(refs, stringAt(t, d, in.IndexOperand(code.Insns)))
		case dex.IndexField:
			f := d.FieldID(int(in.IndexOperand(code.Insns)))
			refs = append(refs, stringAt(t, d, f.NameIdx))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello", "count"}, refs); diff != "" {
		t.Errorf("operands: (-want +got)\n%s", diff)
	}
	if got, want := len(code.Tries), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	h := code.Handlers[code.Tries[0].Handler]
	if got, want := len(h.Handlers), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if name, _ := d.TypeName(int(h.Handlers[0].TypeIdx)); name != "Ljava/lang/Exception;" {
		t.Errorf("bad catch type %s", name)
	}
	if code.DebugInfoOff == 0 {
		t.Error("missing debug info")
	}

	data, err = d.ClassData(findClass(t, d, bazType).ClassDataOff)
	if err != nil {
		t.Fatal(err)
	}
	code, err = d.Code(data.VirtualMethods[0].CodeOff)
	if err != nil {
		t.Fatal(err)
	}
	if code.DebugInfoOff != 0 {
		t.Error("unexpected debug info")
	}
	refs = nil
	err = dex.WalkInsns(code.Insns, func(in dex.Insn) error {
		switch in.Index {
		case dex.IndexString:
			refs = append(refs, stringAt(t, d, in.IndexOperand(code.Insns)))
		case dex.IndexType:
			name, err := d.TypeName(int(in.IndexOperand(code.Insns)))
			if err != nil {
				return err
			}
			refs = append(refs, name)
		case dex.IndexMethod:
			m := d.MethodID(int(in.IndexOperand(code.Insns)))
			cls, err := d.TypeName(int(m.ClassIdx))
			if err != nil {
				return err
			}
			refs = append(refs, cls+"."+stringAt(t, d, m.NameIdx))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{fooType, fooType + ".run", "world"}, refs); diff != "" {
		t.Errorf("operands: (-want +got)\n%s", diff)
	}
}

func TestMergeReturnVoid(t *testing.T) {
	empty := dextest.Class{
		Name: "Lcom/example/Empty;",
		DirectMethods: []dextest.Method{{
			Name: "noop", Return: "V", Access: dex.AccStatic,
			Code: &dextest.Code{Insns: []dextest.Insn{dextest.ReturnVoid()}},
		}},
	}
	res, err := merge.Merge(context.Background(), []merge.Unit{classUnit(t, "empty", empty)}, merge.Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := parse(t, res.Image)
	data, err := d.ClassData(findClass(t, d, "Lcom/example/Empty;").ClassDataOff)
	if err != nil {
		t.Fatal(err)
	}
	code, err := d.Code(data.DirectMethods[0].CodeOff)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(code.Insns), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := code.Insns[0], uint16(0x0e); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestMergeDepthOrder(t *testing.T) {
	units := []merge.Unit{
		classUnit(t, "bar", dextest.Class{Name: barType, Super: fooType}),
		classUnit(t, "foo", dextest.Class{Name: fooType}),
	}
	res, err := merge.Merge(context.Background(), units, merge.Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := parse(t, res.Image)
	if diff := cmp.Diff([]string{fooType, barType}, classNames(t, d)); diff != "" {
		t.Errorf("classes: (-want +got)\n%s", diff)
	}
	bar := findClass(t, d, barType)
	if name, _ := d.TypeName(int(bar.SuperclassIdx)); name != fooType {
		t.Errorf("bad superclass %s", name)
	}
}

func TestMergeCycle(t *testing.T) {
	units := []merge.Unit{
		classUnit(t, "bar", dextest.Class{Name: barType, Super: fooType}),
		classUnit(t, "foo", dextest.Class{Name: fooType, Super: barType}),
	}
	_, err := merge.Merge(context.Background(), units, merge.Options{})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestCollisions(t *testing.T) {
	units := []merge.Unit{
		classUnit(t, "a", foo("A.java")),
		classUnit(t, "b", foo("B.java"), baz()),
	}
	_, err := merge.Merge(context.Background(), units, merge.Options{})
	if !errors.Is(errors.Exists, err) {
		t.Errorf("expected exists error, got %v", err)
	}

	st := stats.NewMap()
	res, err := merge.Merge(context.Background(), units, merge.Options{Collisions: merge.KeepFirst, Stats: st})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{fooType}, res.Dropped); diff != "" {
		t.Errorf("dropped: (-want +got)\n%s", diff)
	}
	if got, want := st.Int("collisions").Get(), int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	d := parse(t, res.Image)
	if diff := cmp.Diff([]string{bazType, fooType}, classNames(t, d)); diff != "" {
		t.Errorf("classes: (-want +got)\n%s", diff)
	}
	if got, want := stringAt(t, d, findClass(t, d, fooType).SourceFileIdx), "A.java"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCapacity(t *testing.T) {
	units := []merge.Unit{
		classUnit(t, "foo", dextest.Class{Name: fooType}),
		classUnit(t, "bar", dextest.Class{Name: barType}),
	}
	_, err := merge.Merge(context.Background(), units, merge.Options{Limit: 2})
	if !merge.IsCapacity(err) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if got, want := err.(*merge.CapacityError).Table, dex.ItemTypeID; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := merge.Merge(context.Background(), units, merge.Options{Limit: 3}); err != nil {
		t.Error(err)
	}
}

func TestMergeNoInputs(t *testing.T) {
	_, err := merge.Merge(context.Background(), nil, merge.Options{})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestCollisionPolicy(t *testing.T) {
	var p merge.CollisionPolicy
	if err := p.Set("keep-first"); err != nil {
		t.Fatal(err)
	}
	if got, want := p, merge.KeepFirst; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := p.String(), "keep-first"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := p.Set("newest"); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}
