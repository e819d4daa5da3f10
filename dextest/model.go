// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dextest builds small, valid dex images from a symbolic
// description, for use in tests. References are given by name
// (descriptors, member names and signatures); the builder collects
// them into sorted, deduplicated id tables and assigns indices.
package dextest

import (
	"fmt"
	"strings"

	"github.com/grailbio/dexmerge/encval"
)

// Object is the descriptor of java.lang.Object, the default
// superclass.
const Object = "Ljava/lang/Object;"

// FieldRef names a field.
type FieldRef struct {
	Class, Name, Type string
}

// MethodRef names a method.
type MethodRef struct {
	Class, Name string
	Return      string
	Params      []string
}

func (m MethodRef) key() string {
	return fmt.Sprintf("%s->%s(%s)%s", m.Class, m.Name, strings.Join(m.Params, ""), m.Return)
}

func protoKey(ret string, params []string) string {
	return "(" + strings.Join(params, "") + ")" + ret
}

// Class describes a class definition.
type Class struct {
	// Name is the class descriptor, e.g., "Lcom/example/Foo;".
	Name string
	// Super is the superclass descriptor. It defaults to Object;
	// set NoSuper to define a root class.
	Super      string
	NoSuper    bool
	Interfaces []string
	SourceFile string
	Access     uint32

	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []Method
	VirtualMethods []Method

	Annotations []Annotation
}

// Field describes a field definition.
type Field struct {
	Name, Type string
	Access     uint32
	// Value is the initial value of a static field.
	Value       Value
	Annotations []Annotation
}

// Method describes a method definition.
type Method struct {
	Name   string
	Return string
	Params []string
	Access uint32
	// Code is the method's body; nil for abstract and native
	// methods.
	Code             *Code
	Annotations      []Annotation
	ParamAnnotations [][]Annotation
}

// Code describes a method body.
type Code struct {
	Registers, Ins, Outs uint16
	Insns                []Insn
	Tries                []Try
	Debug                *Debug
}

// Try describes a try block and its handlers.
type Try struct {
	Start, Count uint16
	Catches      []Catch
	// CatchAll is the address of the catch-all handler, or -1.
	CatchAll int
}

// Catch is a typed catch clause.
type Catch struct {
	Type string
	Addr uint32
}

// Debug describes a method's debug info.
type Debug struct {
	Line       uint32
	ParamNames []string
	Locals     []Local
	// SourceFile, if set, emits a SET_FILE opcode.
	SourceFile string
}

// Local is a local variable declared at address 0.
type Local struct {
	Reg                   uint32
	Name, Type, Signature string
}

// Annotation describes an annotation.
type Annotation struct {
	Visibility byte
	Type       string
	Elements   []Element
}

// Element is an annotation element.
type Element struct {
	Name  string
	Value Value
}

// A Value is a symbolic encoded value.
type Value interface {
	collect(p *pools)
	resolve(p *pools) encval.Value
}

type lit struct{ v encval.Value }

func (lit) collect(*pools)                {}
func (l lit) resolve(*pools) encval.Value { return l.v }

// Lit returns a value that carries no references.
func Lit(v encval.Value) Value { return lit{v} }

// Int returns an int value.
func Int(v int32) Value { return lit{encval.Int(v)} }

// Bool returns a boolean value.
func Bool(v bool) Value { return lit{encval.Boolean(v)} }

// Null is the null value.
var Null Value = lit{encval.Null{}}

type strVal string

func (s strVal) collect(p *pools)              { p.string(string(s)) }
func (s strVal) resolve(p *pools) encval.Value { return encval.String(p.strings[string(s)]) }

// Str returns a string value.
func Str(s string) Value { return strVal(s) }

type typeVal string

func (t typeVal) collect(p *pools)              { p.typ(string(t)) }
func (t typeVal) resolve(p *pools) encval.Value { return encval.Type(p.types[string(t)]) }

// TypeVal returns a type value.
func TypeVal(desc string) Value { return typeVal(desc) }

type fieldVal struct {
	f    FieldRef
	enum bool
}

func (v fieldVal) collect(p *pools) { p.field(v.f) }
func (v fieldVal) resolve(p *pools) encval.Value {
	if v.enum {
		return encval.Enum(p.fields[v.f])
	}
	return encval.Field(p.fields[v.f])
}

// FieldVal returns a field value.
func FieldVal(f FieldRef) Value { return fieldVal{f: f} }

// EnumVal returns an enum value.
func EnumVal(f FieldRef) Value { return fieldVal{f: f, enum: true} }

type methodVal MethodRef

func (v methodVal) collect(p *pools) { p.method(MethodRef(v)) }
func (v methodVal) resolve(p *pools) encval.Value {
	return encval.Method(p.methods[MethodRef(v).key()])
}

// MethodVal returns a method value.
func MethodVal(m MethodRef) Value { return methodVal(m) }

type arrayVal []Value

func (a arrayVal) collect(p *pools) {
	for _, v := range a {
		v.collect(p)
	}
}

func (a arrayVal) resolve(p *pools) encval.Value {
	out := make(encval.Array, len(a))
	for i, v := range a {
		out[i] = v.resolve(p)
	}
	return out
}

// ArrayVal returns an array value.
func ArrayVal(vs ...Value) Value { return arrayVal(vs) }

type annotationVal Annotation

func (a annotationVal) collect(p *pools) { p.annotation(Annotation(a)) }
func (a annotationVal) resolve(p *pools) encval.Value {
	return p.resolveAnnotation(Annotation(a))
}

// AnnotationVal returns a nested annotation value.
func AnnotationVal(a Annotation) Value { return annotationVal(a) }
