// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dextest

import "github.com/grailbio/dexmerge/dex"

type stringRef string

type typeRef string

// Insn is an instruction. Its index operand, if any, is filled in
// from Ref when the image is built.
type Insn struct {
	Units []uint16
	// Ref is the instruction's symbolic index operand: a string
	// (see ConstString), a type (see ConstClass), a FieldRef or a
	// MethodRef.
	Ref interface{}
}

func (in Insn) jumbo() bool {
	return len(in.Units) > 0 && uint8(in.Units[0]) == dex.OpConstStringJumbo
}

func op(code, hi uint8, units int, ref interface{}) Insn {
	in := Insn{Units: make([]uint16, units), Ref: ref}
	in.Units[0] = uint16(hi)<<8 | uint16(code)
	return in
}

// Nop returns a nop instruction.
func Nop() Insn { return Insn{Units: []uint16{0}} }

// ReturnVoid returns a return-void instruction.
func ReturnVoid() Insn { return op(0x0e, 0, 1, nil) }

// Raw returns an instruction with the given code units and no
// symbolic reference.
func Raw(units ...uint16) Insn { return Insn{Units: units} }

// ConstString returns a const-string instruction loading s into reg.
func ConstString(reg uint8, s string) Insn {
	return op(dex.OpConstString, reg, 2, stringRef(s))
}

// ConstStringJumbo returns a const-string/jumbo instruction loading
// s into reg.
func ConstStringJumbo(reg uint8, s string) Insn {
	return op(dex.OpConstStringJumbo, reg, 3, stringRef(s))
}

// ConstClass returns a const-class instruction.
func ConstClass(reg uint8, desc string) Insn {
	return op(0x1c, reg, 2, typeRef(desc))
}

// NewInstance returns a new-instance instruction.
func NewInstance(reg uint8, desc string) Insn {
	return op(0x22, reg, 2, typeRef(desc))
}

// SGet returns an sget instruction.
func SGet(reg uint8, f FieldRef) Insn {
	return op(0x60, reg, 2, f)
}

// IGet returns an iget instruction reading f of the object in obj.
func IGet(reg, obj uint8, f FieldRef) Insn {
	return op(0x52, obj<<4|reg&0xf, 2, f)
}

func invoke(code uint8, m MethodRef, regs []uint8) Insn {
	if len(regs) > 5 {
		panic("dextest: too many invoke arguments")
	}
	var g uint8
	if len(regs) == 5 {
		g = regs[4]
	}
	in := op(code, uint8(len(regs))<<4|g&0xf, 3, m)
	for i := 0; i < len(regs) && i < 4; i++ {
		in.Units[2] |= uint16(regs[i]&0xf) << uint(4*i)
	}
	return in
}

// InvokeVirtual returns an invoke-virtual instruction.
func InvokeVirtual(m MethodRef, regs ...uint8) Insn { return invoke(0x6e, m, regs) }

// InvokeDirect returns an invoke-direct instruction.
func InvokeDirect(m MethodRef, regs ...uint8) Insn { return invoke(0x70, m, regs) }

// InvokeStatic returns an invoke-static instruction.
func InvokeStatic(m MethodRef, regs ...uint8) Insn { return invoke(0x71, m, regs) }
