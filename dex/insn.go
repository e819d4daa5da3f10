// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Format is a Dalvik instruction format.
type Format uint8

// Instruction formats. The names follow the Dalvik convention: the
// first digit is the size in code units.
const (
	FormatUnused Format = iota
	Format10x
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format3rc
	Format45cc
	Format4rcc
	Format51l
)

// Units returns the size of instructions of format f, in 16-bit code
// units.
func (f Format) Units() int {
	switch f {
	case Format10x, Format12x, Format11n, Format11x, Format10t:
		return 1
	case Format20t, Format22x, Format21t, Format21s, Format21h, Format21c,
		Format23x, Format22b, Format22t, Format22s, Format22c:
		return 2
	case Format30t, Format32x, Format31i, Format31t, Format31c, Format35c, Format3rc:
		return 3
	case Format45cc, Format4rcc:
		return 4
	case Format51l:
		return 5
	}
	return 0
}

// IndexKind is the kind of table referenced by an instruction operand.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexString
	IndexType
	IndexField
	IndexMethod
	IndexProto
	IndexCallSite
	IndexMethodHandle
)

var indexNames = [...]string{"none", "string", "type", "field", "method", "proto", "call_site", "method_handle"}

func (k IndexKind) String() string {
	if int(k) < len(indexNames) {
		return indexNames[k]
	}
	return fmt.Sprintf("index(%d)", k)
}

type opInfo struct {
	format Format
	index  IndexKind
}

var opcodes [256]opInfo

func ops(lo, hi int, format Format, index IndexKind) {
	for op := lo; op <= hi; op++ {
		opcodes[op] = opInfo{format, index}
	}
}

func init() {
	ops(0x00, 0x00, Format10x, IndexNone)
	ops(0x01, 0x01, Format12x, IndexNone)
	ops(0x02, 0x02, Format22x, IndexNone)
	ops(0x03, 0x03, Format32x, IndexNone)
	ops(0x04, 0x04, Format12x, IndexNone)
	ops(0x05, 0x05, Format22x, IndexNone)
	ops(0x06, 0x06, Format32x, IndexNone)
	ops(0x07, 0x07, Format12x, IndexNone)
	ops(0x08, 0x08, Format22x, IndexNone)
	ops(0x09, 0x09, Format32x, IndexNone)
	ops(0x0a, 0x0d, Format11x, IndexNone)
	ops(0x0e, 0x0e, Format10x, IndexNone)
	ops(0x0f, 0x11, Format11x, IndexNone)
	ops(0x12, 0x12, Format11n, IndexNone)
	ops(0x13, 0x13, Format21s, IndexNone)
	ops(0x14, 0x14, Format31i, IndexNone)
	ops(0x15, 0x15, Format21h, IndexNone)
	ops(0x16, 0x16, Format21s, IndexNone)
	ops(0x17, 0x17, Format31i, IndexNone)
	ops(0x18, 0x18, Format51l, IndexNone)
	ops(0x19, 0x19, Format21h, IndexNone)
	ops(0x1a, 0x1a, Format21c, IndexString)
	ops(0x1b, 0x1b, Format31c, IndexString)
	ops(0x1c, 0x1c, Format21c, IndexType)
	ops(0x1d, 0x1e, Format11x, IndexNone)
	ops(0x1f, 0x1f, Format21c, IndexType)
	ops(0x20, 0x20, Format22c, IndexType)
	ops(0x21, 0x21, Format12x, IndexNone)
	ops(0x22, 0x22, Format21c, IndexType)
	ops(0x23, 0x23, Format22c, IndexType)
	ops(0x24, 0x24, Format35c, IndexType)
	ops(0x25, 0x25, Format3rc, IndexType)
	ops(0x26, 0x26, Format31t, IndexNone)
	ops(0x27, 0x27, Format11x, IndexNone)
	ops(0x28, 0x28, Format10t, IndexNone)
	ops(0x29, 0x29, Format20t, IndexNone)
	ops(0x2a, 0x2a, Format30t, IndexNone)
	ops(0x2b, 0x2c, Format31t, IndexNone)
	ops(0x2d, 0x31, Format23x, IndexNone)
	ops(0x32, 0x37, Format22t, IndexNone)
	ops(0x38, 0x3d, Format21t, IndexNone)
	ops(0x44, 0x51, Format23x, IndexNone)
	ops(0x52, 0x5f, Format22c, IndexField)
	ops(0x60, 0x6d, Format21c, IndexField)
	ops(0x6e, 0x72, Format35c, IndexMethod)
	ops(0x74, 0x78, Format3rc, IndexMethod)
	ops(0x7b, 0x8f, Format12x, IndexNone)
	ops(0x90, 0xaf, Format23x, IndexNone)
	ops(0xb0, 0xcf, Format12x, IndexNone)
	ops(0xd0, 0xd7, Format22s, IndexNone)
	ops(0xd8, 0xe2, Format22b, IndexNone)
	ops(0xfa, 0xfa, Format45cc, IndexMethod)
	ops(0xfb, 0xfb, Format4rcc, IndexMethod)
	ops(0xfc, 0xfc, Format35c, IndexCallSite)
	ops(0xfd, 0xfd, Format3rc, IndexCallSite)
	ops(0xfe, 0xfe, Format21c, IndexMethodHandle)
	ops(0xff, 0xff, Format21c, IndexProto)
}

// Pseudo-instruction identifiers, carried in the high byte of a nop.
const (
	PackedSwitchPayload  = 0x0100
	SparseSwitchPayload  = 0x0200
	FillArrayDataPayload = 0x0300
)

// Opcode names of the instructions whose index operands are
// rewritten when images are merged.
const (
	OpConstString            = 0x1a
	OpConstStringJumbo       = 0x1b
	OpInvokePolymorphic      = 0xfa
	OpInvokePolymorphicRange = 0xfb
)

// Insn describes a single instruction within a code item.
type Insn struct {
	// Addr is the instruction's address in code units.
	Addr int
	// Op is the opcode; it is 0 for payloads.
	Op     uint8
	Format Format
	// Index is the kind of the instruction's index operand, if any.
	Index IndexKind
	// Units is the instruction's size in code units.
	Units int
	// Payload is set for switch and array-data payloads.
	Payload bool
}

// IndexOperand returns the value of the instruction's primary index
// operand in insns, or 0 if it has none.
func (in Insn) IndexOperand(insns []uint16) uint32 {
	if in.Index == IndexNone {
		return 0
	}
	if in.Format == Format31c {
		return uint32(insns[in.Addr+1]) | uint32(insns[in.Addr+2])<<16
	}
	return uint32(insns[in.Addr+1])
}

// SetIndexOperand replaces the instruction's primary index operand.
// It returns false if the value does not fit the operand.
func (in Insn) SetIndexOperand(insns []uint16, v uint32) bool {
	if in.Format == Format31c {
		insns[in.Addr+1] = uint16(v)
		insns[in.Addr+2] = uint16(v >> 16)
		return true
	}
	if v > 0xffff {
		return false
	}
	insns[in.Addr+1] = uint16(v)
	return true
}

// HasProtoOperand tells whether the instruction carries a second,
// proto, index in its fourth code unit.
func (in Insn) HasProtoOperand() bool {
	return in.Format == Format45cc || in.Format == Format4rcc
}

// WalkInsns calls fn for every instruction and payload in insns, in
// address order. It returns an errors.Invalid error if an unused
// opcode is encountered or an instruction overruns the array.
func WalkInsns(insns []uint16, fn func(Insn) error) error {
	for pc := 0; pc < len(insns); {
		unit := insns[pc]
		op := uint8(unit)
		in := Insn{Addr: pc, Op: op}
		switch {
		case op == 0 && unit != 0:
			in.Payload = true
			in.Op = 0
			n, err := payloadUnits(insns, pc)
			if err != nil {
				return err
			}
			in.Units = n
		default:
			info := opcodes[op]
			if info.format == FormatUnused {
				return errors.E(errors.Invalid, fmt.Sprintf("dex: unused opcode 0x%02x at address %d", op, pc))
			}
			in.Format = info.format
			in.Index = info.index
			in.Units = info.format.Units()
		}
		if pc+in.Units > len(insns) {
			return errors.E(errors.Invalid, fmt.Sprintf("dex: instruction at address %d overruns code", pc))
		}
		if err := fn(in); err != nil {
			return err
		}
		pc += in.Units
	}
	return nil
}

func payloadUnits(insns []uint16, pc int) (int, error) {
	if pc+2 > len(insns) {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("dex: truncated payload at address %d", pc))
	}
	switch insns[pc] {
	case PackedSwitchPayload:
		return int(insns[pc+1])*2 + 4, nil
	case SparseSwitchPayload:
		return int(insns[pc+1])*4 + 2, nil
	case FillArrayDataPayload:
		if pc+4 > len(insns) {
			return 0, errors.E(errors.Invalid, fmt.Sprintf("dex: truncated payload at address %d", pc))
		}
		width := int(insns[pc+1])
		size := int(insns[pc+2]) | int(insns[pc+3])<<16
		return (width*size+1)/2 + 4, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("dex: unknown payload 0x%04x at address %d", insns[pc], pc))
}
