// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dexio"
	"golang.org/x/sync/errgroup"
)

// item is a data item, rewritten into the target index space, with
// its source offset.
type item struct {
	off  uint32
	data []byte
}

type typeListItem struct {
	off  uint32
	list dex.TypeList
}

// offsetsItem is an annotation set or set ref list whose entries are
// still source offsets.
type offsetsItem struct {
	off     uint32
	entries dex.Offsets
}

// dirItem is an annotations directory whose member indices are
// translated and whose offsets are not.
type dirItem struct {
	off uint32
	dir dex.AnnotationsDirectory
}

// codeItem is an encoded code item whose debug info offset is still
// to be filled in.
type codeItem struct {
	off, debugOff uint32
	data          []byte
}

// classDataItem is a class data item whose member indices are
// translated and whose code offsets are not.
type classDataItem struct {
	off  uint32
	data dex.ClassData
}

// unitPlan holds the rewritten data items of a unit, in the order in
// which they are laid out.
type unitPlan struct {
	typeLists      []typeListItem
	annotations    []item
	annotationSets []offsetsItem
	refLists       []offsetsItem
	dirs           []dirItem
	staticValues   []item
	debugInfos     []item
	codes          []codeItem
	classData      []classDataItem
}

// plan rewrites the data items of every unit, concurrently.
func (m *merger) plan(ctx context.Context) error {
	lim := limiter.New()
	lim.Release(m.opts.workers())
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range m.units {
		u := u
		g.Go(func() error {
			if err := lim.Acquire(ctx, 1); err != nil {
				return err
			}
			defer lim.Release(1)
			defer m.opts.Trace.Span("plan", u.Name, u.index+1, nil)()
			cur := u
			err := guard(&cur, u.planItems)
			if err != nil {
				return err
			}
			log.Debug.Printf("merge: %s: planned %d annotations, %d code items, %d classes",
				u.Name, len(u.plan.annotations), len(u.plan.codes), len(u.plan.classData))
			return nil
		})
	}
	return g.Wait()
}

func align4(off uint32) uint32 {
	return off + uint32(dexio.AlignPad(int(off), 4))
}

// walkOffsets reads the count items of a section of offset lists.
func walkOffsets(s dex.Section, read func(off uint32) (dex.Offsets, error)) ([]offsetsItem, error) {
	var items []offsetsItem
	off := s.Off
	for i := uint32(0); i < s.Size; i++ {
		off = align4(off)
		entries, err := read(off)
		if err != nil {
			return nil, err
		}
		items = append(items, offsetsItem{off, entries})
		off += 4 + 4*uint32(len(entries))
	}
	return items, nil
}

func (u *unit) planItems() error {
	var (
		d     = u.Dex
		dense = u.placer.Dense
		toc   = d.TableOfContents()
		p     = &u.plan
		err   error
	)
	if s, ok := toc.Section(dex.ItemTypeList); ok {
		off := s.Off
		for i := uint32(0); i < s.Size; i++ {
			off = align4(off)
			list, err := d.TypeList(off)
			if err != nil {
				return errors.E(u.Name, err)
			}
			p.typeLists = append(p.typeLists, typeListItem{off, dense.AdjustTypeList(list)})
			off += 4 + 2*uint32(len(list))
		}
	}
	if s, ok := toc.Section(dex.ItemAnnotation); ok {
		r := d.Reader(s.Off)
		for i := uint32(0); i < s.Size; i++ {
			off := uint32(r.Pos())
			data, err := dense.AdjustAnnotationItem(r)
			if err != nil {
				return errors.E(u.Name, fmt.Sprintf("annotation at 0x%x", off), err)
			}
			p.annotations = append(p.annotations, item{off, data})
		}
	}
	if s, ok := toc.Section(dex.ItemAnnotationSet); ok {
		if p.annotationSets, err = walkOffsets(s, d.AnnotationSet); err != nil {
			return errors.E(u.Name, err)
		}
	}
	if s, ok := toc.Section(dex.ItemAnnotationSetRefList); ok {
		if p.refLists, err = walkOffsets(s, d.AnnotationSetRefList); err != nil {
			return errors.E(u.Name, err)
		}
	}

	// The remaining items are owned by class definitions; only those
	// of retained classes are planned.
	var (
		seenDir    = make(map[uint32]bool)
		seenValues = make(map[uint32]bool)
		seenData   = make(map[uint32]bool)
		seenCode   = make(map[uint32]bool)
		seenDebug  = make(map[uint32]bool)
	)
	for _, i := range u.classes {
		def := d.ClassDef(i)
		if off := def.AnnotationsOff; off != 0 && !seenDir[off] {
			seenDir[off] = true
			dir, err := d.AnnotationsDirectory(off)
			if err != nil {
				return errors.E(u.Name, err)
			}
			for j := range dir.Fields {
				dir.Fields[j].Idx = dense.AdjustField(dir.Fields[j].Idx)
			}
			for j := range dir.Methods {
				dir.Methods[j].Idx = dense.AdjustMethod(dir.Methods[j].Idx)
			}
			for j := range dir.Parameters {
				dir.Parameters[j].Idx = dense.AdjustMethod(dir.Parameters[j].Idx)
			}
			p.dirs = append(p.dirs, dirItem{off, dir})
		}
		if off := def.StaticValuesOff; off != 0 && !seenValues[off] {
			seenValues[off] = true
			data, err := dense.AdjustEncodedArray(d.Reader(off))
			if err != nil {
				return errors.E(u.Name, fmt.Sprintf("static values at 0x%x", off), err)
			}
			p.staticValues = append(p.staticValues, item{off, data})
		}
		off := def.ClassDataOff
		if off == 0 || seenData[off] {
			continue
		}
		seenData[off] = true
		data, err := d.ClassData(off)
		if err != nil {
			return errors.E(u.Name, err)
		}
		for _, fields := range [][]dex.EncodedField{data.StaticFields, data.InstanceFields} {
			for j := range fields {
				fields[j].FieldIdx = dense.AdjustField(fields[j].FieldIdx)
			}
		}
		for _, methods := range [][]dex.EncodedMethod{data.DirectMethods, data.VirtualMethods} {
			for j := range methods {
				methods[j].MethodIdx = dense.AdjustMethod(methods[j].MethodIdx)
				codeOff := methods[j].CodeOff
				if codeOff == 0 || seenCode[codeOff] {
					continue
				}
				seenCode[codeOff] = true
				code, err := u.rewriteCode(codeOff)
				if err != nil {
					return err
				}
				p.codes = append(p.codes, code)
				if debugOff := code.debugOff; debugOff != 0 && !seenDebug[debugOff] {
					seenDebug[debugOff] = true
					info, err := u.rewriteDebugInfo(debugOff)
					if err != nil {
						return errors.E(u.Name, err)
					}
					p.debugInfos = append(p.debugInfos, item{debugOff, info})
				}
			}
		}
		p.classData = append(p.classData, classDataItem{off, data})
	}
	return nil
}

// rewriteCode rewrites the index operands of the code item at off,
// and the types of its catch handlers.
func (u *unit) rewriteCode(off uint32) (codeItem, error) {
	dense := u.placer.Dense
	code, err := u.Dex.Code(off)
	if err != nil {
		return codeItem{}, errors.E(u.Name, err)
	}
	err = dex.WalkInsns(code.Insns, func(in dex.Insn) error {
		if in.Payload || in.Index == dex.IndexNone {
			return nil
		}
		var v uint32
		switch old := in.IndexOperand(code.Insns); in.Index {
		case dex.IndexString:
			v = dense.AdjustString(old)
		case dex.IndexType:
			v = dense.AdjustType(old)
		case dex.IndexField:
			v = dense.AdjustField(old)
		case dex.IndexMethod:
			v = dense.AdjustMethod(old)
		case dex.IndexProto:
			v = dense.AdjustProto(old)
		default:
			return errors.E(errors.NotSupported, fmt.Sprintf("%s reference at address %d", in.Index, in.Addr))
		}
		if !in.SetIndexOperand(code.Insns, v) {
			return &CapacityError{Table: dex.ItemStringID, Count: int(v) + 1, Limit: dex.MaxIndex, Unit: u.Name}
		}
		if in.HasProtoOperand() {
			code.Insns[in.Addr+3] = uint16(dense.AdjustProto(uint32(code.Insns[in.Addr+3])))
		}
		return nil
	})
	if IsCapacity(err) {
		return codeItem{}, err
	}
	if err != nil {
		return codeItem{}, errors.E(u.Name, fmt.Sprintf("code at 0x%x", off), err)
	}
	for i := range code.Handlers {
		h := &code.Handlers[i]
		for j := range h.Handlers {
			h.Handlers[j].TypeIdx = dense.AdjustType(h.Handlers[j].TypeIdx)
		}
	}
	debugOff := code.DebugInfoOff
	code.DebugInfoOff = 0
	var w dexio.Writer
	code.Encode(&w)
	return codeItem{off: off, debugOff: debugOff, data: w.Bytes()}, nil
}

// rewriteDebugInfo rewrites the string and type references of the
// debug info stream at off.
func (u *unit) rewriteDebugInfo(off uint32) ([]byte, error) {
	dense := u.placer.Dense
	r := u.Dex.Reader(off)
	var w dexio.Writer
	w.ULEB128(r.ULEB128())
	n := r.ULEB128()
	w.ULEB128(n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		w.ULEB128p1(dense.AdjustString(r.ULEB128p1()))
	}
	for r.Err() == nil {
		op := r.U1()
		if r.Err() != nil {
			break
		}
		w.U1(op)
		switch op {
		case dex.DbgEndSequence:
			return w.Bytes(), nil
		case dex.DbgAdvancePC, dex.DbgEndLocal, dex.DbgRestartLocal:
			w.ULEB128(r.ULEB128())
		case dex.DbgAdvanceLine:
			w.SLEB128(r.SLEB128())
		case dex.DbgStartLocal, dex.DbgStartLocalExtended:
			w.ULEB128(r.ULEB128())
			w.ULEB128p1(dense.AdjustString(r.ULEB128p1()))
			w.ULEB128p1(dense.AdjustType(r.ULEB128p1()))
			if op == dex.DbgStartLocalExtended {
				w.ULEB128p1(dense.AdjustString(r.ULEB128p1()))
			}
		case dex.DbgSetFile:
			w.ULEB128p1(dense.AdjustString(r.ULEB128p1()))
		}
	}
	return nil, errors.E(fmt.Sprintf("debug info at 0x%x", off), r.Err())
}
