// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dexmerge/dexio"
)

// A Section is one entry in the map list: the type, item count and
// starting offset of a run of items.
type Section struct {
	Type ItemType
	Size uint32
	Off  uint32
}

// TableOfContents describes the sections of a dex image, as read
// from its map list. Sections are kept in offset order.
type TableOfContents struct {
	Sections []Section
}

// Section returns the section of the given type, and whether it
// exists.
func (t TableOfContents) Section(typ ItemType) (Section, bool) {
	for _, s := range t.Sections {
		if s.Type == typ {
			return s, true
		}
	}
	return Section{Type: typ}, false
}

// Count returns the number of items of the given type.
func (t TableOfContents) Count(typ ItemType) int {
	s, _ := t.Section(typ)
	return int(s.Size)
}

// Has tells whether the image contains any items of the given type.
func (t TableOfContents) Has(typ ItemType) bool {
	return t.Count(typ) > 0
}

func (t TableOfContents) String() string {
	s := "toc{"
	for i, sec := range t.Sections {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s:%d@0x%x", sec.Type, sec.Size, sec.Off)
	}
	return s + "}"
}

func readMapList(buf []byte, off uint32) (TableOfContents, error) {
	var toc TableOfContents
	if off == 0 || off%4 != 0 {
		return toc, errors.E(errors.Invalid, fmt.Sprintf("dex: bad map list offset 0x%x", off))
	}
	r := dexio.NewReader(buf, int(off))
	n := r.U4()
	if r.Err() == nil && int(n) > r.Remaining()/12 {
		return toc, errors.E(errors.Invalid, fmt.Sprintf("dex: map list of %d entries overruns image", n))
	}
	seen := make(map[ItemType]bool)
	for i := uint32(0); i < n; i++ {
		var s Section
		s.Type = ItemType(r.U2())
		r.U2()
		s.Size = r.U4()
		s.Off = r.U4()
		if seen[s.Type] {
			return toc, errors.E(errors.Invalid, fmt.Sprintf("dex: duplicate map list entry for %s", s.Type))
		}
		seen[s.Type] = true
		toc.Sections = append(toc.Sections, s)
	}
	if err := r.Err(); err != nil {
		return toc, errors.E("dex: read map list", err)
	}
	sort.SliceStable(toc.Sections, func(i, j int) bool {
		return toc.Sections[i].Off < toc.Sections[j].Off
	})
	return toc, nil
}

func (t TableOfContents) encode(w *dexio.Writer) {
	w.U4(uint32(len(t.Sections)))
	for _, s := range t.Sections {
		w.U2(uint16(s.Type))
		w.U2(0)
		w.U4(s.Size)
		w.U4(s.Off)
	}
}
