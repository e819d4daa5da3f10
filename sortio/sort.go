// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sortio provides facilities for merging sorted runs of keys
// drawn from multiple inputs into a single deduplicated sequence.
package sortio

import (
	"container/heap"
	"sort"
)

// A Cursor is a position within one of the runs being merged.
type Cursor struct {
	// Run is the index of the run.
	Run int
	// Index is the current position within the run; Len is the
	// run's length.
	Index, Len int
}

// Done tells whether the cursor is exhausted.
func (c Cursor) Done() bool { return c.Index >= c.Len }

// CursorHeap implements a heap of Cursors, ordered by the provided
// comparison of their current elements. Ties are broken by run
// index, so that equal keys are visited in input order.
type CursorHeap struct {
	Cursors []*Cursor
	// CompareFunc compares the current elements of cursors a and b.
	CompareFunc func(a, b Cursor) int
}

func (h *CursorHeap) Len() int { return len(h.Cursors) }
func (h *CursorHeap) Less(i, j int) bool {
	a, b := *h.Cursors[i], *h.Cursors[j]
	if c := h.CompareFunc(a, b); c != 0 {
		return c < 0
	}
	return a.Run < b.Run
}
func (h *CursorHeap) Swap(i, j int) {
	h.Cursors[i], h.Cursors[j] = h.Cursors[j], h.Cursors[i]
}

// Push pushes a Cursor onto the heap.
func (h *CursorHeap) Push(x interface{}) {
	h.Cursors = append(h.Cursors, x.(*Cursor))
}

// Pop removes the Cursor with the smallest element from the heap.
func (h *CursorHeap) Pop() interface{} {
	n := len(h.Cursors)
	elem := h.Cursors[n-1]
	h.Cursors = h.Cursors[:n-1]
	return elem
}

// Merge performs a k-way merge of sorted runs whose lengths are given
// by lens. Compare orders the current elements of two cursors.
// Elements that compare equal are merged: emit is called once per
// distinct element, in sorted order, with its ordinal in the merged
// sequence and the cursors of every run element equal to it. Emit
// must not retain the group. Merge returns the number of distinct
// elements, or the first error returned by emit.
//
// Runs must be sorted by compare; duplicates within a run are merged
// as well.
func Merge(lens []int, compare func(a, b Cursor) int, emit func(ordinal int, group []Cursor) error) (int, error) {
	h := &CursorHeap{CompareFunc: compare}
	for run, n := range lens {
		if n > 0 {
			h.Cursors = append(h.Cursors, &Cursor{Run: run, Len: n})
		}
	}
	heap.Init(h)
	var (
		ordinal int
		group   []Cursor
	)
	for len(h.Cursors) > 0 {
		group = group[:0]
		head := *h.Cursors[0]
		for len(h.Cursors) > 0 && (len(group) == 0 || compare(head, *h.Cursors[0]) == 0) {
			top := h.Cursors[0]
			group = append(group, *top)
			top.Index++
			if top.Done() {
				heap.Remove(h, 0)
			} else {
				heap.Fix(h, 0)
			}
		}
		if err := emit(ordinal, group); err != nil {
			return ordinal, err
		}
		ordinal++
	}
	return ordinal, nil
}

// SortRun returns the permutation of [0, n) that sorts a run by less,
// so that callers may merge runs whose elements are not stored in
// order.
func SortRun(n int, less func(i, j int) bool) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return less(perm[i], perm[j]) })
	return perm
}
