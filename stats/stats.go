// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides named counters for reporting the work done
// by a merge: table sizes, deduplicated items, dropped classes. A Map
// may be shared by concurrent workers and snapshotted at any time.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of the counters in a Map.
type Values map[string]int64

// Keys returns the snapshot's counter names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String returns the values in the snapshot as space-separated
// name:value pairs, sorted by name.
func (v Values) String() string {
	keys := v.Keys()
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Int)}
}

// Int returns the counter with the provided name, creating it if
// needed. A nil Map returns a nil counter, on which all operations
// are no-ops.
func (m *Map) Int(name string) *Int {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	return v
}

// Snapshot returns the current values of all counters in the map.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	if m == nil {
		return vals
	}
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] = v.Get()
	}
	m.mu.Unlock()
	return vals
}

// An Int is an integer counter that may be updated atomically.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the current value of a counter.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}
