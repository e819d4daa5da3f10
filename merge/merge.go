// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/indexmap"
	"github.com/grailbio/dexmerge/internal/defaultsize"
	"github.com/grailbio/dexmerge/internal/trace"
	"github.com/grailbio/dexmerge/stats"
)

// CollisionPolicy determines how a merge treats a class that is
// defined by more than one input.
type CollisionPolicy int

const (
	// Fail fails the merge with an errors.Exists error.
	Fail CollisionPolicy = iota
	// KeepFirst keeps the definition from the earliest input and
	// drops the others.
	KeepFirst
)

var policyNames = [...]string{Fail: "fail", KeepFirst: "keep-first"}

func (p CollisionPolicy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Set parses a policy name; it implements flag.Value.
func (p *CollisionPolicy) Set(s string) error {
	for i, name := range policyNames {
		if strings.EqualFold(s, name) {
			*p = CollisionPolicy(i)
			return nil
		}
	}
	return errors.E(errors.Invalid, fmt.Sprintf("unknown collision policy %q", s))
}

// Type implements pflag.Value.
func (*CollisionPolicy) Type() string { return "policy" }

// Options configures a merge.
type Options struct {
	// Collisions is the policy for classes defined more than once.
	Collisions CollisionPolicy
	// Workers is the number of inputs rewritten concurrently. If
	// zero, defaultsize.Workers is used.
	Workers int
	// Limit is the maximum number of entries in each of the type,
	// proto, field and method tables. If zero, dex.MaxIndex is used.
	Limit int
	// Stats, if not nil, accumulates counters describing the merge.
	Stats *stats.Map
	// Trace, if not nil, records the phases of the merge.
	Trace *trace.Recorder
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	if defaultsize.Workers > 0 {
		return defaultsize.Workers
	}
	return 1
}

func (o Options) limit() int {
	if o.Limit > 0 && o.Limit < dex.MaxIndex {
		return o.Limit
	}
	return dex.MaxIndex
}

// Unit is a named input image.
type Unit struct {
	Name string
	Dex  *dex.Dex
}

// Result is the outcome of a merge.
type Result struct {
	// Image is the merged dex image.
	Image []byte
	// Classes is the number of classes in the image.
	Classes int
	// Dropped lists the descriptors of classes dropped under the
	// KeepFirst policy.
	Dropped []string
}

// Merge merges the given units into a single image. Units are laid
// out in the order given; with the KeepFirst policy, earlier units
// take precedence.
func Merge(ctx context.Context, units []Unit, opts Options) (*Result, error) {
	return merge(ctx, units, opts, nil)
}

// merge merges units, dropping from each unit the classes whose
// descriptors are in the corresponding skip set.
func merge(ctx context.Context, units []Unit, opts Options, skip []map[string]bool) (*Result, error) {
	if len(units) == 0 {
		return nil, errors.E(errors.Invalid, "merge: no inputs")
	}
	m := &merger{opts: opts, stats: opts.Stats}
	for i, u := range units {
		m.units = append(m.units, &unit{Unit: u, index: i})
		if skip != nil {
			m.units[i].skip = skip[i]
		}
	}
	args := map[string]interface{}{"units": len(units)}
	end := opts.Trace.Span("merge", "allocate", 0, args)
	err := m.allocate()
	end()
	if err != nil {
		return nil, err
	}
	dropped, err := m.selectClasses()
	if err != nil {
		return nil, err
	}
	if err := m.seal(); err != nil {
		return nil, err
	}
	if err := m.plan(ctx); err != nil {
		return nil, err
	}
	end = opts.Trace.Span("merge", "layout", 0, args)
	img, err := m.layout()
	end()
	if err != nil {
		return nil, err
	}
	m.stats.Int("units").Add(int64(len(units)))
	log.Debug.Printf("merge: %d units: %s", len(units), m.stats.Snapshot())
	return &Result{Image: img, Classes: m.nclasses, Dropped: dropped}, nil
}

// merger holds the state of a single merge.
type merger struct {
	opts  Options
	stats *stats.Map
	units []*unit

	strings []targetString
	types   []uint32
	protos  []ref
	fields  []ref
	methods []ref

	nclasses int
}

// ref identifies a representative source of a target table entry.
type ref struct {
	u   *unit
	idx int
}

type targetString struct {
	data     []byte
	utf16Len uint32
}

// guard runs fn, recovering index errors into errors.Invalid and
// offset lookup misses into fatal errors attributed to the unit
// being processed.
func guard(u **unit, fn func() error) (err error) {
	defer func() {
		e := recover()
		if e == nil {
			return
		}
		var name string
		if *u != nil {
			name = (*u).Name
		}
		switch e := e.(type) {
		case *dex.IndexError:
			err = errors.E(errors.Invalid, name, e)
		case *indexmap.MissError:
			err = errors.E(errors.Fatal, name, e)
		default:
			panic(e)
		}
	}()
	return fn()
}
