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
)

// OutputName returns the conventional file name of the i'th (from 0)
// image of a multidex output: classes.dex, classes2.dex, and so on.
func OutputName(i int) string {
	if i == 0 {
		return "classes.dex"
	}
	return fmt.Sprintf("classes%d.dex", i+1)
}

// Split merges units into as few images as it can while keeping
// every image's type, proto, field and method tables within
// opts.Limit. Units are never divided: each unit's classes end up in
// exactly one image. Units are packed greedily in order; a group
// that nevertheless fails with a CapacityError is bisected. Class
// collisions are resolved across all images with opts.Collisions.
func Split(ctx context.Context, units []Unit, opts Options) ([]*Result, error) {
	if len(units) == 0 {
		return nil, errors.E(errors.Invalid, "merge: no inputs")
	}
	keys := make([]*keySet, len(units))
	for i, u := range units {
		var err error
		if keys[i], err = unitKeys(u); err != nil {
			return nil, err
		}
	}
	skip, err := crossCollisions(units, keys, opts.Collisions)
	if err != nil {
		return nil, err
	}
	var (
		limit   = opts.limit()
		results []*Result
		group   = new(keySet)
		start   int
	)
	flush := func(end int) error {
		res, err := mergeGroup(ctx, units[start:end], opts, skip[start:end])
		if err != nil {
			return err
		}
		results = append(results, res...)
		start = end
		group = new(keySet)
		return nil
	}
	for i := range units {
		if i > start && !group.fits(keys[i], limit) {
			if err := flush(i); err != nil {
				return nil, err
			}
		}
		group.add(keys[i])
	}
	if err := flush(len(units)); err != nil {
		return nil, err
	}
	log.Debug.Printf("merge: split %d units into %d images", len(units), len(results))
	return results, nil
}

// mergeGroup merges a group of units, bisecting the group while the
// merge exceeds capacity.
func mergeGroup(ctx context.Context, units []Unit, opts Options, skip []map[string]bool) ([]*Result, error) {
	res, err := merge(ctx, units, opts, skip)
	if err == nil {
		return []*Result{res}, nil
	}
	if !IsCapacity(err) {
		return nil, err
	}
	if len(units) == 1 {
		if e := err.(*CapacityError); e.Unit == "" {
			e.Unit = units[0].Name
		}
		return nil, err
	}
	log.Debug.Printf("merge: %v: bisecting group of %d units", err, len(units))
	mid := len(units) / 2
	left, err := mergeGroup(ctx, units[:mid], opts, skip[:mid])
	if err != nil {
		return nil, err
	}
	right, err := mergeGroup(ctx, units[mid:], opts, skip[mid:])
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// crossCollisions applies the collision policy to classes that are
// defined by more than one unit. It returns, for each unit, the
// descriptors of classes that the unit must not emit because an
// earlier unit defines them.
func crossCollisions(units []Unit, keys []*keySet, policy CollisionPolicy) ([]map[string]bool, error) {
	var (
		skip   = make([]map[string]bool, len(units))
		owners = make(map[string]int)
	)
	for i, k := range keys {
		for _, name := range k.classes {
			owner, ok := owners[name]
			if !ok {
				owners[name] = i
				continue
			}
			if owner == i {
				// Left to the merge of the unit's group.
				continue
			}
			if policy == Fail {
				return nil, errors.E(errors.Exists, fmt.Sprintf("merge: class %s is defined by both %s and %s", dex.DescriptorName(name), units[owner].Name, units[i].Name))
			}
			if skip[i] == nil {
				skip[i] = make(map[string]bool)
			}
			skip[i][name] = true
		}
	}
	return skip, nil
}

// keySet holds the identities of the entries of a unit's dense
// tables. Entries with equal keys share a target index in a merge,
// so the size of a union of key sets is the size of the merged
// table.
type keySet struct {
	types, protos, fields, methods map[string]struct{}
	classes                        []string
}

func (k *keySet) tables() [4]*map[string]struct{} {
	return [4]*map[string]struct{}{&k.types, &k.protos, &k.fields, &k.methods}
}

// fits tells whether the union of k and u fits within limit entries
// per table.
func (k *keySet) fits(u *keySet, limit int) bool {
	kt, ut := k.tables(), u.tables()
	for i := range kt {
		n := len(*kt[i])
		for key := range *ut[i] {
			if _, ok := (*kt[i])[key]; !ok {
				n++
			}
		}
		if n > limit {
			return false
		}
	}
	return true
}

func (k *keySet) add(u *keySet) {
	kt, ut := k.tables(), u.tables()
	for i := range kt {
		if *kt[i] == nil {
			*kt[i] = make(map[string]struct{}, len(*ut[i]))
		}
		for key := range *ut[i] {
			(*kt[i])[key] = struct{}{}
		}
	}
}

// unitKeys computes the key set of a unit.
func unitKeys(u Unit) (*keySet, error) {
	d := u.Dex
	k := &keySet{
		types:   make(map[string]struct{}, d.NumTypes()),
		protos:  make(map[string]struct{}, d.NumProtos()),
		fields:  make(map[string]struct{}, d.NumFields()),
		methods: make(map[string]struct{}, d.NumMethods()),
	}
	cur := &unit{Unit: u}
	err := guard(&cur, func() error {
		types := make([]string, d.NumTypes())
		for i := range types {
			var err error
			if types[i], err = d.TypeName(i); err != nil {
				return errors.E(u.Name, err)
			}
			k.types[types[i]] = struct{}{}
		}
		protos := make([]string, d.NumProtos())
		for i := range protos {
			p := d.ProtoID(i)
			params, err := d.TypeList(p.ParametersOff)
			if err != nil {
				return errors.E(u.Name, err)
			}
			var b strings.Builder
			b.WriteByte('(')
			for _, t := range params {
				b.WriteString(types[t])
			}
			b.WriteByte(')')
			b.WriteString(types[p.ReturnTypeIdx])
			protos[i] = b.String()
			k.protos[protos[i]] = struct{}{}
		}
		for i := 0; i < d.NumFields(); i++ {
			f := d.FieldID(i)
			name, err := d.StringAt(int(f.NameIdx))
			if err != nil {
				return errors.E(u.Name, err)
			}
			k.fields[types[f.ClassIdx]+"."+name+":"+types[f.TypeIdx]] = struct{}{}
		}
		for i := 0; i < d.NumMethods(); i++ {
			m := d.MethodID(i)
			name, err := d.StringAt(int(m.NameIdx))
			if err != nil {
				return errors.E(u.Name, err)
			}
			k.methods[types[m.ClassIdx]+"."+name+protos[m.ProtoIdx]] = struct{}{}
		}
		for i := 0; i < d.NumClassDefs(); i++ {
			k.classes = append(k.classes, types[d.ClassDef(i).ClassIdx])
		}
		return nil
	})
	return k, err
}
