// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package indexmap translates references from a source dex image into
the index and offset spaces of a target image being assembled from
several sources.

An index map is built in three stages, each represented by its own
type so that lookups can never precede the assignments they depend
on:

	b := indexmap.NewBuilder(src.TableOfContents())
	b.SetString(0, 17)        // dense assignments only
	...
	p, err := b.Seal()        // every dense slot is now filled
	p.AdjustString(0)         // dense lookups are available
	p.PutTypeListOffset(0x1f4, 0x2a8)
	p.AdjustTypeListOffset(0x1f4)
	m := p.Build()            // read-only from here on

Seal fails unless every slot of every dense table was assigned.
Offsets are registered as the corresponding structures are placed in
the target; looking up an offset that was never registered is a
programming error and panics with a *MissError. Offset 0, which
denotes an absent structure, is pre-registered for type lists,
annotation sets, annotations directories and static values. It is
not pre-registered for annotations and annotation set ref lists,
which are never referenced through a zero offset.

The structural adjusters (AdjustMethodID, AdjustFieldID,
AdjustProtoID, AdjustClassDef, AdjustSortableType) and the
encoded-value adjusters are pure functions of the map.
*/
package indexmap
