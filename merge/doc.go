// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package merge combines several dex images into one.

A merge proceeds in fixed passes:

 1. Allocation. The string, type, proto, field and method tables of
    all inputs are merged into deduplicated, sorted target tables.
    Since each input table is itself sorted, this is a k-way merge of
    sorted runs; every input index is assigned its target index in
    the input's dense index map, which is then sealed.
 2. Planning. Each input's annotations, static values, code and
    debug info are rewritten into the target index space. Inputs are
    planned concurrently; each reads only its own frozen map.
 3. Layout. Offset-addressed items are appended to the target image
    in dependency order (type lists, annotations, annotation sets,
    set ref lists, annotations directories, static values, debug
    info, code, class data, string data), and each placement is
    registered in the input's index map as it is made. Identical type
    lists, annotations, sets, ref lists and static values are stored
    once.
 4. Emission. The id tables and class definitions are filled in.
    Class definitions are ordered so that every class follows its
    supertypes.

Layout and emission are sequential and in input order, so the
output does not depend on the degree of parallelism.

Merge fails with a *CapacityError if a 16-bit table of the target
would exceed its limit, or if a string referenced by a const-string
instruction no longer fits a 16-bit index. Split packs inputs into
as many images as needed to avoid capacity errors.
*/
package merge
