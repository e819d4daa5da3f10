// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package dex implements reading and writing of Dalvik executable
("dex") images at the level needed to merge them: the header, the
map list, the dense id tables, every offset-addressed data item, and
enough of the instruction set to locate index operands.

A Dex is an immutable, fully resident image. Parse validates the
header, the map list, and every cross-reference held in the id
tables, so that records returned by the accessors (TypeID, ProtoID,
FieldID, MethodID, ClassDef) are known to refer to valid indices.
References held in data items (encoded values, instructions, debug
info) are validated as they are used.

Dex images are written by Image, which lays out sections at
increasing offsets and finalizes the header checksum and signature.
*/
package dex
