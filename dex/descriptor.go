// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import "strings"

var primitives = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// DescriptorName returns the source-level name of a type descriptor:
// "Ljava/lang/String;" becomes "java.lang.String" and "[[I" becomes
// "int[][]". Malformed descriptors are returned unchanged.
func DescriptorName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	if dims == len(desc) {
		return desc
	}
	var base string
	switch c := desc[dims]; {
	case c == 'L' && strings.HasSuffix(desc, ";"):
		base = strings.Replace(desc[dims+1:len(desc)-1], "/", ".", -1)
	case len(desc) == dims+1:
		var ok bool
		if base, ok = primitives[c]; !ok {
			return desc
		}
	default:
		return desc
	}
	return base + strings.Repeat("[]", dims)
}

// ShortyChar returns the shorty character of a type descriptor:
// 'L' for every reference type (including arrays), else the
// descriptor itself.
func ShortyChar(desc string) byte {
	if desc == "" {
		return 0
	}
	if desc[0] == '[' {
		return 'L'
	}
	return desc[0]
}
