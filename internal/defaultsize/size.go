// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package defaultsize holds internal tuning defaults, configured by
// flag.
package defaultsize

import "flag"

var (
	// Workers is the default number of units planned concurrently.
	Workers int
	// ImageCapacity is the initial capacity, in bytes, of an output
	// image buffer.
	ImageCapacity int
)

func init() {
	flag.IntVar(&Workers, "dexmerge-internal-workers", 8,
		"Default number of input units rewritten concurrently")
	flag.IntVar(&ImageCapacity, "dexmerge-internal-image-capacity", 1<<20,
		"Default initial capacity of output image buffers, in bytes")
}
