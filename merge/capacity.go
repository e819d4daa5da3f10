// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package merge

import (
	"fmt"

	"github.com/grailbio/dexmerge/dex"
)

// CapacityError is returned when the merged image would not fit
// the dex format's 16-bit index space.
type CapacityError struct {
	// Table is the table that overflowed.
	Table dex.ItemType
	// Count is the number of entries required; Limit is the number
	// permitted.
	Count, Limit int
	// Unit names the input that triggered the error, if known.
	Unit string
}

func (e *CapacityError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("merge: %s: %s index %d exceeds limit of %d", e.Unit, e.Table, e.Count-1, e.Limit-1)
	}
	return fmt.Sprintf("merge: %d %s entries exceed limit of %d", e.Count, e.Table, e.Limit)
}

// IsCapacity tells whether err is a *CapacityError.
func IsCapacity(err error) bool {
	_, ok := err.(*CapacityError)
	return ok
}
