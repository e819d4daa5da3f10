// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

// Debug info state machine opcodes.
const (
	DbgEndSequence        = 0x00
	DbgAdvancePC          = 0x01
	DbgAdvanceLine        = 0x02
	DbgStartLocal         = 0x03
	DbgStartLocalExtended = 0x04
	DbgEndLocal           = 0x05
	DbgRestartLocal       = 0x06
	DbgSetPrologueEnd     = 0x07
	DbgSetEpilogueBegin   = 0x08
	DbgSetFile            = 0x09
	// DbgFirstSpecial is the first of the special opcodes, which
	// advance both the line and address registers.
	DbgFirstSpecial = 0x0a
)
