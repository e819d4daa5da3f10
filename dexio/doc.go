// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dexio provides the low-level byte codecs used by the dex
// format: fixed-width little-endian integers, LEB128 variants, the
// variable-width integral encodings used by encoded values, and
// modified UTF-8 strings.
//
// Readers keep a sticky error in the manner of bufio.Scanner: once a
// read runs past the end of the buffer, every subsequent read returns
// a zero value and Err reports the first failure.
package dexio
