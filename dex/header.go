// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dex

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"

	"github.com/grailbio/base/errors"
)

// Header is the fixed-size header at the start of every dex image.
type Header struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

func readHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, errors.E(errors.Invalid, fmt.Sprintf("dex: image of %d bytes is shorter than its header", len(buf)))
	}
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, errors.E(errors.Invalid, "dex: decode header", err)
	}
	if !bytes.Equal(h.Magic[:4], Magic[:4]) || h.Magic[7] != 0 {
		return h, errors.E(errors.Invalid, fmt.Sprintf("dex: bad magic %q", h.Magic[:]))
	}
	if h.EndianTag != EndianTag {
		return h, errors.E(errors.NotSupported, fmt.Sprintf("dex: unsupported endian tag 0x%x", h.EndianTag))
	}
	if h.HeaderSize != HeaderSize {
		return h, errors.E(errors.Invalid, fmt.Sprintf("dex: bad header size 0x%x", h.HeaderSize))
	}
	if int(h.FileSize) > len(buf) {
		return h, errors.E(errors.Invalid, fmt.Sprintf("dex: file size %d exceeds image of %d bytes", h.FileSize, len(buf)))
	}
	return h, nil
}

func (h *Header) encode() []byte {
	var b bytes.Buffer
	b.Grow(HeaderSize)
	// Writes to a bytes.Buffer do not fail.
	_ = binary.Write(&b, binary.LittleEndian, h)
	return b.Bytes()
}

// Checksum computes the header checksum of a dex image: the Adler-32
// checksum of everything following the checksum field.
func Checksum(buf []byte) uint32 {
	return adler32.Checksum(buf[12:])
}

// Signature computes the SHA-1 signature of a dex image: the hash of
// everything following the signature field.
func Signature(buf []byte) [20]byte {
	return sha1.Sum(buf[32:])
}

// Finish fills in the signature and checksum of an encoded dex
// image. The signature is computed first, since the checksum covers it.
func Finish(buf []byte) {
	sig := Signature(buf)
	copy(buf[12:32], sig[:])
	binary.LittleEndian.PutUint32(buf[8:12], Checksum(buf))
}

// Verify checks the checksum and signature of the image.
func (d *Dex) Verify() error {
	if got, want := Checksum(d.buf), d.Header.Checksum; got != want {
		return errors.E(errors.Integrity, fmt.Sprintf("dex: checksum mismatch: computed 0x%08x, header 0x%08x", got, want))
	}
	if got, want := Signature(d.buf), d.Header.Signature; got != want {
		return errors.E(errors.Integrity, fmt.Sprintf("dex: signature mismatch: computed %x, header %x", got, want))
	}
	return nil
}
