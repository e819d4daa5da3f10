// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package archive reads dex images from input files: bare .dex
// files, zip-based packages (.zip, .apk, .jar) and tar archives. Input
// paths may name any location supported by grailfile, including S3.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Entry is a single dex image read from an input.
type Entry struct {
	// Name identifies the image: the input path, or for archive
	// members, "path!member".
	Name string
	// Body is the image's contents.
	Body []byte
}

var (
	dexMagic = []byte("dex\n")
	zipMagic = []byte("PK\x03\x04")
)

// Load reads the dex images contained in the file at path. Archive
// members named classes.dex, classes2.dex, ... are returned in that
// order; other members are ignored. An archive that contains no dex
// image is an errors.NotExist error.
func Load(ctx context.Context, p string) ([]Entry, error) {
	f, err := file.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	body, err := ioutil.ReadAll(f.Reader(ctx))
	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.E(fmt.Sprintf("read %s", p), err)
	}
	return Parse(p, body)
}

// Parse extracts the dex images from the contents of the named
// input.
func Parse(name string, body []byte) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	ext := strings.ToLower(path.Ext(name))
	switch {
	case bytes.HasPrefix(body, dexMagic):
		return []Entry{{Name: name, Body: body}}, nil
	case bytes.HasPrefix(body, zipMagic):
		entries, err = readZip(name, body)
	case ext == ".tar":
		entries, err = readTar(name, bytes.NewReader(body))
	case ext == ".tgz" || strings.HasSuffix(strings.ToLower(name), ".tar.gz"):
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(bytes.NewReader(body)); err == nil {
			entries, err = readTar(name, gz)
		}
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: not a dex image or archive", name))
	}
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("read archive %s", name), err)
	}
	if len(entries) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("%s: no dex images in archive", name))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return memberIndex(entries[i].Name) < memberIndex(entries[j].Name)
	})
	return entries, nil
}

// memberIndex returns the position of a classes*.dex member in the
// multidex sequence, or -1 if the member is not a dex image.
func memberIndex(name string) int {
	if i := strings.LastIndexByte(name, '!'); i >= 0 {
		name = name[i+1:]
	}
	name = path.Base(name)
	if !strings.HasPrefix(name, "classes") || !strings.HasSuffix(name, ".dex") {
		return -1
	}
	num := strings.TrimSuffix(strings.TrimPrefix(name, "classes"), ".dex")
	if num == "" {
		return 1
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 2 {
		return -1
	}
	return n
}

func readZip(name string, body []byte) ([]Entry, error) {
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, f := range r.File {
		if memberIndex(f.Name) < 0 || strings.Contains(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		b, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name + "!" + f.Name, Body: b})
	}
	return entries, nil
}

func readTar(name string, r io.Reader) ([]Entry, error) {
	tr := tar.NewReader(r)
	var entries []Entry
	for {
		head, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if head.Typeflag != tar.TypeReg || memberIndex(head.Name) < 0 {
			continue
		}
		b, err := ioutil.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name + "!" + head.Name, Body: b})
	}
}
