// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package archive_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/must"
	"github.com/grailbio/dexmerge/archive"
	"github.com/grailbio/dexmerge/dextest"
	"github.com/grailbio/testutil"
)

func image(class string) []byte {
	var b dextest.Builder
	return b.Add(dextest.Class{Name: dextest.Descriptor(class)}).MustBuild()
}

type member struct {
	name string
	body []byte
}

var members = []member{
	{"classes2.dex", image("com.example.Two")},
	{"AndroidManifest.xml", []byte("<manifest/>")},
	{"classes10.dex", image("com.example.Ten")},
	{"classes.dex", image("com.example.One")},
	{"assets/classes3.dex", image("com.example.Asset")},
}

func zipped() []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, m := range members {
		f, err := w.Create(m.name)
		must.Nil(err)
		_, err = f.Write(m.body)
		must.Nil(err)
	}
	must.Nil(w.Close())
	return buf.Bytes()
}

func tarred() []byte {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for _, m := range members {
		must.Nil(w.WriteHeader(&tar.Header{
			Name:     m.name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(m.body)),
		}))
		_, err := w.Write(m.body)
		must.Nil(err)
	}
	must.Nil(w.Close())
	return buf.Bytes()
}

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	for _, c := range []struct {
		name  string
		body  []byte
		names []string
	}{
		{"app.apk", zipped(), []string{"classes.dex", "classes2.dex", "classes10.dex"}},
		{"lib.jar", zipped(), []string{"classes.dex", "classes2.dex", "classes10.dex"}},
		{"out.tar", tarred(), []string{"classes.dex", "classes2.dex", "assets/classes3.dex", "classes10.dex"}},
		{"single.dex", image("com.example.Single"), nil},
	} {
		path := filepath.Join(dir, c.name)
		must.Nil(ioutil.WriteFile(path, c.body, 0644))
		entries, err := archive.Load(ctx, path)
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if c.names == nil {
			if got, want := len(entries), 1; got != want {
				t.Errorf("got %v, want %v", got, want)
			} else if got, want := entries[0].Name, path; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			continue
		}
		if got, want := len(entries), len(c.names); got != want {
			t.Errorf("%s: got %v, want %v", c.name, got, want)
			continue
		}
		for i, e := range entries {
			if got, want := e.Name, path+"!"+c.names[i]; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
			if !bytes.HasPrefix(e.Body, []byte("dex\n")) {
				t.Errorf("%s: not a dex image", e.Name)
			}
		}
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := archive.Parse("notes.txt", []byte("hello")); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("README")
	must.Nil(err)
	_, err = f.Write([]byte("nothing here"))
	must.Nil(err)
	must.Nil(w.Close())
	if _, err := archive.Parse("empty.zip", buf.Bytes()); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
}
