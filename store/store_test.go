// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	fz := fuzz.New()
	fz.NumElements(1e3, 1e5)
	var data []byte
	fz.Fuzz(&data)
	ctx := context.Background()
	wc, err := store.Create(ctx, "classes.dex")
	if err != nil {
		t.Error(err)
		return
	}
	if _, err := io.Copy(wc, bytes.NewReader(data)); err != nil {
		t.Error(err)
		return
	}
	// Make sure the image isn't available until it's committed.
	_, err = store.Open(ctx, "classes.dex")
	if err == nil {
		t.Error("store prematurely available")
	} else if !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := wc.Commit(ctx); err != nil {
		t.Error(err)
		return
	}
	info, err := store.Stat(ctx, "classes.dex")
	if err != nil {
		t.Error(err)
	} else if got, want := info.Size, int64(len(data)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	rc, err := store.Open(ctx, "classes.dex")
	if err != nil {
		t.Error(err)
		return
	}
	defer rc.Close()
	got, err := ioutil.ReadAll(rc)
	if err != nil {
		t.Error(err)
		return
	}
	if !bytes.Equal(data, got) {
		t.Error("data do not match")
	}
	if _, err := store.Stat(ctx, "classes2.dex"); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := store.Remove(ctx, "classes.dex"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Stat(ctx, "classes.dex"); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStoreImpls(t *testing.T) {
	testStore(t, NewMemory())
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	testStore(t, &Dir{dir})
}

func TestMemoryExists(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := CommitAll(ctx, m, []string{"classes.dex"}, [][]byte{{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(ctx, "classes.dex"); !errors.Is(errors.Exists, err) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCommitAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	names := []string{"classes.dex", "classes2.dex"}
	if err := CommitAll(ctx, m, names, [][]byte{{1}, {2}}); err != nil {
		t.Fatal(err)
	}
	if got, want := len(m.Names()), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Duplicate names are detected when the second image is
	// committed; the first is then removed again.
	m2 := NewMemory()
	if err := CommitAll(ctx, m2, []string{"a", "b", "a"}, [][]byte{{1}, {2}, {3}}); err == nil {
		t.Error("expected error")
	}
	if got, want := len(m2.Names()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := m2.Open(ctx, "a"); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDirDiscard(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	d := &Dir{dir}
	wc, err := d.Create(ctx, "classes.dex")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := wc.Discard(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Stat(ctx, "classes.dex"); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
}
