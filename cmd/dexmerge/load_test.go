// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/dexmerge/dextest"
	"github.com/grailbio/testutil"
)

func TestLoadUnits(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	img := new(dextest.Builder).AddStrings("hello").MustBuild()
	good := filepath.Join(dir, "good.dex")
	bad := filepath.Join(dir, "bad.dex")
	must.Nil(ioutil.WriteFile(good, img, 0644))
	must.Nil(ioutil.WriteFile(bad, img[:len(img)/2], 0644))

	ctx := context.Background()
	for _, c := range []struct {
		name  string
		paths []string
		ok    bool
	}{
		{"good", []string{good}, true},
		{"corrupt", []string{good, bad}, false},
		{"missing", []string{filepath.Join(dir, "missing.dex")}, false},
	} {
		var s status.Status
		group := s.Group(c.name)
		units, err := loadUnits(ctx, group, c.paths)
		if got, want := err == nil, c.ok; got != want {
			t.Errorf("%s: got %v, want %v (%v)", c.name, got, want, err)
		}
		if c.ok {
			if got, want := len(units), 1; got != want {
				t.Errorf("%s: got %v, want %v", c.name, got, want)
			}
		}
		tasks := group.Tasks()
		if got, want := len(tasks), len(c.paths); got != want {
			t.Errorf("%s: got %v, want %v", c.name, got, want)
		}
		for _, task := range tasks {
			if v := task.Value(); v.End.IsZero() {
				t.Errorf("%s: task %s not done", c.name, v.Title)
			}
		}
	}
}
