// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/dexmerge/archive"
	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/merge"
)

// loadUnits reads and parses the dex images in the given inputs, in
// order. Progress is reported to group, which may be nil.
func loadUnits(ctx context.Context, group *status.Group, paths []string) ([]merge.Unit, error) {
	var units []merge.Unit
	for _, path := range paths {
		var task *status.Task
		if group != nil {
			task = group.Start(path)
			task.Print("loading")
		}
		loaded, err := loadPath(ctx, task, path)
		if task != nil {
			task.Done()
		}
		if err != nil {
			return nil, err
		}
		units = append(units, loaded...)
	}
	return units, nil
}

// loadPath parses the dex images stored at path, reporting a
// summary to task if it is non-nil.
func loadPath(ctx context.Context, task *status.Task, path string) ([]merge.Unit, error) {
	entries, err := archive.Load(ctx, path)
	if err != nil {
		if task != nil {
			task.Print(err)
		}
		return nil, err
	}
	var (
		units []merge.Unit
		size  int
	)
	for _, e := range entries {
		d, err := dex.Parse(e.Body)
		if err != nil {
			if task != nil {
				task.Printf("%s: %v", e.Name, err)
			}
			return nil, errors.E(e.Name, err)
		}
		units = append(units, merge.Unit{Name: e.Name, Dex: d})
		size += len(e.Body)
	}
	if task != nil {
		task.Printf("%d images, %s", len(entries), data.Size(size))
	}
	return units, nil
}
