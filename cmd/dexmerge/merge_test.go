// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/grailbio/dexmerge/merge"
	"github.com/spf13/pflag"
)

func TestOptionFlags(t *testing.T) {
	var opts merge.Options
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	optionFlags(flags, &opts)
	if err := flags.Parse([]string{"--collision=keep-first", "--limit", "100", "--workers=2"}); err != nil {
		t.Fatal(err)
	}
	if got, want := opts.Collisions, merge.KeepFirst; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := opts.Limit, 100; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := opts.Workers, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	flags = pflag.NewFlagSet("test", pflag.ContinueOnError)
	optionFlags(flags, &opts)
	if err := flags.Parse([]string{"--collision=newest"}); err == nil {
		t.Error("expected error")
	}
}
