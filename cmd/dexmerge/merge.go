// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/dexmerge/internal/trace"
	"github.com/grailbio/dexmerge/merge"
	"github.com/grailbio/dexmerge/stats"
	"github.com/grailbio/dexmerge/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func mergeCmd() *cobra.Command {
	var (
		output        string
		multidex      bool
		consoleStatus bool
		tracePath     string
		opts          merge.Options
	)
	cmd := &cobra.Command{
		Use:   "merge [flags] inputs...",
		Short: "Merge the dex images in the given inputs",
		Long: `Merge merges the dex images contained in the given inputs into
classes.dex in the output directory. Inputs may be dex files or zip
(apk, jar) or tar archives containing classes*.dex members, on any
supported file system. With --multidex, the output is split into
classes.dex, classes2.dex, ... as needed to fit the 16-bit index limits.
No output is written unless every image is produced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			var (
				st    status.Status
				group = st.Group("dexmerge")
			)
			if consoleStatus {
				var console status.Reporter
				go console.Go(os.Stderr, &st)
			}
			units, err := loadUnits(ctx, group, args)
			if err != nil {
				return err
			}
			opts.Stats = stats.NewMap()
			if tracePath != "" {
				opts.Trace = trace.NewRecorder()
				defer writeTrace(ctx, tracePath, opts.Trace)
			}
			task := group.Startf("merging %d units", len(units))
			var results []*merge.Result
			if multidex {
				results, err = merge.Split(ctx, units, opts)
			} else {
				var res *merge.Result
				if res, err = merge.Merge(ctx, units, opts); err == nil {
					results = []*merge.Result{res}
				}
			}
			task.Done()
			if err != nil {
				if merge.IsCapacity(err) && !multidex {
					return errors.E("use --multidex to split the output", err)
				}
				return err
			}
			var (
				names  = make([]string, len(results))
				images = make([][]byte, len(results))
			)
			for i, res := range results {
				names[i] = merge.OutputName(i)
				images[i] = res.Image
				for _, name := range res.Dropped {
					log.Debug.Printf("dropped duplicate class %s", name)
				}
			}
			if err := store.CommitAll(ctx, &store.Dir{Prefix: output}, names, images); err != nil {
				return err
			}
			for i, res := range results {
				log.Printf("%s: %d classes, %s", names[i], res.Classes, data.Size(len(res.Image)))
			}
			log.Printf("%d units merged: %s", len(units), opts.Stats.Snapshot())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", ".", "output directory")
	flags.BoolVar(&multidex, "multidex", false, "split the output into as many images as needed")
	flags.BoolVar(&consoleStatus, "status", false, "display progress on the console")
	flags.StringVar(&tracePath, "trace", "", "write a trace of the merge phases, in Chrome tracing format, to this path")
	optionFlags(flags, &opts)
	return cmd
}

// optionFlags registers flags for the merge options in flags.
func optionFlags(flags *pflag.FlagSet, opts *merge.Options) {
	flags.Var(&opts.Collisions, "collision", "policy for classes defined more than once: fail or keep-first")
	flags.IntVar(&opts.Limit, "limit", 0, "maximum number of types, protos, fields and methods per image (0 for the format's limit)")
	flags.IntVar(&opts.Workers, "workers", 0, "number of inputs rewritten concurrently (0 for the default)")
}

// writeTrace writes the events recorded by r to path. Failures are
// logged; a trace is not part of the output.
func writeTrace(ctx context.Context, path string, r *trace.Recorder) {
	f, err := file.Create(ctx, path)
	if err != nil {
		log.Error.Printf("create trace %s: %v", path, err)
		return
	}
	if err := r.Trace().Encode(f.Writer(ctx)); err != nil {
		log.Error.Printf("write trace %s: %v", path, err)
		f.Discard(ctx)
		return
	}
	if err := f.Close(ctx); err != nil {
		log.Error.Printf("close trace %s: %v", path, err)
	}
}
