// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command dexmerge merges dex images, and inspects them.
//
//	dexmerge merge -o out app.apk lib.jar extra.dex
//	dexmerge merge --multidex --collision keep-first -o s3://bucket/out *.jar
//	dexmerge dump out/classes.dex
//	dexmerge stat app.apk
package main

import (
	"flag"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/spf13/cobra"

	// Registers the internal tuning flags.
	_ "github.com/grailbio/dexmerge/internal/defaultsize"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("dexmerge: ")
	must.Func = log.Fatal

	root := &cobra.Command{
		Use:           "dexmerge",
		Short:         "Merge and inspect dex images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.AddCommand(mergeCmd(), dumpCmd(), statCmd())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
