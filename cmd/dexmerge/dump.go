// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/grailbio/base/data"
	"github.com/grailbio/dexmerge/dex"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump input",
		Short: "Print the classes and members of the dex images in an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := loadUnits(context.Background(), nil, args)
			if err != nil {
				return err
			}
			for _, u := range units {
				tree, err := dumpTree(u.Name, u.Dex)
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, tree.String())
			}
			return nil
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat input",
		Short: "Print the table sizes of the dex images in an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := loadUnits(context.Background(), nil, args)
			if err != nil {
				return err
			}
			for _, u := range units {
				printStat(os.Stdout, u.Name, u.Dex)
			}
			return nil
		},
	}
}

func printStat(w io.Writer, name string, d *dex.Dex) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", name, data.Size(len(d.Bytes())))
	for _, s := range d.TableOfContents().Sections {
		fmt.Fprintf(tw, "\t%s\t%d\n", s.Type, s.Size)
	}
	tw.Flush()
}

func dumpTree(name string, d *dex.Dex) (tree treeprint.Tree, err error) {
	defer dex.CatchIndexError(&err)
	typeName := func(i uint32) string {
		desc, err := d.TypeName(int(i))
		if err != nil {
			return fmt.Sprintf("type#%d", i)
		}
		return dex.DescriptorName(desc)
	}
	str := func(i uint32) string {
		s, err := d.StringAt(int(i))
		if err != nil {
			return fmt.Sprintf("string#%d", i)
		}
		return s
	}
	tree = treeprint.New()
	root := tree.AddBranch(name)
	for i := 0; i < d.NumClassDefs(); i++ {
		def := d.ClassDef(i)
		label := typeName(def.ClassIdx)
		if def.SuperclassIdx != dex.NoIndex {
			label += " extends " + typeName(def.SuperclassIdx)
		}
		class := root.AddBranch(label)
		if def.ClassDataOff == 0 {
			continue
		}
		cd, err := d.ClassData(def.ClassDataOff)
		if err != nil {
			return nil, err
		}
		for _, fields := range [][]dex.EncodedField{cd.StaticFields, cd.InstanceFields} {
			for _, f := range fields {
				id := d.FieldID(int(f.FieldIdx))
				class.AddNode(fmt.Sprintf("%s %s", typeName(uint32(id.TypeIdx)), str(id.NameIdx)))
			}
		}
		for _, methods := range [][]dex.EncodedMethod{cd.DirectMethods, cd.VirtualMethods} {
			for _, m := range methods {
				id := d.MethodID(int(m.MethodIdx))
				proto := d.ProtoID(int(id.ProtoIdx))
				params, err := d.TypeList(proto.ParametersOff)
				if err != nil {
					return nil, err
				}
				names := make([]string, len(params))
				for j, t := range params {
					names[j] = typeName(uint32(t))
				}
				class.AddNode(fmt.Sprintf("%s %s(%s)", typeName(proto.ReturnTypeIdx), str(id.NameIdx), strings.Join(names, ", ")))
			}
		}
	}
	return tree, nil
}
