// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/dexmerge/dex"
	"github.com/grailbio/dexmerge/dextest"
)

func testDex(t *testing.T) *dex.Dex {
	t.Helper()
	foo := dextest.Descriptor("com.example.Foo")
	d, err := new(dextest.Builder).Add(dextest.Class{
		Name: foo,
		StaticFields: []dextest.Field{
			{Name: "count", Type: "I", Access: dex.AccStatic},
		},
		VirtualMethods: []dextest.Method{{
			Name: "run", Return: "V", Params: []string{"Ljava/lang/String;", "I"},
			Code: &dextest.Code{Registers: 3, Ins: 3, Insns: []dextest.Insn{dextest.ReturnVoid()}},
		}},
	}).Parse()
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDumpTree(t *testing.T) {
	tree, err := dumpTree("classes.dex", testDex(t))
	if err != nil {
		t.Fatal(err)
	}
	s := tree.String()
	for _, want := range []string{
		"classes.dex",
		"com.example.Foo extends java.lang.Object",
		"int count",
		"void run(java.lang.String, int)",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("dump %q does not contain %q", s, want)
		}
	}
}

func TestPrintStat(t *testing.T) {
	var b bytes.Buffer
	printStat(&b, "classes.dex", testDex(t))
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if !strings.HasPrefix(lines[0], "classes.dex") {
		t.Errorf("bad header %q", lines[0])
	}
	if got, want := len(lines), 1+len(testDex(t).TableOfContents().Sections); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
