// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

// answerModule is a hand-encoded WebAssembly binary exporting a single
// nullary function "answer" that returns the i32 constant 42:
//
//	(module
//	  (func (export "answer") (result i32)
//	    i32.const 42))
var answerModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version

	// type section: [(func (result i32))]
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	// function section: [type 0]
	0x03, 0x02, 0x01, 0x00,
	// export section: [answer -> func 0]
	0x07, 0x0a, 0x01, 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00,
	// code section: one body, no locals, i32.const 42; end
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x2a, 0x0b,
}

func writeTempModule(t *testing.T, data []byte) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "wasm-run-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "module.wasm")
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun(t *testing.T) {
	for _, verify := range []bool{false, true} {
		path := writeTempModule(t, answerModule)

		out := new(bytes.Buffer)
		run(out, path, verify)

		want := "answer() i32 => 42 (int32)\n"
		if got := out.String(); got != want {
			t.Fatalf("verify=%v: got %q, want %q", verify, got, want)
		}
	}
}
