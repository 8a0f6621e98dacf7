// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"io/ioutil"
	"log"
	"os"
)

// PrintDebugInfo is not read anywhere in this package: diagnostics are
// switched on and off with SetDebugMode, which applies to every later
// CompileFunction call.
var PrintDebugInfo = false

var logger *log.Logger

func init() {
	logger = log.New(ioutil.Discard, "compile: ", log.Lshortfile)
}

// SetDebugMode controls whether package-level diagnostics are written to
// stderr. It is not safe to call concurrently with an in-flight
// CompileFunction.
func SetDebugMode(enabled bool) {
	if enabled {
		logger.SetOutput(os.Stderr)
		return
	}
	logger.SetOutput(ioutil.Discard)
}

// Options configures a single CompileFunction call.
type Options struct {
	// EmitBoundsChecks, when true, emits an explicit compare-and-trap
	// sequence before every linear-memory load/store guarding against an
	// out-of-bounds effective address. Disabling it produces smaller,
	// faster code at the cost of memory safety - only appropriate when
	// the caller has independently proven the accesses in range.
	EmitBoundsChecks bool

	// EmitDebugTrap, when true, emits an INT3 inside the function's
	// prologue, right after the locals area is reserved and before the
	// register arguments are spilled, making it trivial to catch newly
	// compiled functions under a debugger.
	EmitDebugTrap bool
}

// DefaultOptions returns the conservative configuration: bounds checks on,
// debug traps off.
func DefaultOptions() Options {
	return Options{EmitBoundsChecks: true}
}
