// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"fmt"

	"github.com/p0prxx/wasmjit/ir"
)

// UnsupportedOpcodeError is returned when the instruction tree contains an
// ir.Op the amd64 backend has no lowering for.
type UnsupportedOpcodeError ir.Op

func (e UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("compile: unsupported opcode %v", ir.Op(e))
}

// StackUnderflowError describes an operator whose static stack effect
// would pop more values than are present at that program point. The
// emitters do not compare the operand-stack height against an operator's
// needs, so no code path in this package returns it; operand counts are
// checked by package validate, when the caller runs it.
type StackUnderflowError struct {
	Op     ir.Op
	Height int
	Want   int
}

func (e StackUnderflowError) Error() string {
	return fmt.Sprintf("compile: %v needs %d operand(s) but stack height is %d", e.Op, e.Want, e.Height)
}

// InvalidBranchTargetError is returned when a branch or return instruction
// names a nesting depth with no enclosing control frame.
type InvalidBranchTargetError uint32

func (e InvalidBranchTargetError) Error() string {
	return fmt.Sprintf("compile: invalid branch target depth %d", uint32(e))
}

// TooManyCallArgumentsError is returned when a call or call_indirect site
// targets a signature with more parameters of one class (integer or SSE)
// than that class has argument registers. The callee itself can still be
// compiled - layoutLocals spills the overflow to the caller's stack at a
// positive frame offset - but marshalling such a call from inside another
// compiled function would require reshuffling the operand stack around
// interleaved register- and stack-class arguments, which this backend
// does not do; see marshalArgs.
type TooManyCallArgumentsError struct {
	// Index is the function index for a direct call, or the type index
	// for a call_indirect (the actual callee isn't known until run time).
	Index      uint32
	IsIndirect bool
	IntCount   int
	FloatCount int
}

func (e TooManyCallArgumentsError) Error() string {
	kind := "function"
	if e.IsIndirect {
		kind = "call_indirect type"
	}
	return fmt.Sprintf("compile: call to %s %d needs %d integer-class and %d float-class argument(s), exceeding the %d/%d this backend can marshal from a call site", kind, e.Index, e.IntCount, e.FloatCount, len(intArgRegs), len(floatArgRegs))
}

// invariantViolation marks conditions that a prior call to package
// validate should have ruled out entirely - e.g. a local index out of
// range. Most call sites return it as an ordinary error, which
// CompileFunction propagates like any other compile failure; a few
// (package mem.go's localDesc) panic it instead where threading an error
// return through every caller isn't worth it. Either way it signals the
// same thing: a bug in the validator/compiler contract, not bad input.
type invariantViolation string

func (e invariantViolation) String() string { return string(e) }
func (e invariantViolation) Error() string  { return string(e) }
