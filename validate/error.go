// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"errors"
	"fmt"

	"github.com/p0prxx/wasmjit/wasm"
)

// Error wraps a validation failure with the function it occurred in.
type Error struct {
	Function int // index into the function index space for the offending function
	Err      error
}

func (e Error) Error() string {
	return fmt.Sprintf("error while validating function %d: %v", e.Function, e.Err)
}

// ErrStackUnderflow is returned if an instruction consumes a value, but
// there are no values on the stack.
var ErrStackUnderflow = errors.New("validate: stack underflow")

// InvalidLabelError is returned when a branch targets a nesting depth that
// does not exist in the current block stack.
type InvalidLabelError uint32

func (e InvalidLabelError) Error() string {
	return fmt.Sprintf("validate: invalid nesting depth %d", uint32(e))
}

// UnmatchedIfValueErr is returned if an if block returns a value, but no
// else block is present.
type UnmatchedIfValueErr wasm.ValueType

func (e UnmatchedIfValueErr) Error() string {
	return fmt.Sprintf("validate: if block returns value of type %v but no else present", wasm.ValueType(e))
}

// InvalidLocalIndexError is returned if a local variable index is
// referenced which does not exist.
type InvalidLocalIndexError uint32

func (e InvalidLocalIndexError) Error() string {
	return fmt.Sprintf("validate: invalid index for local variable %d", uint32(e))
}

// InvalidTypeError is returned if there is a mismatch between the type(s)
// an operator accepts and the value(s) actually on the stack.
type InvalidTypeError struct {
	Wanted wasm.ValueType
	Got    wasm.ValueType
}

func valueTypeStr(v wasm.ValueType) string {
	switch v {
	case noReturn:
		return "void"
	case unknownType:
		return "anytype"
	default:
		return v.String()
	}
}

func (e InvalidTypeError) Error() string {
	return fmt.Sprintf("validate: invalid type, got: %v, wanted: %v", valueTypeStr(e.Got), valueTypeStr(e.Wanted))
}

// UnbalancedStackErr is returned if the stack has more or fewer values
// than the enclosing block's signature allows at the point it ends.
type UnbalancedStackErr struct {
	Height int
	Want   int
}

func (e UnbalancedStackErr) Error() string {
	return fmt.Sprintf("validate: unbalanced stack (height %d, want %d)", e.Height, e.Want)
}
