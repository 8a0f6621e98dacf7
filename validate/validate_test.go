// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"testing"

	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
)

func i32(v int32) ir.Instr  { return ir.Instr{Op: ir.OpI32Const, I32Val: v} }
func f() ir.Instr           { return ir.Instr{Op: ir.OpI32Add} }
func local(i uint32) ir.Instr { return ir.Instr{Op: ir.OpGetLocal, Index: i} }

func sig(params, results []wasm.ValueType) wasm.FunctionSig {
	return wasm.FunctionSig{ParamTypes: params, ReturnTypes: results}
}

func TestFunctionValid(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{i32(1), i32(2), f()}},
	}
	if err := Function(&Module{}, fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFunctionStackUnderflow(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{i32(1), f()}}, // add needs two operands
	}
	if err := Function(&Module{}, fn); err != ErrStackUnderflow {
		t.Fatalf("err = %v, want ErrStackUnderflow", err)
	}
}

func TestFunctionTypeMismatch(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI64}),
		Code: ir.Code{Body: []ir.Instr{i32(1)}}, // leaves an i32, wants i64
	}
	err := Function(&Module{}, fn)
	if _, ok := err.(InvalidTypeError); !ok {
		t.Fatalf("err = %v (%T), want InvalidTypeError", err, err)
	}
}

func TestFunctionUnbalancedStack(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, nil),
		Code: ir.Code{Body: []ir.Instr{i32(1)}}, // leaves a value nothing consumes
	}
	err := Function(&Module{}, fn)
	if _, ok := err.(UnbalancedStackErr); !ok {
		t.Fatalf("err = %v (%T), want UnbalancedStackErr", err, err)
	}
}

func TestFunctionLocals(t *testing.T) {
	fn := ir.Func{
		Type: sig([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{local(0)}},
	}
	if err := Function(&Module{}, fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFunctionInvalidLocalIndex(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{local(0)}},
	}
	err := Function(&Module{}, fn)
	if _, ok := err.(InvalidLocalIndexError); !ok {
		t.Fatalf("err = %v (%T), want InvalidLocalIndexError", err, err)
	}
}

func TestFunctionIfWithoutElseYieldingValue(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, nil),
		Code: ir.Code{Body: []ir.Instr{
			i32(1),
			{Op: ir.OpIf, Sig: ir.BlockSig{HasResult: true, Result: wasm.ValueTypeI32}, Then: []ir.Instr{i32(1)}},
		}},
	}
	err := Function(&Module{}, fn)
	if _, ok := err.(UnmatchedIfValueErr); !ok {
		t.Fatalf("err = %v (%T), want UnmatchedIfValueErr", err, err)
	}
}

func TestFunctionIfElseBalanced(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{
			i32(1),
			{
				Op:   ir.OpIf,
				Sig:  ir.BlockSig{HasResult: true, Result: wasm.ValueTypeI32},
				Then: []ir.Instr{i32(2)},
				Else: []ir.Instr{i32(3)},
			},
		}},
	}
	if err := Function(&Module{}, fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFunctionBranchToInvalidLabel(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, nil),
		Code: ir.Code{Body: []ir.Instr{{Op: ir.OpBr, LabelIdx: 3}}},
	}
	err := Function(&Module{}, fn)
	if _, ok := err.(InvalidLabelError); !ok {
		t.Fatalf("err = %v (%T), want InvalidLabelError", err, err)
	}
}

func TestFunctionCall(t *testing.T) {
	mod := &Module{
		FuncSigs: []wasm.FunctionSig{sig([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
	}
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{i32(5), {Op: ir.OpCall, FuncIndex: 0}}},
	}
	if err := Function(mod, fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFunctionLoopBranchDiscardsNoValue(t *testing.T) {
	// loop: br 0 is allowed to re-enter with an empty expected stack,
	// unlike a block's exit label.
	fn := ir.Func{
		Type: sig(nil, nil),
		Code: ir.Code{Body: []ir.Instr{
			{Op: ir.OpLoop, Sig: ir.BlockSig{}, Then: []ir.Instr{{Op: ir.OpBr, LabelIdx: 0}}},
		}},
	}
	if err := Function(&Module{}, fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
