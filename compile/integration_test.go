// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build !appengine amd64

package compile_test

import (
	"runtime"
	"testing"

	"github.com/p0prxx/wasmjit/compile"
	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/link"
	"github.com/p0prxx/wasmjit/wasm"
)

func supportedOS(os string) bool {
	return os == "linux" || os == "windows" || os == "darwin"
}

// compileAndInvoke compiles fn, loads it into executable memory through a
// fresh linker, and calls it with args, returning the raw 64-bit result
// Invoke hands back.
func compileAndInvoke(t *testing.T, fn ir.Func, args []uint64) uint64 {
	t.Helper()
	if !supportedOS(runtime.GOOS) {
		t.SkipNow()
	}

	mod := &compile.ModuleInfo{Types: []wasm.FunctionSig{fn.Type}, FuncSigs: []wasm.FunctionSig{fn.Type}}
	res, err := compile.CompileFunction(mod, fn.Type, fn.Code, compile.DefaultOptions())
	if err != nil {
		t.Fatalf("CompileFunction: %v", err)
	}

	alloc := &link.MMapAllocator{}
	defer alloc.Close()
	l, err := link.NewLinker(alloc)
	if err != nil {
		t.Fatalf("NewLinker: %v", err)
	}
	l.TypeTokens = []uint64{1}
	l.FuncTypeTokens = []uint32{0}

	funcs, err := l.LinkFunctions([]*compile.Result{res})
	if err != nil {
		t.Fatalf("LinkFunctions: %v", err)
	}

	got, err := link.Invoke(funcs[0], fn.Type, args)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	return got
}

func i32(v int32) ir.Instr { return ir.Instr{Op: ir.OpI32Const, I32Val: v} }
func i64(v int64) ir.Instr { return ir.Instr{Op: ir.OpI64Const, I64Val: v} }
func local(i uint32) ir.Instr {
	return ir.Instr{Op: ir.OpGetLocal, Index: i}
}

func sig(params, results []wasm.ValueType) wasm.FunctionSig {
	return wasm.FunctionSig{ParamTypes: params, ReturnTypes: results}
}

func TestCompileAddConstants(t *testing.T) {
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{i32(2), i32(40), {Op: ir.OpI32Add}}},
	}
	got := compileAndInvoke(t, fn, nil)
	if want := uint64(42); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}

func TestCompileAddLocals(t *testing.T) {
	fn := ir.Func{
		Type: sig([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{local(0), local(1), {Op: ir.OpI32Add}}},
	}
	got := compileAndInvoke(t, fn, []uint64{17, 25})
	if want := uint64(42); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}

func TestCompileI64Arithmetic(t *testing.T) {
	fn := ir.Func{
		Type: sig([]wasm.ValueType{wasm.ValueTypeI64}, []wasm.ValueType{wasm.ValueTypeI64}),
		Code: ir.Code{Body: []ir.Instr{
			local(0), i64(3), {Op: ir.OpI64Mul},
			i64(1), {Op: ir.OpI64Sub},
		}},
	}
	got := compileAndInvoke(t, fn, []uint64{10})
	if want := uint64(29); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}

func TestCompileIfElse(t *testing.T) {
	// if (param0 != 0) { 1 } else { 0 }
	fn := ir.Func{
		Type: sig([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{
			local(0),
			{
				Op:   ir.OpIf,
				Sig:  ir.BlockSig{HasResult: true, Result: wasm.ValueTypeI32},
				Then: []ir.Instr{i32(1)},
				Else: []ir.Instr{i32(0)},
			},
		}},
	}
	if got := compileAndInvoke(t, fn, []uint64{1}); got != 1 {
		t.Errorf("result(1) = %d, want 1", got)
	}
	if got := compileAndInvoke(t, fn, []uint64{0}); got != 0 {
		t.Errorf("result(0) = %d, want 0", got)
	}
}

func TestCompileLoopSum(t *testing.T) {
	// sum 1..=param0 by counting down, using a local accumulator (local 1)
	// and returning from inside the loop once the counter hits zero.
	fn := ir.Func{
		Type: sig([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{
			Locals: []ir.Locals{{Count: 1, Type: wasm.ValueTypeI32}},
			Body: []ir.Instr{
				i32(0), {Op: ir.OpSetLocal, Index: 1},
				{
					Op:  ir.OpLoop,
					Sig: ir.BlockSig{},
					Then: []ir.Instr{
						local(0),
						{Op: ir.OpI32Eqz},
						{
							Op:   ir.OpIf,
							Sig:  ir.BlockSig{},
							Then: []ir.Instr{local(1), {Op: ir.OpReturn}},
						},
						local(1), local(0), {Op: ir.OpI32Add}, {Op: ir.OpSetLocal, Index: 1},
						local(0), i32(1), {Op: ir.OpI32Sub}, {Op: ir.OpSetLocal, Index: 0},
						{Op: ir.OpBr, LabelIdx: 0},
					},
				},
				i32(0), // unreachable; satisfies the function's static result arity
			},
		},
	}
	got := compileAndInvoke(t, fn, []uint64{5})
	if want := uint64(15); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}

func TestCompileBranchToFunctionExit(t *testing.T) {
	// br targeting the function's implicit outermost block (depth 1, one
	// past the explicit block) exits the function early, the same as an
	// explicit return - this must not hang waiting for a label that's
	// never placed.
	fn := ir.Func{
		Type: sig(nil, nil),
		Code: ir.Code{Body: []ir.Instr{
			{
				Op:  ir.OpBlock,
				Sig: ir.BlockSig{},
				Then: []ir.Instr{
					{Op: ir.OpBr, LabelIdx: 1},
					{Op: ir.OpUnreachable},
				},
			},
		}},
	}
	compileAndInvoke(t, fn, nil)
}

func TestCompileDeclaredLocalZeroInitialized(t *testing.T) {
	// Read local 1 (a declared local) before any set_local reaches it; the
	// prologue must have already zeroed it.
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{
			Locals: []ir.Locals{{Count: 1, Type: wasm.ValueTypeI32}},
			Body:   []ir.Instr{local(1)},
		},
	}
	got := compileAndInvoke(t, fn, nil)
	if want := uint64(0); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}

func TestCompileMultipleDeclaredLocalsZeroInitialized(t *testing.T) {
	// Same as above, but with enough declared locals to take the
	// REP STOSQ path in zeroDeclaredLocals rather than its single-store
	// fast path.
	fn := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{
			Locals: []ir.Locals{{Count: 4, Type: wasm.ValueTypeI32}},
			Body: []ir.Instr{
				local(0), local(1), {Op: ir.OpI32Add},
				local(2), {Op: ir.OpI32Add},
				local(3), {Op: ir.OpI32Add},
			},
		},
	}
	got := compileAndInvoke(t, fn, nil)
	if want := uint64(0); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}

func TestCompileCallArgumentOverflowRejected(t *testing.T) {
	// A callee with 7 integer-class parameters needs one stack-spilled
	// argument; marshalling a call to it from inside another compiled
	// function isn't implemented, so compiling the call site must fail
	// cleanly instead of indexing intArgRegs out of range.
	sevenInts := []wasm.ValueType{
		wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32,
		wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32,
	}
	callee := ir.Func{
		Type: sig(sevenInts, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{local(0)}},
	}
	caller := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{
			i32(1), i32(2), i32(3), i32(4), i32(5), i32(6), i32(7),
			{Op: ir.OpCall, FuncIndex: 0},
		}},
	}

	mod := &compile.ModuleInfo{
		Types:    []wasm.FunctionSig{callee.Type, caller.Type},
		FuncSigs: []wasm.FunctionSig{callee.Type, caller.Type},
	}
	opts := compile.DefaultOptions()

	if _, err := compile.CompileFunction(mod, callee.Type, callee.Code, opts); err != nil {
		t.Fatalf("CompileFunction(callee): %v", err)
	}

	_, err := compile.CompileFunction(mod, caller.Type, caller.Code, opts)
	if _, ok := err.(compile.TooManyCallArgumentsError); !ok {
		t.Fatalf("CompileFunction(caller) error = %v (%T), want compile.TooManyCallArgumentsError", err, err)
	}
}

func TestCompileCall(t *testing.T) {
	if !supportedOS(runtime.GOOS) {
		t.SkipNow()
	}
	addOne := ir.Func{
		Type: sig([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{local(0), i32(1), {Op: ir.OpI32Add}}},
	}
	caller := ir.Func{
		Type: sig(nil, []wasm.ValueType{wasm.ValueTypeI32}),
		Code: ir.Code{Body: []ir.Instr{i32(41), {Op: ir.OpCall, FuncIndex: 0}}},
	}

	mod := &compile.ModuleInfo{
		Types:    []wasm.FunctionSig{addOne.Type, caller.Type},
		FuncSigs: []wasm.FunctionSig{addOne.Type, caller.Type},
	}
	opts := compile.DefaultOptions()
	addOneRes, err := compile.CompileFunction(mod, addOne.Type, addOne.Code, opts)
	if err != nil {
		t.Fatalf("CompileFunction(addOne): %v", err)
	}
	callerRes, err := compile.CompileFunction(mod, caller.Type, caller.Code, opts)
	if err != nil {
		t.Fatalf("CompileFunction(caller): %v", err)
	}

	alloc := &link.MMapAllocator{}
	defer alloc.Close()
	l, err := link.NewLinker(alloc)
	if err != nil {
		t.Fatalf("NewLinker: %v", err)
	}
	l.TypeTokens = []uint64{1, 2}
	l.FuncTypeTokens = []uint32{0, 1}

	funcs, err := l.LinkFunctions([]*compile.Result{addOneRes, callerRes})
	if err != nil {
		t.Fatalf("LinkFunctions: %v", err)
	}

	got, err := link.Invoke(funcs[1], caller.Type, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if want := uint64(42); got != want {
		t.Errorf("result = %d, want %d", got, want)
	}
}
