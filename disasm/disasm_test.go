// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package disasm

import (
	"testing"

	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
)

func fn(code []byte, locals ...wasm.LocalEntry) wasm.Function {
	return wasm.Function{
		Sig:  &wasm.FunctionSig{},
		Body: &wasm.FunctionBody{Locals: locals, Code: code},
	}
}

func TestDisassembleFlat(t *testing.T) {
	// i32.const 1; i32.const 2; i32.add; end
	code, err := Disassemble(fn([]byte{0x41, 0x01, 0x41, 0x02, 0x6a, 0x0b}), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []ir.Instr{
		{Op: ir.OpI32Const, I32Val: 1},
		{Op: ir.OpI32Const, I32Val: 2},
		{Op: ir.OpI32Add},
	}
	assertInstrsEqual(t, code.Body, want)
}

func TestDisassembleLocals(t *testing.T) {
	code, err := Disassemble(fn([]byte{0x0b}, wasm.LocalEntry{Count: 2, Type: wasm.ValueTypeI64}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(code.Locals), 1; got != want {
		t.Fatalf("len(Locals) = %d, want %d", got, want)
	}
	if got, want := code.Locals[0], (ir.Locals{Count: 2, Type: wasm.ValueTypeI64}); got != want {
		t.Errorf("Locals[0] = %+v, want %+v", got, want)
	}
}

func TestDisassembleNestedBlock(t *testing.T) {
	// block (result i32)
	//   i32.const 9
	// end
	// end
	code, err := Disassemble(fn([]byte{
		0x02, 0x7f, // block i32
		0x41, 0x09, // i32.const 9
		0x0b, // end (block)
		0x0b, // end (function)
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(code.Body), 1; got != want {
		t.Fatalf("len(Body) = %d, want %d", got, want)
	}
	blk := code.Body[0]
	if got, want := blk.Op, ir.OpBlock; got != want {
		t.Fatalf("Op = %v, want %v", got, want)
	}
	if !blk.Sig.HasResult || blk.Sig.Result != wasm.ValueTypeI32 {
		t.Errorf("Sig = %+v, want HasResult i32", blk.Sig)
	}
	assertInstrsEqual(t, blk.Then, []ir.Instr{{Op: ir.OpI32Const, I32Val: 9}})
}

func TestDisassembleIfElse(t *testing.T) {
	// i32.const 1
	// if
	//   i32.const 2
	// else
	//   i32.const 3
	// end
	// end
	code, err := Disassemble(fn([]byte{
		0x41, 0x01, // i32.const 1
		0x04, 0x40, // if (empty)
		0x41, 0x02, // i32.const 2
		0x05,       // else
		0x41, 0x03, // i32.const 3
		0x0b, // end (if)
		0x0b, // end (function)
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(code.Body), 2; got != want {
		t.Fatalf("len(Body) = %d, want %d", got, want)
	}
	iff := code.Body[1]
	if iff.Op != ir.OpIf {
		t.Fatalf("Op = %v, want OpIf", iff.Op)
	}
	assertInstrsEqual(t, iff.Then, []ir.Instr{{Op: ir.OpI32Const, I32Val: 2}})
	assertInstrsEqual(t, iff.Else, []ir.Instr{{Op: ir.OpI32Const, I32Val: 3}})
}

func TestDisassembleMemOp(t *testing.T) {
	// i32.const 0
	// i32.load offset=4 align=2
	// end
	code, err := Disassemble(fn([]byte{
		0x41, 0x00, // i32.const 0
		0x28, 0x02, 0x04, // i32.load align=2 offset=4
		0x0b,
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(code.Body), 2; got != want {
		t.Fatalf("len(Body) = %d, want %d", got, want)
	}
	load := code.Body[1]
	if got, want := load.Op, ir.OpI32Load; got != want {
		t.Fatalf("Op = %v, want %v", got, want)
	}
	if got, want := load.Offset, uint32(4); got != want {
		t.Errorf("Offset = %d, want %d", got, want)
	}
}

func TestDisassembleUnsupportedOpcode(t *testing.T) {
	_, err := Disassemble(fn([]byte{0xfc, 0x0b}), nil)
	if _, ok := err.(ErrUnsupportedOpcode); !ok {
		t.Fatalf("err = %v (%T), want ErrUnsupportedOpcode", err, err)
	}
}

func TestDisassembleTruncated(t *testing.T) {
	_, err := Disassemble(fn([]byte{0x41}), nil) // i32.const with no operand
	if err == nil {
		t.Fatal("expected an error for a truncated i32.const")
	}
}

func assertInstrsEqual(t *testing.T, got, want []ir.Instr) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (got %+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Op != want[i].Op || got[i].I32Val != want[i].I32Val {
			t.Errorf("instr[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
