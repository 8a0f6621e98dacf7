// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir is the tree-of-instructions representation consumed by the
// amd64 JIT core in package compile. Producing it from raw WebAssembly
// bytecode is the job of package disasm; package ir itself only defines
// the shape.
package ir

import "github.com/p0prxx/wasmjit/wasm"

// Op names every opcode the JIT core understands (emitInstr in
// compile/dispatch.go lowers every Op here except OpElse and OpEnd, which
// never appear in a tree; anything else is a parse-time error produced by
// the disassembler, never seen here).
type Op uint8

const (
	OpUnreachable Op = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse // never produced: an if's else-branch is carried in its Else field, not as an Instr
	OpEnd  // implicit: blocks carry their own instruction slice, no explicit End instr in the tree
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect
	OpDrop
	OpGetLocal
	OpSetLocal
	OpTeeLocal
	OpGetGlobal
	OpSetGlobal

	OpI32Load
	OpI64Load
	OpF64Load
	OpI32Load8s
	OpI32Store
	OpI64Store
	OpF64Store
	OpI32Store8
	OpI32Store16

	OpI32Const
	OpI64Const
	OpF64Const

	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpF64Eq
	OpF64Ne

	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU

	OpF64Neg
	OpF64Add
	OpF64Sub
	OpF64Mul

	OpI32WrapI64
	OpI32TruncSF64
	OpI32TruncUF64
	OpI64ExtendSI32
	OpI64ExtendUI32
	OpF64ConvertSI32
	OpF64ConvertUI32
	OpI64ReinterpretF64
	OpF64ReinterpretI64
)

// BlockSig is the declared result arity of a structured block: either no
// result, or a single result of the given value type (the dialect this
// core implements never yields more than one value per block).
type BlockSig struct {
	HasResult bool
	Result    wasm.ValueType
}

// Instr is a single tagged-variant instruction node. Only the fields
// relevant to Op are populated; the rest are zero.
type Instr struct {
	Op Op

	// block / loop / if
	Sig  BlockSig
	Then []Instr // body of block/loop/if-then
	Else []Instr // non-nil only for if-with-else

	// br / br_if: LabelIdx counts outward from the innermost enclosing
	// label, 0 meaning the immediately enclosing block/loop/if.
	LabelIdx uint32

	// br_table
	Targets      []uint32
	DefaultLabel uint32

	// call
	FuncIndex uint32

	// call_indirect
	TypeIndex uint32

	// get_local / set_local / tee_local / get_global / set_global
	Index uint32

	// memory ops: static offset immediate (alignment hint is dropped,
	// exactly as the teacher's compile.Compile does for memory_immediate)
	Offset uint32

	// constants
	I32Val int32
	I64Val int64
	F64Val float64
}

// Locals describes one run of declared locals sharing a value type, the
// same shape as wasm.Function.Body.Locals.
type Locals struct {
	Count uint32
	Type  wasm.ValueType
}

// Code is a function's declared locals plus its instruction tree — the
// "code" input named in spec §6.
type Code struct {
	Locals []Locals
	Body   []Instr
}

// Func bundles a function's signature with its code, everything
// compile.CompileFunction needs beyond the module-wide type tables.
type Func struct {
	Type wasm.FunctionSig
	Code Code
}
