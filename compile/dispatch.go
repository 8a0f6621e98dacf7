// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/p0prxx/wasmjit/ir"
)

// emitInstr is the single dispatch point every instruction in a function
// body passes through exactly once, in program order. Control-flow
// operators recurse into emitBody for their nested instruction lists
// (see control.go); everything else is a single straight-line emission.
func (c *compiler) emitInstr(in ir.Instr) error {
	switch in.Op {
	case ir.OpUnreachable:
		c.b.add(c.b.simple(x86.AUD2))
	case ir.OpNop:
		// Nothing to emit.

	case ir.OpBlock:
		return c.emitBlockLike(in, false)
	case ir.OpLoop:
		return c.emitBlockLike(in, true)
	case ir.OpIf:
		return c.emitIf(in)
	case ir.OpBr:
		return c.emitBr(in.LabelIdx)
	case ir.OpBrIf:
		return c.emitBrIf(in.LabelIdx)
	case ir.OpBrTable:
		return c.emitBrTable(in)
	case ir.OpReturn:
		return c.emitReturn()

	case ir.OpCall:
		return c.emitCall(in)
	case ir.OpCallIndirect:
		return c.emitCallIndirect(in)

	case ir.OpDrop:
		c.b.addConst(regSP, 8)
		c.height--

	case ir.OpGetLocal:
		c.emitGetLocal(in.Index)
	case ir.OpSetLocal:
		c.emitSetLocal(in.Index, false)
	case ir.OpTeeLocal:
		c.emitSetLocal(in.Index, true)
	case ir.OpGetGlobal:
		c.emitGetGlobal(in)
	case ir.OpSetGlobal:
		c.emitSetGlobal(in)

	case ir.OpI32Load, ir.OpI64Load, ir.OpF64Load, ir.OpI32Load8s:
		c.emitLoad(in)
	case ir.OpI32Store, ir.OpI64Store, ir.OpF64Store, ir.OpI32Store8, ir.OpI32Store16:
		c.emitStore(in)

	case ir.OpI32Const, ir.OpI64Const, ir.OpF64Const:
		c.emitConst(in)

	case ir.OpI32Eqz, ir.OpI32Eq, ir.OpI32Ne, ir.OpI32LtS, ir.OpI32LtU, ir.OpI32GtS, ir.OpI32GtU,
		ir.OpI32LeS, ir.OpI32LeU, ir.OpI32GeS,
		ir.OpI64Eq, ir.OpI64Ne, ir.OpI64LtS, ir.OpI64LtU, ir.OpI64GtS, ir.OpI64GtU, ir.OpI64LeS, ir.OpI64LeU, ir.OpI64GeS,
		ir.OpF64Eq, ir.OpF64Ne:
		c.emitComparison(in)

	case ir.OpI32Add, ir.OpI32Sub, ir.OpI32Mul, ir.OpI32And, ir.OpI32Or, ir.OpI32Xor,
		ir.OpI32Shl, ir.OpI32ShrS, ir.OpI32ShrU, ir.OpI32DivS, ir.OpI32DivU, ir.OpI32RemS, ir.OpI32RemU,
		ir.OpI64Add, ir.OpI64Sub, ir.OpI64Mul, ir.OpI64And, ir.OpI64Or, ir.OpI64Xor,
		ir.OpI64Shl, ir.OpI64ShrS, ir.OpI64ShrU, ir.OpI64DivS, ir.OpI64DivU, ir.OpI64RemS, ir.OpI64RemU,
		ir.OpF64Neg, ir.OpF64Add, ir.OpF64Sub, ir.OpF64Mul:
		return c.emitArith(in)

	case ir.OpI32WrapI64, ir.OpI32TruncSF64, ir.OpI32TruncUF64, ir.OpI64ExtendSI32, ir.OpI64ExtendUI32,
		ir.OpF64ConvertSI32, ir.OpF64ConvertUI32, ir.OpI64ReinterpretF64, ir.OpF64ReinterpretI64:
		return c.emitConversion(in)

	default:
		return UnsupportedOpcodeError(in.Op)
	}
	return nil
}
