// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
)

// regCallTarget holds a resolved call target across argument marshalling.
// It is deliberately outside the System V argument-register set (unlike
// the gpScratch pool, whose members double as DI/SI/DX/CX/R8/R9) so that
// loading it never collides with the registers marshalArgs is about to
// fill.
const regCallTarget = x86.REG_R11

// marshalArgs pops len(params) values off the operand stack, in reverse,
// into their System V argument registers (integer class and SSE class
// counted independently), leaving the stack exactly as a native caller
// would have arranged things for the same signature.
//
// It only handles signatures whose per-class parameter count fits in that
// class's argument registers; callCanMarshal gates the overflow case
// before this is ever reached.
func (c *compiler) marshalArgs(params []wasm.ValueType) {
	intCount, floatCount := countParamClasses(params)
	intIdx, floatIdx := intCount, floatCount
	for i := len(params) - 1; i >= 0; i-- {
		if params[i] == wasm.ValueTypeF64 {
			floatIdx--
			c.b.popXMM(floatArgRegs[floatIdx])
		} else {
			intIdx--
			c.b.popReg(intArgRegs[intIdx])
		}
		c.height--
	}
}

// callCanMarshal reports whether sig's parameters all fit in their
// class's argument registers, counted independently for the integer and
// SSE classes. A callee beyond those counts is still compilable -
// layoutLocals spills the overflow to positive offsets in its own
// frame - but marshalling a call to it from here would require popping
// register-class arguments out from between stack-spilled ones wherever
// the two classes interleave in the signature, which this backend does
// not implement; see TooManyCallArgumentsError.
func callCanMarshal(params []wasm.ValueType) bool {
	intCount, floatCount := countParamClasses(params)
	return intCount <= len(intArgRegs) && floatCount <= len(floatArgRegs)
}

func countParamClasses(params []wasm.ValueType) (intCount, floatCount int) {
	for _, t := range params {
		if t == wasm.ValueTypeF64 {
			floatCount++
		} else {
			intCount++
		}
	}
	return intCount, floatCount
}

// needsPadding reports whether the stack pointer needs an extra 8-byte
// push before the next CALL to keep it 16-byte aligned at the call
// instruction itself, per the System V AMD64 ABI. The locals frame is
// always rounded up to 16 bytes (see frameSize) and the prologue's own
// pushed return address + saved frame pointer contribute another 16, so
// only the current operand-stack height's parity matters here.
func (c *compiler) needsPadding() bool {
	return c.height%2 != 0
}

func (c *compiler) emitCallLike(target int16, params []wasm.ValueType, results []wasm.ValueType) {
	c.marshalArgs(params)

	pad := c.needsPadding()
	if pad {
		c.b.subConst(regSP, 8)
	}

	p := c.b.newProg()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = target
	c.b.add(p)

	if pad {
		c.b.addConst(regSP, 8)
	}

	if len(results) == 1 {
		if results[0] == wasm.ValueTypeF64 {
			c.b.pushXMM(floatResultReg)
		} else {
			c.b.pushReg(intResultReg)
		}
		c.height++
	}
}

func (c *compiler) emitCall(in ir.Instr) error {
	if int(in.FuncIndex) >= len(c.mod.FuncSigs) {
		return invariantViolation("call target index out of range; validate should have rejected this module")
	}
	sig := c.mod.FuncSigs[in.FuncIndex]
	if !callCanMarshal(sig.ParamTypes) {
		intCount, floatCount := countParamClasses(sig.ParamTypes)
		return TooManyCallArgumentsError{Index: in.FuncIndex, IntCount: intCount, FloatCount: floatCount}
	}

	target := int16(regCallTarget)
	c.loadReloc(RelocFunc, in.FuncIndex, target)

	c.emitCallLike(target, sig.ParamTypes, sig.ReturnTypes)
	return nil
}

// emitCallIndirect resolves a table-dynamic call target through the
// external resolve_indirect_call helper (itself reached via a Reloc,
// exactly like any other runtime object this function doesn't know the
// address of at compile time) before marshalling arguments and calling
// it. resolve_indirect_call is responsible for trapping on an
// out-of-range table index or a signature mismatch; this backend only
// has to get the three arguments it needs into place.
func (c *compiler) emitCallIndirect(in ir.Instr) error {
	if int(in.TypeIndex) >= len(c.mod.Types) {
		return invariantViolation("call_indirect type index out of range; validate should have rejected this module")
	}
	sig := c.mod.Types[in.TypeIndex]
	if !callCanMarshal(sig.ParamTypes) {
		intCount, floatCount := countParamClasses(sig.ParamTypes)
		return TooManyCallArgumentsError{Index: in.TypeIndex, IsIndirect: true, IntCount: intCount, FloatCount: floatCount}
	}

	tableIdx := gpScratch[0]
	c.b.popReg(tableIdx)
	c.height--
	c.b.add(c.b.regReg(x86.AMOVL, tableIdx, tableIdx))

	helper := int16(regCallTarget)
	c.loadReloc(RelocResolveIndirectCall, 0, helper)
	tablePtr := gpScratch[1]
	c.loadReloc(RelocTable, 0, tablePtr)
	typeTok := gpScratch[2]
	c.loadReloc(RelocType, in.TypeIndex, typeTok)

	c.b.movRegReg(x86.AMOVQ, tablePtr, x86.REG_DI)
	c.b.movRegReg(x86.AMOVQ, typeTok, x86.REG_SI)
	c.b.movRegReg(x86.AMOVQ, tableIdx, x86.REG_DX)

	pad := c.needsPadding()
	if pad {
		c.b.subConst(regSP, 8)
	}
	p := c.b.newProg()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = helper
	c.b.add(p)
	if pad {
		c.b.addConst(regSP, 8)
	}

	target := x86.REG_BX
	c.b.movRegReg(x86.AMOVQ, intResultReg, target)

	c.emitCallLike(target, sig.ParamTypes, sig.ReturnTypes)
	return nil
}
