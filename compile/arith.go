// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"math"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/p0prxx/wasmjit/ir"
)

// width picks the register-width variant of a mnemonic to use: i32
// operators use the 32-bit form, which the processor zero-extends into
// the upper half of the 64-bit register automatically, keeping every
// slot's invariant (idle upper bits always zero) without any extra
// masking instruction. i64 operators use the full 64-bit form.
type width int

const (
	w32 width = iota
	w64
)

// emitConst pushes a constant value already known at compile time. i32
// constants are written as their 32-bit pattern by MOVL, which also
// clears the upper 32 bits for free; i64 and f64 (the latter
// via its raw bit pattern, a no-op reinterpretation) use the 64-bit form.
func (c *compiler) emitConst(in ir.Instr) {
	reg := gpScratch[0]
	switch in.Op {
	case ir.OpI32Const:
		c.b.movConstReg(x86.AMOVL, int64(uint32(in.I32Val)), reg)
	case ir.OpI64Const:
		c.b.movConstReg(x86.AMOVQ, in.I64Val, reg)
	case ir.OpF64Const:
		c.b.movConstReg(x86.AMOVQ, int64(math.Float64bits(in.F64Val)), reg)
	}
	c.b.pushReg(reg)
	c.height++
}

// binaryOp pops two operands and pushes the result of applying as to
// them (dst = dst op src, matching Go assembly's src,dst operand order).
func (c *compiler) binaryOp(as obj.As) {
	b := gpScratch[1]
	a := gpScratch[0]
	c.b.popReg(b)
	c.b.popReg(a)
	c.b.add(c.b.regReg(as, b, a))
	c.b.pushReg(a)
	c.height--
}

// shiftOp is like binaryOp but the shift count must arrive in CL.
func (c *compiler) shiftOp(as obj.As) {
	count := x86.REG_CX
	a := gpScratch[0]
	c.b.popReg(int16(count))
	c.b.popReg(a)
	c.b.add(c.b.regReg(as, int16(count), a))
	c.b.pushReg(a)
	c.height--
}

// divOp pops divisor then dividend, computes the quotient or remainder
// (per wantRemainder) using AX:DX, and pushes the result. signed selects
// IDIV with a sign-extending CQO/CDQ ahead of it; unsigned clears DX (or
// the upper half of the dividend register) first instead.
func (c *compiler) divOp(w width, signed, wantRemainder bool) {
	divisor := gpScratch[1]
	c.b.popReg(divisor)
	c.b.popReg(x86.REG_AX)

	if signed {
		if w == w64 {
			c.b.add(c.b.simple(x86.ACQO))
		} else {
			c.b.add(c.b.simple(x86.ACDQ))
		}
		if w == w64 {
			c.b.unary(x86.AIDIVQ, divisor)
		} else {
			c.b.unary(x86.AIDIVL, divisor)
		}
	} else {
		c.b.add(c.b.regReg(x86.AXORL, x86.REG_DX, x86.REG_DX))
		if w == w64 {
			c.b.unary(x86.ADIVQ, divisor)
		} else {
			c.b.unary(x86.ADIVL, divisor)
		}
	}

	result := int16(x86.REG_AX)
	if wantRemainder {
		result = x86.REG_DX
	}
	c.b.pushReg(result)
	c.height--
}

// compareOp pops two operands, compares them, and pushes a zero-extended
// i32 boolean (1 or 0) computed by the given SETcc mnemonic.
func (c *compiler) compareOp(as obj.As, setcc obj.As) {
	b := gpScratch[1]
	a := gpScratch[0]
	c.b.popReg(b)
	c.b.popReg(a)
	c.b.add(c.b.regReg(as, b, a))

	byteResult := x86.REG_CX
	p := c.b.newProg()
	p.As = setcc
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(byteResult)
	c.b.add(p)

	c.b.add(c.b.regReg(x86.AMOVBQZX, int16(byteResult), a))
	c.b.pushReg(a)
	c.height--
}

func (c *compiler) eqzOp(as obj.As) {
	a := gpScratch[0]
	c.b.popReg(a)
	c.b.add(c.b.regReg(as, a, a))

	byteResult := x86.REG_CX
	p := c.b.newProg()
	p.As = x86.ASETEQ
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(byteResult)
	c.b.add(p)

	c.b.add(c.b.regReg(x86.AMOVBQZX, int16(byteResult), a))
	c.b.pushReg(a)
}

func (c *compiler) binaryF64(as obj.As) {
	b := sseScratch[1]
	a := sseScratch[0]
	c.b.popXMM(b)
	c.b.popXMM(a)
	c.b.add(c.b.regReg(as, b, a))
	c.b.pushXMM(a)
	c.height--
}

func (c *compiler) emitComparison(in ir.Instr) {
	switch in.Op {
	case ir.OpI32Eqz:
		c.eqzOp(x86.ATESTL)
	case ir.OpI32Eq:
		c.compareOp(x86.ACMPL, x86.ASETEQ)
	case ir.OpI32Ne:
		c.compareOp(x86.ACMPL, x86.ASETNE)
	case ir.OpI32LtS:
		c.compareOp(x86.ACMPL, x86.ASETLT)
	case ir.OpI32LtU:
		c.compareOp(x86.ACMPL, x86.ASETCS)
	case ir.OpI32GtS:
		c.compareOp(x86.ACMPL, x86.ASETGT)
	case ir.OpI32GtU:
		c.compareOp(x86.ACMPL, x86.ASETHI)
	case ir.OpI32LeS:
		c.compareOp(x86.ACMPL, x86.ASETLE)
	case ir.OpI32LeU:
		c.compareOp(x86.ACMPL, x86.ASETLS)
	case ir.OpI32GeS:
		c.compareOp(x86.ACMPL, x86.ASETGE)
	case ir.OpI64Eq:
		c.compareOp(x86.ACMPQ, x86.ASETEQ)
	case ir.OpI64Ne:
		c.compareOp(x86.ACMPQ, x86.ASETNE)
	case ir.OpI64LtS:
		c.compareOp(x86.ACMPQ, x86.ASETLT)
	case ir.OpI64LtU:
		c.compareOp(x86.ACMPQ, x86.ASETCS)
	case ir.OpI64GtS:
		c.compareOp(x86.ACMPQ, x86.ASETGT)
	case ir.OpI64GtU:
		c.compareOp(x86.ACMPQ, x86.ASETHI)
	case ir.OpI64LeS:
		c.compareOp(x86.ACMPQ, x86.ASETLE)
	case ir.OpI64LeU:
		c.compareOp(x86.ACMPQ, x86.ASETLS)
	case ir.OpI64GeS:
		c.compareOp(x86.ACMPQ, x86.ASETGE)
	case ir.OpF64Eq:
		c.compareF64(x86.ASETEQ)
	case ir.OpF64Ne:
		c.compareF64(x86.ASETNE)
	}
}

// compareF64 compares two doubles with UCOMISD and materializes an i32
// boolean. An unordered result (either operand NaN) sets ZF together with
// PF, so the ZF-based SETEQ/SETNE result is combined with the parity
// flag: eq also requires PF clear, and ne is also true when PF is set.
// Equality and inequality are the only f64 comparisons this core lowers.
func (c *compiler) compareF64(setcc obj.As) {
	b := sseScratch[1]
	a := sseScratch[0]
	c.b.popXMM(b)
	c.b.popXMM(a)
	c.b.add(c.b.regReg(x86.AUCOMISD, b, a))

	byteResult := x86.REG_CX
	p := c.b.newProg()
	p.As = setcc
	p.To.Type = obj.TYPE_REG
	p.To.Reg = int16(byteResult)
	c.b.add(p)

	dst := gpScratch[0]
	c.b.add(c.b.regReg(x86.AMOVBQZX, int16(byteResult), dst))

	parity, combine := obj.As(x86.ASETPC), obj.As(x86.AANDL)
	if setcc == x86.ASETNE {
		parity, combine = x86.ASETPS, x86.AORL
	}
	pf := c.b.newProg()
	pf.As = parity
	pf.To.Type = obj.TYPE_REG
	pf.To.Reg = int16(byteResult)
	c.b.add(pf)
	flag := gpScratch[3]
	c.b.add(c.b.regReg(x86.AMOVBQZX, int16(byteResult), flag))
	c.b.add(c.b.regReg(combine, flag, dst))

	c.b.pushReg(dst)
	c.height--
}

func (c *compiler) emitArith(in ir.Instr) error {
	switch in.Op {
	case ir.OpI32Add:
		c.binaryOp(x86.AADDL)
	case ir.OpI32Sub:
		c.binaryOp(x86.ASUBL)
	case ir.OpI32Mul:
		c.binaryOp(x86.AIMULL)
	case ir.OpI32And:
		c.binaryOp(x86.AANDL)
	case ir.OpI32Or:
		c.binaryOp(x86.AORL)
	case ir.OpI32Xor:
		c.binaryOp(x86.AXORL)
	case ir.OpI32Shl:
		c.shiftOp(x86.ASHLL)
	case ir.OpI32ShrS:
		c.shiftOp(x86.ASARL)
	case ir.OpI32ShrU:
		c.shiftOp(x86.ASHRL)
	case ir.OpI32DivS:
		c.divOp(w32, true, false)
	case ir.OpI32DivU:
		c.divOp(w32, false, false)
	case ir.OpI32RemS:
		c.divOp(w32, true, true)
	case ir.OpI32RemU:
		c.divOp(w32, false, true)

	case ir.OpI64Add:
		c.binaryOp(x86.AADDQ)
	case ir.OpI64Sub:
		c.binaryOp(x86.ASUBQ)
	case ir.OpI64Mul:
		c.binaryOp(x86.AIMULQ)
	case ir.OpI64And:
		c.binaryOp(x86.AANDQ)
	case ir.OpI64Or:
		c.binaryOp(x86.AORQ)
	case ir.OpI64Xor:
		c.binaryOp(x86.AXORQ)
	case ir.OpI64Shl:
		c.shiftOp(x86.ASHLQ)
	case ir.OpI64ShrS:
		c.shiftOp(x86.ASARQ)
	case ir.OpI64ShrU:
		c.shiftOp(x86.ASHRQ)
	case ir.OpI64DivS:
		c.divOp(w64, true, false)
	case ir.OpI64DivU:
		c.divOp(w64, false, false)
	case ir.OpI64RemS:
		c.divOp(w64, true, true)
	case ir.OpI64RemU:
		c.divOp(w64, false, true)

	case ir.OpF64Neg:
		a := sseScratch[0]
		c.b.popXMM(a)
		sign := gpScratch[0]
		c.b.movConstReg(x86.AMOVQ, int64(1)<<63, sign)
		tmp := sseScratch[1]
		c.b.add(c.b.regReg(x86.AMOVQ, sign, tmp))
		c.b.add(c.b.regReg(x86.AXORPD, tmp, a))
		c.b.pushXMM(a)
	case ir.OpF64Add:
		c.binaryF64(x86.AADDSD)
	case ir.OpF64Sub:
		c.binaryF64(x86.ASUBSD)
	case ir.OpF64Mul:
		c.binaryF64(x86.AMULSD)

	default:
		return UnsupportedOpcodeError(in.Op)
	}
	return nil
}

func (c *compiler) emitConversion(in ir.Instr) error {
	switch in.Op {
	case ir.OpI32WrapI64:
		// Low 32 bits already hold the wrapped value; MOVL through the
		// register re-zeroes the upper half to uphold the slot invariant.
		a := gpScratch[0]
		c.b.popReg(a)
		c.b.add(c.b.regReg(x86.AMOVL, a, a))
		c.b.pushReg(a)
	case ir.OpI64ExtendSI32:
		a := gpScratch[0]
		c.b.popReg(a)
		c.b.add(c.b.regReg(x86.AMOVLQSX, a, a))
		c.b.pushReg(a)
	case ir.OpI64ExtendUI32:
		// Already zero-extended by every i32 producer's invariant; no
		// instruction needed.
	case ir.OpI64ReinterpretF64, ir.OpF64ReinterpretI64:
		// Slots store the raw bit pattern regardless of type; reinterpret
		// is a pure compile-time relabeling with no emitted code.
	case ir.OpI32TruncSF64:
		a := sseScratch[0]
		c.b.popXMM(a)
		dst := gpScratch[0]
		c.b.add(c.b.regReg(x86.ACVTTSD2SL, a, dst))
		c.b.pushReg(dst)
	case ir.OpI32TruncUF64:
		a := sseScratch[0]
		c.b.popXMM(a)
		dst := gpScratch[0]
		c.b.add(c.b.regReg(x86.ACVTTSD2SQ, a, dst))
		c.b.add(c.b.regReg(x86.AMOVL, dst, dst))
		c.b.pushReg(dst)
	case ir.OpF64ConvertSI32:
		a := gpScratch[0]
		c.b.popReg(a)
		c.b.add(c.b.regReg(x86.AMOVLQSX, a, a))
		dst := sseScratch[0]
		c.b.add(c.b.regReg(x86.ACVTSQ2SD, a, dst))
		c.b.pushXMM(dst)
	case ir.OpF64ConvertUI32:
		a := gpScratch[0]
		c.b.popReg(a)
		c.b.add(c.b.regReg(x86.AMOVL, a, a))
		dst := sseScratch[0]
		c.b.add(c.b.regReg(x86.ACVTSQ2SD, a, dst))
		c.b.pushXMM(dst)
	default:
		return UnsupportedOpcodeError(in.Op)
	}
	return nil
}
