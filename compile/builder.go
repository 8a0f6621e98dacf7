// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"github.com/twitchyliquid64/golang-asm/asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// builder wraps golang-asm's instruction builder with the handful of
// addressing-mode constructors the amd64 lowering actually needs. Keeping
// these in one place means every emit* method downstream reads as a
// sequence of named operations instead of repeating obj.Prog field
// plumbing at every call site.
type builder struct {
	*asm.Builder
}

func newBuilder() *builder {
	return &builder{asm.NewBuilder("amd64", 256)}
}

func (b *builder) newProg() *obj.Prog {
	return b.NewProg()
}

func (b *builder) add(p *obj.Prog) {
	b.AddInstruction(p)
}

// simple builds and appends a Prog for a mnemonic that takes no operands,
// such as RET or NOP.
func (b *builder) simple(as obj.As) *obj.Prog {
	p := b.newProg()
	p.As = as
	return p
}

func (b *builder) assemble() ([]byte, error) {
	return b.Assemble()
}

// regReg builds `as reg, reg2` (src, dst).
func (b *builder) regReg(as obj.As, src, dst int16) *obj.Prog {
	p := b.newProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	return p
}

func (b *builder) movRegReg(as obj.As, src, dst int16) {
	if src == dst {
		return
	}
	b.add(b.regReg(as, src, dst))
}

// movConstReg builds `MOVQ $imm, reg`, the same shape used for both
// ordinary i32/i64 constants and relocatable placeholder immediates. The
// caller (see reloc handling in compile.go) relies on this always
// lowering to the 2-byte-prefix + 8-byte-immediate encoding.
func (b *builder) movConstReg(as obj.As, imm int64, dst int16) *obj.Prog {
	p := b.newProg()
	p.As = as
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	b.add(p)
	return p
}

// regMem builds `as reg, disp(base)` (store) or `as disp(base), reg` (load)
// depending on toMem.
func (b *builder) regMem(as obj.As, reg, base int16, disp int64, toMem bool) {
	p := b.newProg()
	p.As = as
	mem := obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: disp}
	regOperand := obj.Addr{Type: obj.TYPE_REG, Reg: reg}
	if toMem {
		p.From, p.To = regOperand, mem
	} else {
		p.From, p.To = mem, regOperand
	}
	b.add(p)
}

// leaMem builds `LEAQ disp(base), dst`, computing an address rather than
// loading through one.
func (b *builder) leaMem(base int16, disp int64, dst int16) {
	p := b.newProg()
	p.As = x86.ALEAQ
	p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: disp}
	p.To = obj.Addr{Type: obj.TYPE_REG, Reg: dst}
	b.add(p)
}

func (b *builder) storeQ(reg, base int16, disp int64) { b.regMem(x86.AMOVQ, reg, base, disp, true) }
func (b *builder) loadQ(base int16, disp int64, reg int16) {
	b.regMem(x86.AMOVQ, reg, base, disp, false)
}
func (b *builder) storeF64(reg, base int16, disp int64) {
	b.regMem(x86.AMOVSD, reg, base, disp, true)
}
func (b *builder) loadF64(base int16, disp int64, reg int16) {
	b.regMem(x86.AMOVSD, reg, base, disp, false)
}

func (b *builder) pushReg(reg int16) {
	p := b.newProg()
	p.As = x86.APUSHQ
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	b.add(p)
}

func (b *builder) popReg(reg int16) {
	p := b.newProg()
	p.As = x86.APOPQ
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	b.add(p)
}

// pushXMM and popXMM move an 8-byte-wide double between an XMM register
// and the top of the operand stack. There is no native PUSH/POP for the
// SSE register file, so these open a slot by hand and use a scalar
// double move into it.
func (b *builder) pushXMM(reg int16) {
	b.subConst(regSP, 8)
	b.regMem(x86.AMOVSD, reg, regSP, 0, true)
}

func (b *builder) popXMM(reg int16) {
	b.regMem(x86.AMOVSD, reg, regSP, 0, false)
	b.addConst(regSP, 8)
}

func (b *builder) constReg(as obj.As, imm int64, dst int16) {
	b.add(b.regImm(as, imm, dst))
}

func (b *builder) regImm(as obj.As, imm int64, dst int16) *obj.Prog {
	p := b.newProg()
	p.As = as
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = imm
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	return p
}

// unary builds a single-operand instruction such as IDIVQ or NEGQ, whose
// sole explicit operand is conventionally encoded in Prog.To.
func (b *builder) unary(as obj.As, reg int16) {
	p := b.newProg()
	p.As = as
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	b.add(p)
}

func (b *builder) subConst(reg int16, imm int64) { b.constReg(x86.ASUBQ, imm, reg) }
func (b *builder) addConst(reg int16, imm int64) { b.constReg(x86.AADDQ, imm, reg) }

// jmp builds an unconditional jump whose target will be filled in by the
// caller (either immediately, if the target Prog already exists, or later
// through resolveLabel/deferLabel).
func (b *builder) jmp() *obj.Prog {
	p := b.newProg()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_BRANCH
	b.add(p)
	return p
}

// jmpIf builds a conditional jump using the given x86 condition-jump
// mnemonic (e.g. x86.AJNE), target left for the caller to fill in.
func (b *builder) jmpIf(as obj.As) *obj.Prog {
	p := b.newProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	b.add(p)
	return p
}
