// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compile lowers a single validated function body (package ir)
// into position-independent amd64 machine code for the System V AMD64
// calling convention. It is a single-pass compiler: every ir.Instr is
// visited exactly once, in order, with forward branch targets resolved
// via deferred callbacks rather than a second pass over the output.
//
// The instruction stream itself is built with golang-asm, the same
// assembler the Go toolchain uses internally: each operator lowers to one
// or more obj.Prog nodes appended to a linked list, and a final call to
// the underlying builder's Assemble method lays the whole function out
// into a contiguous byte slice. Anything the compiled function needs at
// run time but cannot know until link time - the address of another
// function, a global, a linear memory, the resolve_indirect_call helper -
// is emitted as an 8-byte placeholder immediate and recorded as a Reloc;
// the caller of CompileFunction is responsible for patching those in
// before the code is ever executed.
package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
)

// ModuleInfo exposes the slices of a module a function body's call,
// call_indirect, and global instructions need visibility into. It is a
// narrow view deliberately decoupled from package validate's richer
// Module, since the backend only ever reads signatures and global types.
type ModuleInfo struct {
	// Types is the module's type section, indexed by ir.Instr.TypeIndex
	// for call_indirect.
	Types []wasm.FunctionSig
	// FuncSigs gives the signature of every function in the function
	// index space, indexed by ir.Instr.FuncIndex for call.
	FuncSigs []wasm.FunctionSig
	// Globals gives the type of every global in the global index space.
	Globals []wasm.GlobalVar
}

// Result is everything CompileFunction produces for one function.
type Result struct {
	Code   []byte
	Relocs []Reloc
}

// pendingImm records an obj.Prog emitting a placeholder 64-bit immediate
// that must turn into a Reloc once the Prog's final code offset is known,
// after Assemble runs.
type pendingImm struct {
	prog *obj.Prog
	kind RelocKind
	idx  uint32
}

// compiler holds all per-function compilation state. A fresh one is
// created for every CompileFunction call; nothing is reused across
// functions.
type compiler struct {
	b    *builder
	opts Options
	mod  *ModuleInfo
	sig  wasm.FunctionSig

	locals []localDesc
	frame  int64

	height int // current operand-stack height, in 8-byte slots
	ctrl   []*ctrlFrame

	pending  []pendingImm
	epilogue label
}

// CompileFunction runs a function body through the five-phase pipeline:
// lay out locals, emit the prologue, emit the body (a single pass over
// code.Body), check that every control frame the body opened was closed
// again (each branch is already resolved when its label is placed), then
// emit the epilogue. The returned Result's Code is immediately executable
// once every Reloc has been patched in; it contains no further
// self-references that need adjusting for its final load address.
func CompileFunction(mod *ModuleInfo, sig wasm.FunctionSig, code ir.Code, opts Options) (*Result, error) {
	logger.Printf("compiling function with %d param(s), %d local(s)", len(sig.ParamTypes), len(code.Locals))

	locals := layoutLocals(sig, code)
	c := &compiler{
		b:      newBuilder(),
		opts:   opts,
		mod:    mod,
		sig:    sig,
		locals: locals,
		frame:  frameSize(locals),
		ctrl:   make([]*ctrlFrame, 0, 4),
	}

	c.emitPrologue()

	// The function body's implicit outermost block is itself a control
	// frame: a `return` and falling off the end of the body both target
	// it, with the function's declared result types as its arity.
	c.pushFrame(false, sig.ReturnTypes)

	if err := c.emitBody(code.Body); err != nil {
		return nil, err
	}

	// Falling off the end of the body is an implicit return: make sure
	// the operand stack matches the function's result arity before
	// control flows straight into the epilogue.
	if err := c.shuffleToHeight(c.ctrl[0]); err != nil {
		return nil, err
	}

	if err := c.patchBranches(); err != nil {
		return nil, err
	}
	c.popFrame()

	c.emitEpilogue()

	out, err := c.b.assemble()
	if err != nil {
		return nil, err
	}

	relocs := make([]Reloc, len(c.pending))
	for i, p := range c.pending {
		relocs[i] = Reloc{Kind: p.kind, CodeOffset: p.prog.Pc + movImmOffset, Idx: p.idx}
	}

	return &Result{Code: out, Relocs: relocs}, nil
}

// movImmOffset is the byte length of the REX+opcode prefix on a `MOVQ
// $imm64, reg` instruction (REX.W[.B] + 0xB8+rd), which on amd64 is
// always exactly 2 bytes regardless of which of the 16 general-purpose
// registers is the destination. The 8-byte immediate that follows is what
// Reloc.CodeOffset points at.
const movImmOffset = 2

// emitPrologue pushes the caller's frame pointer, establishes a new one,
// reserves the locals area, spills every register-resident argument into
// its locals slot (a caller-spilled argument needs no such store - it
// already sits at its locals slot, in the caller's frame), and zeroes the
// declared-locals region.
func (c *compiler) emitPrologue() {
	prog := c.b.newProg()
	prog.As = x86.APUSHQ
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = regFP
	c.b.add(prog)

	c.b.movRegReg(x86.AMOVQ, regSP, regFP)

	if c.frame > 0 {
		c.b.subConst(regSP, c.frame)
	}

	if c.opts.EmitDebugTrap {
		c.b.add(c.b.simple(x86.AINT3))
	}

	locs := classifyParams(c.sig.ParamTypes)
	for i, t := range c.sig.ParamTypes {
		if !locs[i].reg {
			// Already resident on the caller's stack at d.off; nothing
			// to spill out of a register for this one.
			continue
		}
		d := c.locals[i]
		if t == wasm.ValueTypeF64 {
			c.b.storeF64(floatArgRegs[locs[i].idx], regFP, d.off)
		} else {
			c.b.storeQ(intArgRegs[locs[i].idx], regFP, d.off)
		}
	}

	c.zeroDeclaredLocals()
}

// zeroDeclaredLocals clears every declared local's slot to zero, the value
// WebAssembly gives a local that hasn't been through a set_local yet.
// Parameters are excluded: they already hold the caller's argument value.
// A single local gets one store of a zeroed register; more than one uses REP STOSQ
// over the contiguous block layoutLocals gave the declared locals, rather
// than one store instruction per local.
func (c *compiler) zeroDeclaredLocals() {
	declared := c.locals[len(c.sig.ParamTypes):]
	if len(declared) == 0 {
		return
	}

	if len(declared) == 1 {
		zero := gpScratch[0]
		c.b.add(c.b.regReg(x86.AXORQ, zero, zero))
		c.b.storeQ(zero, regFP, declared[0].off)
		return
	}

	lo := declared[0].off
	for _, d := range declared[1:] {
		if d.off < lo {
			lo = d.off
		}
	}

	c.b.leaMem(regFP, lo, x86.REG_DI)
	c.b.constReg(x86.AMOVQ, 0, x86.REG_AX)
	c.b.constReg(x86.AMOVQ, int64(len(declared)), x86.REG_CX)
	c.b.add(c.b.simple(x86.ACLD))
	c.b.add(c.b.simple(x86.AREP))
	c.b.add(c.b.simple(x86.ASTOSQ))
}

// emitEpilogue places the shared function-exit label, restores the
// caller's frame, and returns. Every `return` instruction and the
// fallthrough from the end of the body jump here rather than duplicating
// the teardown sequence at every exit point.
func (c *compiler) emitEpilogue() {
	nop := c.b.simple(obj.ANOP)
	c.b.add(nop)
	c.epilogue.place(nop)

	if len(c.sig.ReturnTypes) == 1 {
		if c.sig.ReturnTypes[0] == wasm.ValueTypeF64 {
			c.b.popXMM(floatResultReg)
		} else {
			c.b.popReg(intResultReg)
		}
	}

	c.b.movRegReg(x86.AMOVQ, regFP, regSP)

	prog := c.b.newProg()
	prog.As = x86.APOPQ
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = regFP
	c.b.add(prog)

	c.b.add(c.b.simple(obj.ARET))
}
