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

func (c *compiler) localDesc(idx uint32) localDesc {
	if int(idx) >= len(c.locals) {
		panic(invariantViolation("local index out of range; validate should have rejected this module"))
	}
	return c.locals[idx]
}

func (c *compiler) emitGetLocal(idx uint32) {
	d := c.localDesc(idx)
	if d.typ == wasm.ValueTypeF64 {
		reg := sseScratch[0]
		c.b.loadF64(regFP, d.off, reg)
		c.b.pushXMM(reg)
	} else {
		reg := gpScratch[0]
		c.b.loadQ(regFP, d.off, reg)
		c.b.pushReg(reg)
	}
	c.height++
}

func (c *compiler) emitSetLocal(idx uint32, keep bool) {
	d := c.localDesc(idx)
	if d.typ == wasm.ValueTypeF64 {
		reg := sseScratch[0]
		if keep {
			c.b.regMem(x86.AMOVSD, reg, regSP, 0, false)
		} else {
			c.b.popXMM(reg)
			c.height--
		}
		c.b.storeF64(reg, regFP, d.off)
	} else {
		reg := gpScratch[0]
		if keep {
			c.b.regMem(x86.AMOVQ, reg, regSP, 0, false)
		} else {
			c.b.popReg(reg)
			c.height--
		}
		c.b.storeQ(reg, regFP, d.off)
	}
}

// emitGetGlobal and emitSetGlobal address a global through a relocatable
// pointer to its *GlobalInstance: the placeholder immediate is loaded
// into a scratch register, then the global's value is read or written
// through it at a fixed struct offset (see link.GlobalInstance).
func (c *compiler) emitGetGlobal(in ir.Instr) {
	g := c.mod.Globals[in.Index]
	ptr := gpScratch[1]
	c.loadReloc(RelocGlobal, in.Index, ptr)

	if g.Type == wasm.ValueTypeF64 {
		reg := sseScratch[0]
		c.b.loadF64(ptr, globalValueOffset, reg)
		c.b.pushXMM(reg)
	} else {
		reg := gpScratch[0]
		c.b.loadQ(ptr, globalValueOffset, reg)
		c.b.pushReg(reg)
	}
	c.height++
}

func (c *compiler) emitSetGlobal(in ir.Instr) {
	g := c.mod.Globals[in.Index]
	ptr := gpScratch[1]
	c.loadReloc(RelocGlobal, in.Index, ptr)

	if g.Type == wasm.ValueTypeF64 {
		reg := sseScratch[0]
		c.b.popXMM(reg)
		c.b.storeF64(reg, ptr, globalValueOffset)
	} else {
		reg := gpScratch[0]
		c.b.popReg(reg)
		c.b.storeQ(reg, ptr, globalValueOffset)
	}
	c.height--
}

// globalValueOffset is the byte offset of the Value field within
// link.GlobalInstance. Kept in sync with that struct's layout by hand,
// the same way the locals descriptor keeps its offsets in sync with the
// prologue's spill order.
const globalValueOffset = 0

// loadReloc loads the address of module object idx (of the given kind)
// into dst via a placeholder immediate, recording a Reloc for the loader
// to patch in before the function is ever called.
func (c *compiler) loadReloc(kind RelocKind, idx uint32, dst int16) {
	prog := c.b.movConstReg(x86.AMOVQ, 0, dst)
	c.pending = append(c.pending, pendingImm{prog: prog, kind: kind, idx: idx})
}

// memAccess computes the absolute effective address (the memory
// instance's data pointer, plus the static instruction offset,
// plus the dynamic i32 address popped off the stack) into addrReg, and
// optionally emits a bounds check against the memory instance's current
// length first.
func (c *compiler) memAccess(off uint32, accessSize int64, addrReg int16) {
	memPtr := gpScratch[2]
	c.loadReloc(RelocMem, 0, memPtr)

	idx := gpScratch[1]
	c.b.popReg(idx)
	c.height--
	c.b.add(c.b.regReg(x86.AMOVL, idx, idx)) // zero-extend the i32 address

	if c.opts.EmitBoundsChecks {
		lenReg := gpScratch[0]
		c.b.loadQ(memPtr, memLengthOffset, lenReg)

		needed := int64(off) + accessSize
		// Guard against off+size underflowing the subtraction below when
		// the memory is smaller than the access needs at all.
		c.b.add(c.b.regImm(x86.ACMPQ, needed, lenReg)) // flags = lenReg - needed
		big := c.b.jmpIf(x86.AJCC)                     // lenReg >= needed: large enough, continue
		c.b.add(c.b.simple(x86.AUD2))
		bigLabel := c.b.simple(obj.ANOP)
		c.b.add(bigLabel)
		big.To.SetTarget(bigLabel)

		c.b.add(c.b.regImm(x86.ASUBQ, needed, lenReg)) // lenReg = highest valid idx
		c.b.add(c.b.regReg(x86.ACMPQ, idx, lenReg))    // flags = lenReg - idx
		inBounds := c.b.jmpIf(x86.AJCC)                // lenReg >= idx: address fits, skip trap
		c.b.add(c.b.simple(x86.AUD2))
		after := c.b.simple(obj.ANOP)
		c.b.add(after)
		inBounds.To.SetTarget(after)
	}

	dataPtr := gpScratch[2]
	c.b.loadQ(memPtr, memDataOffset, dataPtr)
	c.b.add(c.b.regReg(x86.AADDQ, idx, dataPtr))
	if off != 0 {
		c.b.addConst(dataPtr, int64(off))
	}
	c.b.movRegReg(x86.AMOVQ, dataPtr, addrReg)
}

// memDataOffset and memLengthOffset mirror link.MemoryInstance's layout:
// a data pointer followed by its current length in bytes.
const (
	memDataOffset   = 0
	memLengthOffset = 8
)

func (c *compiler) emitLoad(in ir.Instr) {
	addr := gpScratch[3]
	switch in.Op {
	case ir.OpI32Load:
		c.memAccess(in.Offset, 4, addr)
		reg := gpScratch[0]
		c.b.regMem(x86.AMOVL, reg, addr, 0, false) // 4-byte load, zero-extended
		c.b.pushReg(reg)
	case ir.OpI64Load:
		c.memAccess(in.Offset, 8, addr)
		reg := gpScratch[0]
		c.b.loadQ(addr, 0, reg)
		c.b.pushReg(reg)
	case ir.OpF64Load:
		c.memAccess(in.Offset, 8, addr)
		reg := sseScratch[0]
		c.b.loadF64(addr, 0, reg)
		c.b.pushXMM(reg)
	case ir.OpI32Load8s:
		c.memAccess(in.Offset, 1, addr)
		reg := gpScratch[0]
		c.b.regMem(x86.AMOVBLSX, reg, addr, 0, false)
		c.b.pushReg(reg)
	}
	c.height++
}

func (c *compiler) emitStore(in ir.Instr) {
	var size int64
	switch in.Op {
	case ir.OpI32Store:
		size = 4
	case ir.OpI32Store16:
		size = 2
	case ir.OpI64Store, ir.OpF64Store:
		size = 8
	case ir.OpI32Store8:
		size = 1
	}

	if in.Op == ir.OpF64Store {
		val := sseScratch[0]
		c.b.popXMM(val)
		c.height--
		addr := gpScratch[3]
		c.memAccess(in.Offset, size, addr)
		c.b.storeF64(val, addr, 0)
		return
	}

	val := gpScratch[0]
	c.b.popReg(val)
	c.height--
	addr := gpScratch[3]
	c.memAccess(in.Offset, size, addr)

	switch in.Op {
	case ir.OpI32Store, ir.OpI64Store:
		if size == 4 {
			c.b.regMem(x86.AMOVL, val, addr, 0, true)
		} else {
			c.b.storeQ(val, addr, 0)
		}
	case ir.OpI32Store8:
		c.b.regMem(x86.AMOVB, val, addr, 0, true)
	case ir.OpI32Store16:
		c.b.regMem(x86.AMOVW, val, addr, 0, true)
	}
}
