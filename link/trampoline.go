// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"github.com/twitchyliquid64/golang-asm/asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// BuildIndirectCallTrampoline assembles the resolve_indirect_call helper
// that package compile's call_indirect lowering reaches through a
// RelocResolveIndirectCall placeholder. It is a single small routine,
// shared by every call_indirect site in every function: rather than
// calling back into the Go runtime (which would need its own calling
// convention bridge), it resolves the target entirely in machine code,
// using the same golang-asm builder the rest of this module generates
// code with, and the same bounds-check-then-trap idiom package compile
// uses for linear-memory accesses.
//
// Arguments arrive exactly as compile.emitCallIndirect marshals them,
// per the System V AMD64 ABI:
//
//	DI - *TableInstance
//	SI - expected type token
//	DX - table index (zero-extended i32)
//
// On success AX holds the resolved function's entry address, ready for
// the caller to CALL through directly. An out-of-range index, an empty
// table slot, or a type-token mismatch all trap via UD2, matching how
// every other dynamic check in this module signals a trap.
func BuildIndirectCallTrampoline(alloc *MMapAllocator) (uintptr, error) {
	b := asm.NewBuilder("amd64", 64)

	tablePtr, typeTok, idx := int16(x86.REG_DI), int16(x86.REG_SI), int16(x86.REG_DX)
	lenReg, dataPtr, entry, gotToken := int16(x86.REG_CX), int16(x86.REG_BX), int16(x86.REG_BX), int16(x86.REG_CX)

	// lenReg = table.Funcs.Len (slice header offset 8)
	loadDisp(b, x86.AMOVQ, tablePtr, 8, lenReg)

	// Trap unless idx < len.
	cmp(b, x86.ACMPQ, idx, lenReg)
	inRange := jmpIf(b, x86.AJHI)
	trap(b)

	nop := simple(b, obj.ANOP)
	inRange.To.SetTarget(nop)

	// dataPtr = table.Funcs.Data (slice header offset 0)
	loadDisp(b, x86.AMOVQ, tablePtr, 0, dataPtr)
	// entry = *(dataPtr + idx*8), a *FunctionInstance
	loadIndexed(b, x86.AMOVQ, dataPtr, idx, 8, entry)

	// Trap on an empty (uninitialized) table slot.
	test(b, entry, entry)
	haveFunc := jmpIf(b, x86.AJNE)
	trap(b)

	nop2 := simple(b, obj.ANOP)
	haveFunc.To.SetTarget(nop2)

	// Trap unless the target's signature token matches the caller's.
	loadDisp(b, x86.AMOVQ, entry, 8, gotToken) // FunctionInstance.TypeToken
	cmp(b, x86.ACMPQ, typeTok, gotToken)
	tokOK := jmpIf(b, x86.AJEQ)
	trap(b)

	nop3 := simple(b, obj.ANOP)
	tokOK.To.SetTarget(nop3)

	// AX = entry.EntryAddr (offset 0), then return to the caller.
	loadDisp(b, x86.AMOVQ, entry, 0, x86.REG_AX)
	simple(b, obj.ARET)

	code, err := b.Assemble()
	if err != nil {
		return 0, err
	}
	ptr, err := alloc.AllocateExec(code)
	if err != nil {
		return 0, err
	}
	return uintptr(ptr), nil
}

func newProg(b *asm.Builder) *obj.Prog {
	return b.NewProg()
}

func simple(b *asm.Builder, as obj.As) *obj.Prog {
	p := newProg(b)
	p.As = as
	b.AddInstruction(p)
	return p
}

func loadDisp(b *asm.Builder, as obj.As, base int16, disp int64, dst int16) {
	p := newProg(b)
	p.As = as
	p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: disp}
	p.To = obj.Addr{Type: obj.TYPE_REG, Reg: dst}
	b.AddInstruction(p)
}

// loadIndexed builds `as (base)(index*scale), dst`.
func loadIndexed(b *asm.Builder, as obj.As, base, index int16, scale int8, dst int16) {
	p := newProg(b)
	p.As = as
	p.From = obj.Addr{Type: obj.TYPE_MEM, Reg: base, Index: index, Scale: int16(scale)}
	p.To = obj.Addr{Type: obj.TYPE_REG, Reg: dst}
	b.AddInstruction(p)
}

func cmp(b *asm.Builder, as obj.As, src, dst int16) {
	p := newProg(b)
	p.As = as
	p.From = obj.Addr{Type: obj.TYPE_REG, Reg: src}
	p.To = obj.Addr{Type: obj.TYPE_REG, Reg: dst}
	b.AddInstruction(p)
}

func test(b *asm.Builder, src, dst int16) {
	cmp(b, x86.ATESTQ, src, dst)
}

func jmpIf(b *asm.Builder, as obj.As) *obj.Prog {
	p := newProg(b)
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	b.AddInstruction(p)
	return p
}

func trap(b *asm.Builder) {
	simple(b, x86.AUD2)
}
