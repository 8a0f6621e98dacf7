// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
)

// localDesc locates one entry of the combined parameter+local index space
// within the function's stack frame.
type localDesc struct {
	typ wasm.ValueType
	// off is the displacement from RBP. Every slot is 8 bytes regardless
	// of typ. A negative off names a slot in this function's own locals
	// area, reserved by the prologue's frame subtraction; a positive off
	// (+16 and upward) names a parameter the caller spilled to the stack
	// rather than passing in a register, and lives in the caller's frame.
	off int64
}

// paramLoc records where one parameter of a signature is sourced from:
// either the idx'th argument register of its class, or the idx'th
// caller-spilled stack slot shared across both classes in declaration
// order. classifyParams is the single source of truth on the callee's
// side: its locals layout (layoutLocals) and its prologue's argument
// spills (emitPrologue) both build on it, so the two always agree on which
// parameters arrived in registers and which on the stack. A call site's
// marshalArgs does not consult it; it only handles signatures that
// callCanMarshal accepts, where every parameter has a register.
type paramLoc struct {
	isFloat bool
	reg     bool
	idx     int
}

// classifyParams assigns each parameter of params to an argument register
// of its class (integer or SSE, counted independently, per the System V
// AMD64 ABI) or, once that class's registers are exhausted, to the next
// caller-spilled stack slot, numbered across both classes in the order
// the overflowing parameters appear.
func classifyParams(params []wasm.ValueType) []paramLoc {
	locs := make([]paramLoc, len(params))
	var nInt, nFloat, nSpill int
	for i, t := range params {
		if t == wasm.ValueTypeF64 {
			if nFloat < len(floatArgRegs) {
				locs[i] = paramLoc{isFloat: true, reg: true, idx: nFloat}
				nFloat++
				continue
			}
			locs[i] = paramLoc{isFloat: true, idx: nSpill}
			nSpill++
			continue
		}
		if nInt < len(intArgRegs) {
			locs[i] = paramLoc{reg: true, idx: nInt}
			nInt++
			continue
		}
		locs[i] = paramLoc{idx: nSpill}
		nSpill++
	}
	return locs
}

// layoutLocals assigns every parameter and declared local a frame-relative
// slot, params first (matching the combined index space wasm defines),
// then expands the run-length-encoded declared locals. The first phase of
// a function compilation, per the compiler's prologue/body/patch/epilogue
// pipeline.
//
// A parameter that classifyParams placed in an argument register gets a
// negative offset in this function's own frame, same as a declared local -
// the prologue spills it there. A parameter beyond its class's register
// count already lives on the caller's stack; it gets a positive offset
// (+16, skipping the saved return address and frame pointer, then upward
// in 8-byte steps) into that caller-owned memory instead.
func layoutLocals(sig wasm.FunctionSig, code ir.Code) []localDesc {
	n := len(sig.ParamTypes)
	for _, l := range code.Locals {
		n += int(l.Count)
	}

	locs := classifyParams(sig.ParamTypes)
	descs := make([]localDesc, len(sig.ParamTypes), n)
	regSlots := 0
	for i, t := range sig.ParamTypes {
		if locs[i].reg {
			regSlots++
			descs[i] = localDesc{typ: t, off: -8 * int64(regSlots)}
			continue
		}
		descs[i] = localDesc{typ: t, off: 16 + 8*int64(locs[i].idx)}
	}
	for _, l := range code.Locals {
		for i := uint32(0); i < l.Count; i++ {
			regSlots++
			descs = append(descs, localDesc{typ: l.Type, off: -8 * int64(regSlots)})
		}
	}
	return descs
}

// frameSize returns the 16-byte-aligned size, in bytes, of the locals area
// layoutLocals' negative offsets index into. Positive-offset entries name
// caller-spilled parameters that already live in the caller's frame, not
// this one, and so contribute nothing to the size this function reserves
// for itself.
func frameSize(descs []localDesc) int64 {
	n := 0
	for _, d := range descs {
		if d.off < 0 {
			n++
		}
	}
	sz := int64(8 * n)
	if sz%16 != 0 {
		sz += 8
	}
	return sz
}
