// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

import (
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Reserved general-purpose registers. RSP doubles as the operand-stack
// pointer: every WebAssembly value slot pushed by the compiled function is
// a native PUSH/POP against the hardware stack, so the two never drift
// apart the way a software-simulated stack would need bookkeeping to
// avoid. RBP anchors the current frame: locals live below it, spilled
// incoming arguments above it, following the System V layout the
// prologue/epilogue pair establishes.
const (
	regFP = x86.REG_BP // frame pointer; locals/args addressed relative to this
	regSP = x86.REG_SP // operand stack top
)

// General-purpose scratch registers available to instruction lowering.
// None of these are live across instruction boundaries in the emitted
// code: every operator pops its operands into scratch registers, computes,
// and pushes the result, so scratch contents never need to survive a
// branch.
var gpScratch = [...]int16{
	x86.REG_AX,
	x86.REG_BX,
	x86.REG_CX,
	x86.REG_DX,
	x86.REG_SI,
	x86.REG_DI,
	x86.REG_R8,
	x86.REG_R9,
}

// sseScratch mirrors gpScratch for float-valued (f64) operands.
var sseScratch = [...]int16{
	x86.REG_X0,
	x86.REG_X1,
	x86.REG_X2,
	x86.REG_X3,
}

// intArgRegs and floatArgRegs list the System V AMD64 ABI's integer and
// SSE argument-passing registers, in order. A function whose parameter
// count (per class) exceeds these arrays spills the overflow to positive
// frame offsets instead (see layoutLocals); a call site that would need
// to marshal more arguments than these hold fails to compile instead
// (see callCanMarshal, TooManyCallArgumentsError).
var intArgRegs = [...]int16{
	x86.REG_DI,
	x86.REG_SI,
	x86.REG_DX,
	x86.REG_CX,
	x86.REG_R8,
	x86.REG_R9,
}

var floatArgRegs = [...]int16{
	x86.REG_X0,
	x86.REG_X1,
	x86.REG_X2,
	x86.REG_X3,
	x86.REG_X4,
	x86.REG_X5,
	x86.REG_X6,
	x86.REG_X7,
}

// intResultReg and floatResultReg are the System V return-value registers
// for the two value classes this backend handles.
const (
	intResultReg   = x86.REG_AX
	floatResultReg = x86.REG_X0
)
