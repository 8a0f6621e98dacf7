// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import "github.com/p0prxx/wasmjit/wasm"

// jitcall bridges a plain Go call into a function compiled by package
// compile (implemented in call_amd64.s). intArgs and floatArgs hold the
// integer- and float-class arguments in call order, mirroring package
// compile's split between intArgRegs and floatArgRegs; both results are
// always captured since the trampoline has no way to know ahead of time
// which one the callee's signature actually populates.
func jitcall(entry uintptr, intArgs, floatArgs []uint64) (intResult, floatResult uint64)

// maxIntArgs and maxFloatArgs are the argument counts jitcall loads into
// registers (DI, SI, DX, CX, R8, R9 and X0-X3). There is no stack-spill
// path, so a signature with more integer or float parameters than that
// cannot be invoked this way.
const (
	maxIntArgs   = 6
	maxFloatArgs = 4
)

// TooManyArgumentsError is returned by Invoke when sig has more
// parameters of one class than jitcall loads into argument registers.
type TooManyArgumentsError wasm.FunctionSig

func (e TooManyArgumentsError) Error() string {
	return "link: invoke: signature " + wasm.FunctionSig(e).String() + " has more arguments than Invoke passes in registers, unsupported"
}

// ArgumentCountError is returned by Invoke when args doesn't match
// sig's declared parameter count.
type ArgumentCountError struct{ Want, Got int }

func (e ArgumentCountError) Error() string {
	return "link: invoke: wrong argument count"
}

// Invoke calls fn, a function compiled and linked against sig, with
// args given as raw 64-bit bit patterns in declaration order (an i32 or
// i64 argument's value zero/sign-extended into its slot, an f64
// argument's math.Float64bits). The single result, if sig declares one,
// comes back the same way: reinterpret it according to
// sig.ReturnTypes[0].
func Invoke(fn *FunctionInstance, sig wasm.FunctionSig, args []uint64) (uint64, error) {
	if len(args) != len(sig.ParamTypes) {
		return 0, ArgumentCountError{Want: len(sig.ParamTypes), Got: len(args)}
	}

	var ints, floats []uint64
	for i, t := range sig.ParamTypes {
		if t == wasm.ValueTypeF64 {
			floats = append(floats, args[i])
		} else {
			ints = append(ints, args[i])
		}
	}
	if len(ints) > maxIntArgs || len(floats) > maxFloatArgs {
		return 0, TooManyArgumentsError(sig)
	}

	intRes, floatRes := jitcall(fn.EntryAddr, ints, floats)
	if len(sig.ReturnTypes) == 0 {
		return 0, nil
	}
	if sig.ReturnTypes[0] == wasm.ValueTypeF64 {
		return floatRes, nil
	}
	return intRes, nil
}
