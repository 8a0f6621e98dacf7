// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package validate type-checks the ir.Code tree produced by package
// disasm before it reaches the amd64 JIT core. It is a straight-line
// port of the stack-type bookkeeping a disassembler needs to do anyway,
// pulled out into its own precondition pass so that compile/ can assume
// (spec §8, "stack-type fidelity") every instruction it sees already
// balances.
package validate

import (
	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
)

// Module is the subset of module-wide information the checker needs to
// resolve call and call_indirect targets.
type Module struct {
	Types     []wasm.FunctionSig // the module's type section
	FuncSigs  []wasm.FunctionSig // signature of every function in the function index space, by index
	Globals   []wasm.GlobalVar
	HasMemory bool
	HasTable  bool
}

type checker struct {
	mod    *Module
	locals []wasm.ValueType
	stack  []operand

	// one entry per enclosing block/loop/if, innermost last
	frames []frame
}

type frame struct {
	labelTypes []wasm.ValueType // what a branch to this label must leave behind
	endTypes   []wasm.ValueType // what falling off the end of this block must leave behind
	height     int              // stack height when the block was entered
}

// Function type-checks fn against mod, reporting the first violation of
// spec §3's static-stack invariants it finds.
func Function(mod *Module, fn ir.Func) error {
	c := &checker{mod: mod}

	for _, p := range fn.Type.ParamTypes {
		c.locals = append(c.locals, p)
	}
	for _, l := range fn.Code.Locals {
		for i := uint32(0); i < l.Count; i++ {
			c.locals = append(c.locals, l.Type)
		}
	}

	c.frames = append(c.frames, frame{
		labelTypes: fn.Type.ReturnTypes,
		endTypes:   fn.Type.ReturnTypes,
		height:     0,
	})

	if err := c.walk(fn.Code.Body); err != nil {
		return err
	}
	return c.popSeq(c.frames[0].endTypes)
}

func (c *checker) push(t wasm.ValueType) { c.stack = append(c.stack, operand{t}) }

func (c *checker) pop(want wasm.ValueType) error {
	if len(c.stack) <= c.curFrame().height {
		return ErrStackUnderflow
	}
	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	if !top.Equal(want) {
		return InvalidTypeError{Wanted: want, Got: top.Type}
	}
	return nil
}

func (c *checker) popSeq(types []wasm.ValueType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := c.pop(types[i]); err != nil {
			return err
		}
	}
	if len(c.stack) != c.curFrame().height {
		return UnbalancedStackErr{Height: len(c.stack) - c.curFrame().height, Want: 0}
	}
	return nil
}

func (c *checker) curFrame() frame { return c.frames[len(c.frames)-1] }

func (c *checker) walk(body []ir.Instr) error {
	for _, in := range body {
		if err := c.step(in); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) blockLabelTypes(sig ir.BlockSig, isLoop bool) []wasm.ValueType {
	if isLoop {
		return nil // a branch to a loop re-enters at the top: no values expected
	}
	if sig.HasResult {
		return []wasm.ValueType{sig.Result}
	}
	return nil
}

func (c *checker) enterBlock(sig ir.BlockSig, isLoop bool, then []ir.Instr) error {
	var end []wasm.ValueType
	if sig.HasResult {
		end = []wasm.ValueType{sig.Result}
	}
	c.frames = append(c.frames, frame{
		labelTypes: c.blockLabelTypes(sig, isLoop),
		endTypes:   end,
		height:     len(c.stack),
	})
	if err := c.walk(then); err != nil {
		return err
	}
	if err := c.popSeq(end); err != nil {
		return err
	}
	c.frames = c.frames[:len(c.frames)-1]
	for _, t := range end {
		c.push(t)
	}
	return nil
}

func (c *checker) labelAt(idx uint32) (frame, error) {
	i := len(c.frames) - 1 - int(idx)
	if i < 0 {
		return frame{}, InvalidLabelError(idx)
	}
	return c.frames[i], nil
}

func (c *checker) step(in ir.Instr) error {
	switch in.Op {
	case ir.OpUnreachable, ir.OpNop:
		return nil

	case ir.OpBlock:
		return c.enterBlock(in.Sig, false, in.Then)
	case ir.OpLoop:
		return c.enterBlock(in.Sig, true, in.Then)
	case ir.OpIf:
		if err := c.pop(wasm.ValueTypeI32); err != nil {
			return err
		}
		if in.Sig.HasResult && in.Else == nil {
			return UnmatchedIfValueErr(in.Sig.Result)
		}
		before := len(c.stack)
		if err := c.enterBlock(in.Sig, false, in.Then); err != nil {
			return err
		}
		if in.Else != nil {
			if in.Sig.HasResult {
				c.stack = c.stack[:len(c.stack)-1]
			}
			c.stack = c.stack[:before]
			return c.enterBlock(in.Sig, false, in.Else)
		}
		return nil

	case ir.OpBr:
		f, err := c.labelAt(in.LabelIdx)
		if err != nil {
			return err
		}
		return c.popSeq(f.labelTypes)
	case ir.OpBrIf:
		if err := c.pop(wasm.ValueTypeI32); err != nil {
			return err
		}
		f, err := c.labelAt(in.LabelIdx)
		if err != nil {
			return err
		}
		for _, t := range f.labelTypes {
			if err := c.pop(t); err != nil {
				return err
			}
		}
		for _, t := range f.labelTypes {
			c.push(t)
		}
		return nil
	case ir.OpBrTable:
		if err := c.pop(wasm.ValueTypeI32); err != nil {
			return err
		}
		for _, l := range in.Targets {
			if _, err := c.labelAt(l); err != nil {
				return err
			}
		}
		_, err := c.labelAt(in.DefaultLabel)
		return err
	case ir.OpReturn:
		return c.popSeq(c.frames[0].endTypes)

	case ir.OpCall:
		if int(in.FuncIndex) >= len(c.mod.FuncSigs) {
			return InvalidLabelError(in.FuncIndex)
		}
		return c.callLike(c.mod.FuncSigs[in.FuncIndex])
	case ir.OpCallIndirect:
		if int(in.TypeIndex) >= len(c.mod.Types) {
			return InvalidLabelError(in.TypeIndex)
		}
		if err := c.pop(wasm.ValueTypeI32); err != nil {
			return err
		}
		return c.callLike(c.mod.Types[in.TypeIndex])

	case ir.OpDrop:
		if len(c.stack) <= c.curFrame().height {
			return ErrStackUnderflow
		}
		c.stack = c.stack[:len(c.stack)-1]
		return nil

	case ir.OpGetLocal:
		t, err := c.localType(in.Index)
		if err != nil {
			return err
		}
		c.push(t)
		return nil
	case ir.OpSetLocal:
		t, err := c.localType(in.Index)
		if err != nil {
			return err
		}
		return c.pop(t)
	case ir.OpTeeLocal:
		t, err := c.localType(in.Index)
		if err != nil {
			return err
		}
		if err := c.pop(t); err != nil {
			return err
		}
		c.push(t)
		return nil

	case ir.OpGetGlobal:
		if int(in.Index) >= len(c.mod.Globals) {
			return InvalidLocalIndexError(in.Index)
		}
		c.push(c.mod.Globals[in.Index].Type)
		return nil
	case ir.OpSetGlobal:
		if int(in.Index) >= len(c.mod.Globals) {
			return InvalidLocalIndexError(in.Index)
		}
		return c.pop(c.mod.Globals[in.Index].Type)

	case ir.OpI32Load, ir.OpI32Load8s:
		return c.unary(wasm.ValueTypeI32, wasm.ValueTypeI32)
	case ir.OpI64Load:
		return c.unary(wasm.ValueTypeI32, wasm.ValueTypeI64)
	case ir.OpF64Load:
		return c.unary(wasm.ValueTypeI32, wasm.ValueTypeF64)
	case ir.OpI32Store, ir.OpI32Store8, ir.OpI32Store16:
		if err := c.pop(wasm.ValueTypeI32); err != nil {
			return err
		}
		return c.pop(wasm.ValueTypeI32)
	case ir.OpI64Store:
		if err := c.pop(wasm.ValueTypeI64); err != nil {
			return err
		}
		return c.pop(wasm.ValueTypeI32)
	case ir.OpF64Store:
		if err := c.pop(wasm.ValueTypeF64); err != nil {
			return err
		}
		return c.pop(wasm.ValueTypeI32)

	case ir.OpI32Const:
		c.push(wasm.ValueTypeI32)
		return nil
	case ir.OpI64Const:
		c.push(wasm.ValueTypeI64)
		return nil
	case ir.OpF64Const:
		c.push(wasm.ValueTypeF64)
		return nil

	case ir.OpI32Eqz:
		return c.unary(wasm.ValueTypeI32, wasm.ValueTypeI32)
	case ir.OpI32Eq, ir.OpI32Ne, ir.OpI32LtS, ir.OpI32LtU, ir.OpI32GtS, ir.OpI32GtU,
		ir.OpI32LeS, ir.OpI32LeU, ir.OpI32GeS:
		return c.binary(wasm.ValueTypeI32, wasm.ValueTypeI32)
	case ir.OpI64Eq, ir.OpI64Ne, ir.OpI64LtS, ir.OpI64LtU, ir.OpI64GtS, ir.OpI64GtU,
		ir.OpI64LeS, ir.OpI64LeU, ir.OpI64GeS:
		return c.binary(wasm.ValueTypeI64, wasm.ValueTypeI32)
	case ir.OpF64Eq, ir.OpF64Ne:
		return c.binary(wasm.ValueTypeF64, wasm.ValueTypeI32)

	case ir.OpI32Add, ir.OpI32Sub, ir.OpI32Mul, ir.OpI32And, ir.OpI32Or, ir.OpI32Xor,
		ir.OpI32Shl, ir.OpI32ShrS, ir.OpI32ShrU, ir.OpI32DivS, ir.OpI32DivU,
		ir.OpI32RemS, ir.OpI32RemU:
		return c.binary(wasm.ValueTypeI32, wasm.ValueTypeI32)
	case ir.OpI64Add, ir.OpI64Sub, ir.OpI64Mul, ir.OpI64And, ir.OpI64Or, ir.OpI64Xor,
		ir.OpI64Shl, ir.OpI64ShrS, ir.OpI64ShrU, ir.OpI64DivS, ir.OpI64DivU,
		ir.OpI64RemS, ir.OpI64RemU:
		return c.binary(wasm.ValueTypeI64, wasm.ValueTypeI64)

	case ir.OpF64Neg:
		return c.unary(wasm.ValueTypeF64, wasm.ValueTypeF64)
	case ir.OpF64Add, ir.OpF64Sub, ir.OpF64Mul:
		return c.binary(wasm.ValueTypeF64, wasm.ValueTypeF64)

	case ir.OpI32WrapI64:
		return c.unary(wasm.ValueTypeI64, wasm.ValueTypeI32)
	case ir.OpI32TruncSF64, ir.OpI32TruncUF64:
		return c.unary(wasm.ValueTypeF64, wasm.ValueTypeI32)
	case ir.OpI64ExtendSI32, ir.OpI64ExtendUI32:
		return c.unary(wasm.ValueTypeI32, wasm.ValueTypeI64)
	case ir.OpF64ConvertSI32, ir.OpF64ConvertUI32:
		return c.unary(wasm.ValueTypeI32, wasm.ValueTypeF64)
	case ir.OpI64ReinterpretF64:
		return c.unary(wasm.ValueTypeF64, wasm.ValueTypeI64)
	case ir.OpF64ReinterpretI64:
		return c.unary(wasm.ValueTypeI64, wasm.ValueTypeF64)
	}
	return nil
}

func (c *checker) callLike(sig wasm.FunctionSig) error {
	for i := len(sig.ParamTypes) - 1; i >= 0; i-- {
		if err := c.pop(sig.ParamTypes[i]); err != nil {
			return err
		}
	}
	if len(sig.ReturnTypes) > 0 {
		c.push(sig.ReturnTypes[0])
	}
	return nil
}

func (c *checker) unary(in, out wasm.ValueType) error {
	if err := c.pop(in); err != nil {
		return err
	}
	c.push(out)
	return nil
}

func (c *checker) binary(in, out wasm.ValueType) error {
	if err := c.pop(in); err != nil {
		return err
	}
	if err := c.pop(in); err != nil {
		return err
	}
	c.push(out)
	return nil
}

func (c *checker) localType(idx uint32) (wasm.ValueType, error) {
	if int(idx) >= len(c.locals) {
		return 0, InvalidLocalIndexError(idx)
	}
	return c.locals[idx], nil
}
