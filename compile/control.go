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

// label is a single branch target. It may be resolved (prog != nil) the
// moment it is created - a loop's label targets its own first
// instruction, so it is always resolved on construction - or it may stay
// unresolved until some later point in the instruction stream reaches it,
// in which case every branch recorded before then waits in pending until
// place is called.
type label struct {
	prog    *obj.Prog
	pending []*obj.Prog
}

// branch points jmp at this label, immediately if the label's target is
// already known, or by queuing it for place to resolve later.
func (l *label) branch(jmp *obj.Prog) {
	if l.prog != nil {
		jmp.To.SetTarget(l.prog)
		return
	}
	l.pending = append(l.pending, jmp)
}

// place fixes this label's target to marker, resolving every branch that
// was waiting on it.
func (l *label) place(marker *obj.Prog) {
	l.prog = marker
	for _, p := range l.pending {
		p.To.SetTarget(marker)
	}
	l.pending = nil
}

// ctrlFrame is the compile-time record of one nested control structure:
// the height the operand stack had on entry, the arity branches to it
// carry, and the label those branches resolve against. Loop frames
// target their own start (re-entering the loop); block and if frames
// target their own end (exiting it).
type ctrlFrame struct {
	isLoop  bool
	height  int
	results []wasm.ValueType
	arity   int
	lbl     label
}

func blockResults(sig ir.BlockSig) []wasm.ValueType {
	if !sig.HasResult {
		return nil
	}
	return []wasm.ValueType{sig.Result}
}

func (c *compiler) pushFrame(isLoop bool, results []wasm.ValueType) *ctrlFrame {
	arity := len(results)
	if isLoop {
		arity = 0
	}
	f := &ctrlFrame{isLoop: isLoop, height: c.height, results: results, arity: arity}
	c.ctrl = append(c.ctrl, f)
	return f
}

func (c *compiler) popFrame() *ctrlFrame {
	f := c.ctrl[len(c.ctrl)-1]
	c.ctrl = c.ctrl[:len(c.ctrl)-1]
	return f
}

func (c *compiler) frameAt(depth uint32) (*ctrlFrame, error) {
	i := len(c.ctrl) - 1 - int(depth)
	if i < 0 {
		return nil, InvalidBranchTargetError(depth)
	}
	return c.ctrl[i], nil
}

// shuffleToHeight emits the runtime stack surgery a branch to frame needs:
// drop every slot between the current height and frame's entry height,
// preserving frame's arity (0 or 1, wasm 1.0's only options) worth of
// values on top of what remains.
func (c *compiler) shuffleToHeight(frame *ctrlFrame) error {
	drop := c.height - frame.arity - frame.height
	if drop < 0 {
		return invariantViolation("branch target height exceeds current stack height")
	}
	if frame.arity == 0 {
		if drop > 0 {
			c.b.addConst(regSP, int64(drop)*8)
		}
		return nil
	}
	if drop == 0 {
		return nil
	}
	reg := gpScratch[0]
	c.b.popReg(reg)
	c.b.addConst(regSP, int64(drop)*8)
	c.b.pushReg(reg)
	return nil
}

// branchTarget resolves a branch against frame's label, except when frame
// is the function's implicit outermost block: branching out of that one
// has no `end` marker of its own to land on, so it is wired to the shared
// epilogue exactly like an explicit return.
func (c *compiler) branchTarget(frame *ctrlFrame, jmp *obj.Prog) {
	if frame == c.ctrl[0] {
		c.epilogue.branch(jmp)
		return
	}
	frame.lbl.branch(jmp)
}

// emitBody emits every instruction in seq in order. It is re-entered for
// each nested block's instruction list, so the whole tree is visited in a
// single depth-first pass.
func (c *compiler) emitBody(seq []ir.Instr) error {
	for _, in := range seq {
		if err := c.emitInstr(in); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) emitBlockLike(in ir.Instr, isLoop bool) error {
	results := blockResults(in.Sig)
	frame := c.pushFrame(isLoop, results)

	if isLoop {
		top := c.b.simple(obj.ANOP)
		c.b.add(top)
		frame.lbl.place(top)
	}

	if err := c.emitBody(in.Then); err != nil {
		return err
	}
	c.popFrame()
	c.height = frame.height + len(results)

	if !isLoop {
		end := c.b.simple(obj.ANOP)
		c.b.add(end)
		frame.lbl.place(end)
	}
	return nil
}

func (c *compiler) emitIf(in ir.Instr) error {
	results := blockResults(in.Sig)

	cond := gpScratch[0]
	c.b.popReg(cond)
	c.height--
	c.b.add(c.b.regReg(x86.ATESTQ, cond, cond))
	toElse := c.b.jmpIf(x86.AJEQ)

	frame := c.pushFrame(false, results)
	if err := c.emitBody(in.Then); err != nil {
		return err
	}

	if in.Else != nil {
		skip := c.b.jmp()
		frame.lbl.branch(skip)

		elseMarker := c.b.simple(obj.ANOP)
		c.b.add(elseMarker)
		toElse.To.SetTarget(elseMarker)

		c.height = frame.height
		if err := c.emitBody(in.Else); err != nil {
			return err
		}
	} else {
		frame.lbl.branch(toElse)
	}

	c.popFrame()
	c.height = frame.height + len(results)

	end := c.b.simple(obj.ANOP)
	c.b.add(end)
	frame.lbl.place(end)
	return nil
}

func (c *compiler) emitBr(idx uint32) error {
	frame, err := c.frameAt(idx)
	if err != nil {
		return err
	}
	if err := c.shuffleToHeight(frame); err != nil {
		return err
	}
	jmp := c.b.jmp()
	c.branchTarget(frame, jmp)
	return nil
}

func (c *compiler) emitBrIf(idx uint32) error {
	frame, err := c.frameAt(idx)
	if err != nil {
		return err
	}

	cond := gpScratch[0]
	c.b.popReg(cond)
	c.height--
	c.b.add(c.b.regReg(x86.ATESTQ, cond, cond))
	skip := c.b.jmpIf(x86.AJEQ)

	if err := c.shuffleToHeight(frame); err != nil {
		return err
	}
	jmp := c.b.jmp()
	c.branchTarget(frame, jmp)

	after := c.b.simple(obj.ANOP)
	c.b.add(after)
	skip.To.SetTarget(after)
	return nil
}

// emitBrTable lowers to a linear chain of compare-and-branch stubs rather
// than a computed jump table: position-independent code can't embed an
// absolute-address table inline, and the target count in practice is
// small enough that the difference is not worth the added complexity of
// a RIP-relative table of relocatable entries.
func (c *compiler) emitBrTable(in ir.Instr) error {
	idx := gpScratch[0]
	c.b.popReg(idx)
	c.height--

	type arm struct {
		jmp   *obj.Prog
		frame *ctrlFrame
	}
	arms := make([]arm, len(in.Targets))
	for i, t := range in.Targets {
		frame, err := c.frameAt(t)
		if err != nil {
			return err
		}
		c.b.add(c.b.regImm(x86.ACMPQ, int64(i), idx))
		arms[i] = arm{jmp: c.b.jmpIf(x86.AJEQ), frame: frame}
	}

	baseHeight := c.height
	defFrame, err := c.frameAt(in.DefaultLabel)
	if err != nil {
		return err
	}
	if err := c.shuffleToHeight(defFrame); err != nil {
		return err
	}
	fallthroughJmp := c.b.jmp()
	c.branchTarget(defFrame, fallthroughJmp)

	for _, a := range arms {
		pad := c.b.simple(obj.ANOP)
		c.b.add(pad)
		a.jmp.To.SetTarget(pad)
		c.height = baseHeight
		if err := c.shuffleToHeight(a.frame); err != nil {
			return err
		}
		jmp := c.b.jmp()
		c.branchTarget(a.frame, jmp)
	}
	return nil
}

func (c *compiler) emitReturn() error {
	root := c.ctrl[0]
	if err := c.shuffleToHeight(root); err != nil {
		return err
	}
	jmp := c.b.jmp()
	c.epilogue.branch(jmp)
	return nil
}

// patchBranches is a consistency check, not a second emission pass: every
// block and if resolves its own label the moment its `end` is reached
// (see emitBlockLike/emitIf), so by the time the body walk finishes there
// should be exactly the function's implicit outermost frame left.
func (c *compiler) patchBranches() error {
	if len(c.ctrl) != 1 {
		return invariantViolation("control frame stack unbalanced after body emission")
	}
	return nil
}
