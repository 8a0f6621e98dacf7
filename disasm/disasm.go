// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm turns a WebAssembly function's raw bytecode body into the
// nested instruction tree (package ir) consumed by the amd64 JIT core in
// package compile. Unlike the bytecode-to-bytecode lowering this package
// used to perform for a stack-machine interpreter, it stops short of
// resolving branches to absolute addresses: that resolution is now the
// compiler core's job (spec §4.3/§4.4), since it needs to happen against
// emitted machine-code offsets, not bytecode offsets.
package disasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/p0prxx/wasmjit/ir"
	"github.com/p0prxx/wasmjit/wasm"
	"github.com/p0prxx/wasmjit/wasm/leb128"
)

// ErrUnsupportedOpcode is returned when the bytecode contains an opcode
// outside the subset the amd64 core implements (spec §6).
type ErrUnsupportedOpcode byte

func (e ErrUnsupportedOpcode) Error() string {
	return fmt.Sprintf("disasm: unsupported opcode 0x%x", byte(e))
}

// ErrTruncated is returned when the bytecode stream ends mid-instruction.
var ErrTruncated = errors.New("disasm: truncated bytecode")

type reader struct {
	*bytes.Reader
}

func (r *reader) varU32() (uint32, error) { return leb128.ReadVarUint32(r) }
func (r *reader) varI32() (int32, error)  { return leb128.ReadVarint32(r) }
func (r *reader) varI64() (int64, error)  { return leb128.ReadVarint64(r) }

func (r *reader) blockType() (wasm.BlockType, error) {
	v, err := leb128.ReadVarint32(r)
	return wasm.BlockType(v), err
}

func (r *reader) f64() (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrTruncated
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// Disassemble parses fn's body into a nested instruction tree. module is
// accepted for future call-site validation; the core itself resolves call
// targets via relocations, not via anything looked up here.
func Disassemble(fn wasm.Function, module *wasm.Module) (*ir.Code, error) {
	r := &reader{bytes.NewReader(fn.Body.Code)}

	body, _, err := parseSeq(r)
	if err != nil {
		return nil, err
	}

	locals := make([]ir.Locals, len(fn.Body.Locals))
	for i, l := range fn.Body.Locals {
		locals[i] = ir.Locals{Count: l.Count, Type: l.Type}
	}

	return &ir.Code{Locals: locals, Body: body}, nil
}

// parseSeq parses instructions until a matching `end` or `else`. hitElse
// reports which of the two terminated the sequence (false at EOF, which
// is only valid for the function's top-level body).
func parseSeq(r *reader) (out []ir.Instr, hitElse bool, err error) {
	for {
		op, err := r.ReadByte()
		if err == io.EOF {
			return out, false, nil
		} else if err != nil {
			return nil, false, err
		}

		switch op {
		case 0x0b: // end
			return out, false, nil
		case 0x05: // else
			return out, true, nil
		case 0x00:
			out = append(out, ir.Instr{Op: ir.OpUnreachable})
		case 0x01:
			out = append(out, ir.Instr{Op: ir.OpNop})
		case 0x02, 0x03, 0x04:
			bt, err := r.blockType()
			if err != nil {
				return nil, false, err
			}
			sig := ir.BlockSig{}
			if bt != wasm.BlockTypeEmpty {
				sig.HasResult = true
				sig.Result = wasm.ValueType(bt)
			}

			switch op {
			case 0x02:
				then, _, err := parseSeq(r)
				if err != nil {
					return nil, false, err
				}
				out = append(out, ir.Instr{Op: ir.OpBlock, Sig: sig, Then: then})
			case 0x03:
				then, _, err := parseSeq(r)
				if err != nil {
					return nil, false, err
				}
				out = append(out, ir.Instr{Op: ir.OpLoop, Sig: sig, Then: then})
			case 0x04:
				then, hitElse, err := parseSeq(r)
				if err != nil {
					return nil, false, err
				}
				instr := ir.Instr{Op: ir.OpIf, Sig: sig, Then: then}
				if hitElse {
					els, _, err := parseSeq(r)
					if err != nil {
						return nil, false, err
					}
					instr.Else = els
				}
				out = append(out, instr)
			}
		case 0x0c, 0x0d: // br, br_if
			idx, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			o := ir.OpBr
			if op == 0x0d {
				o = ir.OpBrIf
			}
			out = append(out, ir.Instr{Op: o, LabelIdx: idx})
		case 0x0e: // br_table
			count, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			targets := make([]uint32, count)
			for i := range targets {
				targets[i], err = r.varU32()
				if err != nil {
					return nil, false, err
				}
			}
			def, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: ir.OpBrTable, Targets: targets, DefaultLabel: def})
		case 0x0f:
			out = append(out, ir.Instr{Op: ir.OpReturn})
		case 0x10:
			idx, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: ir.OpCall, FuncIndex: idx})
		case 0x11:
			idx, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			if _, err := r.ReadByte(); err != nil { // reserved table-index byte
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: ir.OpCallIndirect, TypeIndex: idx})
		case 0x1a:
			out = append(out, ir.Instr{Op: ir.OpDrop})
		case 0x20, 0x21, 0x22:
			idx, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			o := ir.OpGetLocal
			if op == 0x21 {
				o = ir.OpSetLocal
			} else if op == 0x22 {
				o = ir.OpTeeLocal
			}
			out = append(out, ir.Instr{Op: o, Index: idx})
		case 0x23, 0x24:
			idx, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			o := ir.OpGetGlobal
			if op == 0x24 {
				o = ir.OpSetGlobal
			}
			out = append(out, ir.Instr{Op: o, Index: idx})
		case 0x28, 0x29, 0x2b, 0x2c, 0x36, 0x37, 0x39, 0x3a, 0x3b:
			if _, err := r.varU32(); err != nil { // alignment hint, discarded
				return nil, false, err
			}
			off, err := r.varU32()
			if err != nil {
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: memOp(op), Offset: off})
		case 0x41:
			v, err := r.varI32()
			if err != nil {
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: ir.OpI32Const, I32Val: v})
		case 0x42:
			v, err := r.varI64()
			if err != nil {
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: ir.OpI64Const, I64Val: v})
		case 0x44:
			v, err := r.f64()
			if err != nil {
				return nil, false, err
			}
			out = append(out, ir.Instr{Op: ir.OpF64Const, F64Val: v})
		default:
			if o, ok := simpleOps[op]; ok {
				out = append(out, ir.Instr{Op: o})
				continue
			}
			return nil, false, ErrUnsupportedOpcode(op)
		}
	}
}

func memOp(op byte) ir.Op {
	switch op {
	case 0x28:
		return ir.OpI32Load
	case 0x29:
		return ir.OpI64Load
	case 0x2b:
		return ir.OpF64Load
	case 0x2c:
		return ir.OpI32Load8s
	case 0x36:
		return ir.OpI32Store
	case 0x37:
		return ir.OpI64Store
	case 0x39:
		return ir.OpF64Store
	case 0x3a:
		return ir.OpI32Store8
	case 0x3b:
		return ir.OpI32Store16
	}
	panic("unreachable")
}

var simpleOps = map[byte]ir.Op{
	0x45: ir.OpI32Eqz,
	0x46: ir.OpI32Eq,
	0x47: ir.OpI32Ne,
	0x48: ir.OpI32LtS,
	0x49: ir.OpI32LtU,
	0x4a: ir.OpI32GtS,
	0x4b: ir.OpI32GtU,
	0x4c: ir.OpI32LeS,
	0x4d: ir.OpI32LeU,
	0x4e: ir.OpI32GeS,
	0x51: ir.OpI64Eq,
	0x52: ir.OpI64Ne,
	0x53: ir.OpI64LtS,
	0x54: ir.OpI64LtU,
	0x55: ir.OpI64GtS,
	0x56: ir.OpI64GtU,
	0x57: ir.OpI64LeS,
	0x58: ir.OpI64LeU,
	0x59: ir.OpI64GeS,
	0x61: ir.OpF64Eq,
	0x62: ir.OpF64Ne,

	0x6a: ir.OpI32Add,
	0x6b: ir.OpI32Sub,
	0x6c: ir.OpI32Mul,
	0x6d: ir.OpI32DivS,
	0x6e: ir.OpI32DivU,
	0x6f: ir.OpI32RemS,
	0x70: ir.OpI32RemU,
	0x71: ir.OpI32And,
	0x72: ir.OpI32Or,
	0x73: ir.OpI32Xor,
	0x74: ir.OpI32Shl,
	0x75: ir.OpI32ShrS,
	0x76: ir.OpI32ShrU,

	0x7c: ir.OpI64Add,
	0x7d: ir.OpI64Sub,
	0x7e: ir.OpI64Mul,
	0x7f: ir.OpI64DivS,
	0x80: ir.OpI64DivU,
	0x81: ir.OpI64RemS,
	0x82: ir.OpI64RemU,
	0x83: ir.OpI64And,
	0x84: ir.OpI64Or,
	0x85: ir.OpI64Xor,
	0x86: ir.OpI64Shl,
	0x87: ir.OpI64ShrS,
	0x88: ir.OpI64ShrU,

	0x9a: ir.OpF64Neg,
	0xa0: ir.OpF64Add,
	0xa1: ir.OpF64Sub,
	0xa2: ir.OpF64Mul,

	0xa7: ir.OpI32WrapI64,
	0xaa: ir.OpI32TruncSF64,
	0xab: ir.OpI32TruncUF64,
	0xac: ir.OpI64ExtendSI32,
	0xad: ir.OpI64ExtendUI32,
	0xb7: ir.OpF64ConvertSI32,
	0xb8: ir.OpF64ConvertUI32,
	0xbd: ir.OpI64ReinterpretF64,
	0xbf: ir.OpF64ReinterpretI64,
}
