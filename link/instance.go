// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package link turns the output of package compile into something that
// can actually be called: it allocates executable memory for compiled
// functions, patches every compile.Reloc against the module's runtime
// objects, and exposes the handful of ABI-compatible runtime structures
// compiled code addresses directly by fixed field offset.
package link

import "unsafe"

// GlobalInstance backs one entry of a module's global index space. Value
// sits at offset 0 so compiled code's get_global/set_global lowering
// (package compile's globalValueOffset) can load and store it with a
// single MOVQ/MOVSD through a relocated pointer, no further indirection.
type GlobalInstance struct {
	Value uint64
	Type  byte // a wasm.ValueType, kept for host-side introspection only
}

// MemoryInstance backs one linear memory. Data and Len occupy the first
// two 8-byte slots (package compile's memDataOffset/memLengthOffset) so
// compiled loads and stores can compute an effective address without a
// call back into Go.
type MemoryInstance struct {
	Data uintptr // &backing[0], or 0 if backing is empty
	Len  uint64  // len(backing), in bytes

	backing []byte
	max     uint32 // page count ceiling, 0 meaning unbounded
}

// NewMemoryInstance allocates a memory instance with the given initial
// page count (each page is 64KiB, per the WebAssembly MVP).
func NewMemoryInstance(initialPages, maxPages uint32) *MemoryInstance {
	m := &MemoryInstance{max: maxPages}
	m.backing = make([]byte, int(initialPages)*wasmPageSize)
	m.sync()
	return m
}

const wasmPageSize = 64 * 1024

func (m *MemoryInstance) sync() {
	m.Len = uint64(len(m.backing))
	if len(m.backing) == 0 {
		m.Data = 0
		return
	}
	m.Data = uintptr(unsafe.Pointer(&m.backing[0]))
}

// Grow extends the memory by delta pages, returning the previous size in
// pages, or -1 if growing would exceed the declared maximum.
func (m *MemoryInstance) Grow(delta uint32) int32 {
	prev := uint32(len(m.backing)) / wasmPageSize
	next := prev + delta
	if m.max != 0 && next > m.max {
		return -1
	}
	grown := make([]byte, int(next)*wasmPageSize)
	copy(grown, m.backing)
	m.backing = grown
	m.sync()
	return int32(prev)
}

// Bytes exposes the instance's backing storage directly, for host calls
// that need to read or write linear memory without going through
// compiled code (e.g. marshalling a call's string arguments).
func (m *MemoryInstance) Bytes() []byte { return m.backing }

// FunctionInstance is one function's compiled, loaded, fully relocated
// machine code plus the bookkeeping resolve_indirect_call needs to
// validate a call against it.
type FunctionInstance struct {
	// EntryAddr is the address of the function's first instruction once
	// loaded into executable memory. This is what a RelocFunc patches
	// directly into a caller's placeholder immediate: the caller CALLs
	// it with no further indirection.
	EntryAddr uintptr
	// TypeToken identifies this function's signature for call_indirect
	// dynamic type checks; two functions with the same token are
	// call-compatible.
	TypeToken uint64

	// code pins the allocated executable bytes alive for as long as this
	// instance exists, and lets tests recover the raw bytes for
	// inspection.
	code []byte
}

// TableInstance backs a module's table of function references, indexed
// by call_indirect.
type TableInstance struct {
	Funcs []*FunctionInstance
}
