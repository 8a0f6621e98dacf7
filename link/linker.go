// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/p0prxx/wasmjit/compile"
)

// NewLinker builds a Linker backed by alloc, assembling the shared
// resolve_indirect_call trampoline (see trampoline.go) so callers don't
// have to wire it up by hand before registering a module's runtime
// objects.
func NewLinker(alloc *MMapAllocator) (*Linker, error) {
	addr, err := BuildIndirectCallTrampoline(alloc)
	if err != nil {
		return nil, err
	}
	return &Linker{Alloc: alloc, ResolveIndirectCallAddr: addr}, nil
}

// Linker ties together everything a module's compiled functions need to
// actually run: an allocator to give each one a stable address, and the
// runtime objects (other functions, tables, memories, globals) their
// relocations point at.
type Linker struct {
	Alloc *MMapAllocator

	Funcs   []*FunctionInstance
	Tables  []*TableInstance
	Mems    []*MemoryInstance
	Globals []*GlobalInstance

	// TypeTokens maps a module type-section index to the stable integer
	// identity call_indirect checks a target function's TypeToken
	// against; this is what a RelocType patches in. Two functions
	// sharing a signature share a token because they share a type index.
	TypeTokens []uint64

	// FuncTypeTokens maps a function index to its own type-section
	// index, so LinkFunctions can stamp the matching TypeTokens entry
	// onto that function's FunctionInstance.
	FuncTypeTokens []uint32

	// ResolveIndirectCallAddr is the address of the machine-code
	// resolve_indirect_call routine that compiled code's
	// RelocResolveIndirectCall Relocs are patched with (see
	// BuildIndirectCallTrampoline in trampoline.go).
	ResolveIndirectCallAddr uintptr
}

// UnresolvedRelocError is returned when a compiled function references a
// module index link has no runtime object for.
type UnresolvedRelocError compile.Reloc

func (e UnresolvedRelocError) Error() string {
	return fmt.Sprintf("link: cannot resolve %v relocation for index %d", compile.RelocKind(e.Kind), e.Idx)
}

// LinkFunctions loads every compiled function into executable memory,
// then patches each one's relocations against the runtime objects
// already registered on l. Functions may reference each other in either
// direction (forward or backward call graphs are both fine) because
// every function is loaded - and so has a stable EntryAddr - before any
// relocation is patched.
func (l *Linker) LinkFunctions(results []*compile.Result) ([]*FunctionInstance, error) {
	insts := make([]*FunctionInstance, len(results))
	for i, r := range results {
		ptr, err := l.Alloc.AllocateExec(r.Code)
		if err != nil {
			return nil, err
		}
		var token uint64
		if i < len(l.FuncTypeTokens) {
			if ti := int(l.FuncTypeTokens[i]); ti < len(l.TypeTokens) {
				token = l.TypeTokens[ti]
			}
		}
		insts[i] = &FunctionInstance{
			EntryAddr: uintptr(ptr),
			TypeToken: token,
			code:      r.Code,
		}
	}
	l.Funcs = insts

	for i, r := range results {
		raw := codeBytesAt(insts[i].EntryAddr, len(r.Code))
		for _, reloc := range r.Relocs {
			addr, err := l.resolve(reloc)
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint64(raw[reloc.CodeOffset:], uint64(addr))
		}
	}
	return insts, nil
}

func (l *Linker) resolve(r compile.Reloc) (uintptr, error) {
	switch r.Kind {
	case compile.RelocFunc:
		if int(r.Idx) >= len(l.Funcs) {
			return 0, UnresolvedRelocError(r)
		}
		return l.Funcs[r.Idx].EntryAddr, nil
	case compile.RelocTable:
		if int(r.Idx) >= len(l.Tables) {
			return 0, UnresolvedRelocError(r)
		}
		return uintptr(unsafe.Pointer(l.Tables[r.Idx])), nil
	case compile.RelocMem:
		if int(r.Idx) >= len(l.Mems) {
			return 0, UnresolvedRelocError(r)
		}
		return uintptr(unsafe.Pointer(l.Mems[r.Idx])), nil
	case compile.RelocGlobal:
		if int(r.Idx) >= len(l.Globals) {
			return 0, UnresolvedRelocError(r)
		}
		return uintptr(unsafe.Pointer(l.Globals[r.Idx])), nil
	case compile.RelocType:
		if int(r.Idx) >= len(l.TypeTokens) {
			return 0, UnresolvedRelocError(r)
		}
		return uintptr(l.TypeTokens[r.Idx]), nil
	case compile.RelocResolveIndirectCall:
		return l.ResolveIndirectCallAddr, nil
	default:
		return 0, UnresolvedRelocError(r)
	}
}

// codeBytesAt reinterprets n bytes starting at addr (previously handed
// back by MMapAllocator.AllocateExec) as a writable slice, so relocations
// can be patched into memory that has already been copied into place.
func codeBytesAt(addr uintptr, n int) []byte {
	var b []byte
	h := (*reflect.SliceHeader)(unsafe.Pointer(&b))
	h.Data = addr
	h.Len = n
	h.Cap = n
	return b
}
