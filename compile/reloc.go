// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compile

// RelocKind names the kind of runtime object a Reloc's address ultimately
// resolves to.
type RelocKind uint8

const (
	// RelocFunc marks an 8-byte immediate that must be overwritten with
	// the entry address of a compiled function (Idx indexes the function
	// index space). The call site CALLs that address directly; it is not
	// a *FunctionInstance pointer.
	RelocFunc RelocKind = iota
	// RelocTable marks an immediate to be patched with the address of a
	// *TableInstance (Idx indexes the module's table index space).
	RelocTable
	// RelocMem marks an immediate to be patched with the address of a
	// *MemoryInstance (Idx indexes the module's memory index space).
	RelocMem
	// RelocGlobal marks an immediate to be patched with the address of a
	// *GlobalInstance (Idx indexes the global index space).
	RelocGlobal
	// RelocType marks an immediate to be patched with a type-signature
	// identity token (Idx indexes the module's type section), used to
	// validate call_indirect targets.
	RelocType
	// RelocResolveIndirectCall marks an immediate to be patched with the
	// address of the external resolve_indirect_call helper. Idx is
	// unused.
	RelocResolveIndirectCall
)

func (k RelocKind) String() string {
	switch k {
	case RelocFunc:
		return "func"
	case RelocTable:
		return "table"
	case RelocMem:
		return "mem"
	case RelocGlobal:
		return "global"
	case RelocType:
		return "type"
	case RelocResolveIndirectCall:
		return "resolve_indirect_call"
	default:
		return "unknown"
	}
}

// Reloc is a single relocation record: an 8-byte little-endian immediate
// at CodeOffset within the compiled function's machine code that the
// external loader must overwrite with a concrete runtime address before
// the function is called.
type Reloc struct {
	Kind       RelocKind
	CodeOffset int64
	Idx        uint32
}
