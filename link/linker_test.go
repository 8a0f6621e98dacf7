// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build !appengine

package link

import (
	"encoding/binary"
	"testing"

	"github.com/p0prxx/wasmjit/compile"
)

// placeholderCode is 8 bytes of filler followed by an 8-byte placeholder
// immediate, standing in for a compiled function whose only interesting
// content is the single relocation at offset 8.
func placeholderCode() []byte {
	return make([]byte, 16)
}

func TestLinkFunctionsResolvesFuncReloc(t *testing.T) {
	alloc := &MMapAllocator{}
	defer alloc.Close()
	l, err := NewLinker(alloc)
	if err != nil {
		t.Fatal(err)
	}

	results := []*compile.Result{
		{Code: placeholderCode(), Relocs: []compile.Reloc{{Kind: compile.RelocFunc, Idx: 1, CodeOffset: 8}}},
		{Code: placeholderCode()},
	}

	funcs, err := l.LinkFunctions(results)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(funcs), 2; got != want {
		t.Fatalf("len(funcs) = %d, want %d", got, want)
	}

	raw := codeBytesAt(funcs[0].EntryAddr, len(results[0].Code))
	patched := binary.LittleEndian.Uint64(raw[8:])
	if got, want := patched, uint64(funcs[1].EntryAddr); got != want {
		t.Errorf("patched address = %#x, want %#x (funcs[1].EntryAddr)", got, want)
	}
}

func TestLinkFunctionsUnresolvedReloc(t *testing.T) {
	alloc := &MMapAllocator{}
	defer alloc.Close()
	l, err := NewLinker(alloc)
	if err != nil {
		t.Fatal(err)
	}

	results := []*compile.Result{
		{Code: placeholderCode(), Relocs: []compile.Reloc{{Kind: compile.RelocFunc, Idx: 5, CodeOffset: 8}}},
	}
	_, err = l.LinkFunctions(results)
	if _, ok := err.(UnresolvedRelocError); !ok {
		t.Fatalf("err = %v (%T), want UnresolvedRelocError", err, err)
	}
}

func TestLinkFunctionsTypeToken(t *testing.T) {
	alloc := &MMapAllocator{}
	defer alloc.Close()
	l, err := NewLinker(alloc)
	if err != nil {
		t.Fatal(err)
	}
	// Two functions share type index 0, a third uses type index 1: their
	// TypeToken fields should reflect that sharing, not their own
	// position in the function index space.
	l.TypeTokens = []uint64{111, 222}
	l.FuncTypeTokens = []uint32{0, 0, 1}

	results := []*compile.Result{
		{Code: placeholderCode()},
		{Code: placeholderCode()},
		{Code: placeholderCode()},
	}
	funcs, err := l.LinkFunctions(results)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := funcs[0].TypeToken, uint64(111); got != want {
		t.Errorf("funcs[0].TypeToken = %d, want %d", got, want)
	}
	if got, want := funcs[1].TypeToken, uint64(111); got != want {
		t.Errorf("funcs[1].TypeToken = %d, want %d", got, want)
	}
	if got, want := funcs[2].TypeToken, uint64(222); got != want {
		t.Errorf("funcs[2].TypeToken = %d, want %d", got, want)
	}
}

func TestLinkFunctionsResolveIndirectCall(t *testing.T) {
	alloc := &MMapAllocator{}
	defer alloc.Close()
	l, err := NewLinker(alloc)
	if err != nil {
		t.Fatal(err)
	}
	if l.ResolveIndirectCallAddr == 0 {
		t.Fatal("NewLinker did not assemble the resolve_indirect_call trampoline")
	}

	results := []*compile.Result{
		{Code: placeholderCode(), Relocs: []compile.Reloc{{Kind: compile.RelocResolveIndirectCall, CodeOffset: 8}}},
	}
	funcs, err := l.LinkFunctions(results)
	if err != nil {
		t.Fatal(err)
	}
	raw := codeBytesAt(funcs[0].EntryAddr, len(results[0].Code))
	if got, want := binary.LittleEndian.Uint64(raw[8:]), uint64(l.ResolveIndirectCallAddr); got != want {
		t.Errorf("patched address = %#x, want %#x", got, want)
	}
}
