// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build !appengine

package link

import (
	"testing"
)

func TestMMapAllocator(t *testing.T) {
	a := &MMapAllocator{}
	defer a.Close()

	ptr, err := a.AllocateExec([]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if d := *(*[4]byte)(ptr); d != [4]byte{1, 2, 3, 4} {
		t.Errorf("first alloc = %v, want [4]byte{1,2,3,4}", d)
	}
	if want := uint32(16); a.last.consumed != want {
		t.Errorf("a.last.consumed = %d, want %d", a.last.consumed, want)
	}
	if want := uint32(minAllocSize - allocationAlignment); a.last.remaining != want {
		t.Errorf("a.last.remaining = %d, want %d", a.last.remaining, want)
	}

	ptr2, err := a.AllocateExec([]byte{4, 3, 2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if d := *(*[4]byte)(ptr2); d != [4]byte{4, 3, 2, 1} {
		t.Errorf("second alloc = %v, want [4]byte{4,3,2,1}", d)
	}
	if want := uint32(32); a.last.consumed != want {
		t.Errorf("a.last.consumed = %d, want %d", a.last.consumed, want)
	}
	if want := uint32(minAllocSize - allocationAlignment*2); a.last.remaining != want {
		t.Errorf("a.last.remaining = %d, want %d", a.last.remaining, want)
	}

	// A slice bigger than the region's remaining space forces a fresh
	// region rather than spilling across the old one.
	big := make([]byte, minAllocSize)
	big[1] = 5
	if _, err := a.AllocateExec(big); err != nil {
		t.Fatal(err)
	}
	if want := uint32(len(big)); a.last.consumed != want {
		t.Errorf("a.last.consumed = %d, want %d", a.last.consumed, want)
	}
	if got, want := len(a.blocks), 2; got != want {
		t.Errorf("len(a.blocks) = %d, want %d", got, want)
	}
}

func TestMMapAllocatorPointersStayValidAcrossRegions(t *testing.T) {
	a := &MMapAllocator{}
	defer a.Close()

	first, err := a.AllocateExec([]byte{0xAA})
	if err != nil {
		t.Fatal(err)
	}
	big := make([]byte, minAllocSize)
	if _, err := a.AllocateExec(big); err != nil {
		t.Fatal(err)
	}
	if got := *(*byte)(first); got != 0xAA {
		t.Errorf("first allocation's byte changed to %#x after a second region was mapped", got)
	}
}

func TestMMapAllocatorClose(t *testing.T) {
	a := &MMapAllocator{}
	if _, err := a.AllocateExec([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if got := len(a.blocks); got != 0 {
		t.Errorf("len(a.blocks) after Close = %d, want 0", got)
	}
}
