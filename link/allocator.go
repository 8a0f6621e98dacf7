// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build !appengine

package link

import (
	"sync"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// minAllocSize is the granularity MMapAllocator requests from the OS:
// compiled functions are typically a few hundred bytes, so mapping a
// fresh 64KiB region per function would waste both memory and mmap
// syscalls. Each region is carved up and reused until it can't satisfy
// the next request, at which point a new one is mapped.
const minAllocSize = 64 * 1024

// allocationAlignment keeps every function's entry point aligned enough
// for the backend to embed aligned loads without extra care, and matches
// typical instruction-cache-line-friendly code layout.
const allocationAlignment = 16

type execRegion struct {
	mem       mmap.MMap
	consumed  uint32
	remaining uint32
}

// MMapAllocator hands out executable memory for compiled function
// bodies. The zero value is ready to use; call Close when the functions
// it backed are no longer reachable.
type MMapAllocator struct {
	mu     sync.Mutex
	last   execRegion
	blocks []mmap.MMap
}

func align(n, to uint32) uint32 {
	if r := n % to; r != 0 {
		return n + (to - r)
	}
	return n
}

// AllocateExec copies code into newly allocated executable memory and
// returns a pointer to its first byte. The memory is never moved or
// freed until Close, so the returned pointer (and any FunctionInstance
// built from it) remains valid for the allocator's lifetime.
func (a *MMapAllocator) AllocateExec(code []byte) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	need := align(uint32(len(code)), allocationAlignment)
	if a.last.mem == nil || need > a.last.remaining {
		size := uint32(minAllocSize)
		if need > size {
			size = need
		}
		region, err := mmap.MapRegion(nil, int(size), mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
		if err != nil {
			return nil, err
		}
		a.blocks = append(a.blocks, region)
		a.last = execRegion{mem: region, consumed: 0, remaining: size}
	}

	off := a.last.consumed
	copy(a.last.mem[off:], code)
	a.last.consumed += need
	a.last.remaining -= need

	return unsafe.Pointer(&a.last.mem[off]), nil
}

// Close unmaps every region this allocator has ever handed memory out
// of. Any pointer previously returned by AllocateExec becomes invalid.
func (a *MMapAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	for _, b := range a.blocks {
		if err := b.Unmap(); err != nil && first == nil {
			first = err
		}
	}
	a.blocks = nil
	a.last = execRegion{}
	return first
}
