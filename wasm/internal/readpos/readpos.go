// Copyright 2017 The wasmjit Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package readpos wraps an io.Reader with a running count of bytes
// consumed, so section and instruction decoders can stamp byte offsets
// onto the values they produce without threading a counter through every
// call by hand.
package readpos

import "io"

// ReadPos is an io.Reader that tracks how many bytes have been read
// through it so far in CurPos.
type ReadPos struct {
	R      io.Reader
	CurPos int64
}

// Read implements io.Reader, advancing CurPos by the number of bytes
// successfully read before returning.
func (r *ReadPos) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	r.CurPos += int64(n)
	return n, err
}
