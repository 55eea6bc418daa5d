// Copyright (c) 2021 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package payload carries opaque message bodies. The engine never interprets
// the bytes; it only moves references around.
//
// A Slice is a reference-counted view of a byte run. A Buffer wraps one or
// more slices and is what send and receive operations exchange. Buffers
// received from the engine are owned by the caller and must be destroyed.
package payload

import (
	"bytes"
	"io"

	"go.uber.org/atomic"
)

// Slice is a reference-counted run of bytes. The zero value is an empty
// slice with no reference counting.
type Slice struct {
	bytes []byte
	refs  *atomic.Int32
}

// NewSlice returns a slice holding a copy of b, with one reference.
func NewSlice(b []byte) Slice {
	c := make([]byte, len(b))
	copy(c, b)
	return Slice{bytes: c, refs: atomic.NewInt32(1)}
}

// BorrowSlice returns a slice that aliases b without copying. The caller
// must not mutate b while any reference is live.
func BorrowSlice(b []byte) Slice {
	return Slice{bytes: b, refs: atomic.NewInt32(1)}
}

// Ref takes an additional reference and returns the same slice.
func (s Slice) Ref() Slice {
	if s.refs != nil {
		s.refs.Inc()
	}
	return s
}

// Unref drops one reference. Dropping more references than were taken
// panics; the underlying bytes are unreachable once the count hits zero.
func (s Slice) Unref() {
	if s.refs == nil {
		return
	}
	if s.refs.Dec() < 0 {
		panic("payload: slice reference count below zero")
	}
}

// Bytes returns the underlying bytes. The result must not be mutated.
func (s Slice) Bytes() []byte { return s.bytes }

// Len returns the number of bytes in the slice.
func (s Slice) Len() int { return len(s.bytes) }

// Buffer is an opaque message body composed of one or more slices.
type Buffer struct {
	slices    []Slice
	destroyed bool
}

// NewBuffer wraps the given slices, taking ownership of one reference to
// each.
func NewBuffer(slices ...Slice) *Buffer {
	return &Buffer{slices: slices}
}

// FromBytes returns a single-slice buffer holding a copy of b.
func FromBytes(b []byte) *Buffer {
	return &Buffer{slices: []Slice{NewSlice(b)}}
}

// FromString returns a single-slice buffer holding a copy of s.
func FromString(s string) *Buffer {
	return FromBytes([]byte(s))
}

// Len returns the total number of bytes across all slices.
func (b *Buffer) Len() int {
	b.check()
	n := 0
	for _, s := range b.slices {
		n += s.Len()
	}
	return n
}

// Bytes returns a contiguous copy of the buffer's contents.
func (b *Buffer) Bytes() []byte {
	b.check()
	out := make([]byte, 0, b.Len())
	for _, s := range b.slices {
		out = append(out, s.Bytes()...)
	}
	return out
}

// Reader returns a reader over the buffer's contents. The buffer must
// outlive the reader.
func (b *Buffer) Reader() io.Reader {
	b.check()
	rs := make([]io.Reader, len(b.slices))
	for i, s := range b.slices {
		rs[i] = bytes.NewReader(s.Bytes())
	}
	return io.MultiReader(rs...)
}

// Copy returns a new buffer sharing the same slices, with fresh references.
func (b *Buffer) Copy() *Buffer {
	b.check()
	slices := make([]Slice, len(b.slices))
	for i, s := range b.slices {
		slices[i] = s.Ref()
	}
	return &Buffer{slices: slices}
}

// Destroy releases the buffer's slice references. Using the buffer after
// Destroy, or destroying it twice, panics.
func (b *Buffer) Destroy() {
	b.check()
	b.destroyed = true
	for _, s := range b.slices {
		s.Unref()
	}
	b.slices = nil
}

func (b *Buffer) check() {
	if b.destroyed {
		panic("payload: use of destroyed buffer")
	}
}
