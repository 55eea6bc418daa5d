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

package mux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire framing: a 9-byte header in the HTTP/2 shape (24-bit length, type,
// flags, 31-bit stream id) followed by the payload.

type frameType uint8

const (
	frameHeaders  frameType = 0x1
	frameMessage  frameType = 0x2
	frameTrailers frameType = 0x3
	frameReset    frameType = 0x4
)

const (
	// flagEndStream on an empty MESSAGE frame marks the clean end of the
	// sender's message sequence.
	flagEndStream uint8 = 0x1
)

const (
	frameHeaderLen = 9
	maxFrameLen    = 1<<24 - 1
)

type frameHeader [frameHeaderLen]byte

func (h *frameHeader) fill(length int, t frameType, flags uint8, streamID uint32) {
	h[0] = byte(length >> 16)
	h[1] = byte(length >> 8)
	h[2] = byte(length)
	h[3] = byte(t)
	h[4] = flags
	binary.BigEndian.PutUint32(h[5:], streamID)
}

func (h *frameHeader) length() int      { return int(h[0])<<16 | int(h[1])<<8 | int(h[2]) }
func (h *frameHeader) typ() frameType   { return frameType(h[3]) }
func (h *frameHeader) flags() uint8     { return h[4] }
func (h *frameHeader) streamID() uint32 { return binary.BigEndian.Uint32(h[5:]) & 0x7fffffff }

func writeFrame(w io.Writer, t frameType, flags uint8, streamID uint32, payload []byte) error {
	if len(payload) > maxFrameLen {
		return fmt.Errorf("mux: frame payload of %d bytes exceeds the %d byte limit", len(payload), maxFrameLen)
	}
	var h frameHeader
	h.fill(len(payload), t, flags, streamID)
	if _, err := w.Write(h[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (frameHeader, []byte, error) {
	var h frameHeader
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return h, nil, err
	}
	n := h.length()
	if n == 0 {
		return h, nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, err
	}
	return h, payload, nil
}
