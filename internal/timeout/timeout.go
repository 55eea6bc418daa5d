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

// Package timeout encodes the remaining time budget of a call for the wire.
//
// The budget travels as a single field carrying whole non-negative
// milliseconds in decimal; the receiver reconstructs an absolute deadline
// against its own clock. Absence of the field means no deadline.
package timeout

import (
	"fmt"
	"strconv"
	"time"
)

// Field is the wire name of the timeout entry in a stream's request block.
const Field = "corerpc-timeout"

// maxMillis bounds decoded timeouts to about 11.5 days, rejecting
// nonsensical wire values.
const maxMillis = int64(1000 * 1000 * 1000)

// Encode renders a remaining budget as wire text. Budgets under one
// millisecond, including negative ones, encode as "0".
func Encode(d time.Duration) string {
	ms := int64(d / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10)
}

// Decode parses wire text produced by Encode.
func Decode(s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timeout: malformed value %q: %v", s, err)
	}
	if ms < 0 || ms > maxMillis {
		return 0, fmt.Errorf("timeout: value %q out of range", s)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
