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

package timeout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 0, want: "0"},
		{d: -time.Second, want: "0"},
		{d: 250 * time.Microsecond, want: "0"},
		{d: time.Millisecond, want: "1"},
		{d: 1500 * time.Millisecond, want: "1500"},
		{d: 7 * 24 * time.Hour, want: "604800000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Encode(tt.d), "Encode(%v)", tt.d)
	}
}

func TestDecode(t *testing.T) {
	d, err := Decode("1500")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = Decode("0")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "-5", "1.5", "99999999999999999999", "1000000000001"} {
		_, err := Decode(s)
		assert.Error(t, err, "Decode(%q)", s)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{0, time.Millisecond, time.Second, time.Hour} {
		got, err := Decode(Encode(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}
