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

package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/corerpc/metadata"
)

func TestPairs(t *testing.T) {
	items := metadata.Pairs("k1", "v1", "k2", "v2")
	require.Equal(t, 2, items.Len())

	v, ok := items.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	_, ok = items.Get("missing")
	assert.False(t, ok)
}

func TestPairsOddArgsPanics(t *testing.T) {
	assert.Panics(t, func() { metadata.Pairs("just-a-key") })
}

func TestOrderPreservedForDuplicateKeys(t *testing.T) {
	items := metadata.Pairs("k", "first", "other", "x", "k", "second")
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, items.Values("k"))

	// Get returns the first entry.
	v, ok := items.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("first"), v)
}

func TestCopyIsDeep(t *testing.T) {
	items := metadata.Items{{Key: "k", Value: []byte{1, 2, 3}}}
	dup := items.Copy()
	dup[0].Value[0] = 9
	assert.Equal(t, byte(1), items[0].Value[0])

	assert.Nil(t, metadata.Items(nil).Copy())
}

func TestIsBinaryKey(t *testing.T) {
	assert.True(t, metadata.IsBinaryKey("key1-bin"))
	assert.False(t, metadata.IsBinaryKey("key1"))
	assert.False(t, metadata.IsBinaryKey("binkey"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		items   metadata.Items
		wantErr bool
	}{
		{name: "empty", items: nil},
		{name: "ascii", items: metadata.Pairs("key", "value with spaces")},
		{
			name:  "binary under bin key",
			items: metadata.Items{{Key: "key1-bin", Value: []byte{0x00, 0xff}}},
		},
		{
			name:    "binary under plain key",
			items:   metadata.Items{{Key: "key1", Value: []byte{0x00}}},
			wantErr: true,
		},
		{name: "empty key", items: metadata.Items{{Key: "", Value: []byte("v")}}, wantErr: true},
		{name: "uppercase key", items: metadata.Pairs("Key", "v"), wantErr: true},
		{name: "illegal rune in key", items: metadata.Pairs("ke y", "v"), wantErr: true},
		{name: "dots dashes underscores", items: metadata.Pairs("a-b_c.d0", "v")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.items.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
