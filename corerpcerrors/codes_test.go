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

package corerpcerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeSetIsClosed(t *testing.T) {
	// The wire protocol depends on this exact numbering.
	require.Len(t, _codeNames, 17)
	assert.Equal(t, 0, int(CodeOK))
	assert.Equal(t, 1, int(CodeCancelled))
	assert.Equal(t, 4, int(CodeDeadlineExceeded))
	assert.Equal(t, 13, int(CodeInternal))
	assert.Equal(t, 16, int(CodeUnauthenticated))
}

func TestCodeValid(t *testing.T) {
	assert.True(t, CodeOK.Valid())
	assert.True(t, CodeUnauthenticated.Valid())
	assert.False(t, Code(17).Valid())
	assert.False(t, Code(-1).Valid())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "deadline-exceeded", CodeDeadlineExceeded.String())
	assert.Equal(t, "99", Code(99).String())
}

func TestCodeMarshalRoundTrip(t *testing.T) {
	for i, name := range _codeNames {
		code := Code(i)
		text, err := code.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(text))

		var back Code
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, code, back)
	}

	_, err := Code(42).MarshalText()
	assert.Error(t, err)

	var c Code
	assert.Error(t, c.UnmarshalText([]byte("not-a-code")))
}
