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

package corerpcerrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/metadata"
)

func TestNew(t *testing.T) {
	st := corerpcerrors.New(corerpcerrors.CodeNotFound, "no such thing")
	require.NotNil(t, st)
	assert.Equal(t, corerpcerrors.CodeNotFound, st.Code())
	assert.Equal(t, "no such thing", st.Message())
	assert.False(t, st.OK())
	assert.Equal(t, "code:not-found message:no such thing", st.Error())
}

func TestNewOKIsNil(t *testing.T) {
	assert.Nil(t, corerpcerrors.New(corerpcerrors.CodeOK, ""))

	var st *corerpcerrors.Status
	assert.Equal(t, corerpcerrors.CodeOK, st.Code())
	assert.True(t, st.OK())
	assert.Equal(t, "", st.Message())
	assert.Nil(t, st.Trailers())
}

func TestFromError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, corerpcerrors.FromError(nil))
	})

	t.Run("status", func(t *testing.T) {
		orig := corerpcerrors.New(corerpcerrors.CodeUnavailable, "down")
		assert.Equal(t, orig, corerpcerrors.FromError(orig))
	})

	t.Run("wrapped status", func(t *testing.T) {
		orig := corerpcerrors.New(corerpcerrors.CodeUnavailable, "down")
		wrapped := fmt.Errorf("outer: %w", orig)
		assert.Equal(t, orig, corerpcerrors.FromError(wrapped))
	})

	t.Run("plain error", func(t *testing.T) {
		st := corerpcerrors.FromError(errors.New("boom"))
		assert.Equal(t, corerpcerrors.CodeUnknown, st.Code())
		assert.Equal(t, "boom", st.Message())
	})
}

func TestWithTrailers(t *testing.T) {
	trailers := metadata.Pairs("k", "v")

	st := corerpcerrors.New(corerpcerrors.CodeInternal, "bad").WithTrailers(trailers)
	assert.Equal(t, corerpcerrors.CodeInternal, st.Code())
	assert.Equal(t, trailers, st.Trailers())

	// OK statuses can carry trailers too.
	ok := (*corerpcerrors.Status)(nil).WithTrailers(trailers)
	require.NotNil(t, ok)
	assert.Equal(t, corerpcerrors.CodeOK, ok.Code())
	assert.Equal(t, trailers, ok.Trailers())

	assert.Nil(t, (*corerpcerrors.Status)(nil).WithTrailers(nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, corerpcerrors.IsCancelled(corerpcerrors.CancelledErrorf("stop")))
	assert.True(t, corerpcerrors.IsDeadlineExceeded(corerpcerrors.DeadlineExceededErrorf("late")))
	assert.True(t, corerpcerrors.IsUnauthenticated(corerpcerrors.UnauthenticatedErrorf("who")))
	assert.False(t, corerpcerrors.IsCancelled(errors.New("boom")))
	assert.False(t, corerpcerrors.IsCancelled(nil))
}

func TestErrorfFormatting(t *testing.T) {
	err := corerpcerrors.UnavailableErrorf("retry in %d seconds", 5)
	st := corerpcerrors.FromError(err)
	assert.Equal(t, corerpcerrors.CodeUnavailable, st.Code())
	assert.Equal(t, "retry in 5 seconds", st.Message())
}
