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

package corerpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/corerpc/completion"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/internal/clock"
	"go.uber.org/corerpc/metadata"
)

// expiredOrInternal accepts the two statuses an immediately dead call may
// legitimately surface.
func expiredOrInternal(t *testing.T, code corerpcerrors.Code) {
	assert.Contains(t,
		[]corerpcerrors.Code{corerpcerrors.CodeDeadlineExceeded, corerpcerrors.CodeInternal},
		code)
}

func TestInfiniteDeadlineObservedByServer(t *testing.T) {
	f := newFixture(t)

	call, err := f.ch.NewCall(f.cq, "/foo", time.Time{})
	require.NoError(t, err)
	_, has := call.Deadline()
	assert.False(t, has)

	var info CallInfo
	require.NoError(t, f.srv.RequestCall(f.cq, "accept", &info))

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		SendInitialMetadata{},
		SendCloseFromClient{},
		RecvStatusOnClient{Status: &status},
	))
	f.expectOp("accept", true)

	assert.False(t, info.HasDeadline, "server sees the infinite sentinel")
	assert.True(t, info.Deadline.IsZero())
	_, has = info.Call.Deadline()
	assert.False(t, has)

	var cancelled bool
	require.NoError(t, info.Call.StartBatch("server",
		SendStatusFromServer{Code: corerpcerrors.CodeOK},
		RecvCloseOnServer{Cancelled: &cancelled},
	))
	f.expectOp("server", true)
	f.expectOp("client", true)

	info.Call.Destroy()
	call.Destroy()
}

func TestDeadlineTransferredWithinSkew(t *testing.T) {
	f := newFixture(t)

	clientDeadline := time.Now().Add(7 * 24 * time.Hour)
	call, err := f.ch.NewCall(f.cq, "/foo", clientDeadline)
	require.NoError(t, err)

	var info CallInfo
	require.NoError(t, f.srv.RequestCall(f.cq, "accept", &info))

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		SendInitialMetadata{},
		SendCloseFromClient{},
		RecvStatusOnClient{Status: &status},
	))
	f.expectOp("accept", true)

	require.True(t, info.HasDeadline)
	skew := clientDeadline.Sub(info.Deadline)
	if skew < 0 {
		skew = -skew
	}
	assert.True(t, skew < 5*time.Second,
		"client deadline %v and server deadline %v differ by %v", clientDeadline, info.Deadline, skew)

	var cancelled bool
	require.NoError(t, info.Call.StartBatch("server",
		SendStatusFromServer{Code: corerpcerrors.CodeOK},
		RecvCloseOnServer{Cancelled: &cancelled},
	))
	f.expectOp("server", true)
	f.expectOp("client", true)

	info.Call.Destroy()
	call.Destroy()
}

func TestDeadlineInThePastFailsWithoutNetwork(t *testing.T) {
	f := newFixture(t)

	// An instant long past (one nanosecond after the Unix epoch); the zero
	// time would mean no deadline at all.
	call, err := f.ch.NewCall(f.cq, "/foo", time.Unix(0, 1))
	require.NoError(t, err)

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		SendInitialMetadata{},
		SendCloseFromClient{},
		RecvStatusOnClient{Status: &status},
	))

	ev := f.cq.Pluck("client", f.deadline())
	require.False(t, ev.OK, "sends on a dead call fail")
	expiredOrInternal(t, status.Code)

	call.Destroy()
}

func TestDeadlineExpiryObservedByServer(t *testing.T) {
	f := newFixture(t)

	call, err := f.ch.NewCall(f.cq, "/foo", time.Now().Add(300*time.Millisecond))
	require.NoError(t, err)

	var info CallInfo
	require.NoError(t, f.srv.RequestCall(f.cq, "accept", &info))

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		SendInitialMetadata{},
		SendCloseFromClient{},
		RecvStatusOnClient{Status: &status},
	))
	f.expectOp("accept", true)

	// The server never answers; it only waits for the cancellation.
	var cancelled bool
	require.NoError(t, info.Call.StartBatch("server-close",
		RecvCloseOnServer{Cancelled: &cancelled},
	))

	f.expectOp("server-close", true)
	assert.True(t, cancelled, "server observes the cancellation")

	f.cq.Pluck("client", f.deadline())
	expiredOrInternal(t, status.Code)

	info.Call.Destroy()
	call.Destroy()
}

func TestDeadlineExpiryWithFakeClock(t *testing.T) {
	clk := clock.NewFake(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, withClock(clk))

	call, err := f.ch.NewCall(f.cq, "/foo", clk.Now().Add(30*time.Second))
	require.NoError(t, err)

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		RecvStatusOnClient{Status: &status},
	))

	clk.Advance(time.Minute)

	// A batch holding only recv-status-on-client succeeds once the status
	// is determined, even though that status is an expiry.
	ev := f.cq.Pluck("client", f.deadline())
	require.True(t, ev.OK)
	assert.Equal(t, corerpcerrors.CodeDeadlineExceeded, status.Code)

	call.Destroy()
}

func TestCancelIdempotence(t *testing.T) {
	f := newFixture(t)

	call, err := f.ch.NewCall(f.cq, "/foo", time.Now().Add(5*time.Second))
	require.NoError(t, err)

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		RecvStatusOnClient{Status: &status},
	))

	call.Cancel()
	call.Cancel()

	ev := f.cq.Pluck("client", f.deadline())
	require.True(t, ev.OK)
	assert.Equal(t, corerpcerrors.CodeCancelled, status.Code)

	// No second completion exists for the batch.
	next := f.cq.Next(time.Now().Add(50 * time.Millisecond))
	assert.Equal(t, completion.QueueTimeout, next.Type)

	call.Destroy()
}

func TestCancelWithStatus(t *testing.T) {
	f := newFixture(t)

	call, err := f.ch.NewCall(f.cq, "/foo", time.Now().Add(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, ErrInvalidStatus, call.CancelWithStatus(corerpcerrors.CodeOK, "nope"))

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		RecvStatusOnClient{Status: &status},
	))
	require.NoError(t, call.CancelWithStatus(corerpcerrors.CodeResourceExhausted, "too much"))

	f.expectOp("client", true)
	assert.Equal(t, corerpcerrors.CodeResourceExhausted, status.Code)
	assert.Equal(t, "too much", status.Details)

	call.Destroy()
}

// TestStatusTrailersDelivered covers trailing metadata riding on the status.
func TestStatusTrailersDelivered(t *testing.T) {
	f := newFixture(t)

	call, err := f.ch.NewCall(f.cq, "/foo", time.Now().Add(5*time.Second))
	require.NoError(t, err)

	var info CallInfo
	require.NoError(t, f.srv.RequestCall(f.cq, "accept", &info))

	var status ReceivedStatus
	require.NoError(t, call.StartBatch("client",
		SendInitialMetadata{},
		SendCloseFromClient{},
		RecvStatusOnClient{Status: &status},
	))
	f.expectOp("accept", true)

	var cancelled bool
	require.NoError(t, info.Call.StartBatch("server",
		SendStatusFromServer{
			Code:     corerpcerrors.CodeNotFound,
			Details:  "nothing here",
			Trailers: metadata.Pairs("trailer-key", "trailer-value"),
		},
		RecvCloseOnServer{Cancelled: &cancelled},
	))
	f.expectOp("server", true)
	f.expectOp("client", true)

	assert.Equal(t, corerpcerrors.CodeNotFound, status.Code)
	assert.Equal(t, "nothing here", status.Details)
	v, ok := status.Trailers.Get("trailer-key")
	require.True(t, ok)
	assert.Equal(t, []byte("trailer-value"), v)

	info.Call.Destroy()
	call.Destroy()
}
