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
	"go.uber.org/net/metrics"

	"go.uber.org/corerpc/completion"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/transport/mux"
)

func TestNewChannelValidation(t *testing.T) {
	cc, lis := mux.NewPipe()
	defer func() {
		_ = cc.Close()
		_ = lis.Close()
	}()

	_, err := NewChannel("", cc)
	assert.Error(t, err)

	_, err = NewChannel("host", nil)
	assert.Error(t, err)

	ch, err := NewChannel("host", cc)
	require.NoError(t, err)

	cq := completion.New()
	defer cq.Shutdown()
	_, err = ch.NewCall(nil, "/m", time.Time{})
	assert.Error(t, err)
	_, err = ch.NewCall(cq, "", time.Time{})
	assert.Error(t, err)

	require.NoError(t, ch.Close())
	Shutdown()
}

func TestNewCallAfterCloseRejected(t *testing.T) {
	cc, lis := mux.NewPipe()
	defer func() { _ = lis.Close() }()

	ch, err := NewChannel("host", cc)
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	cq := completion.New()
	defer cq.Shutdown()
	_, err = ch.NewCall(cq, "/m", time.Time{})
	assert.Equal(t, ErrChannelClosed, err)
	Shutdown()
}

func TestChannelCloseWaitsForCalls(t *testing.T) {
	f := newFixture(t)

	call, err := f.ch.NewCall(f.cq, "/slow", time.Now().Add(5*time.Second))
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- f.ch.Close() }()

	select {
	case <-closed:
		t.Fatal("channel closed while a call was alive")
	case <-time.After(50 * time.Millisecond):
	}

	call.Cancel()
	call.Destroy()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("channel close never returned")
	}
}

func TestCallCountersRecorded(t *testing.T) {
	root := metrics.New()
	f := newFixture(t, WithMeter(root.Scope()))

	call, err := f.ch.NewCall(f.cq, "/counted", time.Now().Add(5*time.Second))
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
		SendStatusFromServer{Code: corerpcerrors.CodeOK},
		RecvCloseOnServer{Cancelled: &cancelled},
	))
	f.expectOp("server", true)
	f.expectOp("client", true)

	info.Call.Destroy()
	call.Destroy()

	snap := root.Snapshot()
	got := make(map[string]int64)
	for _, counter := range snap.Counters {
		got[counter.Tags["direction"]+"/"+counter.Name] += counter.Value
	}
	assert.Equal(t, int64(1), got["outbound/calls_started"])
	assert.Equal(t, int64(1), got["outbound/calls_completed"])
	assert.Equal(t, int64(1), got["inbound/calls_started"])
	assert.Equal(t, int64(1), got["inbound/calls_completed"])
	assert.True(t, got["outbound/batches_started"] >= 1)
	assert.True(t, got["inbound/batches_started"] >= 1)
}
