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

	"github.com/stretchr/testify/require"
	"go.uber.org/corerpc/completion"
	"go.uber.org/corerpc/transport/mux"
)

const testAuthority = "foo.test.google.fr"

// fixture wires a channel to a server over an in-process pipe, the same
// shape as a socket-pair end-to-end fixture: one completion queue shared by
// both peers, drained completely at teardown.
type fixture struct {
	t   *testing.T
	cq  *completion.Queue
	ch  *Channel
	srv *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	cq := completion.New()
	cc, lis := mux.NewPipe()

	srv := NewServer(append([]Option{WithGracePeriod(100 * time.Millisecond)}, opts...)...)
	require.NoError(t, srv.RegisterQueue(cq))
	require.NoError(t, srv.AddListener(lis))
	require.NoError(t, srv.Start())

	ch, err := NewChannel(testAuthority, cc, opts...)
	require.NoError(t, err)

	f := &fixture{t: t, cq: cq, ch: ch, srv: srv}
	t.Cleanup(f.teardown)
	return f
}

func (f *fixture) deadline() time.Time {
	return time.Now().Add(5 * time.Second)
}

// expectOp plucks the event for tag and requires an op-complete with the
// given disposition.
func (f *fixture) expectOp(tag interface{}, ok bool) completion.Event {
	ev := f.cq.Pluck(tag, f.deadline())
	require.Equal(f.t, completion.OpComplete, ev.Type, "event for tag %v", tag)
	require.Equal(f.t, ok, ev.OK, "disposition for tag %v", tag)
	return ev
}

func (f *fixture) teardown() {
	require.NoError(f.t, f.srv.ShutdownAndNotify(f.cq, "fixture-shutdown"))
	ev := f.cq.Pluck("fixture-shutdown", time.Now().Add(10*time.Second))
	require.Equal(f.t, completion.OpComplete, ev.Type, "server shutdown notification")

	require.NoError(f.t, f.ch.Close())
	_ = f.srv.Destroy()

	f.cq.Shutdown()
	for {
		ev := f.cq.Next(time.Now().Add(5 * time.Second))
		if ev.Type == completion.QueueShutdown {
			break
		}
		require.NotEqual(f.t, completion.QueueTimeout, ev.Type, "completion queue never drained")
	}

	// Everything the engine spawned must unwind before the next fixture.
	Shutdown()
}
