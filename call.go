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
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/corerpc/api/transport"
	"go.uber.org/corerpc/completion"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/credentials"
	"go.uber.org/corerpc/internal/clock"
	"go.uber.org/corerpc/internal/observability"
	"go.uber.org/zap"
)

// Call is one RPC. A client call is created with Channel.NewCall; a server
// call is delivered by Server.RequestCall. The creator owns the call and
// must release it with Destroy after observing the final completion of
// every batch it started.
type Call struct {
	client    bool
	channel   *Channel
	server    *Server
	cq        *completion.Queue
	method    string
	authority string
	deadline  time.Time // zero means no deadline

	// ctx is cancelled when the call is cancelled or destroyed; transport
	// operations run under it.
	ctx       context.Context
	cancelCtx context.CancelFunc

	logger *zap.Logger
	rec    *observability.Recorder
	clk    clock.Clock
	span   opentracing.Span

	mu           sync.Mutex
	creds        credentials.Call
	submitted    [numOpKinds]bool
	inflight     [numOpKinds]bool
	batches      int
	destroyed    bool
	cancelled    bool
	mdDispatched bool

	statusSet bool
	status    *corerpcerrors.Status

	closeSet       bool
	closeCancelled bool

	clientStream  transport.ClientStream
	serverStream  transport.ServerStream
	trailerReader bool

	// statusReady closes when the final status is determined (client);
	// closeReady closes when the call is over (server); streamReady closes
	// when the client stream exists or the call failed without one.
	statusReady chan struct{}
	closeReady  chan struct{}
	streamReady chan struct{}
	streamOnce  sync.Once

	// sendTail chains send batches so sends hit the transport in
	// submission order across batches.
	sendTail <-chan struct{}

	timer clock.Timer
}

func newClientCall(ch *Channel, cq *completion.Queue, method string, deadline time.Time) *Call {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		client:      true,
		channel:     ch,
		cq:          cq,
		method:      method,
		authority:   ch.authority,
		deadline:    deadline,
		ctx:         ctx,
		cancelCtx:   cancel,
		logger:      ch.logger,
		rec:         ch.rec,
		clk:         ch.clk,
		statusReady: make(chan struct{}),
		closeReady:  make(chan struct{}),
		streamReady: make(chan struct{}),
		sendTail:    closedChan(),
	}
	if ch.tracer != nil {
		c.span = startClientSpan(ch.tracer, method, ch.authority)
	}
	c.armDeadline()
	return c
}

// newServerCall builds a server call. The caller registers it with the
// server and then arms its deadline; arming can cancel synchronously when
// the wire timeout was already zero.
func newServerCall(s *Server, cq *completion.Queue, stream transport.ServerStream, deadline time.Time) *Call {
	req := stream.Request()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		client:       false,
		server:       s,
		cq:           cq,
		method:       req.Method,
		authority:    req.Authority,
		deadline:     deadline,
		ctx:          ctx,
		cancelCtx:    cancel,
		logger:       s.logger,
		rec:          s.rec,
		clk:          s.clk,
		serverStream: stream,
		statusReady:  make(chan struct{}),
		closeReady:   make(chan struct{}),
		streamReady:  make(chan struct{}),
		sendTail:     closedChan(),
	}
	c.streamOnce.Do(func() { close(c.streamReady) })
	if s.tracer != nil {
		c.span = startServerSpan(s.tracer, req.Method, req.Headers)
	}
	spawn(func() { c.watchStream(stream) })
	return c
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Method returns the call's method path.
func (c *Call) Method() string { return c.method }

// Authority returns the call's authority.
func (c *Call) Authority() string { return c.authority }

// Deadline returns the call's deadline and whether one exists. The
// deadline is fixed at creation.
func (c *Call) Deadline() (time.Time, bool) {
	return c.deadline, !c.deadline.IsZero()
}

// SetCredentials binds, replaces, or clears (creds == nil) the call's
// per-call credentials. It is legal only on client calls and only until a
// batch carrying send-initial-metadata is accepted.
func (c *Call) SetCredentials(creds credentials.Credentials) error {
	if !c.client {
		return ErrNotOnServer
	}
	var callCreds credentials.Call
	if creds != nil {
		cc, ok := creds.(credentials.Call)
		if !ok || creds.Kind() != credentials.KindCall {
			return ErrChannelCredentials
		}
		callCreds = cc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		panic("corerpc: SetCredentials on a destroyed call")
	}
	if c.submitted[opSendInitialMetadata] {
		return ErrCredentialsDispatched
	}
	c.creds = callCreds
	return nil
}

// Cancel cancels the call. Cancelling a finished or already cancelled call
// has no effect.
func (c *Call) Cancel() {
	c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeCancelled, "call cancelled"))
}

// CancelWithStatus cancels the call with the given terminal status. The
// code must be a non-OK member of the closed set.
func (c *Call) CancelWithStatus(code corerpcerrors.Code, message string) error {
	if code == corerpcerrors.CodeOK || !code.Valid() {
		return ErrInvalidStatus
	}
	c.cancelWithStatus(corerpcerrors.New(code, message))
	return nil
}

// Destroy releases the call. It must not run before the final completion
// for every started batch has been observed; violating that, or destroying
// twice, panics.
func (c *Call) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		panic("corerpc: call destroyed twice")
	}
	if c.batches > 0 {
		c.mu.Unlock()
		panic("corerpc: call destroyed with batches in flight")
	}
	c.destroyed = true
	c.mu.Unlock()

	// An unfinished call is abandoned, not leaked: tear it down as a
	// cancellation so the peer and all watchers unwind.
	c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeCancelled, "call destroyed"))

	if c.client {
		c.channel.callDestroyed()
	}
}

// terminalChan is the channel that closes when the call is over for this
// peer.
func (c *Call) terminalChan() <-chan struct{} {
	if c.client {
		return c.statusReady
	}
	return c.closeReady
}

// armDeadline starts the expiry timer, or fails the call outright when the
// deadline has already passed. The status for an immediately expired
// deadline is DEADLINE_EXCEEDED; no transport work is issued for it.
func (c *Call) armDeadline() {
	if c.deadline.IsZero() {
		return
	}
	d := c.deadline.Sub(c.clk.Now())
	if d <= 0 {
		c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeDeadlineExceeded, "deadline exceeded"))
		return
	}
	c.timer = c.clk.AfterFunc(d, func() {
		c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeDeadlineExceeded, "deadline exceeded"))
	})
}

// resolveStatus records the call's final status once. Later resolutions,
// including cancellations, lose the race and change nothing.
func (c *Call) resolveStatus(st *corerpcerrors.Status) bool {
	c.mu.Lock()
	if c.statusSet {
		c.mu.Unlock()
		return false
	}
	c.statusSet = true
	c.status = st
	span := c.span
	c.mu.Unlock()

	close(c.statusReady)
	if span != nil {
		finishSpan(span, st.Code())
	}
	if c.rec != nil {
		c.rec.CallCompleted()
	}
	return true
}

// finishServer marks a server call over, resolving pending
// recv-close-on-server operations. It reports whether this call decided
// the outcome.
func (c *Call) finishServer(cancelled bool) bool {
	c.mu.Lock()
	if c.closeSet {
		c.mu.Unlock()
		return false
	}
	c.closeSet = true
	c.closeCancelled = cancelled
	span := c.span
	c.mu.Unlock()

	close(c.closeReady)
	if span != nil {
		code := corerpcerrors.CodeOK
		if cancelled {
			code = corerpcerrors.CodeCancelled
		}
		finishSpan(span, code)
	}
	if c.rec != nil {
		c.rec.CallCompleted()
	}
	c.server.callDone(c)
	return true
}

// cancelWithStatus is the cancellation fan-out shared by explicit cancels,
// deadline expiry, shutdown, and peer resets. It is idempotent.
func (c *Call) cancelWithStatus(st *corerpcerrors.Status) {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	clientStream := c.clientStream
	serverStream := c.serverStream
	timer := c.timer
	c.mu.Unlock()

	won := false
	if c.client {
		won = c.resolveStatus(st)
		// A call that never reached the transport still resolves its
		// receive side.
		c.streamOnce.Do(func() { close(c.streamReady) })
	} else {
		won = c.finishServer(true)
	}

	c.cancelCtx()
	if timer != nil {
		timer.Stop()
	}
	// Resetting is only meaningful when the cancellation decided the
	// outcome; a cleanly finished stream has nothing left to reset.
	if won {
		if clientStream != nil {
			clientStream.Reset(st.Code())
		}
		if serverStream != nil {
			serverStream.Reset(st.Code())
		}
	}
}

// failTransport converts a transport error into call failure, unless a
// status was already determined.
func (c *Call) failTransport(err error) {
	c.mu.Lock()
	set := c.statusSet
	if !c.client {
		set = c.closeSet
	}
	c.mu.Unlock()
	if set {
		return
	}
	c.cancelWithStatus(corerpcerrors.FromError(err))
}

// watchStream propagates abnormal transport termination into the call.
func (c *Call) watchStream(s transport.Stream) {
	select {
	case <-s.Done():
		err := s.Err()
		if err == nil {
			err = corerpcerrors.UnavailableErrorf("stream terminated")
		}
		c.cancelWithStatus(corerpcerrors.FromError(err))
	case <-c.terminalChan():
	}
}

// waitStream blocks until the client stream exists or the call failed
// without one. It reports whether a stream is available.
func (c *Call) waitStream() (transport.ClientStream, bool) {
	<-c.streamReady
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientStream, c.clientStream != nil
}

// currentStatus returns the resolved status. Callers must have observed
// statusReady.
func (c *Call) currentStatus() *corerpcerrors.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// serviceURL is the destination identity handed to credentials.
func (c *Call) serviceURL() string {
	return "corerpc://" + c.authority
}
