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
	"errors"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/corerpc/api/transport"
	"go.uber.org/corerpc/completion"
	"go.uber.org/corerpc/internal/clock"
	"go.uber.org/corerpc/internal/observability"
	"go.uber.org/zap"
)

// Channel is the client-side call factory over one transport connection.
// It outlives every call created through it: Close refuses new calls and
// blocks until the last call is destroyed.
//
// Channels are safe for concurrent use.
type Channel struct {
	authority string
	conn      transport.ClientConn
	logger    *zap.Logger
	tracer    opentracing.Tracer
	rec       *observability.Recorder
	clk       clock.Clock

	mu     sync.Mutex
	closed bool
	active int
	idle   chan struct{}
}

// NewChannel wraps a transport connection to the given authority.
func NewChannel(authority string, conn transport.ClientConn, opts ...Option) (*Channel, error) {
	if authority == "" {
		return nil, errors.New("corerpc: channel authority is required")
	}
	if conn == nil {
		return nil, errors.New("corerpc: channel connection is required")
	}
	o := defaultChannelOptions()
	for _, opt := range opts {
		opt.applyChannel(&o)
	}
	ch := &Channel{
		authority: authority,
		conn:      conn,
		logger:    o.logger.Named("corerpc"),
		tracer:    o.tracer,
		clk:       o.clk,
	}
	ch.rec = observability.NewRecorder(ch.logger, o.meter, "outbound")
	ch.logger.Debug("Channel created.", zap.String("authority", authority))
	return ch, nil
}

// NewCall creates a call bound to cq. The deadline is fixed here for the
// call's whole life; a zero deadline means none. The caller owns the call.
func (ch *Channel) NewCall(cq *completion.Queue, method string, deadline time.Time) (*Call, error) {
	if cq == nil {
		return nil, errors.New("corerpc: completion queue is required")
	}
	if method == "" {
		return nil, errors.New("corerpc: method is required")
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil, ErrChannelClosed
	}
	ch.active++
	ch.mu.Unlock()

	c := newClientCall(ch, cq, method, deadline)
	ch.rec.CallStarted()
	return c, nil
}

// callDestroyed releases the channel's back-reference to a call.
func (ch *Channel) callDestroyed() {
	ch.mu.Lock()
	ch.active--
	if ch.active == 0 && ch.idle != nil {
		close(ch.idle)
		ch.idle = nil
	}
	ch.mu.Unlock()
}

// Close refuses new calls, waits until every call created through the
// channel has been destroyed, and closes the transport connection. Callers
// that want a prompt close must cancel their outstanding calls first.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	wasClosed := ch.closed
	ch.closed = true
	var idle chan struct{}
	if ch.active > 0 {
		if ch.idle == nil {
			ch.idle = make(chan struct{})
		}
		idle = ch.idle
	}
	ch.mu.Unlock()

	if idle != nil {
		<-idle
	}
	if wasClosed {
		return nil
	}
	ch.logger.Debug("Channel closed.", zap.String("authority", ch.authority))
	return ch.conn.Close()
}
