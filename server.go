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
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/corerpc/api/transport"
	"go.uber.org/corerpc/completion"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/internal/clock"
	"go.uber.org/corerpc/internal/observability"
	"go.uber.org/corerpc/metadata"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CallInfo is filled when a RequestCall intent matches an incoming stream.
type CallInfo struct {
	Call        *Call
	Method      string
	Authority   string
	Deadline    time.Time
	HasDeadline bool
	Headers     metadata.Items
}

type callRequest struct {
	cq   *completion.Queue
	tag  interface{}
	info *CallInfo
}

// Server accepts incoming calls from one or more listeners and pairs them
// with RequestCall intents, first come first served. Shutdown is two
// phased: ShutdownAndNotify posts a completion once in-flight calls have
// drained; only then may Destroy run.
//
// Servers are safe for concurrent use.
type Server struct {
	logger  *zap.Logger
	tracer  opentracing.Tracer
	rec     *observability.Recorder
	clk     clock.Clock
	backlog int
	grace   time.Duration

	// group owns the listener-accept and per-connection serve loops;
	// Destroy waits for it after closing their connections.
	group errgroup.Group

	mu        sync.Mutex
	queues    map[*completion.Queue]struct{}
	listeners []transport.Listener
	conns     []transport.ServerConn
	started   bool
	shutdown  bool
	waiting   []*callRequest
	queued    []transport.ServerStream
	calls     map[*Call]struct{}
	idle      chan struct{}
}

// NewServer builds an unstarted server.
func NewServer(opts ...Option) *Server {
	o := defaultServerOptions()
	for _, opt := range opts {
		opt.applyServer(&o)
	}
	s := &Server{
		logger:  o.logger.Named("corerpc"),
		tracer:  o.tracer,
		clk:     o.clk,
		backlog: o.backlog,
		grace:   o.grace,
		queues:  make(map[*completion.Queue]struct{}),
		calls:   make(map[*Call]struct{}),
	}
	s.rec = observability.NewRecorder(s.logger, o.meter, "inbound")
	return s
}

// RegisterQueue registers a completion queue new-call events may be
// delivered to. Must precede Start.
func (s *Server) RegisterQueue(cq *completion.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerShutdown
	}
	s.queues[cq] = struct{}{}
	return nil
}

// AddListener binds the server to a listener. Must precede Start.
func (s *Server) AddListener(lis transport.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerShutdown
	}
	s.listeners = append(s.listeners, lis)
	return nil
}

// Start begins accepting connections on every added listener.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerShutdown
	}
	s.started = true
	listeners := append([]transport.Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, lis := range listeners {
		lis := lis
		s.group.Go(func() error { return s.acceptLoop(lis) })
	}
	s.logger.Info("Server started.", zap.Int("listeners", len(listeners)))
	return nil
}

func (s *Server) acceptLoop(lis transport.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return nil // listener closed
		}
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.group.Go(func() error { return s.serveConn(conn) })
	}
}

func (s *Server) serveConn(conn transport.ServerConn) error {
	for {
		st, err := conn.AcceptStream()
		if err != nil {
			return nil // connection done
		}
		s.handleStream(st)
	}
}

// handleStream pairs an incoming stream with an outstanding RequestCall,
// queues it within the accept backlog, or refuses it.
func (s *Server) handleStream(st transport.ServerStream) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		st.Reset(corerpcerrors.CodeUnavailable)
		return
	}
	if len(s.waiting) > 0 {
		w := s.waiting[0]
		s.waiting = s.waiting[1:]
		s.mu.Unlock()
		s.match(w, st)
		return
	}
	if len(s.queued) < s.backlog {
		s.queued = append(s.queued, st)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.rec.CallRefused()
	s.logger.Warn("Refusing stream: accept backlog full.", zap.String("method", st.Request().Method))
	st.Reset(corerpcerrors.CodeUnavailable)
}

// RequestCall registers an intent to accept one incoming call. When a
// stream is matched, info is filled and one event carrying tag fires on
// cq.
func (s *Server) RequestCall(cq *completion.Queue, tag interface{}, info *CallInfo) error {
	if info == nil {
		return ErrNilSlot
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.shutdown {
		s.mu.Unlock()
		return ErrServerShutdown
	}
	if _, ok := s.queues[cq]; !ok {
		s.mu.Unlock()
		return ErrUnregisteredQueue
	}
	if err := cq.BeginOp(); err != nil {
		s.mu.Unlock()
		return err
	}
	w := &callRequest{cq: cq, tag: tag, info: info}
	if len(s.queued) > 0 {
		st := s.queued[0]
		s.queued = s.queued[1:]
		s.mu.Unlock()
		s.match(w, st)
		return nil
	}
	s.waiting = append(s.waiting, w)
	s.mu.Unlock()
	return nil
}

// match builds the server-side call for a stream and completes the
// RequestCall intent.
func (s *Server) match(w *callRequest, st transport.ServerStream) {
	req := st.Request()
	var deadline time.Time
	if req.HasTimeout {
		deadline = s.clk.Now().Add(req.Timeout)
	}

	c := newServerCall(s, w.cq, st, deadline)

	s.mu.Lock()
	s.calls[c] = struct{}{}
	s.mu.Unlock()
	s.rec.CallStarted()
	c.armDeadline()

	// The call may have terminated while being registered: an expired wire
	// timeout or a connection that died under it. Its callDone ran before
	// the registration above and must not be lost.
	c.mu.Lock()
	done := c.closeSet
	c.mu.Unlock()
	if done {
		s.callDone(c)
	}

	*w.info = CallInfo{
		Call:        c,
		Method:      req.Method,
		Authority:   req.Authority,
		Deadline:    deadline,
		HasDeadline: req.HasTimeout,
		Headers:     req.Headers,
	}
	w.cq.EndOp(w.tag, true)
}

// callDone drops a finished call from the in-flight set.
func (s *Server) callDone(c *Call) {
	s.mu.Lock()
	delete(s.calls, c)
	if len(s.calls) == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()
}

// ShutdownAndNotify stops accepting new streams, fails outstanding
// RequestCall intents, lets in-flight calls drain for the grace period,
// cancels the stragglers, and finally posts one completion carrying tag on
// cq.
func (s *Server) ShutdownAndNotify(cq *completion.Queue, tag interface{}) error {
	if err := cq.BeginOp(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		cq.EndOp(tag, false)
		return nil
	}
	s.shutdown = true
	waiting := s.waiting
	s.waiting = nil
	queued := s.queued
	s.queued = nil
	listeners := append([]transport.Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, lis := range listeners {
		if err := lis.Close(); err != nil {
			s.logger.Warn("Closing listener failed.", zap.Error(err))
		}
	}
	for _, st := range queued {
		st.Reset(corerpcerrors.CodeUnavailable)
	}
	for _, w := range waiting {
		w.cq.EndOp(w.tag, false)
	}

	spawn(func() {
		if !s.waitIdle(s.grace) {
			s.mu.Lock()
			calls := make([]*Call, 0, len(s.calls))
			for c := range s.calls {
				calls = append(calls, c)
			}
			s.mu.Unlock()
			s.logger.Info("Grace period elapsed; cancelling calls.", zap.Int("calls", len(calls)))
			for _, c := range calls {
				c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeUnavailable, "server shutdown"))
			}
			s.waitIdle(0)
		}
		s.logger.Info("Server drained.")
		cq.EndOp(tag, true)
	})
	return nil
}

// waitIdle blocks until no calls are in flight, or until d elapses when d
// is positive. It reports whether the server went idle.
func (s *Server) waitIdle(d time.Duration) bool {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	for {
		s.mu.Lock()
		if len(s.calls) == 0 {
			s.mu.Unlock()
			return true
		}
		if s.idle == nil {
			s.idle = make(chan struct{})
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-timeout:
			return false
		}
	}
}

// Destroy releases the server. Calling it before ShutdownAndNotify is a
// programmer error and panics; it does not check or wait for the shutdown
// notification to have been posted.
func (s *Server) Destroy() error {
	s.mu.Lock()
	if !s.shutdown {
		s.mu.Unlock()
		panic("corerpc: server destroyed before shutdown")
	}
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}
	return multierr.Append(err, s.group.Wait())
}
