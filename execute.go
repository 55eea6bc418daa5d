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
	"sort"

	"go.uber.org/atomic"
	"go.uber.org/corerpc/api/transport"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/credentials"
)

// StartBatch validates and accepts a batch of operations. It returns
// synchronously after validation and never blocks on I/O; when every
// operation has resolved, exactly one event carrying tag is enqueued on
// the call's completion queue. A rejected batch produces no event.
func (c *Call) StartBatch(tag interface{}, ops ...Op) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		panic("corerpc: StartBatch on a destroyed call")
	}
	if err := c.validateBatchLocked(ops); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.cq.BeginOp(); err != nil {
		c.mu.Unlock()
		return err
	}

	var sends, recvs []Op
	for _, op := range ops {
		k := op.kind()
		if k.onceOnly() {
			c.submitted[k] = true
		}
		c.inflight[k] = true
		if k.isSend() {
			sends = append(sends, op)
		} else {
			recvs = append(recvs, op)
		}
	}
	c.batches++

	// Chain this batch's sends behind every previously accepted send so
	// sends reach the transport in submission order across batches.
	prev := c.sendTail
	var ticket chan struct{}
	if len(sends) > 0 {
		ticket = make(chan struct{})
		c.sendTail = ticket
	}
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.BatchStarted()
	}

	b := &pendingBatch{call: c, tag: tag, remaining: *atomic.NewInt32(int32(len(ops)))}
	if len(ops) == 0 {
		// An empty batch is legal and completes trivially.
		spawn(func() { b.call.finishBatch(b.tag, true) })
		return nil
	}

	if len(sends) > 0 {
		// Sends within a batch dispatch in protocol order regardless of
		// how the caller listed them.
		sort.SliceStable(sends, func(i, j int) bool { return sends[i].kind() < sends[j].kind() })
		spawn(func() {
			<-prev
			for _, op := range sends {
				b.opDone(op.kind(), c.execSend(op))
			}
			close(ticket)
		})
	}
	for _, op := range recvs {
		op := op
		spawn(func() { b.opDone(op.kind(), c.execRecv(op)) })
	}
	return nil
}

type pendingBatch struct {
	call      *Call
	tag       interface{}
	remaining atomic.Int32
	failed    atomic.Bool
}

func (b *pendingBatch) opDone(k opKind, ok bool) {
	if !ok {
		b.failed.Store(true)
	}
	c := b.call
	c.mu.Lock()
	c.inflight[k] = false
	c.mu.Unlock()
	if b.remaining.Dec() == 0 {
		c.finishBatch(b.tag, !b.failed.Load())
	}
}

func (c *Call) finishBatch(tag interface{}, ok bool) {
	c.mu.Lock()
	c.batches--
	c.mu.Unlock()
	c.cq.EndOp(tag, ok)
}

// execSend performs one send operation. Sends run on the call's send chain,
// one at a time, in submission order.
func (c *Call) execSend(op Op) bool {
	switch op := op.(type) {
	case SendInitialMetadata:
		return c.sendInitialMetadata(op)

	case SendMessage:
		defer op.Message.Destroy()
		s := c.sendStream()
		if s == nil {
			return false
		}
		if err := s.WriteMessage(c.ctx, op.Message, op.Flags); err != nil {
			c.failTransport(err)
			return false
		}
		return true

	case SendCloseFromClient:
		s, ok := c.waitStream()
		if !ok {
			return false
		}
		if err := s.CloseSend(c.ctx); err != nil {
			c.failTransport(err)
			return false
		}
		return true

	case SendStatusFromServer:
		trailers := &transport.Trailers{Code: op.Code, Message: op.Details, Metadata: op.Trailers}
		if err := c.serverStream.WriteTrailers(c.ctx, trailers); err != nil {
			c.failTransport(err)
			return false
		}
		c.finishServer(false)
		return true
	}
	return false
}

// sendStream returns the stream sends go to, or nil when the call can no
// longer send.
func (c *Call) sendStream() transport.Stream {
	if !c.client {
		return c.serverStream
	}
	s, ok := c.waitStream()
	if !ok {
		return nil
	}
	return s
}

// sendInitialMetadata puts a client call on the wire: credentials mint
// their entries, the remaining deadline is computed for serialization, and
// the stream is opened. On a server call it writes the header block.
func (c *Call) sendInitialMetadata(op SendInitialMetadata) bool {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return false
	}
	creds := c.creds
	c.mdDispatched = true
	c.mu.Unlock()

	if !c.client {
		if err := c.serverStream.WriteHeaders(c.ctx, op.Headers); err != nil {
			c.failTransport(err)
			return false
		}
		return true
	}

	headers := op.Headers.Copy()
	if creds != nil {
		minted, err := creds.RequestMetadata(c.ctx, credentials.RequestInfo{
			ServiceURL: c.serviceURL(),
			Method:     c.method,
		})
		if err != nil {
			c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeUnauthenticated,
				"getting credential metadata: "+err.Error()))
			return false
		}
		if err := minted.Validate(); err != nil {
			c.cancelWithStatus(corerpcerrors.New(corerpcerrors.CodeUnauthenticated, err.Error()))
			return false
		}
		headers = append(headers, minted...)
	}
	if c.span != nil {
		injectSpan(c.channel.tracer, c.span, &headers)
	}

	req := &transport.StreamRequest{
		Method:    c.method,
		Authority: c.authority,
		Headers:   headers,
		Flags:     op.Flags,
	}
	if !c.deadline.IsZero() {
		req.Timeout = c.deadline.Sub(c.clk.Now())
		req.HasTimeout = true
	}

	stream, err := c.channel.conn.NewStream(c.ctx, req)
	if err != nil {
		c.failTransport(err)
		return false
	}

	c.mu.Lock()
	c.clientStream = stream
	cancelled := c.cancelled
	c.mu.Unlock()
	c.streamOnce.Do(func() { close(c.streamReady) })

	if cancelled {
		// Lost a race with cancellation after the stream hit the wire.
		stream.Reset(c.currentStatus().Code())
		return false
	}
	spawn(func() { c.watchStream(stream) })
	return true
}

// execRecv performs one receive operation. Receives run concurrently; the
// transport's per-stream ordering keeps headers before messages before
// trailers.
func (c *Call) execRecv(op Op) bool {
	switch op := op.(type) {
	case RecvInitialMetadata:
		s, ok := c.waitStream()
		if !ok {
			return false
		}
		md, err := s.ReadHeaders(c.ctx)
		if err != nil {
			return false
		}
		*op.Headers = md
		return true

	case RecvMessage:
		var s transport.Stream
		if c.client {
			cs, ok := c.waitStream()
			if !ok {
				op.Message.Buffer = nil
				return false
			}
			s = cs
		} else {
			s = c.serverStream
		}
		buf, err := s.ReadMessage(c.ctx)
		if err != nil {
			op.Message.Buffer = nil
			return false
		}
		op.Message.Buffer = buf
		return true

	case RecvStatusOnClient:
		c.ensureTrailerReader()
		<-c.statusReady
		st := c.currentStatus()
		op.Status.Code = st.Code()
		op.Status.Details = st.Message()
		op.Status.Trailers = st.Trailers()
		return true

	case RecvCloseOnServer:
		<-c.closeReady
		c.mu.Lock()
		*op.Cancelled = c.closeCancelled
		c.mu.Unlock()
		return true
	}
	return false
}

// ensureTrailerReader starts, once, the goroutine that resolves the
// client's final status from the stream's trailers.
func (c *Call) ensureTrailerReader() {
	c.mu.Lock()
	if c.trailerReader || c.statusSet {
		c.mu.Unlock()
		return
	}
	c.trailerReader = true
	c.mu.Unlock()

	spawn(func() {
		s, ok := c.waitStream()
		if !ok {
			return // the failure path has already resolved the status
		}
		t, err := s.ReadTrailers(c.ctx)
		if err != nil {
			c.failTransport(err)
			return
		}
		st := corerpcerrors.New(t.Code, t.Message).WithTrailers(t.Metadata)
		c.resolveStatus(st)
	})
}
