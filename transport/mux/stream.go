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

package mux

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/corerpc/api/transport"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/metadata"
	"go.uber.org/corerpc/payload"
	"golang.org/x/net/http2/hpack"
)

type inbound struct {
	body []byte
	eos  bool
}

// stream is one multiplexed stream. The same type serves both roles; the
// role decides which interface methods are exercised.
type stream struct {
	c   *conn
	id  uint32
	req *transport.StreamRequest // set on server streams

	headersCh  chan metadata.Items
	trailersCh chan *transport.Trailers
	inq        chan inbound
	done       chan struct{}

	mu          sync.Mutex
	err         error
	terminated  bool
	recvClosed  bool
	sentHeaders bool
	sentEOS     bool
}

var (
	_ transport.ClientStream = (*stream)(nil)
	_ transport.ServerStream = (*stream)(nil)
)

func newStream(c *conn, id uint32, req *transport.StreamRequest) *stream {
	return &stream{
		c:          c,
		id:         id,
		req:        req,
		headersCh:  make(chan metadata.Items, 1),
		trailersCh: make(chan *transport.Trailers, 1),
		inq:        make(chan inbound, streamQueueLen),
		done:       make(chan struct{}),
	}
}

// Request returns the request block that opened the stream.
func (s *stream) Request() *transport.StreamRequest { return s.req }

// Done is closed when the stream terminates abnormally.
func (s *stream) Done() <-chan struct{} { return s.done }

// Err reports why Done closed.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// WriteMessage appends one message to the stream. Per-op flags are hints
// this transport does not interpret.
func (s *stream) WriteMessage(ctx context.Context, msg *payload.Buffer, _ uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.terminated {
		err := s.err
		s.mu.Unlock()
		return err
	}
	if s.sentEOS {
		s.mu.Unlock()
		return errors.New("mux: write after send side closed")
	}
	s.mu.Unlock()
	return s.c.writeMessageFrame(s.id, 0, msg.Bytes())
}

// CloseSend marks the clean end of the local message sequence.
func (s *stream) CloseSend(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.terminated {
		err := s.err
		s.mu.Unlock()
		return err
	}
	if s.sentEOS {
		s.mu.Unlock()
		return errors.New("mux: send side already closed")
	}
	s.sentEOS = true
	s.mu.Unlock()
	return s.c.writeMessageFrame(s.id, flagEndStream, nil)
}

// WriteHeaders sends the server's initial metadata block.
func (s *stream) WriteHeaders(ctx context.Context, headers metadata.Items) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.terminated {
		err := s.err
		s.mu.Unlock()
		return err
	}
	if s.sentHeaders {
		s.mu.Unlock()
		return errors.New("mux: headers already written")
	}
	s.sentHeaders = true
	s.mu.Unlock()
	return s.c.writeHeaderBlock(frameHeaders, 0, s.id, nil, headers)
}

// WriteTrailers sends the terminal block and finishes the server side of
// the stream. A header block is synthesized if none was written.
func (s *stream) WriteTrailers(ctx context.Context, trailers *transport.Trailers) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.terminated {
		err := s.err
		s.mu.Unlock()
		return err
	}
	needHeaders := !s.sentHeaders
	s.sentHeaders = true
	s.sentEOS = true
	s.mu.Unlock()

	if needHeaders {
		if err := s.c.writeHeaderBlock(frameHeaders, 0, s.id, nil, nil); err != nil {
			return err
		}
	}
	fields := []hpack.HeaderField{{Name: fieldStatus, Value: strconv.Itoa(int(trailers.Code))}}
	if trailers.Message != "" {
		fields = append(fields, hpack.HeaderField{Name: fieldMessage, Value: trailers.Message})
	}
	if err := s.c.writeHeaderBlock(frameTrailers, 0, s.id, fields, trailers.Metadata); err != nil {
		return err
	}
	s.c.removeStream(s.id)
	return nil
}

// Reset abruptly terminates the stream both locally and on the peer.
func (s *stream) Reset(code corerpcerrors.Code) {
	s.c.removeStream(s.id)
	if s.terminate(corerpcerrors.New(code, "stream reset locally")) {
		s.c.sendReset(s.id, code)
	}
}

// ReadHeaders blocks for the peer's initial metadata block.
func (s *stream) ReadHeaders(ctx context.Context) (metadata.Items, error) {
	select {
	case md := <-s.headersCh:
		return md, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadMessage blocks for the next message; it returns (nil, nil) once the
// peer has finished sending.
func (s *stream) ReadMessage(ctx context.Context) (*payload.Buffer, error) {
	s.mu.Lock()
	if s.recvClosed {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	select {
	case in := <-s.inq:
		if in.eos {
			s.mu.Lock()
			s.recvClosed = true
			s.mu.Unlock()
			return nil, nil
		}
		return payload.NewBuffer(payload.BorrowSlice(in.body)), nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadTrailers blocks for the terminal block.
func (s *stream) ReadTrailers(ctx context.Context) (*transport.Trailers, error) {
	select {
	case t := <-s.trailersCh:
		return t, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliverHeaders, deliverMessage, deliverEndOfStream, and deliverTrailers
// run on the connection read loop.

func (s *stream) deliverHeaders(md metadata.Items) {
	select {
	case s.headersCh <- md:
	default: // duplicate header block; drop
	}
}

func (s *stream) deliverMessage(body []byte) {
	select {
	case s.inq <- inbound{body: body}:
	case <-s.done:
	}
}

func (s *stream) deliverEndOfStream() {
	select {
	case s.inq <- inbound{eos: true}:
	case <-s.done:
	}
}

func (s *stream) deliverTrailers(t *transport.Trailers) {
	select {
	case s.trailersCh <- t:
	default: // duplicate trailer block; drop
	}
}

// terminate marks the stream abnormally finished. It reports whether this
// call was the one that terminated it.
func (s *stream) terminate(err error) bool {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return false
	}
	s.terminated = true
	s.err = err
	s.mu.Unlock()
	close(s.done)
	return true
}
