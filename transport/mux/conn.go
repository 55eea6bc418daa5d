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

// Package mux multiplexes call streams over a single net.Conn: 9-byte frame
// headers in the HTTP/2 shape, hpack header blocks, binary metadata as
// unpadded base64. There is no flow control; per-stream queues are bounded
// and the connection read loop provides backpressure.
package mux

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/corerpc/api/transport"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/internal/timeout"
	"go.uber.org/corerpc/metadata"
	"go.uber.org/zap"
	"golang.org/x/net/http2/hpack"
)

const (
	// acceptQueueLen bounds streams the peer has opened but the server has
	// not yet accepted. Overflow resets the stream with UNAVAILABLE.
	acceptQueueLen = 128

	// streamQueueLen bounds undelivered inbound messages per stream.
	streamQueueLen = 32

	decoderTableSize = 4096
)

var errConnClosed = errors.New("mux: connection closed")

// Option configures a connection.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the connection's logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type conn struct {
	nc     net.Conn
	logger *zap.Logger
	client bool

	// write side: one frame at a time; the hpack encoder state is part of
	// the wire protocol, so header blocks serialize under writeMu too.
	writeMu sync.Mutex
	henc    *hpack.Encoder
	hbuf    bytes.Buffer

	// read side: owned by readLoop.
	hdec      *hpack.Decoder
	decFields []hpack.HeaderField

	mu      sync.Mutex
	streams map[uint32]*stream
	nextID  uint32
	err     error

	accepts chan *stream
	done    chan struct{}
}

var (
	_ transport.ClientConn = (*conn)(nil)
	_ transport.ServerConn = (*conn)(nil)
)

// NewClientConn runs the client side of the protocol over nc. Stream ids
// opened through it are odd.
func NewClientConn(nc net.Conn, opts ...Option) transport.ClientConn {
	return newConn(nc, true, opts)
}

// NewServerConn runs the server side of the protocol over nc.
func NewServerConn(nc net.Conn, opts ...Option) transport.ServerConn {
	return newConn(nc, false, opts)
}

func newConn(nc net.Conn, client bool, opts []Option) *conn {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	c := &conn{
		nc:      nc,
		logger:  o.logger,
		client:  client,
		streams: make(map[uint32]*stream),
		nextID:  1,
		accepts: make(chan *stream, acceptQueueLen),
		done:    make(chan struct{}),
	}
	c.henc = hpack.NewEncoder(&c.hbuf)
	c.hdec = hpack.NewDecoder(decoderTableSize, func(f hpack.HeaderField) {
		c.decFields = append(c.decFields, f)
	})
	go c.readLoop()
	return c
}

// NewStream opens a stream and writes its request block.
func (c *conn) NewStream(ctx context.Context, req *transport.StreamRequest) (transport.ClientStream, error) {
	if !c.client {
		return nil, errors.New("mux: NewStream on a server connection")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	id := c.nextID
	c.nextID += 2
	st := newStream(c, id, nil)
	c.streams[id] = st
	c.mu.Unlock()

	fields := []hpack.HeaderField{{Name: fieldPath, Value: req.Method}}
	if req.Authority != "" {
		fields = append(fields, hpack.HeaderField{Name: fieldAuthority, Value: req.Authority})
	}
	if req.HasTimeout {
		fields = append(fields, hpack.HeaderField{Name: timeout.Field, Value: timeout.Encode(req.Timeout)})
	}
	if err := c.writeHeaderBlock(frameHeaders, 0, id, fields, req.Headers); err != nil {
		c.removeStream(id)
		return nil, err
	}
	return st, nil
}

// AcceptStream blocks for the next incoming stream.
func (c *conn) AcceptStream() (transport.ServerStream, error) {
	st, ok := <-c.accepts
	if !ok {
		return nil, io.EOF
	}
	return st, nil
}

// Close tears the connection down; the read loop terminates every stream.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = errConnClosed
	}
	c.mu.Unlock()
	return c.nc.Close()
}

func (c *conn) readLoop() {
	for {
		h, body, err := readFrame(c.nc)
		if err != nil {
			c.finish(err)
			return
		}
		switch h.typ() {
		case frameHeaders:
			fields, err := c.decodeBlock(body)
			if err != nil {
				c.finish(err)
				return
			}
			c.handleHeaders(h.streamID(), fields)
		case frameMessage:
			c.handleMessage(h.streamID(), h.flags(), body)
		case frameTrailers:
			fields, err := c.decodeBlock(body)
			if err != nil {
				c.finish(err)
				return
			}
			c.handleTrailers(h.streamID(), fields)
		case frameReset:
			c.handleReset(h.streamID(), body)
		default:
			// Unknown frame types are skipped for forward compatibility.
		}
	}
}

// decodeBlock runs one header block through the connection's hpack decoder.
// Only readLoop may call it.
func (c *conn) decodeBlock(block []byte) ([]hpack.HeaderField, error) {
	c.decFields = c.decFields[:0]
	if _, err := c.hdec.Write(block); err != nil {
		return nil, err
	}
	if err := c.hdec.Close(); err != nil {
		return nil, err
	}
	fields := make([]hpack.HeaderField, len(c.decFields))
	copy(fields, c.decFields)
	return fields, nil
}

func (c *conn) handleHeaders(id uint32, fields []hpack.HeaderField) {
	if st := c.lookupStream(id); st != nil {
		md, err := metadataFromFields(fields)
		if err != nil {
			c.logger.Warn("Dropping malformed header block.", zap.Uint32("stream", id), zap.Error(err))
			st.terminate(corerpcerrors.InternalErrorf("malformed header block: %v", err))
			return
		}
		st.deliverHeaders(md)
		return
	}
	if c.client {
		return // headers for a stream we no longer track
	}

	req, err := requestFromFields(fields)
	if err != nil {
		c.logger.Warn("Refusing malformed stream.", zap.Uint32("stream", id), zap.Error(err))
		c.sendReset(id, corerpcerrors.CodeInvalidArgument)
		return
	}
	st := newStream(c, id, &transport.StreamRequest{
		Method:     req.method,
		Authority:  req.authority,
		Timeout:    req.timeout,
		HasTimeout: req.hasTimeout,
		Headers:    req.headers,
	})

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.streams[id] = st
	c.mu.Unlock()

	select {
	case c.accepts <- st:
	default:
		c.logger.Warn("Accept queue full; refusing stream.", zap.Uint32("stream", id))
		c.removeStream(id)
		st.terminate(corerpcerrors.UnavailableErrorf("accept queue full"))
		c.sendReset(id, corerpcerrors.CodeUnavailable)
	}
}

func (c *conn) handleMessage(id uint32, flags uint8, body []byte) {
	st := c.lookupStream(id)
	if st == nil {
		return
	}
	if len(body) > 0 {
		st.deliverMessage(body)
	}
	if flags&flagEndStream != 0 {
		st.deliverEndOfStream()
	}
}

func (c *conn) handleTrailers(id uint32, fields []hpack.HeaderField) {
	st := c.lookupStream(id)
	if st == nil {
		return
	}
	code, message, md, err := trailersFromFields(fields)
	if err != nil {
		c.logger.Warn("Dropping malformed trailer block.", zap.Uint32("stream", id), zap.Error(err))
		st.terminate(corerpcerrors.InternalErrorf("malformed trailer block: %v", err))
		return
	}
	c.removeStream(id)
	st.deliverEndOfStream()
	st.deliverTrailers(&transport.Trailers{Code: code, Message: message, Metadata: md})
}

func (c *conn) handleReset(id uint32, body []byte) {
	st := c.lookupStream(id)
	if st == nil {
		return
	}
	code := corerpcerrors.CodeCancelled
	if len(body) >= 4 {
		code = corerpcerrors.Code(binary.BigEndian.Uint32(body))
	}
	c.removeStream(id)
	st.terminate(corerpcerrors.New(code, "stream reset by peer"))
}

// finish runs once at readLoop exit: it terminates every stream and
// releases acceptors.
func (c *conn) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	streams := make([]*stream, 0, len(c.streams))
	for _, st := range c.streams {
		streams = append(streams, st)
	}
	c.streams = nil
	c.mu.Unlock()

	for _, st := range streams {
		st.terminate(corerpcerrors.UnavailableErrorf("connection failure: %v", err))
	}
	close(c.accepts)
	close(c.done)
	_ = c.nc.Close()
}

func (c *conn) lookupStream(id uint32) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *conn) removeStream(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, id)
}

// writeHeaderBlock serializes protocol fields followed by user metadata as
// one hpack block and writes the frame.
func (c *conn) writeHeaderBlock(t frameType, flags uint8, id uint32, fields []hpack.HeaderField, md metadata.Items) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.hbuf.Reset()
	for _, f := range fields {
		if err := c.henc.WriteField(f); err != nil {
			return err
		}
	}
	if err := appendMetadataFields(c.henc, md); err != nil {
		return err
	}
	return writeFrame(c.nc, t, flags, id, c.hbuf.Bytes())
}

func (c *conn) writeMessageFrame(id uint32, flags uint8, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.nc, frameMessage, flags, id, body)
}

func (c *conn) sendReset(id uint32, code corerpcerrors.Code) {
	var body [4]byte
	binary.BigEndian.PutUint32(body[:], uint32(code))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.nc, frameReset, 0, id, body[:]); err != nil {
		c.logger.Debug("Failed to send reset.", zap.Uint32("stream", id), zap.Error(err))
	}
}
