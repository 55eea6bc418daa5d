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

// Package transport declares the stream-multiplexer interface the call
// engine consumes.
//
// A transport delivers ordered frames per stream: headers, then messages,
// then trailers. Operations block; the engine supplies the asynchrony. The
// engine never interprets framing or stream ids.
package transport

import (
	"context"
	"net"
	"time"

	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/metadata"
	"go.uber.org/corerpc/payload"
)

// StreamRequest describes a new stream: the method path and authority, the
// remaining time budget (already relative; the transport serializes it as
// whole milliseconds), and the initial metadata.
type StreamRequest struct {
	Method    string
	Authority string

	// Timeout is the remaining budget computed at send time. It is only
	// meaningful when HasTimeout is set; absence means no deadline.
	Timeout    time.Duration
	HasTimeout bool

	Headers metadata.Items

	// Flags is the opaque per-stream flag set forwarded from the
	// originating operation.
	Flags uint32
}

// Trailers is the terminal block of a stream.
type Trailers struct {
	Code     corerpcerrors.Code
	Message  string
	Metadata metadata.Items
}

// Stream is the operation set common to both peers of one stream.
type Stream interface {
	// WriteMessage appends one message to the stream. The flags are opaque
	// per-op hints forwarded from the caller.
	WriteMessage(ctx context.Context, msg *payload.Buffer, flags uint32) error

	// ReadMessage blocks for the next message. It returns (nil, nil) at the
	// clean end of the message sequence.
	ReadMessage(ctx context.Context) (*payload.Buffer, error)

	// Reset abruptly terminates the stream, conveying the code to the peer
	// on a best-effort basis.
	Reset(code corerpcerrors.Code)

	// Done is closed when the stream terminates abnormally: a peer reset or
	// a connection failure. It is not closed on clean completion.
	Done() <-chan struct{}

	// Err reports why Done closed. It returns nil before then.
	Err() error
}

// ClientStream is the client half of a stream. Headers are written by
// NewStream; the client then sends messages, half-closes, and reads the
// server's headers, messages, and trailers.
type ClientStream interface {
	Stream

	// CloseSend half-closes the stream. No writes may follow.
	CloseSend(ctx context.Context) error

	// ReadHeaders blocks for the server's initial metadata.
	ReadHeaders(ctx context.Context) (metadata.Items, error)

	// ReadTrailers blocks for the terminal status block. Unread messages
	// stay queued for ReadMessage.
	ReadTrailers(ctx context.Context) (*Trailers, error)
}

// ServerStream is the server half of a stream.
type ServerStream interface {
	Stream

	// Request returns the request block that opened the stream.
	Request() *StreamRequest

	// WriteHeaders sends the server's initial metadata. It may be called at
	// most once, before any WriteMessage.
	WriteHeaders(ctx context.Context, headers metadata.Items) error

	// WriteTrailers sends the terminal status block and closes the stream.
	// If headers were never written, an empty header block precedes it.
	WriteTrailers(ctx context.Context, trailers *Trailers) error
}

// ClientConn is a multiplexed connection from the client's side.
type ClientConn interface {
	// NewStream opens a stream, writing its request block on the wire.
	NewStream(ctx context.Context, req *StreamRequest) (ClientStream, error)

	// Close tears the connection down. Open streams terminate abnormally.
	Close() error
}

// ServerConn is a multiplexed connection from the server's side.
type ServerConn interface {
	// AcceptStream blocks for the next incoming stream. It returns io.EOF
	// once the connection is done.
	AcceptStream() (ServerStream, error)

	// Close tears the connection down. Open streams terminate abnormally.
	Close() error
}

// Listener accepts multiplexed connections for a server port.
type Listener interface {
	// Accept blocks for the next connection.
	Accept() (ServerConn, error)

	// Close stops the listener. Blocked Accepts return an error.
	Close() error

	// Addr returns the listener's bound address.
	Addr() net.Addr
}
