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
	"errors"
	"net"
	"sync"

	"go.uber.org/corerpc/api/transport"
)

// Dial connects to a listening server over TCP.
func Dial(addr string, opts ...Option) (transport.ClientConn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientConn(nc, opts...), nil
}

// Listen binds a TCP port and serves multiplexed connections from it.
func Listen(addr string, opts ...Option) (transport.Listener, error) {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &netListener{nl: nl, opts: opts}, nil
}

type netListener struct {
	nl   net.Listener
	opts []Option
}

func (l *netListener) Accept() (transport.ServerConn, error) {
	nc, err := l.nl.Accept()
	if err != nil {
		return nil, err
	}
	return NewServerConn(nc, l.opts...), nil
}

func (l *netListener) Close() error   { return l.nl.Close() }
func (l *netListener) Addr() net.Addr { return l.nl.Addr() }

// NewPipe returns an in-process client connection and a listener that
// yields its server end exactly once. It is the test fixture equivalent of
// a socket pair.
func NewPipe(opts ...Option) (transport.ClientConn, transport.Listener) {
	cn, sn := net.Pipe()
	l := &pipeListener{conns: make(chan net.Conn, 1), closed: make(chan struct{}), opts: opts}
	l.conns <- sn
	return NewClientConn(cn, opts...), l
}

type pipeListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
	opts      []Option
}

func (l *pipeListener) Accept() (transport.ServerConn, error) {
	select {
	case nc := <-l.conns:
		return NewServerConn(nc, l.opts...), nil
	case <-l.closed:
		return nil, errors.New("mux: pipe listener closed")
	}
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		select {
		case nc := <-l.conns:
			_ = nc.Close()
		default:
		}
	})
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
