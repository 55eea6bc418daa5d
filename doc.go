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

// Package corerpc is the call engine of an RPC runtime: it drives single
// calls between a client and a server over a multiplexed streaming
// transport.
//
// Applications create a Call from a Channel (client) or receive one from a
// Server (server), then submit batches of send and receive operations with
// StartBatch. Each batch resolves asynchronously into exactly one event on
// the completion.Queue it was submitted against, carrying the caller's tag.
//
// Calls are thread-compatible, not thread-safe: concurrent batches on one
// call are only defined when they touch disjoint operation kinds (one send
// batch and one receive batch may overlap). Queues, Channels, and Servers
// are safe for concurrent use.
package corerpc
