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

import "errors"

// Submit-time errors. They are returned synchronously by StartBatch,
// SetCredentials, and the facades; no completion event follows a rejected
// submission.
var (
	// ErrDuplicateOp rejects a batch containing two operations of one kind.
	ErrDuplicateOp = errors.New("corerpc: duplicate operation in batch")

	// ErrTooManyOperations rejects an operation kind that already has an
	// instance in flight on the call.
	ErrTooManyOperations = errors.New("corerpc: operation of this kind already in flight")

	// ErrAlreadyInvoked rejects a once-only operation submitted a second
	// time on the same call.
	ErrAlreadyInvoked = errors.New("corerpc: operation already performed on this call")

	// ErrNotOnClient rejects server-only operations on a client call.
	ErrNotOnClient = errors.New("corerpc: operation not available on client calls")

	// ErrNotOnServer rejects client-only operations on a server call.
	ErrNotOnServer = errors.New("corerpc: operation not available on server calls")

	// ErrMissingInitialMetadata rejects a send that would precede the
	// call's send-initial-metadata.
	ErrMissingInitialMetadata = errors.New("corerpc: send-initial-metadata must precede the first send")

	// ErrSendClosed rejects sends after the send side reached its terminal
	// operation.
	ErrSendClosed = errors.New("corerpc: send side already closed")

	// ErrRecvClosed rejects receives after recv-status-on-client was
	// submitted.
	ErrRecvClosed = errors.New("corerpc: receive side already closed")

	// ErrNilSlot rejects a receive operation with a nil output slot.
	ErrNilSlot = errors.New("corerpc: nil output slot")

	// ErrNilMessage rejects a send-message operation with no message.
	ErrNilMessage = errors.New("corerpc: nil message")

	// ErrCredentialsDispatched rejects credential changes after the call's
	// initial metadata was handed off.
	ErrCredentialsDispatched = errors.New("corerpc: initial metadata already dispatched")

	// ErrChannelCredentials rejects channel-kind credentials on a call.
	ErrChannelCredentials = errors.New("corerpc: channel credentials cannot be bound to a call")

	// ErrChannelClosed rejects new calls on a closed channel.
	ErrChannelClosed = errors.New("corerpc: channel is closed")

	// ErrServerShutdown rejects work submitted after ShutdownAndNotify, and
	// RegisterQueue, AddListener, and Start once the server has started.
	ErrServerShutdown = errors.New("corerpc: server is shutting down")

	// ErrNotStarted rejects operations that require a started server.
	ErrNotStarted = errors.New("corerpc: server is not started")

	// ErrUnregisteredQueue rejects a completion queue the server was never
	// told about.
	ErrUnregisteredQueue = errors.New("corerpc: completion queue is not registered with this server")

	// ErrInvalidStatus rejects a trailing status outside the closed code
	// set, or an OK cancellation.
	ErrInvalidStatus = errors.New("corerpc: invalid status code")
)
