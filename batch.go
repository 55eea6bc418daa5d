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
	"fmt"

	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/metadata"
	"go.uber.org/corerpc/payload"
)

// The operation set, verbatim:
//
//	send: initial-metadata, message, close-from-client,
//	      trailing-status-from-server
//	recv (client): initial-metadata, message, status-on-client
//	recv (server): message, close-on-server
//
// Op values are submitted in batches with Call.StartBatch. Flags fields are
// opaque per-op hints forwarded to the transport uninterpreted.

type opKind int

const (
	opSendInitialMetadata opKind = iota
	opSendMessage
	opSendCloseFromClient
	opSendStatusFromServer
	opRecvInitialMetadata
	opRecvMessage
	opRecvStatusOnClient
	opRecvCloseOnServer
	numOpKinds
)

var _opKindNames = [numOpKinds]string{
	"send-initial-metadata",
	"send-message",
	"send-close-from-client",
	"send-status-from-server",
	"recv-initial-metadata",
	"recv-message",
	"recv-status-on-client",
	"recv-close-on-server",
}

func (k opKind) String() string { return _opKindNames[k] }

// onceOnly reports whether at most one operation of this kind may ever be
// submitted on a call.
func (k opKind) onceOnly() bool {
	return k != opSendMessage && k != opRecvMessage
}

func (k opKind) clientOnly() bool {
	return k == opSendCloseFromClient || k == opRecvInitialMetadata || k == opRecvStatusOnClient
}

func (k opKind) serverOnly() bool {
	return k == opSendStatusFromServer || k == opRecvCloseOnServer
}

func (k opKind) isSend() bool { return k <= opSendStatusFromServer }

// Op is one operation in a batch. The concrete types below are the only
// implementations.
type Op interface {
	kind() opKind
}

// SendInitialMetadata sends the call's initial metadata. On a client call
// this is the operation that puts the call on the wire: the deadline is
// serialized and any bound credentials mint their entries here.
type SendInitialMetadata struct {
	Headers metadata.Items
	Flags   uint32
}

func (SendInitialMetadata) kind() opKind { return opSendInitialMetadata }

// SendMessage sends one message. The engine takes ownership of the buffer;
// the caller must not touch it after submitting the batch.
type SendMessage struct {
	Message *payload.Buffer
	Flags   uint32
}

func (SendMessage) kind() opKind { return opSendMessage }

// SendCloseFromClient half-closes the client's send side. Terminal.
type SendCloseFromClient struct {
	Flags uint32
}

func (SendCloseFromClient) kind() opKind { return opSendCloseFromClient }

// SendStatusFromServer sends the trailing status. Terminal on the server's
// send side.
type SendStatusFromServer struct {
	Code     corerpcerrors.Code
	Details  string
	Trailers metadata.Items
	Flags    uint32
}

func (SendStatusFromServer) kind() opKind { return opSendStatusFromServer }

// RecvInitialMetadata fills Headers with the server's initial metadata.
type RecvInitialMetadata struct {
	Headers *metadata.Items
	Flags   uint32
}

func (RecvInitialMetadata) kind() opKind { return opRecvInitialMetadata }

// ReceivedMessage is the output slot of a RecvMessage operation.
type ReceivedMessage struct {
	// Buffer is the received message, owned by the caller, or nil if the
	// peer had cleanly finished sending.
	Buffer *payload.Buffer
}

// RecvMessage fills Message with the next inbound message. The operation
// succeeds with a nil buffer at the clean end of the peer's messages;
// inspect the slot to distinguish end-of-stream from failure.
type RecvMessage struct {
	Message *ReceivedMessage
	Flags   uint32
}

func (RecvMessage) kind() opKind { return opRecvMessage }

// ReceivedStatus is the output slot of a RecvStatusOnClient operation.
type ReceivedStatus struct {
	Code     corerpcerrors.Code
	Details  string
	Trailers metadata.Items
}

// RecvStatusOnClient fills Status with the call's terminal status. Terminal
// on the client's receive side; the operation reports success once any
// status is determined, OK or not.
type RecvStatusOnClient struct {
	Status *ReceivedStatus
	Flags  uint32
}

func (RecvStatusOnClient) kind() opKind { return opRecvStatusOnClient }

// RecvCloseOnServer completes when the call is over on the server,
// reporting whether it was cancelled rather than finished with a sent
// status.
type RecvCloseOnServer struct {
	Cancelled *bool
	Flags     uint32
}

func (RecvCloseOnServer) kind() opKind { return opRecvCloseOnServer }

// validateBatchLocked checks batch composition against the call's state.
// Callers hold c.mu; a failed validation leaves the state untouched.
//
// Operations combined in one batch dispatch in canonical order, so a
// terminal op in the same batch never invalidates its siblings; only ops
// already submitted in earlier batches do.
func (c *Call) validateBatchLocked(ops []Op) error {
	var present [numOpKinds]bool
	for _, op := range ops {
		k := op.kind()
		if present[k] {
			return fmt.Errorf("%w: %v", ErrDuplicateOp, k)
		}
		present[k] = true
	}

	for _, op := range ops {
		k := op.kind()
		if c.client && k.serverOnly() {
			return fmt.Errorf("%w: %v", ErrNotOnClient, k)
		}
		if !c.client && k.clientOnly() {
			return fmt.Errorf("%w: %v", ErrNotOnServer, k)
		}
		if k.onceOnly() && c.submitted[k] {
			return fmt.Errorf("%w: %v", ErrAlreadyInvoked, k)
		}
		if c.inflight[k] {
			return fmt.Errorf("%w: %v", ErrTooManyOperations, k)
		}

		switch op := op.(type) {
		case SendInitialMetadata:
			if err := op.Headers.Validate(); err != nil {
				return err
			}
		case SendMessage:
			if op.Message == nil {
				return ErrNilMessage
			}
			if c.submitted[opSendCloseFromClient] || c.submitted[opSendStatusFromServer] {
				return ErrSendClosed
			}
			if !c.submitted[opSendInitialMetadata] && !present[opSendInitialMetadata] {
				return ErrMissingInitialMetadata
			}
		case SendCloseFromClient:
			if !c.submitted[opSendInitialMetadata] && !present[opSendInitialMetadata] {
				return ErrMissingInitialMetadata
			}
		case SendStatusFromServer:
			if !op.Code.Valid() {
				return fmt.Errorf("%w: %d", ErrInvalidStatus, int(op.Code))
			}
			if err := op.Trailers.Validate(); err != nil {
				return err
			}
		case RecvInitialMetadata:
			if op.Headers == nil {
				return fmt.Errorf("%w: %v", ErrNilSlot, k)
			}
		case RecvMessage:
			if op.Message == nil {
				return fmt.Errorf("%w: %v", ErrNilSlot, k)
			}
			if c.submitted[opRecvStatusOnClient] {
				return ErrRecvClosed
			}
		case RecvStatusOnClient:
			if op.Status == nil {
				return fmt.Errorf("%w: %v", ErrNilSlot, k)
			}
		case RecvCloseOnServer:
			if op.Cancelled == nil {
				return fmt.Errorf("%w: %v", ErrNilSlot, k)
			}
		}
	}
	return nil
}
