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

package corerpcerrors

import (
	"fmt"
	"strconv"
	"strings"
)

// Code is the terminal disposition of a call.
//
// The set is closed and densely numbered; the numbering is part of the
// wire protocol. Unknown numeric values received from a peer are carried
// as-is but stringify to their decimal form.
type Code int

const (
	// CodeOK means no error; returned on success.
	CodeOK Code = 0

	// CodeCancelled means the call was cancelled, typically by the caller.
	CodeCancelled Code = 1

	// CodeUnknown means an unknown error. Errors raised by APIs that do not
	// return enough error information may be converted to this error.
	CodeUnknown Code = 2

	// CodeInvalidArgument means the client specified an invalid argument,
	// regardless of the state of the system.
	CodeInvalidArgument Code = 3

	// CodeDeadlineExceeded means the deadline expired before the call could
	// complete. The call may have completed successfully on the peer.
	CodeDeadlineExceeded Code = 4

	// CodeNotFound means some requested entity was not found.
	CodeNotFound Code = 5

	// CodeAlreadyExists means the entity that a client attempted to create
	// already exists.
	CodeAlreadyExists Code = 6

	// CodePermissionDenied means the caller does not have permission to
	// execute the specified operation. Use CodeUnauthenticated instead when
	// the caller cannot be identified.
	CodePermissionDenied Code = 7

	// CodeResourceExhausted means some resource has been exhausted, perhaps
	// a per-user quota.
	CodeResourceExhausted Code = 8

	// CodeFailedPrecondition means the operation was rejected because the
	// system is not in a state required for the operation's execution.
	CodeFailedPrecondition Code = 9

	// CodeAborted means the operation was aborted, typically due to a
	// concurrency issue such as a sequencer check failure.
	CodeAborted Code = 10

	// CodeOutOfRange means the operation was attempted past the valid range.
	CodeOutOfRange Code = 11

	// CodeUnimplemented means the operation is not implemented or is not
	// supported by this service.
	CodeUnimplemented Code = 12

	// CodeInternal means some invariant expected by the underlying system
	// has been broken. Reserved for serious errors.
	CodeInternal Code = 13

	// CodeUnavailable means the service is currently unavailable. This is
	// most likely a transient condition.
	CodeUnavailable Code = 14

	// CodeDataLoss means unrecoverable data loss or corruption.
	CodeDataLoss Code = 15

	// CodeUnauthenticated means the call does not have valid authentication
	// credentials for the operation.
	CodeUnauthenticated Code = 16
)

// _codeNames is indexed by the wire value of each code.
var _codeNames = [...]string{
	CodeOK:                 "ok",
	CodeCancelled:          "cancelled",
	CodeUnknown:            "unknown",
	CodeInvalidArgument:    "invalid-argument",
	CodeDeadlineExceeded:   "deadline-exceeded",
	CodeNotFound:           "not-found",
	CodeAlreadyExists:      "already-exists",
	CodePermissionDenied:   "permission-denied",
	CodeResourceExhausted:  "resource-exhausted",
	CodeFailedPrecondition: "failed-precondition",
	CodeAborted:            "aborted",
	CodeOutOfRange:         "out-of-range",
	CodeUnimplemented:      "unimplemented",
	CodeInternal:           "internal",
	CodeUnavailable:        "unavailable",
	CodeDataLoss:           "data-loss",
	CodeUnauthenticated:    "unauthenticated",
}

// Valid reports whether the code is a member of the closed set.
func (c Code) Valid() bool {
	return c >= 0 && int(c) < len(_codeNames)
}

// String returns the string representation of the Code.
func (c Code) String() string {
	if c.Valid() {
		return _codeNames[c]
	}
	return strconv.Itoa(int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown code: %d", int(c))
	}
	return []byte(_codeNames[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range _codeNames {
		if n == name {
			*c = Code(i)
			return nil
		}
	}
	return fmt.Errorf("unknown code string: %s", string(text))
}
