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

// Package corerpcerrors holds the closed status code set and the Status type
// that carries a call's terminal disposition, including trailing metadata.
package corerpcerrors

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/corerpc/metadata"
)

// Status is the terminal result of a call: a code, a human-readable message,
// and the trailing metadata delivered with it.
//
// A nil *Status means CodeOK with no message and no trailers.
type Status struct {
	code     Code
	message  string
	trailers metadata.Items
}

// New returns a Status with the given code and message. New(CodeOK, "")
// returns nil.
func New(code Code, message string) *Status {
	if code == CodeOK && message == "" {
		return nil
	}
	return &Status{code: code, message: message}
}

// FromError returns the Status for the provided error.
//
// A nil error yields nil. A *Status anywhere in the error's chain is
// returned as-is. Any other error is wrapped with CodeUnknown.
func FromError(err error) *Status {
	if err == nil {
		return nil
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	return &Status{code: CodeUnknown, message: err.Error()}
}

// WithTrailers returns a Status carrying the given trailing metadata.
func (s *Status) WithTrailers(trailers metadata.Items) *Status {
	if s == nil {
		if len(trailers) == 0 {
			return nil
		}
		return &Status{code: CodeOK, trailers: trailers}
	}
	return &Status{code: s.code, message: s.message, trailers: trailers}
}

// Code returns the status code.
func (s *Status) Code() Code {
	if s == nil {
		return CodeOK
	}
	return s.code
}

// Message returns the status message.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Trailers returns the trailing metadata delivered with the status.
func (s *Status) Trailers() metadata.Items {
	if s == nil {
		return nil
	}
	return s.trailers
}

// OK reports whether the status code is CodeOK.
func (s *Status) OK() bool { return s.Code() == CodeOK }

// Error implements the error interface.
func (s *Status) Error() string {
	buffer := bytes.NewBuffer(nil)
	_, _ = buffer.WriteString(`code:`)
	_, _ = buffer.WriteString(s.Code().String())
	if s.Message() != "" {
		_, _ = buffer.WriteString(` message:`)
		_, _ = buffer.WriteString(s.Message())
	}
	return buffer.String()
}

// CancelledErrorf returns a new Status with code CodeCancelled.
func CancelledErrorf(format string, args ...interface{}) error {
	return newf(CodeCancelled, format, args...)
}

// DeadlineExceededErrorf returns a new Status with code CodeDeadlineExceeded.
func DeadlineExceededErrorf(format string, args ...interface{}) error {
	return newf(CodeDeadlineExceeded, format, args...)
}

// InvalidArgumentErrorf returns a new Status with code CodeInvalidArgument.
func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return newf(CodeInvalidArgument, format, args...)
}

// InternalErrorf returns a new Status with code CodeInternal.
func InternalErrorf(format string, args ...interface{}) error {
	return newf(CodeInternal, format, args...)
}

// UnavailableErrorf returns a new Status with code CodeUnavailable.
func UnavailableErrorf(format string, args ...interface{}) error {
	return newf(CodeUnavailable, format, args...)
}

// UnauthenticatedErrorf returns a new Status with code CodeUnauthenticated.
func UnauthenticatedErrorf(format string, args ...interface{}) error {
	return newf(CodeUnauthenticated, format, args...)
}

func newf(code Code, format string, args ...interface{}) *Status {
	if len(args) == 0 {
		return New(code, format)
	}
	return New(code, fmt.Sprintf(format, args...))
}

// IsCancelled returns true if FromError(err).Code() == CodeCancelled.
func IsCancelled(err error) bool {
	return FromError(err).Code() == CodeCancelled
}

// IsDeadlineExceeded returns true if FromError(err).Code() == CodeDeadlineExceeded.
func IsDeadlineExceeded(err error) bool {
	return FromError(err).Code() == CodeDeadlineExceeded
}

// IsUnauthenticated returns true if FromError(err).Code() == CodeUnauthenticated.
func IsUnauthenticated(err error) bool {
	return FromError(err).Code() == CodeUnauthenticated
}
