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

// Package credentials defines the two credential kinds the engine knows:
// channel credentials establish transport security and are illegal on a
// call; call credentials mint auth metadata for a single call.
package credentials

import (
	"context"

	"go.uber.org/corerpc/metadata"
)

// Kind discriminates credential kinds at runtime.
type Kind int

const (
	// KindCall marks per-call credentials.
	KindCall Kind = iota + 1

	// KindChannel marks transport-security credentials.
	KindChannel
)

// Credentials is either a Call or a Channel credential.
type Credentials interface {
	Kind() Kind
}

// RequestInfo describes the call for which metadata is being minted.
type RequestInfo struct {
	// ServiceURL is the scheme and authority of the call's destination.
	ServiceURL string

	// Method is the full method path of the call.
	Method string
}

// Call mints auth metadata for one call. Implementations are shared between
// calls and must be safe for concurrent use.
type Call interface {
	Credentials

	// RequestMetadata returns the metadata entries to merge into the call's
	// outbound initial metadata. An error fails the call with
	// UNAUTHENTICATED.
	RequestMetadata(ctx context.Context, info RequestInfo) (metadata.Items, error)
}

// Channel marks transport-security credentials. The engine rejects them on
// calls; they only configure how a connection is established.
type Channel interface {
	Credentials

	// TransportSecurity names the security protocol the credential
	// configures.
	TransportSecurity() string
}

// CallFunc adapts a function to the Call interface.
type CallFunc func(ctx context.Context, info RequestInfo) (metadata.Items, error)

// Kind returns KindCall.
func (CallFunc) Kind() Kind { return KindCall }

// RequestMetadata calls the function.
func (f CallFunc) RequestMetadata(ctx context.Context, info RequestInfo) (metadata.Items, error) {
	return f(ctx, info)
}
