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

package credentials

import (
	"context"
	"errors"

	"go.uber.org/corerpc/metadata"
)

const (
	// AuthorizationKey is the metadata key carrying the bearer token.
	AuthorizationKey = "authorization"

	// AuthoritySelectorKey is the metadata key carrying the authority
	// selector, when one is configured.
	AuthoritySelectorKey = "x-authority-selector"
)

// NewToken returns call credentials that attach a fixed bearer token and an
// optional authority selector to every call.
func NewToken(token, authoritySelector string) (Call, error) {
	if token == "" {
		return nil, errors.New("credentials: empty token")
	}
	return &tokenCredentials{token: token, selector: authoritySelector}, nil
}

type tokenCredentials struct {
	token    string
	selector string
}

func (*tokenCredentials) Kind() Kind { return KindCall }

func (t *tokenCredentials) RequestMetadata(_ context.Context, _ RequestInfo) (metadata.Items, error) {
	items := metadata.Items{{Key: AuthorizationKey, Value: []byte(t.token)}}
	if t.selector != "" {
		items = items.With(AuthoritySelectorKey, []byte(t.selector))
	}
	return items, nil
}
