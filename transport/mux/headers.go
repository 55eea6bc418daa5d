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
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/internal/timeout"
	"go.uber.org/corerpc/metadata"
	"golang.org/x/net/http2/hpack"
)

// Protocol fields in header and trailer blocks. Everything else in a block
// is user metadata; values under "-bin" keys travel as unpadded base64.
const (
	fieldPath      = ":path"
	fieldAuthority = ":authority"
	fieldStatus    = "corerpc-status"
	fieldMessage   = "corerpc-message"
)

var _binEncoding = base64.RawStdEncoding

// appendMetadataFields encodes user metadata into hpack fields, in order.
func appendMetadataFields(enc *hpack.Encoder, items metadata.Items) error {
	for _, it := range items {
		v := string(it.Value)
		if metadata.IsBinaryKey(it.Key) {
			v = _binEncoding.EncodeToString(it.Value)
		}
		if err := enc.WriteField(hpack.HeaderField{Name: it.Key, Value: v}); err != nil {
			return err
		}
	}
	return nil
}

// metadataFromFields decodes user metadata fields, skipping protocol fields.
func metadataFromFields(fields []hpack.HeaderField) (metadata.Items, error) {
	var items metadata.Items
	for _, f := range fields {
		if isProtocolField(f.Name) {
			continue
		}
		v := []byte(f.Value)
		if metadata.IsBinaryKey(f.Name) {
			decoded, err := _binEncoding.DecodeString(f.Value)
			if err != nil {
				return nil, fmt.Errorf("mux: malformed binary metadata under %q: %v", f.Name, err)
			}
			v = decoded
		}
		items = append(items, metadata.Item{Key: f.Name, Value: v})
	}
	return items, nil
}

func isProtocolField(name string) bool {
	switch name {
	case fieldPath, fieldAuthority, fieldStatus, fieldMessage, timeout.Field:
		return true
	}
	return len(name) > 0 && name[0] == ':'
}

// requestFromFields rebuilds a stream request from a decoded header block.
func requestFromFields(fields []hpack.HeaderField) (*streamRequestWire, error) {
	req := &streamRequestWire{}
	for _, f := range fields {
		switch f.Name {
		case fieldPath:
			req.method = f.Value
		case fieldAuthority:
			req.authority = f.Value
		case timeout.Field:
			d, err := timeout.Decode(f.Value)
			if err != nil {
				return nil, err
			}
			req.timeout = d
			req.hasTimeout = true
		}
	}
	if req.method == "" {
		return nil, fmt.Errorf("mux: header block is missing %s", fieldPath)
	}
	items, err := metadataFromFields(fields)
	if err != nil {
		return nil, err
	}
	req.headers = items
	return req, nil
}

type streamRequestWire struct {
	method     string
	authority  string
	timeout    time.Duration
	hasTimeout bool
	headers    metadata.Items
}

// trailersFromFields rebuilds a trailer block.
func trailersFromFields(fields []hpack.HeaderField) (corerpcerrors.Code, string, metadata.Items, error) {
	code := corerpcerrors.CodeUnknown
	message := ""
	for _, f := range fields {
		switch f.Name {
		case fieldStatus:
			n, err := strconv.Atoi(f.Value)
			if err != nil {
				return 0, "", nil, fmt.Errorf("mux: malformed %s value %q", fieldStatus, f.Value)
			}
			code = corerpcerrors.Code(n)
		case fieldMessage:
			message = f.Value
		}
	}
	items, err := metadataFromFields(fields)
	if err != nil {
		return 0, "", nil, err
	}
	return code, message, items, nil
}
