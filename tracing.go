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
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/corerpc/corerpcerrors"
	"go.uber.org/corerpc/metadata"
)

// Span context travels in the call's initial metadata, one entry per key
// the tracer injects, keys lowercased to satisfy the metadata wire rules.

func startClientSpan(tracer opentracing.Tracer, method, authority string) opentracing.Span {
	span := tracer.StartSpan(method, ext.SpanKindRPCClient)
	ext.PeerService.Set(span, authority)
	return span
}

func startServerSpan(tracer opentracing.Tracer, method string, headers metadata.Items) opentracing.Span {
	parent, err := tracer.Extract(opentracing.TextMap, metadataReader(headers))
	if err != nil {
		parent = nil
	}
	return tracer.StartSpan(method, ext.RPCServerOption(parent))
}

func injectSpan(tracer opentracing.Tracer, span opentracing.Span, md *metadata.Items) {
	w := &metadataWriter{items: md}
	// Injection is best effort; a tracer that cannot inject never blocks
	// the call.
	_ = tracer.Inject(span.Context(), opentracing.TextMap, w)
}

func finishSpan(span opentracing.Span, code corerpcerrors.Code) {
	span.SetTag("rpc.status", code.String())
	if code != corerpcerrors.CodeOK {
		ext.Error.Set(span, true)
	}
	span.Finish()
}

type metadataWriter struct {
	items *metadata.Items
}

func (w *metadataWriter) Set(key, value string) {
	*w.items = w.items.With(strings.ToLower(key), []byte(value))
}

type metadataReader metadata.Items

func (r metadataReader) ForeachKey(handler func(key, value string) error) error {
	for _, it := range r {
		if metadata.IsBinaryKey(it.Key) {
			continue
		}
		if err := handler(it.Key, string(it.Value)); err != nil {
			return err
		}
	}
	return nil
}
