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

// Package metadata provides the ordered key/value lists exchanged as initial
// and trailing metadata on a call.
//
// Entries with the same key keep their relative order end-to-end. Keys ending
// in "-bin" carry arbitrary bytes; all other values must be printable ASCII.
package metadata

import (
	"fmt"
	"strings"
)

// BinarySuffix marks keys whose values may contain arbitrary bytes.
const BinarySuffix = "-bin"

// Item is a single metadata entry.
type Item struct {
	Key   string
	Value []byte
}

// Items is an ordered metadata list. The zero value is an empty list.
//
// Items returned by receive operations are owned by the caller and are not
// safe for concurrent use.
type Items []Item

// Pairs builds an Items list from alternating key/value strings. It panics
// if the number of arguments is odd.
func Pairs(kv ...string) Items {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("metadata: Pairs got %d arguments, want an even number", len(kv)))
	}
	items := make(Items, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		items = append(items, Item{Key: kv[i], Value: []byte(kv[i+1])})
	}
	return items
}

// With returns the list with an entry appended.
func (m Items) With(key string, value []byte) Items {
	return append(m, Item{Key: key, Value: value})
}

// Get returns the value of the first entry with the given key.
func (m Items) Get(key string) ([]byte, bool) {
	for _, it := range m {
		if it.Key == key {
			return it.Value, true
		}
	}
	return nil, false
}

// Values returns the values of every entry with the given key, in order.
func (m Items) Values(key string) [][]byte {
	var vs [][]byte
	for _, it := range m {
		if it.Key == key {
			vs = append(vs, it.Value)
		}
	}
	return vs
}

// Len returns the number of entries.
func (m Items) Len() int { return len(m) }

// Copy returns a deep copy of the list.
func (m Items) Copy() Items {
	if m == nil {
		return nil
	}
	out := make(Items, len(m))
	for i, it := range m {
		v := make([]byte, len(it.Value))
		copy(v, it.Value)
		out[i] = Item{Key: it.Key, Value: v}
	}
	return out
}

// IsBinaryKey reports whether values under the key may contain arbitrary
// bytes.
func IsBinaryKey(key string) bool {
	return strings.HasSuffix(key, BinarySuffix)
}

// Validate checks every entry against the wire rules: keys are non-empty
// lowercase ASCII names, and values under non-binary keys are printable
// ASCII.
func (m Items) Validate() error {
	for _, it := range m {
		if err := validateKey(it.Key); err != nil {
			return err
		}
		if IsBinaryKey(it.Key) {
			continue
		}
		for _, b := range it.Value {
			if b < 0x20 || b > 0x7e {
				return fmt.Errorf("metadata: value for key %q contains non-printable byte 0x%02x", it.Key, b)
			}
		}
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("metadata: empty key")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return fmt.Errorf("metadata: key %q contains illegal character %q", key, c)
		}
	}
	return nil
}
