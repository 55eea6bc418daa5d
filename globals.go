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

import "sync"

// The engine keeps one piece of process-wide state: the set of goroutines
// it has spawned. They are created on first use; Shutdown drains them so
// test fixtures can assert a quiescent process between runs.

var _runtime runtimeState

type runtimeState struct {
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

// spawn runs f on an engine-owned goroutine tracked for Shutdown.
func spawn(f func()) {
	_runtime.mu.Lock()
	_runtime.active++
	_runtime.mu.Unlock()
	go func() {
		defer _runtime.exit()
		f()
	}()
}

func (r *runtimeState) exit() {
	r.mu.Lock()
	r.active--
	if r.active == 0 && r.idle != nil {
		close(r.idle)
		r.idle = nil
	}
	r.mu.Unlock()
}

// Shutdown blocks until every engine-owned goroutine has exited. Callers
// must first close their Channels and shut down their Servers, or the
// goroutines serving them never exit. The engine is usable again
// afterwards; the next Channel or Server starts fresh.
func Shutdown() {
	_runtime.mu.Lock()
	if _runtime.active == 0 {
		_runtime.mu.Unlock()
		return
	}
	if _runtime.idle == nil {
		_runtime.idle = make(chan struct{})
	}
	idle := _runtime.idle
	_runtime.mu.Unlock()
	<-idle
}
