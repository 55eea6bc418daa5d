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

// Package completion provides the queue through which the engine notifies
// applications of finished work.
//
// Producers (calls, servers) reserve work with BeginOp and resolve it with
// EndOp; consumers drain with Next or Pluck. Every accepted tag surfaces as
// exactly one event, and every event goes to exactly one consumer.
package completion

import (
	"errors"
	"sync"
	"time"
)

// MaxPluckers is the maximum number of concurrent Pluck calls on one queue.
const MaxPluckers = 6

// ErrShutdown is returned by BeginOp after Shutdown has been requested.
var ErrShutdown = errors.New("completion: queue is shutting down")

// EventType discriminates queue events.
type EventType int

const (
	// OpComplete reports a finished batch, request-call, or
	// shutdown-and-notify intent. Tag and OK are meaningful.
	OpComplete EventType = iota + 1

	// QueueTimeout reports that the consumer's deadline elapsed with no
	// event ready. It is never stored in the queue.
	QueueTimeout

	// QueueShutdown is the terminal event: Shutdown was requested and all
	// accepted work has drained.
	QueueShutdown
)

// Event is one completed notification.
//
// Tag is the value supplied when the work was submitted, returned
// unchanged. OK reports whether the batch reached its intended result.
type Event struct {
	Type EventType
	Tag  interface{}
	OK   bool
}

type waiter struct {
	tag    interface{}
	hasTag bool
	ch     chan Event
}

// Queue is a multi-producer, multi-consumer event sink.
//
// All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	events   []Event
	waiters  []*waiter
	pending  int
	shutdown bool
	drained  bool
	plucks   map[interface{}]struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{plucks: make(map[interface{}]struct{})}
}

// BeginOp reserves one unit of outstanding work. It fails once Shutdown has
// been requested; a successful BeginOp must be matched by exactly one EndOp.
func (q *Queue) BeginOp() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return ErrShutdown
	}
	q.pending++
	return nil
}

// EndOp resolves one unit of work reserved with BeginOp, enqueueing an
// OpComplete event carrying tag and ok.
func (q *Queue) EndOp(tag interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending <= 0 {
		panic("completion: EndOp without matching BeginOp")
	}
	q.pending--
	q.deliver(Event{Type: OpComplete, Tag: tag, OK: ok})
	q.maybeDrain()
}

// Shutdown marks the queue: no new work is accepted, accepted work drains,
// and the terminal QueueShutdown event is delivered to every consumer that
// asks. Shutdown is idempotent.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	q.shutdown = true
	q.maybeDrain()
}

// Next blocks until an event is ready, the deadline elapses, or the queue
// finishes shutting down. A zero deadline blocks indefinitely.
func (q *Queue) Next(deadline time.Time) Event {
	return q.wait(nil, false, deadline)
}

// Pluck is Next restricted to events whose tag equals tag.
//
// At most one Pluck per distinct tag and at most MaxPluckers concurrent
// Pluck calls are permitted; violating either panics.
func (q *Queue) Pluck(tag interface{}, deadline time.Time) Event {
	q.mu.Lock()
	if _, dup := q.plucks[tag]; dup {
		q.mu.Unlock()
		panic("completion: overlapping Pluck calls for one tag")
	}
	if len(q.plucks) >= MaxPluckers {
		q.mu.Unlock()
		panic("completion: too many concurrent Pluck calls")
	}
	q.plucks[tag] = struct{}{}
	q.mu.Unlock()

	ev := q.wait(tag, true, deadline)

	q.mu.Lock()
	delete(q.plucks, tag)
	q.mu.Unlock()
	return ev
}

func (q *Queue) wait(tag interface{}, hasTag bool, deadline time.Time) Event {
	q.mu.Lock()
	if ev, ok := q.take(tag, hasTag); ok {
		q.mu.Unlock()
		return ev
	}
	if q.drained {
		q.mu.Unlock()
		return Event{Type: QueueShutdown}
	}
	w := &waiter{tag: tag, hasTag: hasTag, ch: make(chan Event, 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}

	select {
	case ev := <-w.ch:
		return ev
	case <-timeout:
	}

	// The deadline elapsed. An event may still have been handed to this
	// waiter before it could be withdrawn; prefer it over the timeout.
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return Event{Type: QueueTimeout}
		}
	}
	return <-w.ch
}

// take pops the first stored event visible to a consumer with the given tag
// filter. Callers hold q.mu.
func (q *Queue) take(tag interface{}, hasTag bool) (Event, bool) {
	for i, ev := range q.events {
		if hasTag && ev.Tag != tag {
			continue
		}
		q.events = append(q.events[:i], q.events[i+1:]...)
		return ev, true
	}
	return Event{}, false
}

// deliver hands the event to the first consumer that will accept it, or
// stores it. Callers hold q.mu.
func (q *Queue) deliver(ev Event) {
	for i, w := range q.waiters {
		if w.hasTag && w.tag != ev.Tag {
			continue
		}
		q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
		w.ch <- ev
		return
	}
	q.events = append(q.events, ev)
}

// maybeDrain finishes shutdown once no work is outstanding, releasing every
// blocked consumer with the terminal event. Callers hold q.mu.
func (q *Queue) maybeDrain() {
	if !q.shutdown || q.drained || q.pending > 0 {
		return
	}
	q.drained = true
	for _, w := range q.waiters {
		w.ch <- Event{Type: QueueShutdown}
	}
	q.waiters = nil
}
