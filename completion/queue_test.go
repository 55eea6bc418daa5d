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

package completion_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/corerpc/completion"
)

func shortDeadline() time.Time { return time.Now().Add(5 * time.Second) }

func TestNextDeliversInOrder(t *testing.T) {
	q := completion.New()
	require.NoError(t, q.BeginOp())
	require.NoError(t, q.BeginOp())
	q.EndOp("first", true)
	q.EndOp("second", false)

	ev := q.Next(shortDeadline())
	assert.Equal(t, completion.OpComplete, ev.Type)
	assert.Equal(t, "first", ev.Tag)
	assert.True(t, ev.OK)

	ev = q.Next(shortDeadline())
	assert.Equal(t, "second", ev.Tag)
	assert.False(t, ev.OK)
}

func TestNextTimesOut(t *testing.T) {
	q := completion.New()
	start := time.Now()
	ev := q.Next(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, completion.QueueTimeout, ev.Type)
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestNextBlocksUntilEvent(t *testing.T) {
	q := completion.New()
	require.NoError(t, q.BeginOp())
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.EndOp(42, true)
	}()
	ev := q.Next(shortDeadline())
	assert.Equal(t, completion.OpComplete, ev.Type)
	assert.Equal(t, 42, ev.Tag)
}

func TestTagIdentityPreserved(t *testing.T) {
	type key struct{ a, b uint64 }
	tag := key{a: 0xdeadbeefcafef00d, b: 0xffffffffffffffff}
	q := completion.New()
	require.NoError(t, q.BeginOp())
	q.EndOp(tag, true)
	ev := q.Next(shortDeadline())
	assert.Equal(t, tag, ev.Tag)
}

func TestPluckFiltersByTag(t *testing.T) {
	q := completion.New()
	require.NoError(t, q.BeginOp())
	require.NoError(t, q.BeginOp())
	q.EndOp("other", true)
	q.EndOp("wanted", true)

	ev := q.Pluck("wanted", shortDeadline())
	assert.Equal(t, completion.OpComplete, ev.Type)
	assert.Equal(t, "wanted", ev.Tag)

	// The unrelated event is still there for Next.
	ev = q.Next(shortDeadline())
	assert.Equal(t, "other", ev.Tag)
}

func TestPluckTimesOut(t *testing.T) {
	q := completion.New()
	ev := q.Pluck("never", time.Now().Add(20*time.Millisecond))
	assert.Equal(t, completion.QueueTimeout, ev.Type)
}

func TestOverlappingPluckPanics(t *testing.T) {
	q := completion.New()
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		close(started)
		q.Pluck("tag", shortDeadline())
		close(release)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	assert.Panics(t, func() { q.Pluck("tag", shortDeadline()) })

	require.NoError(t, q.BeginOp())
	q.EndOp("tag", true)
	<-release
}

func TestExactlyOneEventPerTag(t *testing.T) {
	// Many producers, many consumers: every tag is seen exactly once.
	const producers = 8
	const perProducer = 50

	q := completion.New()
	for i := 0; i < producers*perProducer; i++ {
		require.NoError(t, q.BeginOp())
	}

	for p := 0; p < producers; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				q.EndOp([2]int{p, i}, true)
			}
		}()
	}

	var mu sync.Mutex
	seen := make(map[interface{}]int)
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ev := q.Next(time.Now().Add(time.Second))
				if ev.Type != completion.OpComplete {
					return
				}
				mu.Lock()
				seen[ev.Tag]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, producers*perProducer)
	for tag, n := range seen {
		assert.Equal(t, 1, n, "tag %v delivered %d times", tag, n)
	}
}

func TestShutdownDrains(t *testing.T) {
	q := completion.New()
	require.NoError(t, q.BeginOp())
	q.Shutdown()

	// Shutdown is idempotent and accepted work still completes.
	q.Shutdown()
	assert.Equal(t, completion.ErrShutdown, q.BeginOp())

	q.EndOp("pending", true)
	ev := q.Next(shortDeadline())
	assert.Equal(t, completion.OpComplete, ev.Type)
	assert.Equal(t, "pending", ev.Tag)

	ev = q.Next(shortDeadline())
	assert.Equal(t, completion.QueueShutdown, ev.Type)

	// Terminal state is sticky.
	ev = q.Next(shortDeadline())
	assert.Equal(t, completion.QueueShutdown, ev.Type)
}

func TestShutdownReleasesBlockedConsumers(t *testing.T) {
	q := completion.New()
	done := make(chan completion.Event, 2)
	go func() { done <- q.Next(shortDeadline()) }()
	go func() { done <- q.Pluck("tag", shortDeadline()) }()
	time.Sleep(10 * time.Millisecond)

	q.Shutdown()
	for i := 0; i < 2; i++ {
		ev := <-done
		assert.Equal(t, completion.QueueShutdown, ev.Type)
	}
}

func TestEndOpWithoutBeginPanics(t *testing.T) {
	q := completion.New()
	assert.Panics(t, func() { q.EndOp("tag", true) })
}
