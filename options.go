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
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/corerpc/internal/clock"
	"go.uber.org/net/metrics"
	"go.uber.org/zap"
)

const (
	defaultAcceptBacklog = 32
	defaultGracePeriod   = 5 * time.Second
)

// Option configures a Channel or a Server. Options that only apply to one
// of the two are no-ops on the other.
type Option interface {
	applyChannel(*channelOptions)
	applyServer(*serverOptions)
}

type channelOptions struct {
	logger *zap.Logger
	tracer opentracing.Tracer
	meter  *metrics.Scope
	clk    clock.Clock
}

type serverOptions struct {
	logger  *zap.Logger
	tracer  opentracing.Tracer
	meter   *metrics.Scope
	clk     clock.Clock
	backlog int
	grace   time.Duration
}

func defaultChannelOptions() channelOptions {
	return channelOptions{logger: zap.NewNop(), clk: clock.NewReal()}
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		logger:  zap.NewNop(),
		clk:     clock.NewReal(),
		backlog: defaultAcceptBacklog,
		grace:   defaultGracePeriod,
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return loggerOption{logger}
}

type loggerOption struct{ logger *zap.Logger }

func (o loggerOption) applyChannel(c *channelOptions) { c.logger = o.logger }
func (o loggerOption) applyServer(s *serverOptions)   { s.logger = o.logger }

// WithTracer enables tracing: a span per call, from creation to terminal
// status, with context propagated in initial metadata.
func WithTracer(tracer opentracing.Tracer) Option {
	return tracerOption{tracer}
}

type tracerOption struct{ tracer opentracing.Tracer }

func (o tracerOption) applyChannel(c *channelOptions) { c.tracer = o.tracer }
func (o tracerOption) applyServer(s *serverOptions)   { s.tracer = o.tracer }

// WithMeter enables call and batch counters on the given metrics scope.
func WithMeter(meter *metrics.Scope) Option {
	return meterOption{meter}
}

type meterOption struct{ meter *metrics.Scope }

func (o meterOption) applyChannel(c *channelOptions) { c.meter = o.meter }
func (o meterOption) applyServer(s *serverOptions)   { s.meter = o.meter }

// WithAcceptBacklog bounds incoming streams queued while no RequestCall is
// outstanding; overflow is refused with UNAVAILABLE. Server only.
func WithAcceptBacklog(n int) Option {
	return backlogOption{n}
}

type backlogOption struct{ n int }

func (o backlogOption) applyChannel(*channelOptions) {}
func (o backlogOption) applyServer(s *serverOptions) {
	if o.n > 0 {
		s.backlog = o.n
	}
}

// WithGracePeriod sets how long ShutdownAndNotify waits for in-flight calls
// before cancelling them. Server only.
func WithGracePeriod(d time.Duration) Option {
	return graceOption{d}
}

type graceOption struct{ d time.Duration }

func (o graceOption) applyChannel(*channelOptions) {}
func (o graceOption) applyServer(s *serverOptions) {
	if o.d >= 0 {
		s.grace = o.d
	}
}

// withClock swaps the deadline clock; tests use it to drive expiry without
// sleeping.
func withClock(clk clock.Clock) Option {
	return clockOption{clk}
}

type clockOption struct{ clk clock.Clock }

func (o clockOption) applyChannel(c *channelOptions) { c.clk = o.clk }
func (o clockOption) applyServer(s *serverOptions)   { s.clk = o.clk }
