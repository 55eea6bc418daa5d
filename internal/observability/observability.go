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

// Package observability aggregates the engine's counters. Metrics are
// optional: a nil scope yields a recorder whose increments are no-ops.
package observability

import (
	"go.uber.org/net/metrics"
	"go.uber.org/zap"
)

// Recorder counts engine activity for one channel or server.
type Recorder struct {
	callsStarted   *metrics.Counter
	callsCompleted *metrics.Counter
	batchesStarted *metrics.Counter
	callsRefused   *metrics.Counter
}

// NewRecorder builds a recorder on the given scope. Counter registration
// failures are logged and leave the individual counter disabled.
func NewRecorder(logger *zap.Logger, meter *metrics.Scope, direction string) *Recorder {
	r := &Recorder{}
	if meter == nil {
		return r
	}
	tags := metrics.Tags{"direction": direction}

	var err error
	r.callsStarted, err = meter.Counter(metrics.Spec{
		Name:      "calls_started",
		Help:      "Total number of calls created.",
		ConstTags: tags,
	})
	if err != nil {
		logger.Error("Failed to create calls_started counter.", zap.Error(err))
	}
	r.callsCompleted, err = meter.Counter(metrics.Spec{
		Name:      "calls_completed",
		Help:      "Number of calls that reached a terminal status.",
		ConstTags: tags,
	})
	if err != nil {
		logger.Error("Failed to create calls_completed counter.", zap.Error(err))
	}
	r.batchesStarted, err = meter.Counter(metrics.Spec{
		Name:      "batches_started",
		Help:      "Number of accepted operation batches.",
		ConstTags: tags,
	})
	if err != nil {
		logger.Error("Failed to create batches_started counter.", zap.Error(err))
	}
	r.callsRefused, err = meter.Counter(metrics.Spec{
		Name:      "calls_refused",
		Help:      "Number of incoming calls refused for lack of capacity.",
		ConstTags: tags,
	})
	if err != nil {
		logger.Error("Failed to create calls_refused counter.", zap.Error(err))
	}
	return r
}

// CallStarted counts a created or accepted call.
func (r *Recorder) CallStarted() { inc(r.callsStarted) }

// CallCompleted counts a call reaching its terminal status.
func (r *Recorder) CallCompleted() { inc(r.callsCompleted) }

// BatchStarted counts an accepted operation batch.
func (r *Recorder) BatchStarted() { inc(r.batchesStarted) }

// CallRefused counts an incoming call refused for lack of capacity.
func (r *Recorder) CallRefused() { inc(r.callsRefused) }

func inc(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}
