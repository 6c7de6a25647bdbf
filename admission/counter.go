// Copyright (c) 2026 Uber Technologies, Inc.
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

package admission

import (
	"go.uber.org/atomic"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/internal/timer"
)

// fixedCounter admits up to threshold calls between resets.
type fixedCounter struct {
	threshold int64
	count     atomic.Int64
	timer     *timer.Recurring
}

func newFixedCounter(cfg Config, o options) *fixedCounter {
	c := &fixedCounter{threshold: cfg.perInterval()}
	c.timer = timer.NewRecurring("admission-counter-reset", cfg.Interval, func() error {
		c.reset()
		return nil
	}, timer.Clock(o.clock), timer.Logger(o.logger))
	return c
}

func (c *fixedCounter) Allow(*codec.Request) bool {
	return c.count.Inc() <= c.threshold
}

func (c *fixedCounter) reset() { c.count.Store(0) }

func (c *fixedCounter) Start() error { return c.timer.Start() }
func (c *fixedCounter) Stop() error  { return c.timer.Stop() }
