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

// Package timer provides a cancelable fixed-delay recurring task.
package timer

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/rpcrt/pkg/lifecycle"
	"go.uber.org/zap"
)

// Option customizes a Recurring task.
type Option func(*Recurring)

// Clock sets the clock driving the task.
func Clock(clock clockwork.Clock) Option {
	return func(r *Recurring) { r.clock = clock }
}

// Logger sets the logger for task failures.
func Logger(logger *zap.Logger) Option {
	return func(r *Recurring) { r.logger = logger }
}

// Recurring runs a task repeatedly with a fixed delay between the end of one
// run and the start of the next. The owner starts and stops it; a failing or
// panicking run is logged and does not cancel later runs.
type Recurring struct {
	name     string
	interval time.Duration
	task     func() error

	clock  clockwork.Clock
	logger *zap.Logger
	once   *lifecycle.Once
	stop   chan struct{}
	done   chan struct{}
}

// NewRecurring builds a stopped recurring task.
func NewRecurring(name string, interval time.Duration, task func() error, opts ...Option) *Recurring {
	r := &Recurring{
		name:     name,
		interval: interval,
		task:     task,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		once:     lifecycle.NewOnce(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("timer", name))
	return r
}

// Name returns the name of the task.
func (r *Recurring) Name() string { return r.name }

// Interval returns the delay between runs.
func (r *Recurring) Interval() time.Duration { return r.interval }

// Start schedules the first run one interval from now.
func (r *Recurring) Start() error {
	return r.once.Start(func() error {
		if r.interval <= 0 {
			return fmt.Errorf("timer %q needs a positive interval, got %v", r.name, r.interval)
		}
		go r.loop()
		return nil
	})
}

// Stop cancels future runs and waits for a run in progress to finish.
// Stop is idempotent and safe to call on a task that never started.
func (r *Recurring) Stop() error {
	return r.once.Stop(func() error {
		close(r.stop)
		<-r.done
		return nil
	})
}

// IsRunning returns whether the task is scheduled.
func (r *Recurring) IsRunning() bool { return r.once.IsRunning() }

func (r *Recurring) loop() {
	defer close(r.done)

	t := r.clock.NewTimer(r.interval)
	defer t.Stop()
	for {
		select {
		case <-t.Chan():
			r.run()
			t.Reset(r.interval)
		case <-r.stop:
			return
		}
	}
}

func (r *Recurring) run() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recurring task panicked", zap.Any("panic", p))
		}
	}()
	if err := r.task(); err != nil {
		r.logger.Warn("recurring task failed", zap.Error(err))
	}
}
