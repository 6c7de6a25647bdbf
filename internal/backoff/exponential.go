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

// Package backoff computes jittered exponential delays for reconnect loops
// and retries.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
)

// Option configures an Exponential backoff.
type Option func(*options)

type options struct {
	first, max time.Duration
	source     rand.Source
}

func (o options) validate() (err error) {
	if o.first <= 0 {
		err = multierr.Append(err, errors.New("invalid first backoff, need greater than zero"))
	}
	if o.max < 0 {
		err = multierr.Append(err, errors.New("invalid max backoff, need greater than or equal to zero"))
	}
	if o.max < o.first {
		err = multierr.Append(err, errors.New("max backoff must be greater than or equal to first backoff"))
	}
	return err
}

var defaultOptions = options{
	first: 10 * time.Millisecond,
	max:   5 * time.Second,
}

// First sets the upper bound of the delay before the first retry. Each
// later attempt doubles the bound.
func First(d time.Duration) Option {
	return func(o *options) { o.first = d }
}

// Max caps every delay.
func Max(d time.Duration) Option {
	return func(o *options) { o.max = d }
}

// Source overrides the source of randomness, for tests.
func Source(src rand.Source) Option {
	return func(o *options) { o.source = src }
}

// Exponential is a "full jitter" exponential backoff: the delay for attempt
// n is uniformly drawn from [0, min(max, first*2^n)]. It is safe for
// concurrent use.
type Exponential struct {
	first, max time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponential builds an Exponential backoff.
func NewExponential(opts ...Option) (*Exponential, error) {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.source == nil {
		o.source = rand.NewSource(time.Now().UnixNano())
	}
	return &Exponential{
		first: o.first,
		max:   o.max,
		rand:  rand.New(o.source),
	}, nil
}

// Duration returns how long to wait after the given number of failed
// attempts.
func (e *Exponential) Duration(attempts uint) time.Duration {
	bound := e.first.Nanoseconds() << attempts
	// the shift overflowed or passed the cap
	if bound <= 0 || bound > e.max.Nanoseconds() || attempts >= 63 {
		bound = e.max.Nanoseconds()
	}

	e.mu.Lock()
	d := e.rand.Int63n(bound + 1)
	e.mu.Unlock()
	return time.Duration(d)
}

// Wait sleeps for the backoff of the given attempt on the clock, returning
// false if ctx ends first.
func (e *Exponential) Wait(ctx context.Context, clock clockwork.Clock, attempts uint) bool {
	timer := clock.NewTimer(e.Duration(attempts))
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
