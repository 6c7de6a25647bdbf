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

// tokenBucket starts full and gains perInterval tokens every interval, up to
// size.
type tokenBucket struct {
	size        int64
	perInterval int64
	tokens      atomic.Int64
	timer       *timer.Recurring
}

func newTokenBucket(cfg Config, o options) *tokenBucket {
	b := &tokenBucket{perInterval: cfg.perInterval()}
	b.size = int64(cfg.BucketSize)
	if b.size <= 0 {
		b.size = b.perInterval
	}
	b.tokens.Store(b.size)
	b.timer = timer.NewRecurring("admission-bucket-refill", cfg.Interval, func() error {
		b.refill()
		return nil
	}, timer.Clock(o.clock), timer.Logger(o.logger))
	return b
}

func (b *tokenBucket) Allow(*codec.Request) bool {
	for {
		n := b.tokens.Load()
		if n <= 0 {
			return false
		}
		if b.tokens.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (b *tokenBucket) refill() {
	for {
		n := b.tokens.Load()
		next := n + b.perInterval
		if next > b.size {
			next = b.size
		}
		if n == next || b.tokens.CompareAndSwap(n, next) {
			return
		}
	}
}

func (b *tokenBucket) Start() error { return b.timer.Start() }
func (b *tokenBucket) Stop() error  { return b.timer.Stop() }
