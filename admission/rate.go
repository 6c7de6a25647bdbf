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
	"go.uber.org/rpcrt/api/codec"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// smoothRate refills continuously instead of once per interval.
type smoothRate struct {
	limiter *rate.Limiter
}

func newSmoothRate(cfg Config) *smoothRate {
	burst := cfg.BucketSize
	if burst <= 0 {
		burst = int(cfg.perInterval())
	}
	return &smoothRate{limiter: rate.NewLimiter(rate.Limit(cfg.MaxQPS), burst)}
}

func (r *smoothRate) Allow(*codec.Request) bool { return r.limiter.Allow() }
func (r *smoothRate) Start() error              { return nil }
func (r *smoothRate) Stop() error               { return nil }

// inFlight caps concurrent calls. Admitted calls hold a slot until Release.
type inFlight struct {
	sem *semaphore.Weighted
}

func newInFlight(cfg Config) *inFlight {
	return &inFlight{sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent))}
}

func (f *inFlight) Allow(*codec.Request) bool { return f.sem.TryAcquire(1) }
func (f *inFlight) Release(*codec.Request)    { f.sem.Release(1) }
func (f *inFlight) Start() error              { return nil }
func (f *inFlight) Stop() error               { return nil }
