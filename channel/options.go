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

package channel

import (
	"github.com/jonboulle/clockwork"
	"github.com/uber-go/tally"
	"go.uber.org/rpcrt/internal/backoff"
	"go.uber.org/zap"
)

// Option customizes a channel.
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	logger  *zap.Logger
	scope   tally.Scope
	backoff *backoff.Exponential
}

func newOptions(opts []Option) options {
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
		scope:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backoff == nil {
		o.backoff, _ = backoff.NewExponential()
	}
	return o
}

// Clock sets the clock for idle ageing and reconnect backoff.
func Clock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Logger sets the channel's logger.
func Logger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Scope sets the metrics scope of pooled channels.
func Scope(scope tally.Scope) Option {
	return func(o *options) { o.scope = scope }
}

// ReconnectBackoff sets the backoff between reconnect attempts of single
// channels.
func ReconnectBackoff(b *backoff.Exponential) Option {
	return func(o *options) { o.backoff = b }
}
