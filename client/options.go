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

package client

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/loadbalance"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/zap"
)

// Option customizes a Client.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	scope   tally.Scope
	tracer  opentracing.Tracer
	clock   clockwork.Clock
	manager *resource.Manager
	codec   codec.Codec
	dialer  conn.Dialer
	lbOpts  []loadbalance.Option
}

// Logger sets the client's logger. The configured log level is applied on
// top of it.
func Logger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Scope sets the metrics scope.
func Scope(scope tally.Scope) Option {
	return func(o *options) { o.scope = scope }
}

// Tracer sets the tracer. Defaults to the global tracer.
func Tracer(tracer opentracing.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// Clock sets the clock used by timers, limiters and health decay.
func Clock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Manager shares a resource manager between clients and servers. The
// client registers its Stop as a shutdown hook. Without one the client
// owns a private manager and shuts it down on Stop.
func Manager(m *resource.Manager) Option {
	return func(o *options) { o.manager = m }
}

// Codec sets the protocol codec. Defaults to the framing codec.
func Codec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// Dialer sets how connections are dialed. Defaults to a net.Dialer.
func Dialer(d conn.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// BalancerOptions are passed to the load balancers the client builds.
func BalancerOptions(opts ...loadbalance.Option) Option {
	return func(o *options) { o.lbOpts = append(o.lbOpts, opts...) }
}

// CallOption customizes a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout  time.Duration
	retries  int
	balancer loadbalance.Type
}

// WithTimeout bounds the wait for each attempt's response.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithRetries sets how many times a retryable failure is attempted again.
func WithRetries(n int) CallOption {
	return func(o *callOptions) { o.retries = n }
}

// WithBalancer picks the endpoint with a balancer of type t instead of the
// configured one.
func WithBalancer(t loadbalance.Type) CallOption {
	return func(o *callOptions) { o.balancer = t }
}
