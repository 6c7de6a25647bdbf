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
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/rpcrt/admission"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/loadbalance"
	"go.uber.org/rpcrt/peer"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

const _statusCodeTag = "rpc.status_code"

// Callback receives the outcome of CallAsync.
type Callback func(payload []byte, err error)

// Future is the pending result of Go.
type Future struct {
	done    chan struct{}
	payload []byte
	err     error
}

// Done is closed once the call resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (f *Future) Result() ([]byte, error) { return f.payload, f.err }

// Wait blocks until the call resolves or ctx ends. Ending ctx does not
// cancel the call; cancel the context the call was made with for that.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, rpcerrors.CancelledErrorf("stopped waiting for call: %v", ctx.Err())
	}
}

// Call sends payload to method and waits for the response payload.
func (c *Client) Call(ctx context.Context, method string, payload []byte, opts ...CallOption) ([]byte, error) {
	f, err := c.Go(ctx, method, payload, opts...)
	if err != nil {
		return nil, err
	}
	<-f.done
	return f.payload, f.err
}

// CallAsync sends payload to method and runs cb on the client's work pool
// once the call resolves. A returned error means the call was not sent and
// cb will not run.
func (c *Client) CallAsync(ctx context.Context, method string, payload []byte, cb Callback, opts ...CallOption) error {
	if cb == nil {
		return rpcerrors.InvalidArgumentErrorf("nil callback for %q", method)
	}
	_, err := c.begin(ctx, method, payload, cb, opts)
	return err
}

// Go sends payload to method without waiting. Errors that prevent the call
// from starting, such as admission rejection, are returned directly; every
// other outcome is reported by the future.
func (c *Client) Go(ctx context.Context, method string, payload []byte, opts ...CallOption) (*Future, error) {
	return c.begin(ctx, method, payload, nil, opts)
}

// outboundCall is one logical call across all of its attempts.
type outboundCall struct {
	c        *Client
	ctx      context.Context
	req      codec.Request
	opts     callOptions
	balancer loadbalance.Balancer
	span     opentracing.Span
	start    time.Time
	cb       Callback
	future   *Future

	mu       sync.Mutex
	tried    loadbalance.Tried
	attempts int
}

func (c *Client) begin(ctx context.Context, method string, payload []byte, cb Callback, opts []CallOption) (*Future, error) {
	if !c.once.IsRunning() {
		return nil, rpcerrors.FailedPreconditionErrorf("client of %v is not running", c.service)
	}
	if method == "" {
		return nil, rpcerrors.InvalidArgumentErrorf("call to %v without a method", c.service)
	}

	o := callOptions{
		timeout:  c.cfg.ReadTimeout(),
		retries:  c.cfg.Retries,
		balancer: c.cfg.LoadBalanceType,
	}
	for _, opt := range opts {
		opt(&o)
	}
	balancer := c.balancer
	if o.balancer != c.cfg.LoadBalanceType {
		b, err := c.balancerOf(o.balancer)
		if err != nil {
			return nil, err
		}
		balancer = b
	}

	call := &outboundCall{
		c:        c,
		req:      codec.Request{Service: c.service.Name, Method: method, Payload: payload},
		opts:     o,
		balancer: balancer,
		start:    c.opts.clock.Now(),
		cb:       cb,
		future:   &Future{done: make(chan struct{})},
		tried:    make(loadbalance.Tried),
	}
	c.metrics.calls.Inc(1)

	if !c.limiter.Allow(&call.req) {
		c.metrics.rejected.Inc(1)
		return nil, rpcerrors.AdmissionRejectedErrorf("call to %v::%v rejected by the %v limiter",
			c.service, method, c.cfg.CurrentLimitType)
	}

	call.ctx, call.span = c.startSpan(ctx, &call.req, call.start)
	call.next()
	return call.future, nil
}

func (c *Client) startSpan(ctx context.Context, req *codec.Request, start time.Time) (context.Context, opentracing.Span) {
	var parent opentracing.SpanContext
	if parentSpan := opentracing.SpanFromContext(ctx); parentSpan != nil {
		parent = parentSpan.Context()
	}
	span := c.opts.tracer.StartSpan(
		req.Method,
		opentracing.StartTime(start),
		opentracing.ChildOf(parent),
		opentracing.Tags{
			"rpc.service": req.Service,
			"rpc.codec":   c.opts.codec.Name(),
		},
	)
	ext.PeerService.Set(span, req.Service)
	ext.SpanKindRPCClient.Set(span)
	return opentracing.ContextWithSpan(ctx, span), span
}

// pick selects the peer of the next attempt.
func (oc *outboundCall) pick() (*peer.Peer, error) {
	candidates := oc.c.peers.Candidates()
	if len(candidates) == 0 {
		return nil, rpcerrors.NoEndpointErrorf("no endpoint available for %v", oc.c.service)
	}
	oc.mu.Lock()
	defer oc.mu.Unlock()
	chosen := oc.balancer.Select(candidates, oc.tried)
	if chosen == nil {
		return nil, rpcerrors.NoEndpointErrorf("no endpoint available for %v", oc.c.service)
	}
	oc.tried.Add(chosen.Identifier())
	return chosen.(*peer.Peer), nil
}

func (oc *outboundCall) next() {
	p, err := oc.pick()
	if err != nil {
		oc.finish(nil, err)
		return
	}
	req := oc.req
	pc, err := p.Go(oc.ctx, &req, oc.opts.timeout)
	if err != nil {
		oc.onResult(p, nil, err)
		return
	}
	pc.OnComplete(func(res *codec.Response, err error) {
		oc.onResult(p, res, err)
	})
}

func (oc *outboundCall) onResult(p *peer.Peer, res *codec.Response, err error) {
	if err != nil && oc.retry(p, err) {
		oc.next()
		return
	}
	var payload []byte
	if res != nil {
		payload = res.Payload
	}
	oc.finish(payload, err)
}

// retry reports whether another attempt should be made after err.
func (oc *outboundCall) retry(p *peer.Peer, err error) bool {
	code := rpcerrors.ErrorCode(err)
	if !rpcerrors.IsRetryable(code) || oc.ctx.Err() != nil {
		return false
	}
	oc.mu.Lock()
	if oc.attempts >= oc.opts.retries {
		oc.mu.Unlock()
		return false
	}
	oc.attempts++
	attempt := oc.attempts
	oc.mu.Unlock()

	oc.c.metrics.retries.Inc(1)
	oc.c.logger.Debug("retrying call",
		zap.String("method", oc.req.Method),
		zap.String("peer", p.Identifier()),
		zap.Int("attempt", attempt),
		zap.Error(err))
	return true
}

func (oc *outboundCall) finish(payload []byte, err error) {
	c := oc.c
	if r, ok := c.limiter.(admission.Releaser); ok {
		r.Release(&oc.req)
	}

	elapsed := c.opts.clock.Since(oc.start)
	c.metrics.latency.Record(elapsed)
	if err == nil {
		c.metrics.successes.Inc(1)
	} else {
		code := rpcerrors.ErrorCode(err)
		c.metrics.failure(code).Inc(1)
		ext.Error.Set(oc.span, true)
		oc.span.SetTag(_statusCodeTag, code.String())
	}
	oc.span.Finish()

	f := oc.future
	f.payload, f.err = payload, err
	close(f.done)

	if oc.cb == nil {
		return
	}
	cb := func() { oc.cb(payload, err) }
	if serr := c.pools.Work.Submit(cb); serr != nil {
		cb()
	}
}
