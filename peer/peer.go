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

// Package peer implements the per-endpoint communication client: the channel
// and correlation table used to reach one endpoint, plus the health signals
// load balancers read.
package peer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/api/endpoint"
	"go.uber.org/rpcrt/channel"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/connpool"
	"go.uber.org/rpcrt/dispatch"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

// DefaultLatencyWindow is the number of recent latencies averaged.
const DefaultLatencyWindow = 50

// Config describes how a peer reaches its endpoint.
type Config struct {
	ChannelType    channel.Type
	Pool           connpool.Config
	ConnectTimeout time.Duration
	Codec          codec.Codec
	Dialer         conn.Dialer

	// LatencyWindow is the number of latencies kept for the average.
	LatencyWindow int
	// FailureHalfLife decays the failure score. Zero disables decay, making
	// the score equal to the failure count.
	FailureHalfLife time.Duration
}

// Option customizes a Peer.
type Option func(*options)

type options struct {
	clock       clockwork.Clock
	logger      *zap.Logger
	ioExecutor  conn.Executor
	callbackExe conn.Executor
	channelOpts []channel.Option
}

// Clock sets the clock of the peer.
func Clock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Logger sets the logger of the peer.
func Logger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// IOExecutor runs decoded responses.
func IOExecutor(e conn.Executor) Option {
	return func(o *options) { o.ioExecutor = e }
}

// CallbackExecutor runs asynchronous call callbacks.
func CallbackExecutor(e conn.Executor) Option {
	return func(o *options) { o.callbackExe = e }
}

// ChannelOptions are passed through to the peer's channel.
func ChannelOptions(opts ...channel.Option) Option {
	return func(o *options) { o.channelOpts = append(o.channelOpts, opts...) }
}

// Peer is the client side of one endpoint.
type Peer struct {
	endpoint endpoint.Endpoint
	channel  channel.Channel
	table    *dispatch.Table
	clock    clockwork.Clock
	logger   *zap.Logger

	failed  atomic.Int64
	pending atomic.Int32
	closed  atomic.Bool

	mu       sync.Mutex
	window   []time.Duration
	next     int
	filled   int
	halfLife time.Duration
	score    float64
	scoredAt time.Time
}

// New builds a peer for ep. No connection is made until the first call.
func New(ep endpoint.Endpoint, cfg Config, opts ...Option) (*Peer, error) {
	o := options{clock: clockwork.NewRealClock(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Codec == nil {
		return nil, rpcerrors.InvalidArgumentErrorf("peer %v needs a codec", ep)
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = DefaultLatencyWindow
	}
	logger := o.logger.With(zap.String("peer", ep.Identifier()))

	p := &Peer{
		endpoint: ep,
		clock:    o.clock,
		logger:   logger,
		window:   make([]time.Duration, cfg.LatencyWindow),
		halfLife: cfg.FailureHalfLife,
	}
	p.table = dispatch.NewTable(cfg.Codec,
		dispatch.Clock(o.clock),
		dispatch.Logger(logger),
		dispatch.WithObserver(p.Record),
		dispatch.WithExecutor(o.callbackExe),
	)

	connOpts := []conn.Option{conn.WithLogger(logger)}
	if o.ioExecutor != nil {
		connOpts = append(connOpts, conn.WithExecutor(o.ioExecutor))
	}
	factory := conn.NewFactory(cfg.Dialer, ep.Identifier(), cfg.ConnectTimeout, p.table, connOpts...)

	chOpts := append([]channel.Option{channel.Clock(o.clock), channel.Logger(logger)}, o.channelOpts...)
	switch cfg.ChannelType {
	case channel.Pooled, 0:
		p.channel = channel.NewPooled(factory, cfg.Pool, chOpts...)
	case channel.Single:
		p.channel = channel.NewSingle(factory, chOpts...)
	case channel.Short:
		p.channel = channel.NewShort(factory)
	default:
		return nil, rpcerrors.InvalidArgumentErrorf("unknown channel type %v", cfg.ChannelType)
	}
	return p, nil
}

// Endpoint returns the endpoint the peer reaches.
func (p *Peer) Endpoint() endpoint.Endpoint { return p.endpoint }

// Identifier returns the endpoint's host:port.
func (p *Peer) Identifier() string { return p.endpoint.Identifier() }

// Channel returns the peer's channel.
func (p *Peer) Channel() channel.Channel { return p.channel }

// Call sends req and waits for its response.
func (p *Peer) Call(ctx context.Context, req *codec.Request, timeout time.Duration) (*codec.Response, error) {
	if p.closed.Load() {
		return nil, rpcerrors.ChannelClosedErrorf("peer %v is closed", p.Identifier())
	}
	p.pending.Inc()
	defer p.pending.Dec()
	pc, err := dispatch.Go(ctx, p.channel, p.table, req, timeout)
	if err != nil {
		p.Record(0, err)
		return nil, err
	}
	<-pc.Done()
	return pc.Result()
}

// Go sends req without waiting for the response.
func (p *Peer) Go(ctx context.Context, req *codec.Request, timeout time.Duration) (*dispatch.PendingCall, error) {
	if p.closed.Load() {
		return nil, rpcerrors.ChannelClosedErrorf("peer %v is closed", p.Identifier())
	}
	p.pending.Inc()
	pc, err := dispatch.Go(ctx, p.channel, p.table, req, timeout)
	if err != nil {
		// The call never reached the table, so its observer did not see it.
		p.pending.Dec()
		p.Record(0, err)
		return nil, err
	}
	pc.OnComplete(func(*codec.Response, error) { p.pending.Dec() })
	return pc, nil
}

// Record feeds the outcome of a call into the peer's health. Failures of the
// endpoint or the connection count against it; answered calls, including
// remote application errors, add to the latency window.
func (p *Peer) Record(latency time.Duration, err error) {
	code := rpcerrors.ErrorCode(err)
	if rpcerrors.IsRetryable(code) || code == rpcerrors.CodeProtocolDecode {
		p.recordFailure()
		return
	}
	if code != rpcerrors.CodeOK && code != rpcerrors.CodeRemote {
		return
	}

	p.mu.Lock()
	p.window[p.next] = latency
	p.next = (p.next + 1) % len(p.window)
	if p.filled < len(p.window) {
		p.filled++
	}
	p.mu.Unlock()
}

func (p *Peer) recordFailure() {
	p.failed.Inc()
	if p.halfLife <= 0 {
		return
	}
	now := p.clock.Now()
	p.mu.Lock()
	p.score = p.decayedLocked(now) + 1
	p.scoredAt = now
	p.mu.Unlock()
}

func (p *Peer) decayedLocked(now time.Time) float64 {
	if p.score == 0 {
		return 0
	}
	elapsed := now.Sub(p.scoredAt)
	return p.score * math.Exp2(-float64(elapsed)/float64(p.halfLife))
}

// FailedCount returns the number of failures ever recorded. It never
// decreases.
func (p *Peer) FailedCount() int64 { return p.failed.Load() }

// FailureScore is the weight balancers penalize: the failure count, or its
// exponentially decayed form when a half-life is configured.
func (p *Peer) FailureScore() float64 {
	if p.halfLife <= 0 {
		return float64(p.failed.Load())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decayedLocked(p.clock.Now())
}

// AverageLatency is the mean of the latency window, zero when empty.
func (p *Peer) AverageLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.filled; i++ {
		sum += p.window[i]
	}
	return sum / time.Duration(p.filled)
}

// ActiveConnections is the number of connections currently carrying calls.
func (p *Peer) ActiveConnections() int {
	return p.channel.Stats().Active
}

// Pending is the number of calls in flight.
func (p *Peer) Pending() int { return int(p.pending.Load()) }

// SetMaxConnections adjusts the connection ceiling of pooled peers.
func (p *Peer) SetMaxConnections(n int) {
	if pooled, ok := p.channel.(*channel.PooledChannel); ok {
		pooled.SetMaxConnections(n)
	}
}

// Prewarm opens the pool's minimum idle connections.
func (p *Peer) Prewarm(ctx context.Context) error {
	if pooled, ok := p.channel.(*channel.PooledChannel); ok {
		return pooled.Prewarm(ctx)
	}
	return nil
}

// IsClosed returns whether Close was called.
func (p *Peer) IsClosed() bool { return p.closed.Load() }

// Close fails outstanding calls and closes the channel. It is idempotent.
func (p *Peer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.table.Close()
	return p.channel.Close()
}
