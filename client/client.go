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

// Package client is the caller side of the runtime. A Client keeps one peer
// per discovered endpoint of a service, admits calls through its limiter,
// picks a peer with its load balancer and retries transient failures on
// other peers.
//
//	c, err := client.New(cfg, registry)
//	if err != nil {
//		return err
//	}
//	if err := c.Start(); err != nil {
//		return err
//	}
//	defer c.Stop()
//
//	res, err := c.Call(ctx, "echo", payload)
package client

import (
	"context"
	"net"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/rpcrt/admission"
	"go.uber.org/rpcrt/api/endpoint"
	"go.uber.org/rpcrt/channel"
	"go.uber.org/rpcrt/codec/framing"
	"go.uber.org/rpcrt/config"
	"go.uber.org/rpcrt/discovery/static"
	"go.uber.org/rpcrt/internal/backoff"
	"go.uber.org/rpcrt/loadbalance"
	"go.uber.org/rpcrt/peer"
	"go.uber.org/rpcrt/peerlist"
	"go.uber.org/rpcrt/pkg/lifecycle"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

// Client calls one service.
type Client struct {
	cfg      config.Client
	service  endpoint.ServiceDescriptor
	registry endpoint.Registry
	once     *lifecycle.Once
	opts     options
	logger   *zap.Logger
	metrics  *metrics

	manager     *resource.Manager
	ownsManager bool

	limiter   admission.Limiter
	balancer  loadbalance.Balancer
	peers     *peerlist.List
	reconnect *backoff.Exponential

	balancersMu sync.Mutex
	balancers   map[loadbalance.Type]loadbalance.Balancer

	pools     *resource.Pools
	cancelSub func()
	// undo registrations on a shared manager
	untrack    func()
	unregister func()
}

// New builds a stopped client. When registry is nil the configured
// endpoints seed a static registry.
func New(cfg config.Client, registry endpoint.Registry, opts ...Option) (*Client, error) {
	o := options{
		logger: zap.NewNop(),
		scope:  tally.NoopScope,
		clock:  clockwork.NewRealClock(),
		dialer: &net.Dialer{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = opentracing.GlobalTracer()
	}
	if o.codec == nil {
		o.codec = framing.New(0)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	service := endpoint.ServiceDescriptor{Name: cfg.Service, Group: cfg.Group, Version: cfg.Version}
	if registry == nil {
		if len(cfg.Endpoints) == 0 {
			return nil, rpcerrors.InvalidArgumentErrorf("client of %v needs a registry or endpoints", service)
		}
		r, err := static.FromHostPorts(service, cfg.Endpoints...)
		if err != nil {
			return nil, rpcerrors.InvalidArgumentErrorf("invalid endpoints for %v: %v", service, err)
		}
		registry = r
	}

	logger := o.logger
	if logger.Core().Enabled(cfg.Level()) {
		logger = logger.WithOptions(zap.IncreaseLevel(cfg.Level()))
	}
	logger = logger.With(zap.String("service", service.String()))
	scope := o.scope.Tagged(map[string]string{"service": cfg.Service})

	c := &Client{
		cfg:       cfg,
		service:   service,
		registry:  registry,
		once:      lifecycle.NewOnce(),
		opts:      o,
		logger:    logger,
		metrics:   newMetrics(scope),
		manager:   o.manager,
		balancers: make(map[loadbalance.Type]loadbalance.Balancer),
	}
	if c.manager == nil {
		c.manager = resource.NewManager(resource.Logger(logger))
		c.ownsManager = true
	}

	var err error
	if c.balancer, err = c.balancerOf(cfg.LoadBalanceType); err != nil {
		return nil, err
	}
	c.limiter, err = admission.New(cfg.LimiterConfig(),
		admission.Clock(o.clock),
		admission.Logger(logger),
		admission.Scope(scope),
	)
	if err != nil {
		return nil, err
	}
	c.reconnect, err = backoff.NewExponential(
		backoff.First(cfg.ReconnectBase()),
		backoff.Max(cfg.ReconnectMax()),
	)
	if err != nil {
		return nil, rpcerrors.InvalidArgumentErrorf("invalid reconnect backoff: %v", err)
	}
	c.peers = peerlist.New(service.String(), c.newPeer, peerlist.Logger(logger))
	return c, nil
}

// Service returns the service the client calls.
func (c *Client) Service() endpoint.ServiceDescriptor { return c.service }

// Peers returns the client's peer list.
func (c *Client) Peers() *peerlist.List { return c.peers }

// Limiter returns the admission controller.
func (c *Client) Limiter() admission.Limiter { return c.limiter }

// IsRunning returns whether the client is started.
func (c *Client) IsRunning() bool { return c.once.IsRunning() }

func (c *Client) balancerOf(t loadbalance.Type) (loadbalance.Balancer, error) {
	c.balancersMu.Lock()
	defer c.balancersMu.Unlock()
	if b, ok := c.balancers[t]; ok {
		return b, nil
	}
	b, err := loadbalance.New(t, c.opts.lbOpts...)
	if err != nil {
		return nil, err
	}
	c.balancers[t] = b
	return b, nil
}

func (c *Client) newPeer(ep endpoint.Endpoint) (*peer.Peer, error) {
	cfg := peer.Config{
		ChannelType:     c.cfg.ChannelType,
		Pool:            c.cfg.PoolConfig(),
		ConnectTimeout:  c.cfg.ConnectTimeout(),
		Codec:           c.opts.codec,
		Dialer:          c.opts.dialer,
		LatencyWindow:   c.cfg.LatencyWindowSize,
		FailureHalfLife: c.cfg.FailureHalfLife(),
	}
	p, err := peer.New(ep, cfg,
		peer.Clock(c.opts.clock),
		peer.Logger(c.logger),
		peer.IOExecutor(c.pools.IO),
		peer.CallbackExecutor(c.pools.Work),
		peer.ChannelOptions(
			channel.Scope(c.opts.scope.Tagged(map[string]string{"peer": ep.Identifier()})),
			channel.ReconnectBackoff(c.reconnect),
		),
	)
	if err != nil {
		return nil, err
	}
	if c.cfg.ChannelType == channel.Pooled && c.cfg.MinIdleConnections > 0 {
		c.prewarm(p)
	}
	return p, nil
}

// prewarm opens the peer's minimum idle connections in the background,
// bounded by the connect timeout.
func (c *Client) prewarm(p *peer.Peer) {
	warm := func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout())
		defer cancel()
		if err := p.Prewarm(ctx); err != nil && !p.IsClosed() {
			c.logger.Warn("failed to open idle connections",
				zap.String("peer", p.Identifier()),
				zap.Int("minIdle", c.cfg.MinIdleConnections),
				zap.Error(err))
		}
	}
	if err := c.pools.Work.Submit(warm); err != nil {
		c.logger.Debug("skipping prewarm", zap.String("peer", p.Identifier()), zap.Error(err))
	}
}

// Start retains the worker pools, starts the limiter, subscribes to the
// registry and opens a peer per known endpoint.
func (c *Client) Start() error {
	return c.once.Start(c.start)
}

func (c *Client) start() error {
	pools, err := resource.ClientPools(c.manager, c.service.Name, c.cfg.SharedThreadPool,
		c.cfg.IOThreadNum, c.cfg.WorkThreadNum)
	if err != nil {
		return err
	}
	c.pools = pools

	if err := c.limiter.Start(); err != nil {
		return multierr.Append(err, c.pools.Release())
	}
	untrack := c.manager.TrackTimer(c.limiter)

	cancel, err := c.registry.Subscribe(c.service, c.onUpdates)
	if err != nil {
		untrack()
		return multierr.Combine(err, c.limiter.Stop(), c.pools.Release())
	}
	c.cancelSub = cancel

	ctx, done := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout())
	defer done()
	eps, err := c.registry.Lookup(ctx, c.service)
	if err != nil {
		cancel()
		untrack()
		return multierr.Combine(err, c.limiter.Stop(), c.pools.Release())
	}
	if err := c.peers.Replace(eps); err != nil {
		c.logger.Warn("failed to apply initial endpoints", zap.Error(err))
	}
	if err := c.peers.Start(); err != nil {
		cancel()
		untrack()
		return multierr.Combine(err, c.limiter.Stop(), c.pools.Release())
	}

	c.untrack = untrack
	c.unregister = func() {}
	if !c.ownsManager {
		c.unregister = c.manager.RegisterShutdownHook(c.Stop)
	}
	c.logger.Info("client started", zap.Int("endpoints", len(eps)))
	return nil
}

func (c *Client) onUpdates(u endpoint.Updates) {
	if err := c.peers.Update(u); err != nil {
		c.logger.Warn("failed to apply endpoint updates", zap.Error(err))
	}
}

// Stop cancels the discovery subscription, closes every peer, stops the
// limiter and releases the worker pools. It is idempotent.
func (c *Client) Stop() error {
	return c.once.Stop(c.stop)
}

func (c *Client) stop() error {
	c.cancelSub()
	c.unregister()
	c.untrack()

	err := c.peers.Stop()
	err = multierr.Append(err, c.limiter.Stop())
	err = multierr.Append(err, c.pools.Release())
	if c.ownsManager {
		err = multierr.Append(err, c.manager.Shutdown())
	}
	if err != nil {
		c.logger.Warn("errors while stopping client", zap.Error(err))
	} else {
		c.logger.Info("client stopped")
	}
	return err
}
