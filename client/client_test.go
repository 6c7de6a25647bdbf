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
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/rpcrt/admission"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/api/endpoint"
	"go.uber.org/rpcrt/channel"
	"go.uber.org/rpcrt/config"
	"go.uber.org/rpcrt/discovery/static"
	"go.uber.org/rpcrt/loadbalance"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/rpcrt/server"
)

func startServer(t *testing.T, handlers map[string]server.Handler) *server.Server {
	s, err := server.New(config.Server{Service: "echo"})
	require.NoError(t, err)
	for method, h := range handlers {
		require.NoError(t, s.Register(method, h))
	}
	require.NoError(t, s.Start())
	t.Cleanup(func() { assert.NoError(t, s.Stop()) })
	return s
}

func echo(_ context.Context, req *codec.Request) ([]byte, error) {
	return req.Payload, nil
}

// deadAddress returns an address nothing listens on.
func deadAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newClient(t *testing.T, cfg config.Client, registry endpoint.Registry, opts ...Option) *Client {
	if cfg.Service == "" {
		cfg.Service = "echo"
	}
	c, err := New(cfg, registry, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { assert.NoError(t, c.Stop()) })
	return c
}

func TestClientCall(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})

	for _, ct := range []channel.Type{channel.Pooled, channel.Single, channel.Short} {
		t.Run(ct.String(), func(t *testing.T) {
			c := newClient(t, config.Client{
				ChannelType: ct,
				Endpoints:   []string{s.Addr().String()},
			}, nil)

			res, err := c.Call(context.Background(), "echo", []byte("hello"))
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), res)

			f, err := c.Go(context.Background(), "echo", []byte("future"))
			require.NoError(t, err)
			res, err = f.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []byte("future"), res)

			got := make(chan []byte, 1)
			require.NoError(t, c.CallAsync(context.Background(), "echo", []byte("async"), func(payload []byte, err error) {
				assert.NoError(t, err)
				got <- payload
			}))
			select {
			case payload := <-got:
				assert.Equal(t, []byte("async"), payload)
			case <-time.After(time.Second):
				t.Fatal("callback never ran")
			}
		})
	}
}

func TestClientRemoteErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	s := startServer(t, map[string]server.Handler{
		"fail": func(context.Context, *codec.Request) ([]byte, error) {
			calls.Inc()
			return nil, errors.New("great sadness")
		},
	})
	c := newClient(t, config.Client{Endpoints: []string{s.Addr().String()}, Retries: 3}, nil)

	_, err := c.Call(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.Equal(t, rpcerrors.CodeRemote, rpcerrors.ErrorCode(err))
	assert.Equal(t, "great sadness", rpcerrors.FromError(err).Message())
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.Call(context.Background(), "missing", nil)
	assert.Equal(t, rpcerrors.CodeUnimplemented, rpcerrors.ErrorCode(err))
}

func TestClientRetriesOnAnotherPeer(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	scope := tally.NewTestScope("", nil)
	c := newClient(t, config.Client{
		Endpoints: []string{deadAddress(t), s.Addr().String()},
		Retries:   1,
	}, nil, Scope(scope), BalancerOptions(loadbalance.Seed(42)))

	for i := 0; i < 20; i++ {
		res, err := c.Call(context.Background(), "echo", []byte("x"))
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, []byte("x"), res)
	}

	counters := scope.Snapshot().Counters()
	require.Contains(t, counters, "client.retries+service=echo")
	assert.NotZero(t, counters["client.retries+service=echo"].Value())
	assert.Equal(t, int64(20), counters["client.successes+service=echo"].Value())
}

func TestClientRetriesExhausted(t *testing.T) {
	c := newClient(t, config.Client{
		Endpoints: []string{deadAddress(t), deadAddress(t)},
		Retries:   1,
	}, nil)

	_, err := c.Call(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Equal(t, rpcerrors.CodeConnectFailed, rpcerrors.ErrorCode(err))
	assert.Equal(t, rpcerrors.RetryWithBackoff, rpcerrors.GetRemedy(err))

	var failed int64
	for _, p := range c.Peers().Peers() {
		failed += p.FailedCount()
	}
	assert.Equal(t, int64(2), failed, "each attempt went to a different peer")
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := startServer(t, map[string]server.Handler{
		"hang": func(ctx context.Context, _ *codec.Request) ([]byte, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, nil
		},
	})
	c := newClient(t, config.Client{Endpoints: []string{s.Addr().String()}}, nil)

	_, err := c.Call(context.Background(), "hang", nil, WithTimeout(20*time.Millisecond), WithRetries(0))
	require.Error(t, err)
	assert.True(t, rpcerrors.IsTimeout(err), "got %v", err)
}

func TestClientCancellation(t *testing.T) {
	s := startServer(t, map[string]server.Handler{
		"hang": func(ctx context.Context, _ *codec.Request) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	c := newClient(t, config.Client{Endpoints: []string{s.Addr().String()}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := c.Go(ctx, "hang", nil, WithTimeout(time.Second))
	require.NoError(t, err)
	cancel()

	_, err = f.Wait(context.Background())
	assert.Equal(t, rpcerrors.CodeCancelled, rpcerrors.ErrorCode(err))
}

func TestClientDiscovery(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	svc := endpoint.ServiceDescriptor{Name: "echo"}
	registry := static.New()
	c := newClient(t, config.Client{}, registry)

	_, err := c.Call(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.True(t, rpcerrors.IsNoEndpoint(err))
	assert.Equal(t, rpcerrors.WaitForDiscovery, rpcerrors.GetRemedy(err))

	ep, err := endpoint.Parse(s.Addr().String())
	require.NoError(t, err)
	registry.Set(svc, ep)
	assert.Equal(t, 1, c.Peers().NumOnline())

	res, err := c.Call(context.Background(), "echo", []byte("found"))
	require.NoError(t, err)
	assert.Equal(t, []byte("found"), res)

	registry.Set(svc)
	assert.Zero(t, c.Peers().NumOnline())
	_, err = c.Call(context.Background(), "echo", nil)
	assert.True(t, rpcerrors.IsNoEndpoint(err))
}

func TestClientAdmission(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s := startServer(t, map[string]server.Handler{
		"block": func(context.Context, *codec.Request) ([]byte, error) {
			started <- struct{}{}
			<-release
			return []byte("done"), nil
		},
		"echo": echo,
	})
	c := newClient(t, config.Client{
		Endpoints:          []string{s.Addr().String()},
		CurrentLimitType:   admission.Concurrency,
		MaxConcurrentCalls: 1,
	}, nil)

	f, err := c.Go(context.Background(), "block", nil)
	require.NoError(t, err)
	<-started

	_, err = c.Call(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.True(t, rpcerrors.IsAdmissionRejected(err))
	assert.Equal(t, rpcerrors.ReduceRate, rpcerrors.GetRemedy(err))

	close(release)
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), res)

	res, err = c.Call(context.Background(), "echo", []byte("again"))
	require.NoError(t, err, "slot is released once the call resolves")
	assert.Equal(t, []byte("again"), res)
}

func TestClientTracing(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	tracer := mocktracer.New()
	c := newClient(t, config.Client{Endpoints: []string{s.Addr().String()}}, nil, Tracer(tracer))

	_, err := c.Call(context.Background(), "echo", nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "missing", nil)
	require.Error(t, err)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "echo", spans[0].OperationName)
	assert.Equal(t, "echo", spans[0].Tag("peer.service"))
	assert.Nil(t, spans[0].Tag("error"))
	assert.Equal(t, "missing", spans[1].OperationName)
	assert.Equal(t, true, spans[1].Tag("error"))
	assert.Equal(t, "unimplemented", spans[1].Tag(_statusCodeTag))
}

func TestClientWithBalancer(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	c := newClient(t, config.Client{Endpoints: []string{s.Addr().String()}}, nil)

	for _, lb := range []loadbalance.Type{loadbalance.Random, loadbalance.Weight, loadbalance.Fair} {
		res, err := c.Call(context.Background(), "echo", []byte(lb.String()), WithBalancer(lb))
		require.NoError(t, err)
		assert.Equal(t, []byte(lb.String()), res)
	}

	_, err := c.Call(context.Background(), "echo", nil, WithBalancer(loadbalance.Type(99)))
	assert.Error(t, err)
}

func TestClientConcurrentCalls(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	c := newClient(t, config.Client{
		Endpoints:           []string{s.Addr().String()},
		MaxTotalConnections: 2,
		WaitForConnection:   true,
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i)}
			res, err := c.Call(context.Background(), "echo", payload, WithTimeout(time.Second))
			assert.NoError(t, err)
			assert.Equal(t, payload, res)
		}(i)
	}
	wg.Wait()

	for _, p := range c.Peers().Peers() {
		assert.LessOrEqual(t, p.ActiveConnections(), 2)
	}
}

func TestClientLifecycle(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := New(config.Client{Service: "echo", Endpoints: []string{s.Addr().String()}}, nil)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "echo", nil)
	assert.Equal(t, rpcerrors.CodeFailedPrecondition, rpcerrors.ErrorCode(err))

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	_, err = c.Call(context.Background(), "echo", nil)
	require.NoError(t, err)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
	assert.Zero(t, c.Peers().NumOnline())

	_, err = c.Call(context.Background(), "echo", nil)
	assert.Equal(t, rpcerrors.CodeFailedPrecondition, rpcerrors.ErrorCode(err))
}

func TestClientSharedManager(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	m := resource.NewManager()

	cfg := config.Client{Endpoints: []string{s.Addr().String()}, SharedThreadPool: true}
	first := newClient(t, cfg, nil, Manager(m))
	cfg.Service = "other"
	second := newClient(t, cfg, nil, Manager(m))
	assert.Equal(t, 2, m.RefCount(resource.ClientWork))
	assert.Same(t, first.pools.Work, second.pools.Work)
	assert.Same(t, first.pools.IO, second.pools.IO)
	hooks, timers := m.Tracked()
	assert.Equal(t, 2, hooks)
	assert.Equal(t, 2, timers)

	require.NoError(t, first.Stop())
	assert.True(t, m.Has(resource.ClientWork), "shared pools survive their clients")
	hooks, timers = m.Tracked()
	assert.Equal(t, 1, hooks, "stopped clients leave the manager")
	assert.Equal(t, 1, timers)

	_, err := second.Call(context.Background(), "echo", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, m.Shutdown())
	assert.False(t, second.IsRunning(), "shutdown stops registered clients")
	assert.False(t, m.Has(resource.ClientWork))
}

func TestClientSharedPoolsOutliveAllClients(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	m := resource.NewManager()

	cfg := config.Client{Endpoints: []string{s.Addr().String()}, SharedThreadPool: true}
	first := newClient(t, cfg, nil, Manager(m))
	cfg.Service = "other"
	second := newClient(t, cfg, nil, Manager(m))
	work := first.pools.Work
	require.Same(t, work, second.pools.Work)

	require.NoError(t, first.Stop())
	require.NoError(t, second.Stop())
	assert.True(t, m.Has(resource.ClientWork))
	assert.Zero(t, m.RefCount(resource.ClientWork))
	assert.False(t, work.IsClosed(), "shared pools stay open without clients")
	assert.False(t, first.pools.IO.IsClosed())
	hooks, timers := m.Tracked()
	assert.Zero(t, hooks)
	assert.Zero(t, timers)

	require.NoError(t, m.Shutdown())
	assert.True(t, work.IsClosed())
	assert.False(t, m.Has(resource.ClientWork))
}

func TestClientPrewarmsIdleConnections(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	c := newClient(t, config.Client{
		Endpoints:          []string{s.Addr().String()},
		MinIdleConnections: 2,
	}, nil)

	peers := c.Peers().Peers()
	require.Len(t, peers, 1)
	assert.Eventually(t, func() bool {
		return peers[0].Channel().Stats() == channel.Stats{Idle: 2}
	}, time.Second, 10*time.Millisecond, "idle connections open before the first call")
	assert.Eventually(t, func() bool { return s.NumConnections() == 2 }, time.Second, 10*time.Millisecond)
}

// countingDialer counts dials and closes of the connections it hands out.
type countingDialer struct {
	net.Dialer

	dials  atomic.Int32
	closes atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	nc, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	d.dials.Inc()
	return &countedConn{Conn: nc, closes: &d.closes}, nil
}

type countedConn struct {
	net.Conn

	once   sync.Once
	closes *atomic.Int32
}

func (c *countedConn) Close() error {
	c.once.Do(func() { c.closes.Inc() })
	return c.Conn.Close()
}

func TestClientShortChannelHundredCalls(t *testing.T) {
	s := startServer(t, map[string]server.Handler{"echo": echo})
	d := &countingDialer{}
	c := newClient(t, config.Client{
		ChannelType: channel.Short,
		Endpoints:   []string{s.Addr().String()},
	}, nil, Dialer(d))

	for i := 0; i < 100; i++ {
		res, err := c.Call(context.Background(), "echo", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), res)
	}

	assert.Equal(t, int32(100), d.dials.Load())
	assert.Eventually(t, func() bool { return d.closes.Load() == 100 }, time.Second, 10*time.Millisecond)
	peers := c.Peers().Peers()
	require.Len(t, peers, 1)
	assert.Eventually(t, func() bool {
		return peers[0].Channel().Stats() == channel.Stats{}
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return s.NumConnections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNewClientErrors(t *testing.T) {
	tests := []struct {
		desc string
		cfg  config.Client
	}{
		{desc: "no service", cfg: config.Client{Endpoints: []string{"127.0.0.1:1"}}},
		{desc: "no endpoints", cfg: config.Client{Service: "echo"}},
		{desc: "bad endpoint", cfg: config.Client{Service: "echo", Endpoints: []string{"nope"}}},
		{desc: "bad limiter", cfg: config.Client{Service: "echo", Endpoints: []string{"127.0.0.1:1"}, CurrentLimitType: admission.Rate}},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			require.Error(t, err)
			assert.Equal(t, rpcerrors.CodeInvalidArgument, rpcerrors.ErrorCode(err))
		})
	}
}
