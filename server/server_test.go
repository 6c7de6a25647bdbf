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

package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/goleak"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/codec/framing"
	"go.uber.org/rpcrt/config"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/rpcrt/rpcerrors"
)

// rawClient speaks the framing codec over a plain TCP connection.
type rawClient struct {
	t     *testing.T
	nc    net.Conn
	codec *framing.Codec
	buf   []byte
	next  uint64
}

func dialRaw(t *testing.T, addr net.Addr) *rawClient {
	nc, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return &rawClient{t: t, nc: nc, codec: framing.New(0)}
}

func (r *rawClient) send(method string, payload []byte, timeout time.Duration) uint64 {
	r.next++
	frame, err := r.codec.EncodeRequest(&codec.Request{
		CorrelationID: r.next,
		Service:       "echo",
		Method:        method,
		Timeout:       timeout,
		Payload:       payload,
	})
	require.NoError(r.t, err)
	_, err = r.nc.Write(frame)
	require.NoError(r.t, err)
	return r.next
}

func (r *rawClient) read(wait time.Duration) (*codec.Response, error) {
	require.NoError(r.t, r.nc.SetReadDeadline(time.Now().Add(wait)))
	chunk := make([]byte, 1024)
	for {
		if len(r.buf) > 0 {
			res, n, err := r.codec.DecodeResponse(r.buf)
			if err == nil {
				r.buf = r.buf[n:]
				return res, nil
			}
			if err != codec.ErrInsufficientData {
				return nil, err
			}
		}
		n, err := r.nc.Read(chunk)
		r.buf = append(r.buf, chunk[:n]...)
		if err != nil {
			return nil, err
		}
	}
}

func (r *rawClient) call(method string, payload []byte) *codec.Response {
	id := r.send(method, payload, time.Second)
	res, err := r.read(time.Second)
	require.NoError(r.t, err)
	assert.Equal(r.t, id, res.CorrelationID)
	return res
}

func echo(_ context.Context, req *codec.Request) ([]byte, error) {
	return req.Payload, nil
}

func newServer(t *testing.T, cfg config.Server, opts ...Option) *Server {
	if cfg.Service == "" {
		cfg.Service = "echo"
	}
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Register("echo", echo))
	require.NoError(t, s.Start())
	t.Cleanup(func() { assert.NoError(t, s.Stop()) })
	return s
}

func TestServerRoundTrip(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	s := newServer(t, config.Server{}, Scope(scope))
	r := dialRaw(t, s.Addr())

	res := r.call("echo", []byte("hello"))
	assert.Equal(t, []byte("hello"), res.Payload)
	assert.Zero(t, res.ErrorCode)

	res = r.call("echo", []byte("again"))
	assert.Equal(t, []byte("again"), res.Payload)

	assert.Eventually(t, func() bool { return s.NumConnections() == 1 }, time.Second, 10*time.Millisecond)
	counters := scope.Snapshot().Counters()
	require.Contains(t, counters, "server.requests+service=echo")
	assert.Equal(t, int64(2), counters["server.requests+service=echo"].Value())
}

func TestServerErrors(t *testing.T) {
	s := newServer(t, config.Server{})
	require.NoError(t, s.Register("plain", func(context.Context, *codec.Request) ([]byte, error) {
		return nil, errors.New("great sadness")
	}))
	require.NoError(t, s.Register("invalid", func(context.Context, *codec.Request) ([]byte, error) {
		return nil, rpcerrors.InvalidArgumentErrorf("bad input")
	}))
	require.NoError(t, s.Register("panics", func(context.Context, *codec.Request) ([]byte, error) {
		panic("oops")
	}))
	r := dialRaw(t, s.Addr())

	tests := []struct {
		method  string
		code    rpcerrors.Code
		message string
	}{
		{method: "missing", code: rpcerrors.CodeUnimplemented, message: `service "echo" has no method "missing"`},
		{method: "plain", code: rpcerrors.CodeRemote, message: "great sadness"},
		{method: "invalid", code: rpcerrors.CodeInvalidArgument, message: "bad input"},
		{method: "panics", code: rpcerrors.CodeInternal, message: `handler for "panics" panicked: oops`},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			res := r.call(tt.method, []byte("x"))
			assert.Equal(t, int32(tt.code), res.ErrorCode)
			assert.Equal(t, tt.message, res.ErrorMessage)
			assert.Empty(t, res.Payload)
		})
	}
}

func TestServerHandlerDeadline(t *testing.T) {
	s := newServer(t, config.Server{DefaultTimeoutMs: 30})
	require.NoError(t, s.Register("wait", func(ctx context.Context, _ *codec.Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	r := dialRaw(t, s.Addr())

	// Propagated timeout.
	r.send("wait", nil, 20*time.Millisecond)
	res, err := r.read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(rpcerrors.CodeRemote), res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "deadline exceeded")

	// Server default when the request carries none.
	r.send("wait", nil, 0)
	res, err = r.read(time.Second)
	require.NoError(t, err)
	assert.Contains(t, res.ErrorMessage, "deadline exceeded")
}

func TestServerMaxConnections(t *testing.T) {
	s := newServer(t, config.Server{MaxConnections: 1})

	first := dialRaw(t, s.Addr())
	assert.Equal(t, []byte("a"), first.call("echo", []byte("a")).Payload)

	second := dialRaw(t, s.Addr())
	second.send("echo", []byte("b"), time.Second)
	_, err := second.read(100 * time.Millisecond)
	require.Error(t, err, "second connection must wait for a slot")

	require.NoError(t, first.nc.Close())
	res, err := second.read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), res.Payload)
}

func TestServerForgetsConnectionsClosedOnArrival(t *testing.T) {
	s := newServer(t, config.Server{})
	for i := 0; i < 50; i++ {
		nc, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)
		require.NoError(t, nc.Close())
	}
	assert.Eventually(t, func() bool { return s.NumConnections() == 0 }, time.Second, 10*time.Millisecond)

	r := dialRaw(t, s.Addr())
	r.call("echo", nil)
	assert.Eventually(t, func() bool { return s.NumConnections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerTracing(t *testing.T) {
	tracer := mocktracer.New()
	s := newServer(t, config.Server{}, Tracer(tracer))
	r := dialRaw(t, s.Addr())

	r.call("echo", nil)
	r.call("missing", nil)

	require.Eventually(t, func() bool { return len(tracer.FinishedSpans()) == 2 }, time.Second, 10*time.Millisecond)
	spans := make(map[string]*mocktracer.MockSpan)
	for _, span := range tracer.FinishedSpans() {
		spans[span.OperationName] = span
	}
	require.Contains(t, spans, "echo")
	require.Contains(t, spans, "missing")
	assert.Nil(t, spans["echo"].Tag("error"))
	assert.Equal(t, true, spans["missing"].Tag("error"))
	assert.Equal(t, "unimplemented", spans["missing"].Tag("rpc.status_code"))
}

func TestServerRegister(t *testing.T) {
	s, err := New(config.Server{Service: "echo"})
	require.NoError(t, err)

	assert.Error(t, s.Register("", echo))
	assert.Error(t, s.Register("echo", nil))
	require.NoError(t, s.Register("echo", echo))
	assert.Error(t, s.Register("echo", echo), "duplicate registration")
}

func TestServerInvalidConfig(t *testing.T) {
	_, err := New(config.Server{})
	require.Error(t, err)
	assert.Equal(t, rpcerrors.CodeInvalidArgument, rpcerrors.ErrorCode(err))

	s, err := New(config.Server{Service: "echo", Address: "not an address"})
	require.NoError(t, err)
	err = s.Start()
	require.Error(t, err)
	assert.Equal(t, rpcerrors.CodeFailedPrecondition, rpcerrors.ErrorCode(err))
}

func TestServerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := New(config.Server{Service: "echo"})
	require.NoError(t, err)
	require.NoError(t, s.Register("echo", echo))
	assert.Nil(t, s.Addr())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotNil(t, addr)

	r := dialRaw(t, addr)
	r.call("echo", nil)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Nil(t, s.Addr())
	assert.Zero(t, s.NumConnections())

	_, err = r.read(time.Second)
	assert.Error(t, err, "connections close with the server")
	require.NoError(t, r.nc.Close())
}

func TestServerSharedPools(t *testing.T) {
	m := resource.NewManager()
	s := newServer(t, config.Server{SharedThreadPool: true}, Manager(m))
	r := dialRaw(t, s.Addr())
	r.call("echo", nil)

	assert.True(t, m.Has(resource.ServerWork))
	require.NoError(t, m.Shutdown())
	assert.Nil(t, s.Addr(), "shutdown stops the server")
	assert.False(t, m.Has(resource.ServerWork))
}

func TestServerLeavesSharedManagerOnStop(t *testing.T) {
	m := resource.NewManager()
	s, err := New(config.Server{Service: "echo"}, Manager(m))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	hooks, _ := m.Tracked()
	assert.Equal(t, 1, hooks)

	require.NoError(t, s.Stop())
	hooks, _ = m.Tracked()
	assert.Zero(t, hooks)
	require.NoError(t, m.Shutdown())
}
