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

// Package server is the callee side of the runtime. A Server accepts
// connections, decodes requests with its codec, runs the registered handler
// on its work pool and writes the response back on its IO pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/codec/framing"
	"go.uber.org/rpcrt/config"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/pkg/lifecycle"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Handler serves one method. The context expires with the caller's timeout.
// A returned error is sent to the caller; errors built with rpcerrors keep
// their code, others arrive as remote errors.
type Handler func(ctx context.Context, req *codec.Request) ([]byte, error)

// Server serves the methods of one service.
type Server struct {
	cfg     config.Server
	once    *lifecycle.Once
	logger  *zap.Logger
	tracer  opentracing.Tracer
	codec   codec.Codec
	metrics *metrics

	manager     *resource.Manager
	ownsManager bool
	unregister  func()

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	ctx      context.Context
	cancel   context.CancelFunc
	listener net.Listener
	pools    *resource.Pools
	accepted sync.WaitGroup

	connsMu sync.Mutex
	conns   map[*conn.Conn]struct{}
}

var _ conn.Receiver = (*Server)(nil)

// New builds a stopped server.
func New(cfg config.Server, opts ...Option) (*Server, error) {
	o := options{logger: zap.NewNop(), scope: tally.NoopScope}
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

	logger := o.logger.With(zap.String("service", cfg.Service))
	s := &Server{
		cfg:      cfg,
		once:     lifecycle.NewOnce(),
		logger:   logger,
		tracer:   o.tracer,
		codec:    o.codec,
		metrics:  newMetrics(o.scope.Tagged(map[string]string{"service": cfg.Service})),
		manager:  o.manager,
		handlers: make(map[string]Handler),
		conns:    make(map[*conn.Conn]struct{}),
	}
	if s.manager == nil {
		s.manager = resource.NewManager(resource.Logger(logger))
		s.ownsManager = true
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Register serves method with h. Methods may be registered before or after
// Start.
func (s *Server) Register(method string, h Handler) error {
	if method == "" || h == nil {
		return rpcerrors.InvalidArgumentErrorf("registration for service %q needs a method and a handler", s.cfg.Service)
	}
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, ok := s.handlers[method]; ok {
		return rpcerrors.InvalidArgumentErrorf("method %q of service %q is already registered", method, s.cfg.Service)
	}
	s.handlers[method] = h
	return nil
}

func (s *Server) handler(method string) (Handler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

// Addr returns the address the server listens on, nil before Start.
func (s *Server) Addr() net.Addr {
	if !s.once.IsRunning() {
		return nil
	}
	return s.listener.Addr()
}

// NumConnections returns the number of open inbound connections.
func (s *Server) NumConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Start retains the worker pools and begins accepting connections.
func (s *Server) Start() error {
	return s.once.Start(s.start)
}

func (s *Server) start() error {
	pools, err := resource.ServerPools(s.manager, s.cfg.Service, s.cfg.SharedThreadPool,
		s.cfg.IOThreadNum, s.cfg.WorkThreadNum)
	if err != nil {
		return err
	}
	s.pools = pools

	l, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return multierr.Append(
			rpcerrors.FailedPreconditionErrorf("server %q could not listen on %q: %v", s.cfg.Service, s.cfg.Address, err),
			s.pools.Release())
	}
	if s.cfg.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConnections)
	}
	s.listener = l

	s.accepted.Add(1)
	go s.serve()

	s.unregister = func() {}
	if !s.ownsManager {
		s.unregister = s.manager.RegisterShutdownHook(s.Stop)
	}
	s.logger.Info("server started", zap.Stringer("addr", l.Addr()))
	return nil
}

func (s *Server) serve() {
	defer s.accepted.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		setup := func() { s.open(nc) }
		if err := s.pools.Accept.Submit(setup); err != nil {
			setup()
		}
	}
}

func (s *Server) open(nc net.Conn) {
	c := conn.New(nc, s,
		conn.WithExecutor(s.pools.IO),
		conn.WithLogger(s.logger),
	)

	s.connsMu.Lock()
	if s.ctx.Err() != nil {
		s.connsMu.Unlock()
		_ = c.Close()
		return
	}
	// The read loop may already have seen the peer hang up, in which case
	// Closed ran before this insert.
	if !c.Alive() {
		s.connsMu.Unlock()
		return
	}
	s.conns[c] = struct{}{}
	s.metrics.connections.Update(float64(len(s.conns)))
	s.connsMu.Unlock()

	s.logger.Debug("accepted connection", zap.Stringer("remote", nc.RemoteAddr()))
}

// Decode implements conn.Receiver.
func (s *Server) Decode(buf []byte) (interface{}, int, error) {
	return s.codec.DecodeRequest(buf)
}

// Receive implements conn.Receiver. The request is handed to the work pool;
// when the pool is saturated the caller is told so right away.
func (s *Server) Receive(c *conn.Conn, msg interface{}) {
	req, ok := msg.(*codec.Request)
	if !ok {
		s.logger.Error("unexpected inbound message", zap.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	s.metrics.requests.Inc(1)
	if err := s.pools.Work.Submit(func() { s.handle(c, req) }); err != nil {
		s.respond(c, req, nil, rpcerrors.PoolExhaustedErrorf("server %q is overloaded: %v", s.cfg.Service, err))
	}
}

// Closed implements conn.Receiver.
func (s *Server) Closed(c *conn.Conn, err error) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.metrics.connections.Update(float64(len(s.conns)))
	s.connsMu.Unlock()
	s.logger.Debug("connection closed", zap.Uint64("conn", c.ID()), zap.Error(err))
}

func (s *Server) handle(c *conn.Conn, req *codec.Request) {
	start := time.Now()
	span := s.tracer.StartSpan(
		req.Method,
		opentracing.StartTime(start),
		opentracing.Tags{"rpc.service": req.Service},
	)
	ext.SpanKindRPCServer.Set(span)
	defer span.Finish()

	h, ok := s.handler(req.Method)
	if !ok {
		err := rpcerrors.UnimplementedErrorf("service %q has no method %q", s.cfg.Service, req.Method)
		s.finish(span, start, err)
		s.respond(c, req, nil, err)
		return
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout()
	}
	ctx, cancel := context.WithTimeout(opentracing.ContextWithSpan(s.ctx, span), timeout)
	defer cancel()

	payload, err := s.invoke(ctx, h, req)
	s.finish(span, start, err)
	s.respond(c, req, payload, err)
}

// invoke runs h, turning a panic into an internal error.
func (s *Server) invoke(ctx context.Context, h Handler, req *codec.Request) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = rpcerrors.InternalErrorf("handler for %q panicked: %v", req.Method, r)
		}
	}()
	return h(ctx, req)
}

func (s *Server) finish(span opentracing.Span, start time.Time, err error) {
	s.metrics.latency.Record(time.Since(start))
	if err == nil {
		s.metrics.successes.Inc(1)
		return
	}
	code := responseCode(err)
	s.metrics.failure(code).Inc(1)
	ext.Error.Set(span, true)
	span.SetTag("rpc.status_code", code.String())
}

// responseCode is the code sent for a handler error.
func responseCode(err error) rpcerrors.Code {
	if rpcerrors.IsStatus(err) {
		if code := rpcerrors.ErrorCode(err); code != rpcerrors.CodeOK {
			return code
		}
	}
	return rpcerrors.CodeRemote
}

func (s *Server) respond(c *conn.Conn, req *codec.Request, payload []byte, err error) {
	res := &codec.Response{CorrelationID: req.CorrelationID, Payload: payload}
	if err != nil {
		res.Payload = nil
		res.ErrorCode = int32(responseCode(err))
		res.ErrorMessage = rpcerrors.FromError(err).Message()
	}

	write := func() {
		frame, err := s.codec.EncodeResponse(res)
		if err != nil {
			s.logger.Error("failed to encode response", zap.String("method", req.Method), zap.Error(err))
			return
		}
		if err := c.Write(frame); err != nil {
			s.logger.Debug("failed to write response", zap.String("method", req.Method), zap.Error(err))
		}
	}
	if err := s.pools.IO.Submit(write); err != nil {
		write()
	}
}

// Stop stops accepting, closes every connection and releases the worker
// pools. It is idempotent.
func (s *Server) Stop() error {
	return s.once.Stop(s.stop)
}

func (s *Server) stop() error {
	s.unregister()
	s.cancel()
	err := s.listener.Close()
	s.accepted.Wait()

	s.connsMu.Lock()
	open := make([]*conn.Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.connsMu.Unlock()
	for _, c := range open {
		err = multierr.Append(err, c.Close())
	}

	err = multierr.Append(err, s.pools.Release())
	if s.ownsManager {
		err = multierr.Append(err, s.manager.Shutdown())
	}
	if err != nil {
		s.logger.Warn("errors while stopping server", zap.Error(err))
	} else {
		s.logger.Info("server stopped")
	}
	return err
}
