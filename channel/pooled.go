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
	"context"

	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/connpool"
	"go.uber.org/rpcrt/internal/timer"
	"go.uber.org/zap"
)

// PooledChannel borrows connections from a connpool.Pool.
type PooledChannel struct {
	pool    *connpool.Pool[*conn.Conn]
	evictor *timer.Recurring
	logger  *zap.Logger
}

var _ Channel = (*PooledChannel)(nil)

type connFactory struct {
	dialer Dialer
}

func (f connFactory) Make(ctx context.Context) (*conn.Conn, error) { return f.dialer.Dial(ctx) }
func (f connFactory) Validate(c *conn.Conn) bool                   { return c.Alive() }
func (f connFactory) Destroy(c *conn.Conn) error                   { return c.Close() }

// NewPooled builds a pooled channel. When cfg.IdleTimeout is set, idle
// connections are also trimmed periodically.
func NewPooled(dialer Dialer, cfg connpool.Config, opts ...Option) *PooledChannel {
	o := newOptions(opts)
	ch := &PooledChannel{
		pool: connpool.New[*conn.Conn](connFactory{dialer: dialer}, cfg,
			connpool.Clock(o.clock),
			connpool.Logger(o.logger),
			connpool.Scope(o.scope),
		),
		logger: o.logger,
	}
	if cfg.IdleTimeout > 0 {
		ch.evictor = timer.NewRecurring("idle-evict", cfg.IdleTimeout, func() error {
			ch.pool.Evict()
			return nil
		}, timer.Clock(o.clock), timer.Logger(o.logger))
		if err := ch.evictor.Start(); err != nil {
			o.logger.Warn("could not start idle eviction", zap.Error(err))
		}
	}
	return ch
}

// Acquire borrows a connection, dialing when the pool has room.
func (ch *PooledChannel) Acquire(ctx context.Context) (*conn.Conn, error) {
	return ch.pool.Borrow(ctx)
}

// Release returns the connection to the pool.
func (ch *PooledChannel) Release(c *conn.Conn) {
	if err := ch.pool.Return(c); err != nil {
		ch.logger.Warn("connection released twice", zap.Uint64("conn", c.ID()), zap.Error(err))
	}
}

// Invalidate destroys the connection.
func (ch *PooledChannel) Invalidate(c *conn.Conn) {
	if err := ch.pool.Invalidate(c); err != nil {
		// Not ours any more; close it anyway.
		_ = c.Close()
	}
}

// Prewarm dials the pool's minimum idle connections.
func (ch *PooledChannel) Prewarm(ctx context.Context) error {
	return ch.pool.Prewarm(ctx)
}

// SetMaxConnections adjusts the pool's capacity.
func (ch *PooledChannel) SetMaxConnections(n int) {
	ch.pool.SetMaxTotal(n)
}

// Close closes idle connections; borrowed ones close when given back.
func (ch *PooledChannel) Close() error {
	if ch.evictor != nil {
		_ = ch.evictor.Stop()
	}
	return ch.pool.Close()
}

// Type returns Pooled.
func (ch *PooledChannel) Type() Type { return Pooled }

// Stats reports the pool's occupancy.
func (ch *PooledChannel) Stats() Stats {
	s := ch.pool.Stats()
	return Stats{Active: s.Active, Idle: s.Idle}
}
