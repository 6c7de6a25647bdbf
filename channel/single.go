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
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/internal/backoff"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

// SingleChannel multiplexes calls over one shared connection.
//
// Concurrent acquirers see either the previous connection or a fully
// established new one. Dialing is serialized so at most one connect attempt
// to the endpoint is in flight.
type SingleChannel struct {
	dialer  Dialer
	clock   clockwork.Clock
	logger  *zap.Logger
	backoff *backoff.Exponential

	current atomic.Pointer[conn.Conn]
	dialing chan struct{} // one-slot semaphore
	active  atomic.Int32

	// mu orders reconnect goroutine starts against Close.
	mu           sync.Mutex
	closed       atomic.Bool
	reconnecting atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

var _ Channel = (*SingleChannel)(nil)

// NewSingle builds a single-connection channel. It dials lazily.
func NewSingle(dialer Dialer, opts ...Option) *SingleChannel {
	o := newOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &SingleChannel{
		dialer:  dialer,
		clock:   o.clock,
		logger:  o.logger,
		backoff: o.backoff,
		dialing: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Acquire returns the shared connection, dialing it if there is none.
func (ch *SingleChannel) Acquire(ctx context.Context) (*conn.Conn, error) {
	if ch.closed.Load() {
		return nil, rpcerrors.ChannelClosedErrorf("channel is closed")
	}
	if c := ch.current.Load(); c != nil && c.Alive() {
		ch.active.Inc()
		return c, nil
	}

	c, err := ch.connect(ctx)
	if err != nil {
		return nil, err
	}
	ch.active.Inc()
	return c, nil
}

// connect dials a replacement for a missing or dead connection. Callers that
// arrive while a dial is in flight wait for it and share its result.
func (ch *SingleChannel) connect(ctx context.Context) (*conn.Conn, error) {
	select {
	case ch.dialing <- struct{}{}:
	case <-ctx.Done():
		return nil, rpcerrors.TimeoutErrorf("gave up waiting for connection: %v", ctx.Err())
	case <-ch.ctx.Done():
		return nil, rpcerrors.ChannelClosedErrorf("channel is closed")
	}
	defer func() { <-ch.dialing }()

	if c := ch.current.Load(); c != nil && c.Alive() {
		return c, nil
	}

	c, err := ch.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if ch.closed.Load() {
		_ = c.Close()
		return nil, rpcerrors.ChannelClosedErrorf("channel is closed")
	}
	if old := ch.current.Swap(c); old != nil {
		_ = old.Close()
	}
	return c, nil
}

// Release is a no-op beyond bookkeeping; the connection stays shared.
func (ch *SingleChannel) Release(*conn.Conn) {
	ch.active.Dec()
}

// Invalidate closes the connection if it is still the shared one and starts
// reconnecting in the background.
func (ch *SingleChannel) Invalidate(c *conn.Conn) {
	ch.active.Dec()
	if !ch.current.CompareAndSwap(c, nil) {
		return
	}
	_ = c.Close()
	ch.startReconnect()
}

func (ch *SingleChannel) startReconnect() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed.Load() || !ch.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ch.wg.Add(1)
	go ch.reconnectLoop()
}

func (ch *SingleChannel) reconnectLoop() {
	defer ch.wg.Done()
	defer ch.reconnecting.Store(false)

	for attempt := uint(0); ; attempt++ {
		if ch.ctx.Err() != nil {
			return
		}
		_, err := ch.connect(ch.ctx)
		if err == nil {
			if attempt > 0 {
				ch.logger.Info("reconnected", zap.Uint("attempts", attempt+1))
			}
			return
		}
		ch.logger.Debug("reconnect attempt failed", zap.Uint("attempt", attempt), zap.Error(err))
		if !ch.backoff.Wait(ch.ctx, ch.clock, attempt) {
			return
		}
	}
}

// Close stops reconnecting and closes the shared connection.
func (ch *SingleChannel) Close() error {
	ch.mu.Lock()
	if !ch.closed.CompareAndSwap(false, true) {
		ch.mu.Unlock()
		return nil
	}
	ch.cancel()
	ch.mu.Unlock()

	ch.wg.Wait()
	if c := ch.current.Swap(nil); c != nil {
		return c.Close()
	}
	return nil
}

// Type returns Single.
func (ch *SingleChannel) Type() Type { return Single }

// Stats reports the number of outstanding acquisitions and whether the
// shared connection is up.
func (ch *SingleChannel) Stats() Stats {
	s := Stats{Active: int(ch.active.Load())}
	if c := ch.current.Load(); c != nil && c.Alive() && s.Active == 0 {
		s.Idle = 1
	}
	return s
}
