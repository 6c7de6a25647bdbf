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

// Package connpool implements a bounded object pool for physical
// connections.
//
// The pool keeps idle + active + creating <= MaxTotal at all times. Borrowers
// either fail fast with a PoolExhausted error or, in wait mode, block until
// capacity frees up. Objects returned in a broken state are destroyed, idle
// objects beyond MaxIdle or older than IdleTimeout are trimmed down to
// MinIdle, and MinIdle is restored in the background after borrows drain
// it.
package connpool

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const _defaultMaxTotal = 8

// Factory creates, checks and destroys pooled objects.
type Factory[T any] interface {
	// Make creates a new object, honoring ctx.
	Make(ctx context.Context) (T, error)
	// Validate reports whether the object may still be used.
	Validate(T) bool
	// Destroy releases the object.
	Destroy(T) error
}

// Config sizes a pool.
type Config struct {
	MaxTotal    int
	MaxIdle     int
	MinIdle     int
	Wait        bool
	IdleTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.MaxTotal <= 0 {
		c.MaxTotal = _defaultMaxTotal
	}
	if c.MaxIdle <= 0 || c.MaxIdle > c.MaxTotal {
		c.MaxIdle = c.MaxTotal
	}
	if c.MinIdle < 0 {
		c.MinIdle = 0
	}
	if c.MinIdle > c.MaxIdle {
		c.MinIdle = c.MaxIdle
	}
	return c
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Active   int
	Idle     int
	Creating int
	MaxTotal int
}

// Option customizes a Pool.
type Option func(*options)

type options struct {
	clock  clockwork.Clock
	logger *zap.Logger
	scope  tally.Scope
}

// Clock sets the clock used to age idle objects.
func Clock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Logger sets the pool's logger.
func Logger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Scope sets the metrics scope of the pool.
func Scope(scope tally.Scope) Option {
	return func(o *options) { o.scope = scope }
}

type idleEntry[T any] struct {
	obj   T
	since time.Time
}

// Pool is a bounded pool of T. It is safe for concurrent use.
type Pool[T comparable] struct {
	factory Factory[T]
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics metrics

	mu        sync.Mutex
	cfg       Config
	idle      []idleEntry[T] // oldest first
	active    map[T]struct{}
	creating  int
	closed    bool
	refilling bool
	notify    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an empty pool. Call Prewarm to create MinIdle objects eagerly.
func New[T comparable](factory Factory[T], cfg Config, opts ...Option) *Pool[T] {
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
		scope:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		factory: factory,
		clock:   o.clock,
		logger:  o.logger,
		metrics: newMetrics(o.scope),
		cfg:     cfg.normalize(),
		active:  make(map[T]struct{}),
		notify:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// live is the number of objects counted against MaxTotal. Callers hold mu.
func (p *Pool[T]) live() int {
	return len(p.idle) + len(p.active) + p.creating
}

// broadcast wakes every waiting borrower. Callers hold mu.
func (p *Pool[T]) broadcast() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// Borrow takes an idle object or creates one when below MaxTotal.
func (p *Pool[T]) Borrow(ctx context.Context) (T, error) {
	var zero T
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, rpcerrors.ChannelClosedErrorf("pool is closed")
		}

		if n := len(p.idle); n > 0 {
			// Most recently returned first so surplus objects age out.
			obj := p.idle[n-1].obj
			p.idle = p.idle[:n-1]
			p.active[obj] = struct{}{}
			p.maybeRefillLocked()
			p.mu.Unlock()

			if p.factory.Validate(obj) {
				p.metrics.borrowed.Inc(1)
				return obj, nil
			}
			p.discard(obj)
			continue
		}

		if p.live() < p.cfg.MaxTotal {
			p.creating++
			p.mu.Unlock()
			return p.create(ctx)
		}

		if !p.cfg.Wait {
			limit := p.cfg.MaxTotal
			p.mu.Unlock()
			p.metrics.exhausted.Inc(1)
			return zero, rpcerrors.PoolExhaustedErrorf("all %d connections are in use", limit)
		}

		wait := p.notify
		p.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			p.metrics.exhausted.Inc(1)
			if ctx.Err() == context.Canceled {
				return zero, rpcerrors.CancelledErrorf("cancelled while waiting for a connection")
			}
			return zero, rpcerrors.TimeoutErrorf("timed out waiting for a connection")
		}
	}
}

// create makes a new object for a borrower. The caller has counted it in
// creating.
func (p *Pool[T]) create(ctx context.Context) (T, error) {
	obj, err := p.factory.Make(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.broadcast()
		p.mu.Unlock()
		return obj, err
	}
	if p.closed {
		p.mu.Unlock()
		p.destroy(obj)
		var zero T
		return zero, rpcerrors.ChannelClosedErrorf("pool closed while connecting")
	}
	p.active[obj] = struct{}{}
	p.mu.Unlock()

	p.metrics.created.Inc(1)
	p.metrics.borrowed.Inc(1)
	return obj, nil
}

// Return gives a borrowed object back. Broken objects are destroyed.
func (p *Pool[T]) Return(obj T) error {
	p.mu.Lock()
	if _, ok := p.active[obj]; !ok {
		p.mu.Unlock()
		return rpcerrors.InvalidArgumentErrorf("object was not borrowed from this pool")
	}
	delete(p.active, obj)

	var victims []T
	if p.closed || p.live() >= p.cfg.MaxTotal || !p.factory.Validate(obj) {
		victims = append(victims, obj)
	} else {
		p.idle = append(p.idle, idleEntry[T]{obj: obj, since: p.clock.Now()})
	}
	victims = append(victims, p.trimLocked()...)
	p.broadcast()
	p.maybeRefillLocked()
	p.mu.Unlock()

	p.destroy(victims...)
	return nil
}

// Invalidate destroys a borrowed object instead of returning it.
func (p *Pool[T]) Invalidate(obj T) error {
	p.mu.Lock()
	if _, ok := p.active[obj]; !ok {
		p.mu.Unlock()
		return rpcerrors.InvalidArgumentErrorf("object was not borrowed from this pool")
	}
	delete(p.active, obj)
	p.broadcast()
	p.maybeRefillLocked()
	p.mu.Unlock()

	p.destroy(obj)
	return nil
}

// discard drops an object that was popped from idle but failed validation.
func (p *Pool[T]) discard(obj T) {
	p.mu.Lock()
	delete(p.active, obj)
	p.broadcast()
	p.mu.Unlock()
	p.destroy(obj)
}

// Evict trims idle objects beyond MaxIdle or older than IdleTimeout, keeping
// MinIdle.
func (p *Pool[T]) Evict() {
	p.mu.Lock()
	victims := p.trimLocked()
	if len(victims) > 0 {
		p.broadcast()
	}
	p.maybeRefillLocked()
	p.mu.Unlock()
	p.destroy(victims...)
}

// trimLocked removes surplus idle objects and returns them for destruction.
func (p *Pool[T]) trimLocked() []T {
	var victims []T

	// Shrink toward a lowered MaxTotal by dropping idle objects first.
	for len(p.idle) > 0 && (len(p.idle) > p.cfg.MaxIdle || p.live() > p.cfg.MaxTotal) {
		victims = append(victims, p.idle[0].obj)
		p.idle = p.idle[1:]
	}

	if p.cfg.IdleTimeout > 0 {
		now := p.clock.Now()
		for len(p.idle) > p.cfg.MinIdle && now.Sub(p.idle[0].since) >= p.cfg.IdleTimeout {
			victims = append(victims, p.idle[0].obj)
			p.idle = p.idle[1:]
		}
	}
	return victims
}

func (p *Pool[T]) destroy(objs ...T) {
	for _, obj := range objs {
		p.metrics.destroyed.Inc(1)
		if err := p.factory.Destroy(obj); err != nil {
			p.logger.Debug("failed to destroy pooled connection", zap.Error(err))
		}
	}
}

// maybeRefillLocked starts a background refill when idle objects fell below
// MinIdle. At most one refill runs at a time.
func (p *Pool[T]) maybeRefillLocked() {
	if p.closed || p.refilling || p.cfg.MinIdle == 0 {
		return
	}
	need := p.refillNeedLocked()
	if need <= 0 {
		return
	}
	p.refilling = true
	p.creating += need
	p.wg.Add(1)
	go p.refill(need)
}

func (p *Pool[T]) refillNeedLocked() int {
	need := p.cfg.MinIdle - len(p.idle) - p.creating
	if room := p.cfg.MaxTotal - p.live(); need > room {
		need = room
	}
	return need
}

func (p *Pool[T]) refill(n int) {
	defer p.wg.Done()

	err := p.fill(p.ctx, n)

	p.mu.Lock()
	p.refilling = false
	if err == nil {
		// Borrows that raced with this refill may have drained it again.
		p.maybeRefillLocked()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("failed to restore minimum idle connections", zap.Error(err))
	}
}

// fill creates n idle objects concurrently. The caller has counted them in
// creating.
func (p *Pool[T]) fill(ctx context.Context, n int) error {
	var (
		g      errgroup.Group
		errMu  sync.Mutex
		errors error
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			obj, err := p.factory.Make(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.broadcast()
				p.mu.Unlock()
				errMu.Lock()
				errors = multierr.Append(errors, err)
				errMu.Unlock()
				return nil
			}
			if p.closed {
				p.mu.Unlock()
				p.destroy(obj)
				return nil
			}
			p.idle = append(p.idle, idleEntry[T]{obj: obj, since: p.clock.Now()})
			p.broadcast()
			p.mu.Unlock()
			p.metrics.created.Inc(1)
			return nil
		})
	}
	_ = g.Wait()
	return errors
}

// Prewarm synchronously creates idle objects up to MinIdle.
func (p *Pool[T]) Prewarm(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return rpcerrors.ChannelClosedErrorf("pool is closed")
	}
	need := p.refillNeedLocked()
	if need <= 0 {
		p.mu.Unlock()
		return nil
	}
	p.creating += need
	p.mu.Unlock()

	return p.fill(ctx, need)
}

// SetMaxTotal changes the capacity. Lowering it never evicts active objects;
// the pool shrinks as they come back.
func (p *Pool[T]) SetMaxTotal(n int) {
	p.mu.Lock()
	cfg := p.cfg
	cfg.MaxTotal = n
	if cfg.MaxIdle > n {
		cfg.MaxIdle = n
	}
	p.cfg = cfg.normalize()
	victims := p.trimLocked()
	p.broadcast()
	p.mu.Unlock()
	p.destroy(victims...)
}

// Stats reports the pool's current occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Active:   len(p.active),
		Idle:     len(p.idle),
		Creating: p.creating,
		MaxTotal: p.cfg.MaxTotal,
	}
	p.metrics.active.Update(float64(s.Active))
	p.metrics.idle.Update(float64(s.Idle))
	return s
}

// Close destroys idle objects and fails later borrows. Borrowed objects are
// destroyed when they are returned.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	victims := make([]T, 0, len(p.idle))
	for _, e := range p.idle {
		victims = append(victims, e.obj)
	}
	p.idle = nil
	p.broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	var err error
	for _, obj := range victims {
		p.metrics.destroyed.Inc(1)
		err = multierr.Append(err, p.factory.Destroy(obj))
	}
	return err
}
