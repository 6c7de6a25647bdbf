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

package resource

import (
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

const (
	_defaultQueueFactor = 64
	_closeTimeout       = 30 * time.Second
)

// WorkerPool bounds the number of tasks in flight for one named role.
//
// Up to workers+queue tasks run at once on goroutines owned by an ants pool.
// Submit never blocks: past that bound it fails with PoolExhausted.
type WorkerPool struct {
	name   string
	logger *zap.Logger
	pool   *ants.Pool
	closed atomic.Bool
}

// NewWorkerPool builds a pool for workers tasks plus a backlog of queue. A
// non-positive queue defaults to a multiple of workers.
func NewWorkerPool(name string, workers, queue int, logger *zap.Logger) (*WorkerPool, error) {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * _defaultQueueFactor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WorkerPool{
		name:   name,
		logger: logger.With(zap.String("pool", name)),
	}
	pool, err := ants.NewPool(workers+queue,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(p.recovered),
		ants.WithLogger(zap.NewStdLog(p.logger)),
	)
	if err != nil {
		return nil, rpcerrors.InvalidArgumentErrorf("cannot build worker pool %q: %v", name, err)
	}
	p.pool = pool
	return p, nil
}

// Name returns the name of the pool.
func (p *WorkerPool) Name() string { return p.name }

// Cap returns the maximum number of tasks in flight.
func (p *WorkerPool) Cap() int { return p.pool.Cap() }

// Running returns the number of live worker goroutines.
func (p *WorkerPool) Running() int { return p.pool.Running() }

// Submit runs task on the pool. It fails when the pool is saturated or
// closed; it never blocks.
func (p *WorkerPool) Submit(task func()) error {
	if p.closed.Load() {
		return rpcerrors.FailedPreconditionErrorf("worker pool %q is closed", p.name)
	}
	switch err := p.pool.Submit(task); {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		return rpcerrors.FailedPreconditionErrorf("worker pool %q is closed", p.name)
	case errors.Is(err, ants.ErrPoolOverload):
		return rpcerrors.PoolExhaustedErrorf("worker pool %q is saturated", p.name)
	default:
		return rpcerrors.InternalErrorf("worker pool %q: %v", p.name, err)
	}
}

// Close stops accepting tasks and waits for the running ones to finish. It
// is idempotent.
func (p *WorkerPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.pool.ReleaseTimeout(_closeTimeout); err != nil {
		return rpcerrors.InternalErrorf("worker pool %q did not drain: %v", p.name, err)
	}
	return nil
}

// IsClosed returns whether Close was called.
func (p *WorkerPool) IsClosed() bool { return p.closed.Load() }

func (p *WorkerPool) recovered(r interface{}) {
	p.logger.Error("task panicked", zap.Any("panic", r))
}
