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

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/conn"
)

// Callback receives the outcome of an asynchronous call.
type Callback func(*codec.Response, error)

// PendingCall is an outstanding call. It doubles as the future returned by
// Go.
type PendingCall struct {
	id       uint64
	conn     *conn.Conn
	started  time.Time
	timer    clockwork.Timer
	onFinish func(error)
	executor conn.Executor

	done chan struct{}
	res  *codec.Response
	err  error

	mu        sync.Mutex
	finished  bool
	callbacks []Callback
}

// ID returns the correlation id of the call.
func (pc *PendingCall) ID() uint64 { return pc.id }

// Done returns a channel closed once the call resolves.
func (pc *PendingCall) Done() <-chan struct{} { return pc.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (pc *PendingCall) Result() (*codec.Response, error) { return pc.res, pc.err }

// Wait blocks until the call resolves or ctx ends. Ending ctx does not cancel
// the call.
func (pc *PendingCall) Wait(ctx context.Context) (*codec.Response, error) {
	select {
	case <-pc.done:
		return pc.res, pc.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnComplete registers a callback. Callbacks run on the table's executor, or
// on the resolving goroutine without one. A callback registered after the
// call resolved runs right away.
func (pc *PendingCall) OnComplete(cb Callback) {
	pc.mu.Lock()
	if !pc.finished {
		pc.callbacks = append(pc.callbacks, cb)
		pc.mu.Unlock()
		return
	}
	pc.mu.Unlock()
	pc.run(cb)
}

func (pc *PendingCall) finish(res *codec.Response, err error) {
	pc.res, pc.err = res, err
	if pc.onFinish != nil {
		pc.onFinish(err)
	}
	close(pc.done)

	pc.mu.Lock()
	pc.finished = true
	callbacks := pc.callbacks
	pc.callbacks = nil
	pc.mu.Unlock()

	for _, cb := range callbacks {
		pc.run(cb)
	}
}

func (pc *PendingCall) run(cb Callback) {
	if pc.executor != nil {
		if err := pc.executor.Submit(func() { cb(pc.res, pc.err) }); err == nil {
			return
		}
	}
	cb(pc.res, pc.err)
}
