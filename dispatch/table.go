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

// Package dispatch correlates outgoing requests with their responses.
//
// Each endpoint has a Table of outstanding calls keyed by correlation id. A
// call resolves exactly once, by whichever of these happens first: its
// response arrives, its deadline passes, its connection is torn down, the
// caller gives up, or the table is closed. Every path removes the call with
// a single LoadAndDelete, so only the winner completes it.
package dispatch

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/atomic"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

// Observer is told the outcome of every resolved call.
type Observer func(latency time.Duration, err error)

// TableOption customizes a Table.
type TableOption func(*Table)

// Clock sets the clock used for deadlines and latency.
func Clock(clock clockwork.Clock) TableOption {
	return func(t *Table) { t.clock = clock }
}

// Logger sets the table's logger.
func Logger(logger *zap.Logger) TableOption {
	return func(t *Table) { t.logger = logger }
}

// WithObserver registers the observer of call outcomes.
func WithObserver(o Observer) TableOption {
	return func(t *Table) { t.observer = o }
}

// WithExecutor runs completion callbacks on the given executor.
func WithExecutor(e conn.Executor) TableOption {
	return func(t *Table) { t.executor = e }
}

// Table tracks the outstanding calls to one endpoint. It is the
// conn.Receiver of every connection to that endpoint.
type Table struct {
	codec    codec.Codec
	clock    clockwork.Clock
	logger   *zap.Logger
	observer Observer
	executor conn.Executor

	nextID  atomic.Uint64
	pending *xsync.Map[uint64, *PendingCall]
	closed  atomic.Bool
}

var _ conn.Receiver = (*Table)(nil)

// NewTable builds an empty table decoding responses with c.
func NewTable(c codec.Codec, opts ...TableOption) *Table {
	t := &Table{
		codec:   c,
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		pending: xsync.NewMap[uint64, *PendingCall](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Codec returns the codec of the table.
func (t *Table) Codec() codec.Codec { return t.codec }

// Len returns the number of outstanding calls.
func (t *Table) Len() int { return t.pending.Size() }

// Register allocates a correlation id for a call carried by c. A positive
// timeout arms the call's deadline. onFinish runs exactly once when the call
// resolves, before any callback.
func (t *Table) Register(c *conn.Conn, timeout time.Duration, onFinish func(error)) (*PendingCall, error) {
	if t.closed.Load() {
		return nil, rpcerrors.ChannelClosedErrorf("endpoint is closed")
	}

	pc := &PendingCall{
		id:       t.nextID.Inc(),
		conn:     c,
		started:  t.clock.Now(),
		done:     make(chan struct{}),
		onFinish: onFinish,
		executor: t.executor,
	}
	var expired atomic.Bool
	timeoutErr := rpcerrors.TimeoutErrorf("call %d timed out after %v", pc.id, timeout)
	if timeout > 0 {
		id := pc.id
		pc.timer = t.clock.AfterFunc(timeout, func() {
			expired.Store(true)
			t.complete(id, nil, timeoutErr)
		})
	}
	t.pending.Store(pc.id, pc)

	// The deadline may have passed, or Close may have drained the table,
	// before the call was stored.
	switch {
	case expired.Load():
		t.complete(pc.id, nil, timeoutErr)
	case t.closed.Load():
		t.complete(pc.id, nil, rpcerrors.ChannelClosedErrorf("endpoint is closed"))
	}
	return pc, nil
}

// Resolve completes the call the response answers. It returns false for
// responses to calls that already resolved.
func (t *Table) Resolve(res *codec.Response) bool {
	var err error
	if res.ErrorCode != 0 {
		err = rpcerrors.Newf(rpcerrors.Code(res.ErrorCode), "%s", res.ErrorMessage)
	}
	if !t.complete(res.CorrelationID, res, err) {
		t.logger.Debug("dropping response to unknown call", zap.Uint64("correlationID", res.CorrelationID))
		return false
	}
	return true
}

// Cancel fails the call with err if it is still outstanding.
func (t *Table) Cancel(id uint64, err error) bool {
	return t.complete(id, nil, err)
}

// FailConn fails every outstanding call carried by c.
func (t *Table) FailConn(c *conn.Conn, err error) {
	if err == nil {
		err = rpcerrors.ChannelClosedErrorf("connection closed")
	}
	t.pending.Range(func(id uint64, pc *PendingCall) bool {
		if pc.conn == c {
			t.complete(id, nil, err)
		}
		return true
	})
}

// Close fails every outstanding call and rejects new ones.
func (t *Table) Close() {
	t.closed.Store(true)
	t.pending.Range(func(id uint64, _ *PendingCall) bool {
		t.complete(id, nil, rpcerrors.ChannelClosedErrorf("endpoint closed with call %d outstanding", id))
		return true
	})
}

func (t *Table) complete(id uint64, res *codec.Response, err error) bool {
	pc, ok := t.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	if t.observer != nil {
		t.observer(t.clock.Since(pc.started), err)
	}
	pc.finish(res, err)
	return true
}

// Decode implements conn.Receiver.
func (t *Table) Decode(buf []byte) (interface{}, int, error) {
	res, n, err := t.codec.DecodeResponse(buf)
	if err != nil {
		return nil, 0, err
	}
	return res, n, nil
}

// Receive implements conn.Receiver.
func (t *Table) Receive(_ *conn.Conn, msg interface{}) {
	if res, ok := msg.(*codec.Response); ok {
		t.Resolve(res)
	}
}

// Closed implements conn.Receiver.
func (t *Table) Closed(c *conn.Conn, err error) {
	t.FailConn(c, err)
}
