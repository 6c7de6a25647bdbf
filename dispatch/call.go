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
	"time"

	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/channel"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/rpcerrors"
)

// Call sends req over a connection from ch and waits for its response. A
// positive timeout bounds the wait; ending ctx cancels the call.
func Call(ctx context.Context, ch channel.Channel, t *Table, req *codec.Request, timeout time.Duration) (*codec.Response, error) {
	pc, err := Go(ctx, ch, t, req, timeout)
	if err != nil {
		return nil, err
	}
	<-pc.Done()
	return pc.Result()
}

// Go sends req and returns without waiting for the response. The connection
// is given back to ch when the call resolves.
func Go(ctx context.Context, ch channel.Channel, t *Table, req *codec.Request, timeout time.Duration) (*PendingCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, fromContext(err)
	}

	c, err := ch.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	pc, err := t.Register(c, timeout, func(err error) {
		dispose(ch, c, err)
	})
	if err != nil {
		ch.Release(c)
		return nil, err
	}

	req.CorrelationID = pc.ID()
	if req.Timeout == 0 {
		req.Timeout = timeout
	}
	frame, err := t.Codec().EncodeRequest(req)
	if err != nil {
		t.Cancel(pc.ID(), rpcerrors.InvalidArgumentErrorf("could not encode request: %v", err))
		return pc, nil
	}

	id := pc.ID()
	stop := context.AfterFunc(ctx, func() {
		t.Cancel(id, fromContext(ctx.Err()))
	})
	pc.OnComplete(func(*codec.Response, error) { stop() })

	if err := c.Write(frame); err != nil {
		t.Cancel(id, err)
	}
	return pc, nil
}

// dispose gives c back to ch according to the outcome of the call it
// carried. Pooled connections that saw a timeout or cancellation may still
// receive the late response, so they are not reused.
func dispose(ch channel.Channel, c *conn.Conn, err error) {
	code := rpcerrors.ErrorCode(err)
	switch ch.Type() {
	case channel.Single:
		if rpcerrors.IsConnectionLevel(code) {
			ch.Invalidate(c)
			return
		}
	case channel.Pooled:
		switch code {
		case rpcerrors.CodeTimeout, rpcerrors.CodeCancelled,
			rpcerrors.CodeProtocolDecode, rpcerrors.CodeChannelClosed, rpcerrors.CodeConnectFailed:
			ch.Invalidate(c)
			return
		}
	}
	ch.Release(c)
}

func fromContext(err error) error {
	if err == context.DeadlineExceeded {
		return rpcerrors.TimeoutErrorf("call deadline exceeded")
	}
	return rpcerrors.CancelledErrorf("call cancelled: %v", err)
}
