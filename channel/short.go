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

	"go.uber.org/multierr"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/rpcerrors"
)

// ShortChannel dials a new connection per call and closes it afterwards.
type ShortChannel struct {
	dialer Dialer

	mu     sync.Mutex
	open   map[*conn.Conn]struct{}
	closed bool
}

var _ Channel = (*ShortChannel)(nil)

// NewShort builds a short-lived channel.
func NewShort(dialer Dialer) *ShortChannel {
	return &ShortChannel{dialer: dialer, open: make(map[*conn.Conn]struct{})}
}

// Acquire dials a fresh connection.
func (ch *ShortChannel) Acquire(ctx context.Context) (*conn.Conn, error) {
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return nil, rpcerrors.ChannelClosedErrorf("channel is closed")
	}

	c, err := ch.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		_ = c.Close()
		return nil, rpcerrors.ChannelClosedErrorf("channel is closed")
	}
	ch.open[c] = struct{}{}
	return c, nil
}

// Release closes the connection.
func (ch *ShortChannel) Release(c *conn.Conn) { ch.drop(c) }

// Invalidate closes the connection.
func (ch *ShortChannel) Invalidate(c *conn.Conn) { ch.drop(c) }

func (ch *ShortChannel) drop(c *conn.Conn) {
	ch.mu.Lock()
	delete(ch.open, c)
	ch.mu.Unlock()
	_ = c.Close()
}

// Close closes every connection still in use.
func (ch *ShortChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	open := ch.open
	ch.open = nil
	ch.mu.Unlock()

	var err error
	for c := range open {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Type returns Short.
func (ch *ShortChannel) Type() Type { return Short }

// Stats reports the connections currently in use.
func (ch *ShortChannel) Stats() Stats {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return Stats{Active: len(ch.open)}
}
