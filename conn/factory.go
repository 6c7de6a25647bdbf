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

package conn

import (
	"context"
	"net"
	"time"

	"go.uber.org/rpcrt/rpcerrors"
)

// Dialer opens raw network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Factory dials connections to one address.
type Factory struct {
	dialer         Dialer
	address        string
	connectTimeout time.Duration
	receiver       Receiver
	opts           []Option
}

// NewFactory builds a factory for address. A zero connectTimeout means the
// context alone bounds dialing.
func NewFactory(dialer Dialer, address string, connectTimeout time.Duration, receiver Receiver, opts ...Option) *Factory {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Factory{
		dialer:         dialer,
		address:        address,
		connectTimeout: connectTimeout,
		receiver:       receiver,
		opts:           opts,
	}
}

// Address returns the address the factory dials.
func (f *Factory) Address() string { return f.address }

// Dial opens a new connection. Failures and connect timeouts are
// ConnectFailed errors; a cancelled ctx is a Cancelled error.
func (f *Factory) Dial(ctx context.Context) (*Conn, error) {
	dialCtx := ctx
	if f.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, f.connectTimeout)
		defer cancel()
	}

	nc, err := f.dialer.DialContext(dialCtx, "tcp", f.address)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, rpcerrors.CancelledErrorf("dial %v cancelled", f.address)
		}
		return nil, rpcerrors.ConnectFailedErrorf("dial %v: %v", f.address, err)
	}
	return New(nc, f.receiver, f.opts...), nil
}
