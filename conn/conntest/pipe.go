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

package conntest

import (
	"context"
	"net"
	"sync"

	"go.uber.org/atomic"
)

// PipeDialer is a Dialer whose connections are in-memory pipes. The far end
// of every pipe is handed to the Serve function on its own goroutine.
type PipeDialer struct {
	Serve func(net.Conn)

	dials atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
}

// DialContext implements conn.Dialer.
func (d *PipeDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.dials.Inc()
	client, server := net.Pipe()

	d.mu.Lock()
	d.conns = append(d.conns, server)
	d.mu.Unlock()

	if d.Serve != nil {
		go d.Serve(server)
	}
	return client, nil
}

// Dials returns how many connections were opened.
func (d *PipeDialer) Dials() int { return int(d.dials.Load()) }

// CloseAll closes the server end of every pipe.
func (d *PipeDialer) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}
