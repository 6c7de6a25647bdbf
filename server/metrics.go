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

package server

import (
	"sync"

	"github.com/uber-go/tally"
	"go.uber.org/rpcrt/rpcerrors"
)

type metrics struct {
	scope       tally.Scope
	requests    tally.Counter
	successes   tally.Counter
	latency     tally.Timer
	connections tally.Gauge

	mu       sync.Mutex
	failures map[rpcerrors.Code]tally.Counter
}

func newMetrics(scope tally.Scope) *metrics {
	scope = scope.SubScope("server")
	return &metrics{
		scope:       scope,
		requests:    scope.Counter("requests"),
		successes:   scope.Counter("successes"),
		latency:     scope.Timer("latency"),
		connections: scope.Gauge("connections"),
		failures:    make(map[rpcerrors.Code]tally.Counter),
	}
}

func (m *metrics) failure(code rpcerrors.Code) tally.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.failures[code]
	if !ok {
		c = m.scope.Tagged(map[string]string{"code": code.String()}).Counter("failures")
		m.failures[code] = c
	}
	return c
}
