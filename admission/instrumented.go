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

package admission

import (
	"github.com/uber-go/tally"
	"go.uber.org/rpcrt/api/codec"
)

// instrumented counts the decisions of a limiter.
type instrumented struct {
	Limiter

	admitted tally.Counter
	rejected tally.Counter
}

func newInstrumented(l Limiter, t Type, scope tally.Scope) *instrumented {
	scope = scope.Tagged(map[string]string{"limiter": t.String()})
	return &instrumented{
		Limiter:  l,
		admitted: scope.Counter("admitted"),
		rejected: scope.Counter("rejected"),
	}
}

func (i *instrumented) Allow(req *codec.Request) bool {
	if i.Limiter.Allow(req) {
		i.admitted.Inc(1)
		return true
	}
	i.rejected.Inc(1)
	return false
}

// Release gives back the slot of an admitted call, if the limiter holds
// slots.
func (i *instrumented) Release(req *codec.Request) {
	if r, ok := i.Limiter.(Releaser); ok {
		r.Release(req)
	}
}

// Unwrap returns the underlying limiter.
func (i *instrumented) Unwrap() Limiter { return i.Limiter }
