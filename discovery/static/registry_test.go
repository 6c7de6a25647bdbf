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

package static

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/rpcrt/api/endpoint"
)

var _echo = endpoint.ServiceDescriptor{Name: "echo"}

func ids(eps []endpoint.Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.Identifier()
	}
	return out
}

func TestLookupAndSubscribe(t *testing.T) {
	r, err := FromHostPorts(_echo, "127.0.0.1:1", "127.0.0.1:2")
	require.NoError(t, err)

	eps, err := r.Lookup(context.Background(), _echo)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"127.0.0.1:1", "127.0.0.1:2"}, ids(eps))

	var got []endpoint.Updates
	cancel, err := r.Subscribe(_echo, func(u endpoint.Updates) { got = append(got, u) })
	require.NoError(t, err)

	three, _ := endpoint.Parse("127.0.0.1:3")
	one, _ := endpoint.Parse("127.0.0.1:1")
	r.Set(_echo, three, mustParse(t, "127.0.0.1:2"))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"127.0.0.1:3"}, ids(got[0].Additions))
	assert.Equal(t, []string{"127.0.0.1:1"}, ids(got[0].Removals))

	// No-op changes are not published.
	r.Update(_echo, endpoint.Updates{Removals: []endpoint.Endpoint{one}})
	assert.Len(t, got, 1)

	cancel()
	cancel()
	r.Update(_echo, endpoint.Updates{Additions: []endpoint.Endpoint{one}})
	assert.Len(t, got, 1, "cancelled subscribers hear nothing")

	other, err := r.Lookup(context.Background(), endpoint.ServiceDescriptor{Name: "other"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestErrors(t *testing.T) {
	_, err := FromHostPorts(_echo, "nope")
	assert.Error(t, err)

	r := New()
	_, err = r.Subscribe(_echo, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Lookup(ctx, _echo)
	assert.Error(t, err)
}

func mustParse(t *testing.T, hp string) endpoint.Endpoint {
	ep, err := endpoint.Parse(hp)
	require.NoError(t, err)
	return ep
}
