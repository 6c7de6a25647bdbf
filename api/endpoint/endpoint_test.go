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

package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointIdentity(t *testing.T) {
	md := map[string]string{"zone": "a"}
	e := New("10.0.0.1", 8080, md)
	md["zone"] = "b"

	zone, ok := e.Metadata("zone")
	require.True(t, ok)
	assert.Equal(t, "a", zone, "metadata is copied")
	assert.Equal(t, "10.0.0.1:8080", e.Identifier())
	assert.Equal(t, New("10.0.0.1", 8080, nil).Identifier(), e.Identifier())

	v6 := New("::1", 80, nil)
	assert.Equal(t, "[::1]:80", v6.Identifier())
}

func TestEndpointEqual(t *testing.T) {
	a := New("10.0.0.1", 80, map[string]string{"zone": "a"})
	assert.True(t, a.Equal(New("10.0.0.1", 80, map[string]string{"zone": "a"})))
	assert.False(t, a.Equal(New("10.0.0.1", 80, map[string]string{"zone": "b"})))
	assert.False(t, a.Equal(New("10.0.0.1", 81, map[string]string{"zone": "a"})))

	parsed, err := Parse("10.0.0.1:80")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(New("10.0.0.1", 80, nil)))
}

func TestParse(t *testing.T) {
	e, err := Parse("127.0.0.1:4040")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", e.Host())
	assert.Equal(t, 4040, e.Port())

	for _, bad := range []string{"nope", "host:", "host:abc", "host:70000"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestServiceDescriptorString(t *testing.T) {
	assert.Equal(t, "echo", ServiceDescriptor{Name: "echo"}.String())
	assert.Equal(t, "infra/echo:v2", ServiceDescriptor{Name: "echo", Group: "infra", Version: "v2"}.String())
}
