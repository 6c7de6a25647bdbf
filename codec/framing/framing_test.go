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

package framing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/rpcrt/api/codec"
)

func TestRequestRoundTrip(t *testing.T) {
	c := New(0)
	req := &codec.Request{
		CorrelationID: 42,
		Service:       "echo",
		Method:        "Echo::echo",
		Timeout:       1500 * time.Millisecond,
		Payload:       []byte("hello"),
	}
	b, err := c.EncodeRequest(req)
	require.NoError(t, err)

	// Every strict prefix is a partial frame.
	for i := 0; i < len(b); i++ {
		_, _, err := c.DecodeRequest(b[:i])
		require.Equal(t, codec.ErrInsufficientData, err, "prefix of %d bytes", i)
	}

	// Trailing bytes of the next frame are left alone.
	got, n, err := c.DecodeRequest(append(b, 'R', 'T'))
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	c := New(0)
	res := &codec.Response{CorrelationID: 7, ErrorCode: 7, ErrorMessage: "handler failed"}
	b, err := c.EncodeResponse(res)
	require.NoError(t, err)

	got, n, err := c.DecodeResponse(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, res, got)
}

func TestDecodeMalformed(t *testing.T) {
	c := New(64)

	_, _, err := c.DecodeResponse([]byte("XX\x02\x00\x00\x00\x00"))
	assert.Error(t, err)
	assert.NotEqual(t, codec.ErrInsufficientData, err)

	req, err := c.EncodeRequest(&codec.Request{Method: "m"})
	require.NoError(t, err)
	_, _, err = c.DecodeResponse(req)
	assert.Contains(t, err.Error(), "unexpected frame kind")

	_, _, err = c.DecodeResponse([]byte("RT\x02\x00\x00\x10\x00"))
	assert.Contains(t, err.Error(), "exceeds")

	// A body too short for its fixed fields.
	_, _, err = c.DecodeResponse([]byte("RT\x02\x00\x00\x00\x02\x00\x01"))
	assert.Contains(t, err.Error(), "truncated")
}

func TestEncodeTooLarge(t *testing.T) {
	c := New(16)
	_, err := c.EncodeRequest(&codec.Request{Payload: make([]byte, 32)})
	assert.Error(t, err)
	_, err = c.EncodeResponse(&codec.Response{Payload: make([]byte, 32)})
	assert.Error(t, err)
}
