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

// Package codec defines the messages that cross a connection and the
// contract of the protocol collaborator that encodes them.
package codec

import (
	"errors"
	"time"
)

// ErrInsufficientData is returned by decoders when the buffer holds only
// part of a frame. Connections read more data and try again; it is never a
// failure by itself.
var ErrInsufficientData = errors.New("insufficient data to decode frame")

// Request is an outgoing call.
type Request struct {
	// CorrelationID is echoed by the response. Set by the dispatch layer.
	CorrelationID uint64
	Service       string
	Method        string
	// Timeout is the time the caller is willing to wait, propagated so the
	// server can bound handler execution.
	Timeout time.Duration
	Payload []byte
}

// Response answers a Request.
type Response struct {
	CorrelationID uint64
	Payload       []byte
	// ErrorCode and ErrorMessage carry a failure reported by the remote side.
	// A zero ErrorCode means success.
	ErrorCode    int32
	ErrorMessage string
}

// Codec converts messages to and from bytes.
//
// Decoders consume from the front of buf and return the number of bytes the
// decoded message occupied. They return ErrInsufficientData for a partial
// frame and any other error for malformed input.
type Codec interface {
	Name() string

	EncodeRequest(*Request) ([]byte, error)
	DecodeRequest(buf []byte) (*Request, int, error)

	EncodeResponse(*Response) ([]byte, error)
	DecodeResponse(buf []byte) (*Response, int, error)
}
