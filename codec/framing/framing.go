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

// Package framing is a minimal length-prefixed binary codec.
//
// Every frame is
//
//  magic (2 bytes "RT") | kind (1 byte) | body length (uint32, big endian) | body
//
// Request bodies hold the correlation id, the timeout in milliseconds, the
// service and method names and the payload. Response bodies hold the
// correlation id, the error code, the error message and the payload.
package framing

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/rpcrt/api/codec"
)

const (
	_magic0 = 'R'
	_magic1 = 'T'

	_kindRequest  byte = 1
	_kindResponse byte = 2

	_headerLen = 7

	// DefaultMaxFrameSize bounds the body of a single frame.
	DefaultMaxFrameSize = 16 << 20
)

// Codec implements codec.Codec.
type Codec struct {
	maxFrameSize int
}

var _ codec.Codec = (*Codec)(nil)

// New returns a framing codec. A non-positive maxFrameSize uses
// DefaultMaxFrameSize.
func New(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// Name returns "framing".
func (c *Codec) Name() string { return "framing" }

// EncodeRequest implements codec.Codec.
func (c *Codec) EncodeRequest(req *codec.Request) ([]byte, error) {
	if len(req.Service) > math.MaxUint16 || len(req.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("service or method name too long")
	}
	bodyLen := 8 + 4 + 2 + len(req.Service) + 2 + len(req.Method) + len(req.Payload)
	if bodyLen > c.maxFrameSize {
		return nil, fmt.Errorf("request of %d bytes exceeds the %d byte frame limit", bodyLen, c.maxFrameSize)
	}

	buf := make([]byte, _headerLen, _headerLen+bodyLen)
	putHeader(buf, _kindRequest, bodyLen)
	buf = binary.BigEndian.AppendUint64(buf, req.CorrelationID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(req.Timeout/time.Millisecond))
	buf = appendString(buf, req.Service)
	buf = appendString(buf, req.Method)
	buf = append(buf, req.Payload...)
	return buf, nil
}

// DecodeRequest implements codec.Codec.
func (c *Codec) DecodeRequest(buf []byte) (*codec.Request, int, error) {
	body, n, err := c.frame(buf, _kindRequest)
	if err != nil {
		return nil, 0, err
	}

	r := reader{b: body}
	req := &codec.Request{
		CorrelationID: r.uint64(),
		Timeout:       time.Duration(r.uint32()) * time.Millisecond,
		Service:       r.string(),
		Method:        r.string(),
	}
	req.Payload = r.rest()
	if r.err != nil {
		return nil, 0, r.err
	}
	return req, n, nil
}

// EncodeResponse implements codec.Codec.
func (c *Codec) EncodeResponse(res *codec.Response) ([]byte, error) {
	msg := res.ErrorMessage
	if len(msg) > math.MaxUint16 {
		msg = msg[:math.MaxUint16]
	}
	bodyLen := 8 + 4 + 2 + len(msg) + len(res.Payload)
	if bodyLen > c.maxFrameSize {
		return nil, fmt.Errorf("response of %d bytes exceeds the %d byte frame limit", bodyLen, c.maxFrameSize)
	}

	buf := make([]byte, _headerLen, _headerLen+bodyLen)
	putHeader(buf, _kindResponse, bodyLen)
	buf = binary.BigEndian.AppendUint64(buf, res.CorrelationID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(res.ErrorCode))
	buf = appendString(buf, msg)
	buf = append(buf, res.Payload...)
	return buf, nil
}

// DecodeResponse implements codec.Codec.
func (c *Codec) DecodeResponse(buf []byte) (*codec.Response, int, error) {
	body, n, err := c.frame(buf, _kindResponse)
	if err != nil {
		return nil, 0, err
	}

	r := reader{b: body}
	res := &codec.Response{
		CorrelationID: r.uint64(),
		ErrorCode:     int32(r.uint32()),
		ErrorMessage:  r.string(),
	}
	res.Payload = r.rest()
	if r.err != nil {
		return nil, 0, r.err
	}
	return res, n, nil
}

// frame validates the header at the front of buf and returns the body and
// the total frame length.
func (c *Codec) frame(buf []byte, kind byte) ([]byte, int, error) {
	if len(buf) < _headerLen {
		return nil, 0, codec.ErrInsufficientData
	}
	if buf[0] != _magic0 || buf[1] != _magic1 {
		return nil, 0, fmt.Errorf("bad frame magic %q", buf[:2])
	}
	if buf[2] != kind {
		return nil, 0, fmt.Errorf("unexpected frame kind %d, want %d", buf[2], kind)
	}
	bodyLen := int(binary.BigEndian.Uint32(buf[3:_headerLen]))
	if bodyLen > c.maxFrameSize {
		return nil, 0, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", bodyLen, c.maxFrameSize)
	}
	total := _headerLen + bodyLen
	if len(buf) < total {
		return nil, 0, codec.ErrInsufficientData
	}
	return buf[_headerLen:total], total, nil
}

func putHeader(buf []byte, kind byte, bodyLen int) {
	buf[0], buf[1], buf[2] = _magic0, _magic1, kind
	binary.BigEndian.PutUint32(buf[3:_headerLen], uint32(bodyLen))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader consumes a frame body, remembering the first short read.
type reader struct {
	b   []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("truncated frame body: need %d bytes, have %d", n, len(r.b))
		return nil
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

func (r *reader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) string() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *reader) rest() []byte {
	if r.err != nil || len(r.b) == 0 {
		return nil
	}
	out := make([]byte, len(r.b))
	copy(out, r.b)
	return out
}
