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

// Package channel decides which physical connection carries a call to one
// endpoint. A channel is one of three variants fixed at construction:
//
//   - Pooled borrows from a bounded connection pool.
//   - Single shares one multiplexed connection and reconnects in the
//     background when it breaks.
//   - Short dials a fresh connection for every call.
//
// Every successful Acquire must be followed by exactly one Release or
// Invalidate of the returned connection.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/uber-go/mapdecode"
	"go.uber.org/rpcrt/conn"
	"go.uber.org/rpcrt/rpcerrors"
)

// Type names a channel variant.
type Type int

const (
	// Pooled channels borrow connections from a pool.
	Pooled Type = iota + 1
	// Single channels multiplex every call over one connection.
	Single
	// Short channels use one connection per call.
	Short
)

var _typeNames = map[Type]string{
	Pooled: "pooled",
	Single: "single",
	Short:  "short",
}

func (t Type) String() string {
	if s, ok := _typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses "pooled", "single" or "short".
func ParseType(s string) (Type, error) {
	for t, name := range _typeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, rpcerrors.InvalidArgumentErrorf("unknown channel type %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Decode implements mapdecode.Decoder.
func (t *Type) Decode(into mapdecode.Into) error {
	var s string
	if err := into(&s); err != nil {
		return fmt.Errorf("could not decode channel type: %v", err)
	}
	return t.UnmarshalText([]byte(s))
}

// Stats counts the connections held by a channel.
type Stats struct {
	Active int
	Idle   int
}

// Channel hands out connections to one endpoint.
type Channel interface {
	// Acquire returns a usable connection.
	Acquire(ctx context.Context) (*conn.Conn, error)
	// Release gives back a connection that is still healthy.
	Release(*conn.Conn)
	// Invalidate gives back a connection that must not be reused.
	Invalidate(*conn.Conn)
	// Close tears the channel down. Later Acquires fail with ChannelClosed.
	Close() error

	Type() Type
	Stats() Stats
}

// Dialer opens connections to the channel's endpoint. *conn.Factory
// satisfies it.
type Dialer interface {
	Dial(ctx context.Context) (*conn.Conn, error)
}

// Use acquires a connection for the duration of fn. The connection is
// released when fn succeeds or fails with an application error, and
// invalidated when fn fails at the connection level or panics. Panics are
// re-raised after the connection is given back.
func Use(ctx context.Context, ch Channel, fn func(*conn.Conn) error) (err error) {
	c, err := ch.Acquire(ctx)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			ch.Invalidate(c)
		}
	}()

	err = fn(c)
	done = true
	if err != nil && rpcerrors.IsConnectionLevel(rpcerrors.ErrorCode(err)) {
		ch.Invalidate(c)
	} else {
		ch.Release(c)
	}
	return err
}
