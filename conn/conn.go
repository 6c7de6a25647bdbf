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

// Package conn implements the physical connection shared by every channel
// variant: a net.Conn with serialized writes and a read loop that decodes
// frames and hands them to a Receiver.
package conn

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

const _defaultReadBufferSize = 4096

var _nextID atomic.Uint64

// Receiver decodes the inbound byte stream of a connection and consumes the
// decoded messages.
type Receiver interface {
	// Decode consumes a message from the front of buf. It returns
	// codec.ErrInsufficientData when buf holds a partial frame.
	Decode(buf []byte) (msg interface{}, n int, err error)

	// Receive handles one decoded message. It runs on the connection's
	// executor.
	Receive(c *Conn, msg interface{})

	// Closed is called exactly once when the connection closes.
	Closed(c *Conn, err error)
}

// Executor runs decoded message handlers off the read loop.
type Executor interface {
	Submit(func()) error
}

// Option customizes a Conn.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	executor   Executor
	logger     *zap.Logger
	bufferSize int
}

// WithExecutor runs Receive calls on the given executor. Without one, or when
// the executor refuses a task, messages are handled on the read loop.
func WithExecutor(e Executor) Option {
	return optionFunc(func(o *options) { o.executor = e })
}

// WithLogger sets the logger of the connection.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(o *options) { o.logger = logger })
}

// ReadBufferSize sets the size of a single read from the socket.
func ReadBufferSize(n int) Option {
	return optionFunc(func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	})
}

// Conn is a live physical connection.
type Conn struct {
	id       uint64
	nc       net.Conn
	receiver Receiver
	executor Executor
	logger   *zap.Logger
	bufSize  int

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	err       atomic.Error
}

// New wraps nc and starts its read loop.
func New(nc net.Conn, receiver Receiver, opts ...Option) *Conn {
	o := options{logger: zap.NewNop(), bufferSize: _defaultReadBufferSize}
	for _, opt := range opts {
		opt.apply(&o)
	}

	c := &Conn{
		id:       _nextID.Inc(),
		nc:       nc,
		receiver: receiver,
		executor: o.executor,
		bufSize:  o.bufferSize,
		done:     make(chan struct{}),
	}
	c.logger = o.logger.With(
		zap.Uint64("conn", c.id),
		zap.Stringer("remote", nc.RemoteAddr()),
	)
	go c.readLoop()
	return c
}

// ID uniquely identifies the connection within the process.
func (c *Conn) ID() uint64 { return c.id }

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// Alive returns whether the connection is still open.
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection closed, nil while it is alive.
func (c *Conn) Err() error { return c.err.Load() }

// Write sends one encoded frame. Concurrent writers are serialized, so frames
// leave in the order their writers acquired the connection.
func (c *Conn) Write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.Alive() {
		return c.closedError()
	}
	if _, err := c.nc.Write(frame); err != nil {
		c.closeWith(rpcerrors.ChannelClosedErrorf("write to %v failed: %v", c.RemoteAddr(), err))
		return c.closedError()
	}
	return nil
}

// Close closes the connection. It is idempotent.
func (c *Conn) Close() error {
	c.closeWith(rpcerrors.ChannelClosedErrorf("connection to %v closed", c.RemoteAddr()))
	return nil
}

func (c *Conn) closedError() error {
	if err := c.Err(); err != nil {
		return err
	}
	return rpcerrors.ChannelClosedErrorf("connection to %v closed", c.RemoteAddr())
}

func (c *Conn) closeWith(reason error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.err.Store(reason)
		close(c.done)
		if err := c.nc.Close(); err != nil {
			c.logger.Debug("error closing connection", zap.Error(err))
		}
	})
	// Outside the Once: the receiver may close this connection again.
	if first && c.receiver != nil {
		c.receiver.Closed(c, reason)
	}
}

func (c *Conn) readLoop() {
	var (
		buf   []byte
		chunk = make([]byte, c.bufSize)
	)
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var decodeErr error
			buf, decodeErr = c.drain(buf)
			if decodeErr != nil {
				c.logger.Warn("closing connection after decode failure", zap.Error(decodeErr))
				c.closeWith(rpcerrors.ProtocolDecodeErrorf("decoding frame from %v: %v", c.RemoteAddr(), decodeErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.Alive() {
				c.logger.Debug("connection read failed", zap.Error(err))
			}
			c.closeWith(rpcerrors.ChannelClosedErrorf("connection to %v lost: %v", c.RemoteAddr(), err))
			return
		}
	}
}

// drain decodes every complete frame at the front of buf and returns what is
// left over.
func (c *Conn) drain(buf []byte) ([]byte, error) {
	for len(buf) > 0 {
		msg, n, err := c.receiver.Decode(buf)
		if err == codec.ErrInsufficientData {
			break
		}
		if err != nil {
			return nil, err
		}
		if n <= 0 || n > len(buf) {
			return nil, errors.New("decoder consumed an invalid number of bytes")
		}
		buf = buf[n:]
		c.deliver(msg)
	}
	if len(buf) == 0 {
		return nil, nil
	}
	// Move the partial frame to a fresh slice so the consumed prefix can be
	// collected.
	rest := make([]byte, len(buf))
	copy(rest, buf)
	return rest, nil
}

func (c *Conn) deliver(msg interface{}) {
	if c.executor != nil {
		err := c.executor.Submit(func() { c.receiver.Receive(c, msg) })
		if err == nil {
			return
		}
		c.logger.Debug("executor refused message, handling inline", zap.Error(err))
	}
	c.receiver.Receive(c, msg)
}
