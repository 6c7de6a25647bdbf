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
	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/zap"
)

// Option customizes a Server.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	scope   tally.Scope
	tracer  opentracing.Tracer
	manager *resource.Manager
	codec   codec.Codec
}

// Logger sets the server's logger.
func Logger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Scope sets the metrics scope.
func Scope(scope tally.Scope) Option {
	return func(o *options) { o.scope = scope }
}

// Tracer sets the tracer. Defaults to the global tracer.
func Tracer(tracer opentracing.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// Manager shares a resource manager. The server registers its Stop as a
// shutdown hook. Without one the server owns a private manager.
func Manager(m *resource.Manager) Option {
	return func(o *options) { o.manager = m }
}

// Codec sets the protocol codec. Defaults to the framing codec.
func Codec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}
