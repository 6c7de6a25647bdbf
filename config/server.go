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

package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/rpcrt/rpcerrors"
)

// Server configures one server.
type Server struct {
	Service          string `config:"service,interpolate"`
	Address          string `config:"address,interpolate"`
	MaxConnections   int    `config:"maxConnections"`
	SharedThreadPool bool   `config:"sharedThreadPool"`
	IOThreadNum      int    `config:"ioThreadNum"`
	WorkThreadNum    int    `config:"workThreadNum"`
	// DefaultTimeoutMs bounds handlers of requests that carry no timeout.
	DefaultTimeoutMs int `config:"defaultTimeoutMs"`
}

// Server defaults.
const (
	DefaultServerAddress    = "127.0.0.1:0"
	DefaultServerTimeoutMs  = 5000
	DefaultServerIOThreads  = 4
	DefaultServerWorkThread = 32
)

// LoadServer decodes a server configuration from a map, applies defaults
// and validates it.
func LoadServer(data interface{}) (Server, error) {
	var s Server
	if err := DecodeInto(&s, data, InterpolateWith(os.LookupEnv)); err != nil {
		return Server{}, rpcerrors.InvalidArgumentErrorf("failed to decode server configuration: %v", err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return Server{}, err
	}
	return s, nil
}

// LoadServerYAML is LoadServer for YAML input.
func LoadServerYAML(r io.Reader) (Server, error) {
	data, err := readYAML(r)
	if err != nil {
		return Server{}, rpcerrors.InvalidArgumentErrorf("failed to parse server configuration: %v", err)
	}
	return LoadServer(data)
}

// ApplyDefaults fills zero values.
func (s *Server) ApplyDefaults() {
	if s.Address == "" {
		s.Address = DefaultServerAddress
	}
	if s.IOThreadNum == 0 {
		s.IOThreadNum = DefaultServerIOThreads
	}
	if s.WorkThreadNum == 0 {
		s.WorkThreadNum = DefaultServerWorkThread
	}
	if s.DefaultTimeoutMs == 0 {
		s.DefaultTimeoutMs = DefaultServerTimeoutMs
	}
}

// Validate reports every problem with the configuration at once.
func (s Server) Validate() error {
	var err error
	if s.Service == "" {
		err = multierr.Append(err, fmt.Errorf("service name is required"))
	}
	if s.MaxConnections < 0 {
		err = multierr.Append(err, fmt.Errorf("maxConnections must not be negative, got %d", s.MaxConnections))
	}
	if s.IOThreadNum < 0 || s.WorkThreadNum < 0 {
		err = multierr.Append(err, fmt.Errorf("thread counts must not be negative"))
	}
	if s.DefaultTimeoutMs < 0 {
		err = multierr.Append(err, fmt.Errorf("defaultTimeoutMs must not be negative, got %d", s.DefaultTimeoutMs))
	}
	if err != nil {
		return rpcerrors.Wrap(rpcerrors.CodeInvalidArgument, err)
	}
	return nil
}

// DefaultTimeout bounds handlers of requests without a timeout.
func (s Server) DefaultTimeout() time.Duration { return ms(s.DefaultTimeoutMs) }
