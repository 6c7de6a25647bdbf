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
	"go.uber.org/rpcrt/admission"
	"go.uber.org/rpcrt/channel"
	"go.uber.org/rpcrt/connpool"
	"go.uber.org/rpcrt/loadbalance"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap/zapcore"
)

// Client configures one client of one service.
type Client struct {
	Service string `config:"service,interpolate"`
	Group   string `config:"group"`
	Version string `config:"version"`

	// Endpoints seed a static registry when no other registry is given.
	Endpoints []string `config:"endpoints"`

	ChannelType         channel.Type `config:"channelType"`
	MaxTotalConnections int          `config:"maxTotalConnections"`
	MaxIdleConnections  int          `config:"maxIdleConnections"`
	MinIdleConnections  int          `config:"minIdleConnections"`
	WaitForConnection   bool         `config:"waitForConnection"`
	ConnectTimeoutMs    int          `config:"connectTimeoutMs"`
	ReadTimeoutMs       int          `config:"readTimeoutMs"`
	IdleTimeoutMs       int          `config:"idleTimeoutMs"`

	LoadBalanceType loadbalance.Type `config:"loadBalanceType"`

	CurrentLimitType   admission.Type `config:"currentLimitType"`
	LimitThreshold     int            `config:"limitThreshold"`
	LimitIntervalMs    int            `config:"limitIntervalMs"`
	BucketSize         int            `config:"bucketSize"`
	MaxConcurrentCalls int            `config:"maxConcurrentCalls"`

	SharedThreadPool bool `config:"sharedThreadPool"`
	IOThreadNum      int  `config:"ioThreadNum"`
	WorkThreadNum    int  `config:"workThreadNum"`

	Retries           int `config:"retries"`
	LatencyWindowSize int `config:"latencyWindowSize"`
	FailureHalfLifeMs int `config:"failureHalfLifeMs"`
	ReconnectBaseMs   int `config:"reconnectBaseMs"`
	ReconnectMaxMs    int `config:"reconnectMaxMs"`

	LogLevel string `config:"logLevel,interpolate"`
}

// Client defaults.
const (
	DefaultMaxTotalConnections = 8
	DefaultConnectTimeoutMs    = 1000
	DefaultReadTimeoutMs       = 1000
	DefaultLimitIntervalMs     = 200
	DefaultIOThreadNum         = 4
	DefaultWorkThreadNum       = 16
	DefaultLatencyWindowSize   = 50
	DefaultReconnectBaseMs     = 10
	DefaultReconnectMaxMs      = 5000
)

// LoadClient decodes a client configuration from a map, applies defaults
// and validates it.
func LoadClient(data interface{}) (Client, error) {
	var c Client
	if err := DecodeInto(&c, data, InterpolateWith(os.LookupEnv)); err != nil {
		return Client{}, rpcerrors.InvalidArgumentErrorf("failed to decode client configuration: %v", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Client{}, err
	}
	return c, nil
}

// LoadClientYAML is LoadClient for YAML input.
func LoadClientYAML(r io.Reader) (Client, error) {
	data, err := readYAML(r)
	if err != nil {
		return Client{}, rpcerrors.InvalidArgumentErrorf("failed to parse client configuration: %v", err)
	}
	return LoadClient(data)
}

// ApplyDefaults fills zero values.
func (c *Client) ApplyDefaults() {
	if c.ChannelType == 0 {
		c.ChannelType = channel.Pooled
	}
	if c.MaxTotalConnections == 0 {
		c.MaxTotalConnections = DefaultMaxTotalConnections
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = c.MaxTotalConnections
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}
	if c.ReadTimeoutMs == 0 {
		c.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if c.LoadBalanceType == 0 {
		c.LoadBalanceType = loadbalance.Random
	}
	if c.CurrentLimitType == 0 {
		c.CurrentLimitType = admission.None
	}
	if c.LimitIntervalMs == 0 {
		c.LimitIntervalMs = DefaultLimitIntervalMs
	}
	if c.IOThreadNum == 0 {
		c.IOThreadNum = DefaultIOThreadNum
	}
	if c.WorkThreadNum == 0 {
		c.WorkThreadNum = DefaultWorkThreadNum
	}
	if c.LatencyWindowSize == 0 {
		c.LatencyWindowSize = DefaultLatencyWindowSize
	}
	if c.ReconnectBaseMs == 0 {
		c.ReconnectBaseMs = DefaultReconnectBaseMs
	}
	if c.ReconnectMaxMs == 0 {
		c.ReconnectMaxMs = DefaultReconnectMaxMs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every problem with the configuration at once.
func (c Client) Validate() error {
	var err error
	if c.Service == "" {
		err = multierr.Append(err, fmt.Errorf("service name is required"))
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"maxTotalConnections", c.MaxTotalConnections},
		{"maxIdleConnections", c.MaxIdleConnections},
		{"minIdleConnections", c.MinIdleConnections},
		{"connectTimeoutMs", c.ConnectTimeoutMs},
		{"readTimeoutMs", c.ReadTimeoutMs},
		{"idleTimeoutMs", c.IdleTimeoutMs},
		{"limitThreshold", c.LimitThreshold},
		{"limitIntervalMs", c.LimitIntervalMs},
		{"bucketSize", c.BucketSize},
		{"maxConcurrentCalls", c.MaxConcurrentCalls},
		{"ioThreadNum", c.IOThreadNum},
		{"workThreadNum", c.WorkThreadNum},
		{"retries", c.Retries},
		{"latencyWindowSize", c.LatencyWindowSize},
		{"failureHalfLifeMs", c.FailureHalfLifeMs},
		{"reconnectBaseMs", c.ReconnectBaseMs},
		{"reconnectMaxMs", c.ReconnectMaxMs},
	} {
		if f.value < 0 {
			err = multierr.Append(err, fmt.Errorf("%v must not be negative, got %d", f.name, f.value))
		}
	}
	if c.MinIdleConnections > c.MaxIdleConnections {
		err = multierr.Append(err, fmt.Errorf("minIdleConnections (%d) exceeds maxIdleConnections (%d)", c.MinIdleConnections, c.MaxIdleConnections))
	}
	if c.MaxIdleConnections > c.MaxTotalConnections {
		err = multierr.Append(err, fmt.Errorf("maxIdleConnections (%d) exceeds maxTotalConnections (%d)", c.MaxIdleConnections, c.MaxTotalConnections))
	}
	if c.ReconnectBaseMs > c.ReconnectMaxMs {
		err = multierr.Append(err, fmt.Errorf("reconnectBaseMs (%d) exceeds reconnectMaxMs (%d)", c.ReconnectBaseMs, c.ReconnectMaxMs))
	}
	if c.CurrentLimitType != 0 {
		err = multierr.Append(err, c.LimiterConfig().Validate())
	}
	if _, lerr := zapcore.ParseLevel(c.LogLevel); c.LogLevel != "" && lerr != nil {
		err = multierr.Append(err, fmt.Errorf("invalid logLevel: %v", lerr))
	}
	if err != nil {
		return rpcerrors.Wrap(rpcerrors.CodeInvalidArgument, err)
	}
	return nil
}

// PoolConfig is the connection pool configuration of pooled channels.
func (c Client) PoolConfig() connpool.Config {
	return connpool.Config{
		MaxTotal:    c.MaxTotalConnections,
		MaxIdle:     c.MaxIdleConnections,
		MinIdle:     c.MinIdleConnections,
		Wait:        c.WaitForConnection,
		IdleTimeout: ms(c.IdleTimeoutMs),
	}
}

// LimiterConfig is the admission configuration.
func (c Client) LimiterConfig() admission.Config {
	return admission.Config{
		Type:          c.CurrentLimitType,
		MaxQPS:        c.LimitThreshold,
		Interval:      ms(c.LimitIntervalMs),
		BucketSize:    c.BucketSize,
		MaxConcurrent: c.MaxConcurrentCalls,
	}
}

// Level returns the parsed log level, info when unset.
func (c Client) Level() zapcore.Level {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// ConnectTimeout is the dial timeout.
func (c Client) ConnectTimeout() time.Duration { return ms(c.ConnectTimeoutMs) }

// ReadTimeout is the default call timeout.
func (c Client) ReadTimeout() time.Duration { return ms(c.ReadTimeoutMs) }

// FailureHalfLife is the failure score half-life, zero for no decay.
func (c Client) FailureHalfLife() time.Duration { return ms(c.FailureHalfLifeMs) }

// ReconnectBase is the first reconnect backoff.
func (c Client) ReconnectBase() time.Duration { return ms(c.ReconnectBaseMs) }

// ReconnectMax caps the reconnect backoff.
func (c Client) ReconnectMax() time.Duration { return ms(c.ReconnectMaxMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
