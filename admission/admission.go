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

// Package admission sheds calls before they are dispatched.
//
// Limiters decide synchronously and never queue: a rejected call fails with
// an AdmissionRejected error right away. Interval based limiters own a
// recurring timer that their owner starts and stops.
package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/uber-go/mapdecode"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
)

// DefaultInterval is the refill period of interval based limiters.
const DefaultInterval = 200 * time.Millisecond

// Limiter admits or rejects calls.
type Limiter interface {
	// Allow reports whether the call may proceed. It never blocks.
	Allow(*codec.Request) bool

	Start() error
	Stop() error
}

// Releaser is implemented by limiters that hold a slot for the duration of
// an admitted call. Release must be called once per admitted call.
type Releaser interface {
	Release(*codec.Request)
}

// Type names a limiter policy.
type Type int

const (
	// None admits everything.
	None Type = iota + 1
	// Counter admits a fixed number of calls per interval.
	Counter
	// TokenBucket admits calls while tokens remain; tokens refill every
	// interval up to the bucket size.
	TokenBucket
	// Rate smooths admissions with a continuously refilled bucket.
	Rate
	// Concurrency caps the number of calls in flight.
	Concurrency
)

var _typeNames = map[Type]string{
	None:        "none",
	Counter:     "counter",
	TokenBucket: "tokenBucket",
	Rate:        "rate",
	Concurrency: "concurrency",
}

func (t Type) String() string {
	if s, ok := _typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses a limiter type name, ignoring case.
func ParseType(s string) (Type, error) {
	for t, name := range _typeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, rpcerrors.InvalidArgumentErrorf("unknown current limit type %q", s)
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
		return fmt.Errorf("could not decode current limit type: %v", err)
	}
	return t.UnmarshalText([]byte(s))
}

// Config describes a limiter.
type Config struct {
	Type Type
	// MaxQPS is the admitted calls per second for Counter, TokenBucket and
	// Rate.
	MaxQPS int
	// Interval is the reset or refill period. Defaults to DefaultInterval.
	Interval time.Duration
	// BucketSize caps TokenBucket tokens and is the burst of Rate. Defaults
	// to the tokens added per interval.
	BucketSize int
	// MaxConcurrent is the in-flight cap of Concurrency.
	MaxConcurrent int
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var err error
	switch c.Type {
	case None, 0:
	case Counter, TokenBucket, Rate:
		if c.MaxQPS <= 0 {
			err = multierr.Append(err, fmt.Errorf("%v limiter needs a positive max QPS, got %d", c.Type, c.MaxQPS))
		}
		if c.Interval < 0 {
			err = multierr.Append(err, fmt.Errorf("%v limiter needs a positive interval, got %v", c.Type, c.Interval))
		}
		if c.BucketSize < 0 {
			err = multierr.Append(err, fmt.Errorf("bucket size must not be negative, got %d", c.BucketSize))
		}
	case Concurrency:
		if c.MaxConcurrent <= 0 {
			err = multierr.Append(err, fmt.Errorf("concurrency limiter needs a positive cap, got %d", c.MaxConcurrent))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown current limit type %v", c.Type))
	}
	if err != nil {
		return rpcerrors.Wrap(rpcerrors.CodeInvalidArgument, err)
	}
	return nil
}

// perInterval is max(1, MaxQPS * Interval / 1s).
func (c Config) perInterval() int64 {
	n := int64(c.MaxQPS) * int64(c.Interval) / int64(time.Second)
	if n < 1 {
		return 1
	}
	return n
}

// Option customizes a limiter.
type Option func(*options)

type options struct {
	clock  clockwork.Clock
	logger *zap.Logger
	scope  tally.Scope
}

// Clock sets the clock driving the limiter's timer.
func Clock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Logger sets the logger of the limiter's timer.
func Logger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Scope sets where admitted and rejected counts are reported.
func Scope(scope tally.Scope) Option {
	return func(o *options) { o.scope = scope }
}

// New builds a stopped limiter.
func New(cfg Config, opts ...Option) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
		scope:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}

	var l Limiter
	switch cfg.Type {
	case None, 0:
		cfg.Type = None
		l = nopLimiter{}
	case Counter:
		l = newFixedCounter(cfg, o)
	case TokenBucket:
		l = newTokenBucket(cfg, o)
	case Rate:
		l = newSmoothRate(cfg)
	case Concurrency:
		l = newInFlight(cfg)
	}
	return newInstrumented(l, cfg.Type, o.scope), nil
}

type nopLimiter struct{}

func (nopLimiter) Allow(*codec.Request) bool { return true }
func (nopLimiter) Start() error              { return nil }
func (nopLimiter) Stop() error               { return nil }
