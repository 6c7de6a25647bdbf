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

// Package loadbalance chooses the endpoint that carries a call.
//
// Balancers read the health signals of their candidates and never mutate
// them. Candidates already tried for the current call are skipped unless
// every candidate has been tried, in which case all are eligible again.
package loadbalance

import (
	"fmt"
	"strings"
	"time"

	"github.com/uber-go/mapdecode"
	"go.uber.org/rpcrt/rpcerrors"
)

// Candidate is an endpoint a balancer may pick.
type Candidate interface {
	Identifier() string
	FailureScore() float64
	AverageLatency() time.Duration
	ActiveConnections() int
}

// Tried is the set of candidate identifiers already attempted by a call.
type Tried map[string]struct{}

// Add marks the identifier as tried.
func (t Tried) Add(id string) { t[id] = struct{}{} }

// Has returns whether the identifier was tried.
func (t Tried) Has(id string) bool {
	_, ok := t[id]
	return ok
}

// Balancer picks one candidate. Select returns nil only when candidates is
// empty. Implementations are safe for concurrent use.
type Balancer interface {
	Select(candidates []Candidate, tried Tried) Candidate
}

// eligible drops tried candidates, falling back to all of them when nothing
// would be left.
func eligible(candidates []Candidate, tried Tried) []Candidate {
	if len(tried) == 0 {
		return candidates
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !tried.Has(c.Identifier()) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// Type names a balancing policy.
type Type int

const (
	// Random picks uniformly.
	Random Type = iota + 1
	// Weight picks proportionally to K / (failureScore + 1).
	Weight
	// Fair picks the lowest average latency, then the fewest active
	// connections.
	Fair
)

var _typeNames = map[Type]string{
	Random: "random",
	Weight: "weight",
	Fair:   "fair",
}

func (t Type) String() string {
	if s, ok := _typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses "random", "weight" or "fair".
func ParseType(s string) (Type, error) {
	for t, name := range _typeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, rpcerrors.InvalidArgumentErrorf("unknown load balance type %q", s)
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
		return fmt.Errorf("could not decode load balance type: %v", err)
	}
	return t.UnmarshalText([]byte(s))
}

// New builds a balancer of the given type.
func New(t Type, opts ...Option) (Balancer, error) {
	o := newOptions(opts)
	switch t {
	case Random:
		return newRandom(o.source), nil
	case Weight:
		return newWeighted(o.source), nil
	case Fair:
		return Fairness{}, nil
	default:
		return nil, rpcerrors.InvalidArgumentErrorf("unknown load balance type %v", t)
	}
}
