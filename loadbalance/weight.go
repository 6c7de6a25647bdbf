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

package loadbalance

import "math/rand"

// WeightScale is the numerator of candidate weights.
const WeightScale = 1e6

// Weighted picks candidates with probability proportional to
// WeightScale / (failureScore + 1), so endpoints that fail often are chosen
// less often but never starved.
type Weighted struct {
	rand *lockedRand
}

var _ Balancer = (*Weighted)(nil)

func newWeighted(src rand.Source) *Weighted {
	return &Weighted{rand: newLockedRand(src)}
}

// Select implements Balancer.
func (w *Weighted) Select(candidates []Candidate, tried Tried) Candidate {
	if len(candidates) == 0 {
		return nil
	}
	pool := eligible(candidates, tried)

	weights := make([]float64, len(pool))
	var total float64
	for i, c := range pool {
		weights[i] = WeightScale / (c.FailureScore() + 1)
		total += weights[i]
	}

	draw := w.rand.Float64() * total
	for i, weight := range weights {
		if draw < weight {
			return pool[i]
		}
		draw -= weight
	}
	// Rounding left the draw past the last bucket.
	return pool[len(pool)-1]
}
