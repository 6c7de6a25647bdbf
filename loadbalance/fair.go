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

// Fairness picks the candidate with the lowest average latency, breaking
// ties by the fewest active connections and then by input order.
type Fairness struct{}

var _ Balancer = Fairness{}

// Select implements Balancer.
func (Fairness) Select(candidates []Candidate, tried Tried) Candidate {
	if len(candidates) == 0 {
		return nil
	}
	pool := eligible(candidates, tried)

	best := pool[0]
	bestLatency, bestActive := best.AverageLatency(), best.ActiveConnections()
	for _, c := range pool[1:] {
		latency, active := c.AverageLatency(), c.ActiveConnections()
		if latency < bestLatency || (latency == bestLatency && active < bestActive) {
			best, bestLatency, bestActive = c, latency, active
		}
	}
	return best
}
