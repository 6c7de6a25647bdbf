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

package backoff

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialInvalid(t *testing.T) {
	tests := []struct {
		msg        string
		opts       []Option
		wantErrors []string
	}{
		{
			msg:        "zero first",
			opts:       []Option{First(0)},
			wantErrors: []string{"invalid first backoff"},
		},
		{
			msg:  "negative max",
			opts: []Option{Max(-1)},
			wantErrors: []string{
				"invalid max backoff",
				"max backoff must be greater than or equal to first backoff",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			_, err := NewExponential(tt.opts...)
			require.Error(t, err)
			for _, msg := range tt.wantErrors {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestExponentialBounds(t *testing.T) {
	b, err := NewExponential(First(time.Millisecond), Max(100*time.Millisecond), Source(rand.NewSource(1)))
	require.NoError(t, err)

	for attempt := uint(0); attempt < 70; attempt++ {
		bound := time.Millisecond << attempt
		if attempt >= 63 || bound <= 0 || bound > 100*time.Millisecond {
			bound = 100 * time.Millisecond
		}
		for i := 0; i < 20; i++ {
			d := b.Duration(attempt)
			assert.True(t, d >= 0 && d <= bound, "attempt %d: %v outside [0, %v]", attempt, d, bound)
		}
	}
}

func TestExponentialWait(t *testing.T) {
	b, err := NewExponential(First(time.Second), Max(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, b.Wait(ctx, clockwork.NewFakeClock(), 3), "cancelled context ends the wait")

	fast, err := NewExponential(First(time.Microsecond), Max(time.Microsecond))
	require.NoError(t, err)
	assert.True(t, fast.Wait(context.Background(), clockwork.NewRealClock(), 0))
}
