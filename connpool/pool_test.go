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

package connpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/rpcrt/rpcerrors"
)

type fakeConn struct {
	id    int
	alive atomic.Bool
}

type fakeFactory struct {
	mu        sync.Mutex
	made      int
	destroyed []*fakeConn
	err       error
	delay     time.Duration
}

func (f *fakeFactory) Make(ctx context.Context) (*fakeConn, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.made++
	c := &fakeConn{id: f.made}
	c.alive.Store(true)
	return c, nil
}

func (f *fakeFactory) Validate(c *fakeConn) bool { return c.alive.Load() }

func (f *fakeFactory) Destroy(c *fakeConn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.alive.Store(false)
	f.destroyed = append(f.destroyed, c)
	return nil
}

func (f *fakeFactory) counts() (made, destroyed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made, len(f.destroyed)
}

func TestBorrowFailFast(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 2})
	defer p.Close()

	a, err := p.Borrow(context.Background())
	require.NoError(t, err)
	b, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = p.Borrow(context.Background())
	assert.True(t, rpcerrors.IsPoolExhausted(err))

	require.NoError(t, p.Return(a))
	c, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, c, "idle connection should be reused")

	made, _ := f.counts()
	assert.Equal(t, 2, made)
}

func TestBorrowWaitMode(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 1, Wait: true})
	defer p.Close()

	a, err := p.Borrow(context.Background())
	require.NoError(t, err)

	got := make(chan *fakeConn)
	go func() {
		c, err := p.Borrow(context.Background())
		assert.NoError(t, err)
		got <- c
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Return(a))
	select {
	case c := <-got:
		assert.Same(t, a, c)
	case <-time.After(time.Second):
		t.Fatal("waiting borrower was not woken")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Borrow(ctx)
	assert.True(t, rpcerrors.IsTimeout(err))
}

func TestCapacityNeverExceeded(t *testing.T) {
	f := &fakeFactory{delay: time.Millisecond}
	const maxTotal = 4
	p := New[*fakeConn](f, Config{MaxTotal: maxTotal, MaxIdle: 2, Wait: true})
	defer p.Close()

	var (
		wg      sync.WaitGroup
		inUse   atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c, err := p.Borrow(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				n := inUse.Inc()
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				s := p.Stats()
				assert.LessOrEqual(t, s.Active+s.Idle+s.Creating, maxTotal)
				inUse.Dec()
				if j%5 == 0 {
					assert.NoError(t, p.Invalidate(c))
				} else {
					assert.NoError(t, p.Return(c))
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxSeen.Load()), maxTotal)
	s := p.Stats()
	assert.Equal(t, 0, s.Active)
	assert.LessOrEqual(t, s.Idle, 2)
}

func TestReturnDestroysBrokenAndSurplus(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 3, MaxIdle: 1})
	defer p.Close()

	var conns []*fakeConn
	for i := 0; i < 3; i++ {
		c, err := p.Borrow(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}

	conns[0].alive.Store(false)
	require.NoError(t, p.Return(conns[0]))
	require.NoError(t, p.Return(conns[1]))
	require.NoError(t, p.Return(conns[2]))

	s := p.Stats()
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 0, s.Active)
	_, destroyed := f.counts()
	assert.Equal(t, 2, destroyed)

	err := p.Return(conns[2])
	assert.Equal(t, rpcerrors.CodeInvalidArgument, rpcerrors.ErrorCode(err), "double return")
}

func TestBorrowSkipsDeadIdle(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 2})
	defer p.Close()

	a, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(a))
	a.alive.Store(false)

	b, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 1, p.Stats().Active)
}

func TestIdleTimeoutKeepsMinIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 4, MinIdle: 1, IdleTimeout: time.Minute}, Clock(clock))
	defer p.Close()

	var conns []*fakeConn
	for i := 0; i < 3; i++ {
		c, err := p.Borrow(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		require.NoError(t, p.Return(c))
	}
	assert.Equal(t, 3, p.Stats().Idle)

	clock.Advance(2 * time.Minute)
	p.Evict()
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestMinIdleRefill(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 4, MinIdle: 2})
	defer p.Close()

	require.NoError(t, p.Prewarm(context.Background()))
	assert.Equal(t, 2, p.Stats().Idle)

	_, err := p.Borrow(context.Background())
	require.NoError(t, err)
	_, err = p.Borrow(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Idle == 2 && s.Active == 2
	}, time.Second, time.Millisecond)
}

func TestMakeFailure(t *testing.T) {
	f := &fakeFactory{err: rpcerrors.ConnectFailedErrorf("refused")}
	p := New[*fakeConn](f, Config{MaxTotal: 1})
	defer p.Close()

	_, err := p.Borrow(context.Background())
	assert.Equal(t, rpcerrors.CodeConnectFailed, rpcerrors.ErrorCode(err))
	assert.Equal(t, 0, p.Stats().Creating)
}

func TestSetMaxTotal(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](f, Config{MaxTotal: 1})
	defer p.Close()

	a, err := p.Borrow(context.Background())
	require.NoError(t, err)
	_, err = p.Borrow(context.Background())
	require.Error(t, err)

	p.SetMaxTotal(2)
	b, err := p.Borrow(context.Background())
	require.NoError(t, err)

	p.SetMaxTotal(1)
	assert.Equal(t, 2, p.Stats().Active, "lowering capacity never evicts active connections")
	require.NoError(t, p.Return(a))
	require.NoError(t, p.Return(b))
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestCloseFailsBorrowers(t *testing.T) {
	f := &fakeFactory{}
	scope := tally.NewTestScope("", nil)
	p := New[*fakeConn](f, Config{MaxTotal: 2}, Scope(scope))

	a, err := p.Borrow(context.Background())
	require.NoError(t, err)
	b, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(a))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.Borrow(context.Background())
	assert.True(t, rpcerrors.IsChannelClosed(err))

	require.NoError(t, p.Return(b))
	assert.False(t, a.alive.Load())
	assert.False(t, b.alive.Load())

	counters := scope.Snapshot().Counters()
	var created int64
	for _, c := range counters {
		if c.Name() == "pool.created" {
			created = c.Value()
		}
	}
	assert.Equal(t, int64(2), created)
}
