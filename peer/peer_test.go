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

package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/rpcrt/api/codec"
	"go.uber.org/rpcrt/api/endpoint"
	"go.uber.org/rpcrt/channel"
	"go.uber.org/rpcrt/codec/framing"
	"go.uber.org/rpcrt/conn/conntest"
	"go.uber.org/rpcrt/connpool"
	"go.uber.org/rpcrt/rpcerrors"
)

// echo answers every request except method "hang".
func echo(nc net.Conn) {
	defer nc.Close()
	f := framing.New(0)
	var buf []byte
	chunk := make([]byte, 512)
	for {
		n, err := nc.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		for {
			req, used, err := f.DecodeRequest(buf)
			if err != nil {
				break
			}
			buf = buf[used:]
			if req.Method == "hang" {
				continue
			}
			out, _ := f.EncodeResponse(&codec.Response{CorrelationID: req.CorrelationID, Payload: req.Payload})
			nc.Write(out)
		}
	}
}

func newPeer(t *testing.T, cfg Config, opts ...Option) (*Peer, *conntest.PipeDialer) {
	d := &conntest.PipeDialer{Serve: echo}
	cfg.Codec = framing.New(0)
	cfg.Dialer = d
	p, err := New(endpoint.New("10.0.0.1", 9000, nil), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, d
}

func TestPeerCall(t *testing.T) {
	p, d := newPeer(t, Config{ChannelType: channel.Pooled, Pool: connpool.Config{MaxTotal: 2}})
	assert.Equal(t, "10.0.0.1:9000", p.Identifier())
	assert.Equal(t, channel.Pooled, p.Channel().Type())

	res, err := p.Call(context.Background(), &codec.Request{Method: "echo", Payload: []byte("x")}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), res.Payload)
	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 0, p.ActiveConnections())
	assert.Equal(t, int64(0), p.FailedCount())

	_, err = p.Call(context.Background(), &codec.Request{Method: "hang"}, 10*time.Millisecond)
	assert.True(t, rpcerrors.IsTimeout(err))
	assert.Equal(t, int64(1), p.FailedCount())
	assert.Equal(t, float64(1), p.FailureScore())
}

func TestPeerGo(t *testing.T) {
	p, _ := newPeer(t, Config{ChannelType: channel.Single})

	pc, err := p.Go(context.Background(), &codec.Request{Method: "echo", Payload: []byte("y")}, time.Second)
	require.NoError(t, err)
	res, err := pc.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), res.Payload)
	require.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestLatencyWindow(t *testing.T) {
	p, _ := newPeer(t, Config{LatencyWindow: 3})
	assert.Equal(t, time.Duration(0), p.AverageLatency())

	for _, l := range []time.Duration{10, 20, 30, 40} {
		p.Record(l*time.Millisecond, nil)
	}
	assert.Equal(t, 30*time.Millisecond, p.AverageLatency(), "oldest entry evicted")

	p.Record(time.Second, rpcerrors.AdmissionRejectedErrorf("shed"))
	assert.Equal(t, 30*time.Millisecond, p.AverageLatency(), "local rejections are ignored")
	assert.Equal(t, int64(0), p.FailedCount())

	for i := 0; i < 3; i++ {
		p.Record(60*time.Millisecond, rpcerrors.Newf(rpcerrors.CodeRemote, "app error"))
	}
	assert.Equal(t, 60*time.Millisecond, p.AverageLatency(), "remote errors were still answered")
}

func TestFailureScoreDecay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p, _ := newPeer(t, Config{FailureHalfLife: time.Minute}, Clock(clock))

	p.Record(0, rpcerrors.ConnectFailedErrorf("refused"))
	p.Record(0, rpcerrors.ChannelClosedErrorf("reset"))
	assert.InDelta(t, 2.0, p.FailureScore(), 1e-9)

	clock.Advance(time.Minute)
	assert.InDelta(t, 1.0, p.FailureScore(), 1e-9)
	assert.Equal(t, int64(2), p.FailedCount(), "the raw count never decays")

	p.Record(0, rpcerrors.TimeoutErrorf("slow"))
	assert.InDelta(t, 2.0, p.FailureScore(), 1e-9)
}

func TestPeerClose(t *testing.T) {
	p, _ := newPeer(t, Config{ChannelType: channel.Single})

	pc, err := p.Go(context.Background(), &codec.Request{Method: "hang"}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, p.IsClosed())

	_, err = pc.Wait(context.Background())
	assert.True(t, rpcerrors.IsChannelClosed(err))

	_, err = p.Call(context.Background(), &codec.Request{Method: "echo"}, time.Second)
	assert.True(t, rpcerrors.IsChannelClosed(err))
}

func TestSetMaxConnections(t *testing.T) {
	p, _ := newPeer(t, Config{Pool: connpool.Config{MaxTotal: 1, MinIdle: 1}})
	require.NoError(t, p.Prewarm(context.Background()))
	assert.Equal(t, channel.Stats{Idle: 1}, p.Channel().Stats())

	p.SetMaxConnections(3)
	c1, err := p.Channel().Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Channel().Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.ActiveConnections())
	p.Channel().Release(c1)
	p.Channel().Release(c2)
}

func TestNewRequiresCodec(t *testing.T) {
	_, err := New(endpoint.New("h", 1, nil), Config{})
	assert.Equal(t, rpcerrors.CodeInvalidArgument, rpcerrors.ErrorCode(err))
}
