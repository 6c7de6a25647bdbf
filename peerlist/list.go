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

// Package peerlist keeps the set of live peers of one service in step with
// the endpoint registry.
//
// Endpoints added before Start are remembered offline and only get a peer
// once the list starts. Stop closes every peer and takes the list back to
// the offline set.
package peerlist

import (
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/rpcrt/api/endpoint"
	"go.uber.org/rpcrt/loadbalance"
	"go.uber.org/rpcrt/peer"
	"go.uber.org/rpcrt/pkg/lifecycle"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// PeerFactory builds the peer of a newly discovered endpoint.
type PeerFactory func(endpoint.Endpoint) (*peer.Peer, error)

// Option customizes a List.
type Option func(*List)

// Logger sets the logger of the list.
func Logger(logger *zap.Logger) Option {
	return func(pl *List) { pl.logger = logger }
}

// List is the live channel set of one service.
type List struct {
	name    string
	newPeer PeerFactory
	logger  *zap.Logger
	once    *lifecycle.Once

	lock    sync.RWMutex
	offline map[string]endpoint.Endpoint
	online  map[string]*peer.Peer
	// sorted by identifier; rebuilt on every change
	peers []*peer.Peer
}

// New builds a stopped list.
func New(name string, newPeer PeerFactory, opts ...Option) *List {
	pl := &List{
		name:    name,
		newPeer: newPeer,
		logger:  zap.NewNop(),
		once:    lifecycle.NewOnce(),
		offline: make(map[string]endpoint.Endpoint),
		online:  make(map[string]*peer.Peer),
	}
	for _, opt := range opts {
		opt(pl)
	}
	pl.logger = pl.logger.With(zap.String("peerList", name))
	return pl
}

// Name returns the name of the list.
func (pl *List) Name() string { return pl.name }

// Update applies additions and removals. Errors for individual endpoints,
// such as adding one twice, are aggregated; the rest still apply.
func (pl *List) Update(updates endpoint.Updates) error {
	pl.logger.Debug("peer list update",
		zap.Int("additions", len(updates.Additions)),
		zap.Int("removals", len(updates.Removals)))

	if updates.Empty() {
		return nil
	}

	pl.lock.Lock()
	defer pl.lock.Unlock()

	if !pl.once.IsRunning() {
		return pl.updateOffline(updates)
	}
	return pl.updateOnline(updates)
}

// Replace makes the endpoint set exactly eps, as after a full discovery
// refresh. Endpoints are compared by identity and metadata.
func (pl *List) Replace(eps []endpoint.Endpoint) error {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	want := make(map[string]endpoint.Endpoint, len(eps))
	for _, ep := range eps {
		want[ep.Identifier()] = ep
	}

	var updates endpoint.Updates
	have := pl.offlineLocked()
	if pl.once.IsRunning() {
		have = make(map[string]endpoint.Endpoint, len(pl.online))
		for id, p := range pl.online {
			have[id] = p.Endpoint()
		}
	}
	// An endpoint whose metadata changed is replaced by a fresh peer.
	for id, ep := range have {
		if w, ok := want[id]; !ok || !w.Equal(ep) {
			updates.Removals = append(updates.Removals, ep)
		}
	}
	for id, ep := range want {
		if h, ok := have[id]; !ok || !h.Equal(ep) {
			updates.Additions = append(updates.Additions, ep)
		}
	}

	if updates.Empty() {
		return nil
	}
	if !pl.once.IsRunning() {
		return pl.updateOffline(updates)
	}
	return pl.updateOnline(updates)
}

func (pl *List) offlineLocked() map[string]endpoint.Endpoint {
	return maps.Clone(pl.offline)
}

func (pl *List) updateOffline(updates endpoint.Updates) error {
	var err error
	for _, ep := range updates.Removals {
		id := ep.Identifier()
		if _, ok := pl.offline[id]; !ok {
			err = multierr.Append(err, rpcerrors.InvalidArgumentErrorf("can't remove endpoint %q that is not in list %q", id, pl.name))
			continue
		}
		delete(pl.offline, id)
	}
	for _, ep := range updates.Additions {
		id := ep.Identifier()
		if _, ok := pl.offline[id]; ok {
			err = multierr.Append(err, rpcerrors.InvalidArgumentErrorf("can't add duplicate endpoint %q to list %q", id, pl.name))
			continue
		}
		pl.offline[id] = ep
	}
	return err
}

func (pl *List) updateOnline(updates endpoint.Updates) error {
	var err error
	for _, ep := range updates.Removals {
		err = multierr.Append(err, pl.remove(ep.Identifier()))
	}
	for _, ep := range updates.Additions {
		err = multierr.Append(err, pl.add(ep))
	}
	pl.rebuild()
	return err
}

func (pl *List) add(ep endpoint.Endpoint) error {
	id := ep.Identifier()
	if _, ok := pl.online[id]; ok {
		return rpcerrors.InvalidArgumentErrorf("can't add duplicate endpoint %q to list %q", id, pl.name)
	}
	p, err := pl.newPeer(ep)
	if err != nil {
		return err
	}
	pl.online[id] = p
	return nil
}

func (pl *List) remove(id string) error {
	p, ok := pl.online[id]
	if !ok {
		return rpcerrors.InvalidArgumentErrorf("can't remove endpoint %q that is not in list %q", id, pl.name)
	}
	delete(pl.online, id)
	return p.Close()
}

// rebuild refreshes the sorted peer snapshot. Callers hold the write lock.
func (pl *List) rebuild() {
	peers := make([]*peer.Peer, 0, len(pl.online))
	for _, p := range pl.online {
		peers = append(peers, p)
	}
	slices.SortFunc(peers, func(a, b *peer.Peer) int {
		return strings.Compare(a.Identifier(), b.Identifier())
	})
	pl.peers = peers
}

// Start materializes the offline endpoints into peers.
func (pl *List) Start() error {
	return pl.once.Start(pl.start)
}

func (pl *List) start() error {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	all := make([]endpoint.Endpoint, 0, len(pl.offline))
	for _, ep := range pl.offline {
		all = append(all, ep)
	}
	pl.offline = make(map[string]endpoint.Endpoint)

	var err error
	for _, ep := range all {
		err = multierr.Append(err, pl.add(ep))
	}
	pl.rebuild()
	return err
}

// Stop closes every peer, failing their outstanding calls.
func (pl *List) Stop() error {
	return pl.once.Stop(pl.stop)
}

func (pl *List) stop() error {
	pl.lock.Lock()
	defer pl.lock.Unlock()

	var err error
	for id, p := range pl.online {
		err = multierr.Append(err, p.Close())
		pl.offline[id] = p.Endpoint()
	}
	pl.online = make(map[string]*peer.Peer)
	pl.peers = nil
	return err
}

// IsRunning returns whether the list is started.
func (pl *List) IsRunning() bool { return pl.once.IsRunning() }

// Candidates returns the open peers as balancer candidates, ordered by
// identifier.
func (pl *List) Candidates() []loadbalance.Candidate {
	pl.lock.RLock()
	defer pl.lock.RUnlock()

	out := make([]loadbalance.Candidate, 0, len(pl.peers))
	for _, p := range pl.peers {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// Peers returns the open peers, ordered by identifier.
func (pl *List) Peers() []*peer.Peer {
	pl.lock.RLock()
	defer pl.lock.RUnlock()
	return slices.Clone(pl.peers)
}

// Peer returns the peer of an endpoint identifier.
func (pl *List) Peer(id string) (*peer.Peer, bool) {
	pl.lock.RLock()
	defer pl.lock.RUnlock()
	p, ok := pl.online[id]
	return p, ok
}

// NumOnline returns the number of peers.
func (pl *List) NumOnline() int {
	pl.lock.RLock()
	defer pl.lock.RUnlock()
	return len(pl.online)
}

// NumOffline returns the number of endpoints waiting for Start.
func (pl *List) NumOffline() int {
	pl.lock.RLock()
	defer pl.lock.RUnlock()
	return len(pl.offline)
}
