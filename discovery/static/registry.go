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

// Package static is an in-memory endpoint registry. Endpoints are set with
// Update or Set, and subscribers are told about every change.
package static

import (
	"context"
	"sync"

	"go.uber.org/rpcrt/api/endpoint"
	"go.uber.org/rpcrt/rpcerrors"
)

// Registry implements endpoint.Registry.
type Registry struct {
	mu       sync.Mutex
	services map[string]*service
	nextSub  int
}

type service struct {
	endpoints   map[string]endpoint.Endpoint
	subscribers map[int]endpoint.Subscriber
}

var _ endpoint.Registry = (*Registry)(nil)

// New builds an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]*service)}
}

// FromHostPorts builds a registry holding one service's endpoints.
func FromHostPorts(svc endpoint.ServiceDescriptor, hostports ...string) (*Registry, error) {
	r := New()
	eps := make([]endpoint.Endpoint, 0, len(hostports))
	for _, hp := range hostports {
		ep, err := endpoint.Parse(hp)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	r.Set(svc, eps...)
	return r, nil
}

func (r *Registry) entry(svc endpoint.ServiceDescriptor) *service {
	key := svc.String()
	s, ok := r.services[key]
	if !ok {
		s = &service{
			endpoints:   make(map[string]endpoint.Endpoint),
			subscribers: make(map[int]endpoint.Subscriber),
		}
		r.services[key] = s
	}
	return s
}

// Lookup returns the current endpoints of the service.
func (r *Registry) Lookup(ctx context.Context, svc endpoint.ServiceDescriptor) ([]endpoint.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, rpcerrors.CancelledErrorf("lookup of %v cancelled: %v", svc, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(svc)
	out := make([]endpoint.Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	return out, nil
}

// Subscribe registers sub for future changes.
func (r *Registry) Subscribe(svc endpoint.ServiceDescriptor, sub endpoint.Subscriber) (func(), error) {
	if sub == nil {
		return nil, rpcerrors.InvalidArgumentErrorf("nil subscriber for %v", svc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(svc)
	id := r.nextSub
	r.nextSub++
	s.subscribers[id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(s.subscribers, id)
		})
	}, nil
}

// Update applies a change and notifies subscribers of the part that changed
// anything. Subscribers are called synchronously, outside the registry lock.
func (r *Registry) Update(svc endpoint.ServiceDescriptor, u endpoint.Updates) {
	r.mu.Lock()
	s := r.entry(svc)
	var applied endpoint.Updates
	for _, ep := range u.Removals {
		if _, ok := s.endpoints[ep.Identifier()]; ok {
			delete(s.endpoints, ep.Identifier())
			applied.Removals = append(applied.Removals, ep)
		}
	}
	for _, ep := range u.Additions {
		if _, ok := s.endpoints[ep.Identifier()]; !ok {
			s.endpoints[ep.Identifier()] = ep
			applied.Additions = append(applied.Additions, ep)
		}
	}
	subs := make([]endpoint.Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	if applied.Empty() {
		return
	}
	for _, sub := range subs {
		sub(applied)
	}
}

// Set replaces the service's endpoints.
func (r *Registry) Set(svc endpoint.ServiceDescriptor, eps ...endpoint.Endpoint) {
	r.mu.Lock()
	s := r.entry(svc)
	want := make(map[string]endpoint.Endpoint, len(eps))
	for _, ep := range eps {
		want[ep.Identifier()] = ep
	}
	var u endpoint.Updates
	for id, ep := range s.endpoints {
		if _, ok := want[id]; !ok {
			u.Removals = append(u.Removals, ep)
		}
	}
	for id, ep := range want {
		if _, ok := s.endpoints[id]; !ok {
			u.Additions = append(u.Additions, ep)
		}
	}
	r.mu.Unlock()

	r.Update(svc, u)
}
