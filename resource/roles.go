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

package resource

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Role names of the shared pools.
const (
	ClientIO     = "client-io"
	ClientWork   = "client-work"
	ServerIO     = "server-io"
	ServerWork   = "server-work"
	ServerAccept = "server-accept"
)

// PoolName returns the resource name of a role: the role itself when
// shared, "<service>/<role>" when dedicated.
func PoolName(service, role string, shared bool) string {
	if shared {
		return role
	}
	return service + "/" + role
}

// Pools is the set of worker pools retained by one client or server.
type Pools struct {
	IO     *WorkerPool
	Work   *WorkerPool
	Accept *WorkerPool

	manager *Manager
	names   []string
}

// Release drops the references taken for these pools. Dedicated pools
// close; shared ones survive.
func (p *Pools) Release() error {
	var err error
	for _, name := range p.names {
		err = multierr.Append(err, p.manager.Release(name))
	}
	p.names = nil
	return err
}

func (p *Pools) retain(service, role string, shared bool, workers int, logger *zap.Logger) (*WorkerPool, error) {
	name := PoolName(service, role, shared)
	r, err := p.manager.Retain(name, shared, func() (Resource, error) {
		wp, err := NewWorkerPool(name, workers, 0, logger)
		if err != nil {
			return nil, err
		}
		return wp, nil
	})
	if err != nil {
		return nil, err
	}
	p.names = append(p.names, name)
	return r.(*WorkerPool), nil
}

// ClientPools retains the IO and work pools of a client.
func ClientPools(m *Manager, service string, shared bool, ioThreads, workThreads int) (*Pools, error) {
	p := &Pools{manager: m}
	var err error
	if p.IO, err = p.retain(service, ClientIO, shared, ioThreads, m.logger); err != nil {
		return nil, multierr.Append(err, p.Release())
	}
	if p.Work, err = p.retain(service, ClientWork, shared, workThreads, m.logger); err != nil {
		return nil, multierr.Append(err, p.Release())
	}
	return p, nil
}

// ServerPools retains the accept, IO and work pools of a server.
func ServerPools(m *Manager, service string, shared bool, ioThreads, workThreads int) (*Pools, error) {
	p := &Pools{manager: m}
	var err error
	if p.Accept, err = p.retain(service, ServerAccept, shared, 1, m.logger); err != nil {
		return nil, multierr.Append(err, p.Release())
	}
	if p.IO, err = p.retain(service, ServerIO, shared, ioThreads, m.logger); err != nil {
		return nil, multierr.Append(err, p.Release())
	}
	if p.Work, err = p.retain(service, ServerWork, shared, workThreads, m.logger); err != nil {
		return nil, multierr.Append(err, p.Release())
	}
	return p, nil
}
