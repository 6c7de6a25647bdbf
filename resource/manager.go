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

// Package resource owns the worker and IO pools of every client and server
// in the process.
//
// Pools are named. Shared pools use fixed role names and outlive the
// clients that use them; dedicated pools are named "<service>/<role>" and
// close with their last reference. Shutdown tears everything down exactly
// once.
package resource

import (
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/rpcrt/rpcerrors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resource is anything the manager can close.
type Resource interface {
	Close() error
}

// Factory builds a resource.
type Factory func() (Resource, error)

// Stopper is a recurring task the manager stops on shutdown.
type Stopper interface {
	Stop() error
}

type hook struct {
	id uint64
	f  func() error
}

type timer struct {
	id uint64
	s  Stopper
}

type entry struct {
	res    Resource
	refs   int
	shared bool
}

// Option customizes a Manager.
type Option func(*Manager)

// Logger sets the manager's logger.
func Logger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager tracks named resources.
type Manager struct {
	logger *zap.Logger
	group  singleflight.Group

	mu        sync.Mutex
	resources map[string]*entry
	nextID    uint64
	hooks     []hook
	timers    []timer

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewManager builds an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:    zap.NewNop(),
		resources: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the resource with the given name, building it with
// factory if it does not exist. Concurrent callers for the same unseen name
// share a single factory call; the manager's lock is never held while a
// factory runs.
func (m *Manager) GetOrCreate(name string, factory Factory) (Resource, error) {
	e, err := m.getOrCreate(name, false, factory)
	if err != nil {
		return nil, err
	}
	return e.res, nil
}

func (m *Manager) getOrCreate(name string, shared bool, factory Factory) (*entry, error) {
	if m.shutdown.Load() {
		return nil, m.shutdownError(name)
	}

	m.mu.Lock()
	e, ok := m.resources[name]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	v, err, _ := m.group.Do(name, func() (interface{}, error) {
		// A previous flight may have finished between the lookup and Do.
		m.mu.Lock()
		e, ok := m.resources[name]
		m.mu.Unlock()
		if ok {
			return e, nil
		}

		res, err := factory()
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.shutdown.Load() {
			m.mu.Unlock()
			if res != nil {
				_ = res.Close()
			}
			return nil, m.shutdownError(name)
		}
		e = &entry{res: res, shared: shared}
		m.resources[name] = e
		m.mu.Unlock()

		m.logger.Debug("created resource", zap.String("resource", name), zap.Bool("shared", shared))
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (m *Manager) shutdownError(name string) error {
	return rpcerrors.FailedPreconditionErrorf("resource manager is shut down, can't create %q", name)
}

// Retain returns the named resource and takes a reference to it. Dedicated
// resources close when their last reference is released; shared ones stay
// until StopAll or Shutdown.
func (m *Manager) Retain(name string, shared bool, factory Factory) (Resource, error) {
	for {
		e, err := m.getOrCreate(name, shared, factory)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		// The entry may have been released and removed since it was found.
		if m.resources[name] == e {
			e.refs++
			m.mu.Unlock()
			return e.res, nil
		}
		m.mu.Unlock()
	}
}

// Release drops a reference taken by Retain.
func (m *Manager) Release(name string) error {
	m.mu.Lock()
	e, ok := m.resources[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 || e.shared {
		m.mu.Unlock()
		return nil
	}
	delete(m.resources, name)
	m.mu.Unlock()

	m.logger.Debug("closing released resource", zap.String("resource", name))
	return closeResource(e.res)
}

// RefCount returns the references held on a resource, -1 when it is
// unknown.
func (m *Manager) RefCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.resources[name]; ok {
		return e.refs
	}
	return -1
}

// Has returns whether the named resource exists.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resources[name]
	return ok
}

// Stop closes the dedicated resources of one service.
func (m *Manager) Stop(service string) error {
	prefix := service + "/"

	m.mu.Lock()
	var victims []Resource
	for name, e := range m.resources {
		if !e.shared && strings.HasPrefix(name, prefix) {
			victims = append(victims, e.res)
			delete(m.resources, name)
		}
	}
	m.mu.Unlock()

	return closeAll(victims)
}

// StopAll closes every tracked resource, shared or not.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	victims := make([]Resource, 0, len(m.resources))
	for _, e := range m.resources {
		victims = append(victims, e.res)
	}
	m.resources = make(map[string]*entry)
	m.mu.Unlock()

	return closeAll(victims)
}

// RegisterShutdownHook runs f during Shutdown, before pools close. Clients
// use it to unregister from discovery. The returned function removes the
// hook; owners call it when they stop on their own.
func (m *Manager) RegisterShutdownHook(f func() error) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.hooks = append(m.hooks, hook{id: id, f: f})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.hooks = slices.DeleteFunc(m.hooks, func(h hook) bool { return h.id == id })
	}
}

// TrackTimer stops s during Shutdown. The returned function stops tracking
// it.
func (m *Manager) TrackTimer(s Stopper) (untrack func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.timers = append(m.timers, timer{id: id, s: s})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.timers = slices.DeleteFunc(m.timers, func(t timer) bool { return t.id == id })
	}
}

// Tracked returns the number of registered shutdown hooks and timers.
func (m *Manager) Tracked() (hooks, timers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks), len(m.timers)
}

// Shutdown runs the shutdown hooks, stops tracked timers and closes every
// resource. It runs once; later calls return the first result. Resources
// can't be created afterwards.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.shutdown.Store(true)

		m.mu.Lock()
		hooks, timers := m.hooks, m.timers
		m.hooks, m.timers = nil, nil
		m.mu.Unlock()

		var err error
		for _, h := range hooks {
			err = multierr.Append(err, h.f())
		}
		for _, t := range timers {
			err = multierr.Append(err, t.s.Stop())
		}
		err = multierr.Append(err, m.StopAll())
		if err != nil {
			m.logger.Warn("errors during resource shutdown", zap.Error(err))
		}
		m.shutdownErr = err
	})
	return m.shutdownErr
}

// IsShutdown returns whether Shutdown was called.
func (m *Manager) IsShutdown() bool { return m.shutdown.Load() }

func closeResource(r Resource) error {
	if r == nil {
		return nil
	}
	return r.Close()
}

// closeAll closes resources in parallel, collecting every error.
func closeAll(resources []Resource) error {
	var (
		g   errgroup.Group
		mu  sync.Mutex
		err error
	)
	for _, r := range resources {
		if r == nil {
			continue
		}
		g.Go(func() error {
			if cerr := r.Close(); cerr != nil {
				mu.Lock()
				err = multierr.Append(err, cerr)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return err
}
