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

// Package lifecycle provides a helper for objects that start and stop once.
package lifecycle

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/rpcrt/rpcerrors"
)

// State is a stage in the life of a started object.
type State int32

const (
	// Idle indicates the object has not been started or stopped yet.
	Idle State = iota
	// Starting indicates Start is running.
	Starting
	// Running indicates Start finished successfully.
	Running
	// Stopping indicates Stop is running.
	Stopping
	// Stopped indicates Stop finished, or Stop preempted Start.
	Stopped
	// Errored indicates Start or Stop failed.
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Once advances an object monotonically through its lifecycle states, running
// the start and stop functions at most once each.
//
//   - The observable state only moves forward.
//   - Start blocks until the state is Running or beyond.
//   - Stop blocks until the state is Stopped or Errored.
//   - Stop preempts Start if it happens first.
//   - Repeated calls return the error of the first call.
type Once struct {
	startCh    chan struct{}
	stoppingCh chan struct{}
	stopCh     chan struct{}

	err   atomic.Error
	state atomic.Int32
}

// NewOnce returns a lifecycle controller in the Idle state.
func NewOnce() *Once {
	return &Once{
		startCh:    make(chan struct{}),
		stoppingCh: make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Start runs f once and returns its error, or the error of the first Start.
func (o *Once) Start(f func() error) error {
	if o.state.CompareAndSwap(int32(Idle), int32(Starting)) {
		var err error
		if f != nil {
			err = f()
		}

		if err != nil {
			o.err.Store(err)
			o.state.Store(int32(Errored))
			close(o.stoppingCh)
			close(o.stopCh)
		} else {
			o.state.Store(int32(Running))
		}
		close(o.startCh)
		return err
	}

	<-o.startCh
	return o.err.Load()
}

// Stop runs f once and returns its error, or the error of the first Stop.
// Stopping an object that never started does not call f.
func (o *Once) Stop(f func() error) error {
	if o.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		close(o.startCh)
		close(o.stoppingCh)
		close(o.stopCh)
		return nil
	}

	<-o.startCh

	if o.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		close(o.stoppingCh)

		var err error
		if f != nil {
			err = f()
		}

		if err != nil {
			o.err.Store(err)
			o.state.Store(int32(Errored))
		} else {
			o.state.Store(int32(Stopped))
		}
		close(o.stopCh)
		return err
	}

	<-o.stopCh
	return o.err.Load()
}

// WaitUntilRunning blocks until the object is running or the context ends.
func (o *Once) WaitUntilRunning(ctx context.Context) error {
	state := o.State()
	if state == Running {
		return nil
	}
	if state > Running {
		return rpcerrors.FailedPreconditionErrorf("could not wait for instance to start running: current state is %q", state)
	}

	select {
	case <-o.startCh:
		if state := o.State(); state != Running {
			return rpcerrors.FailedPreconditionErrorf("instance did not enter running state, current state is %q", state)
		}
		return nil
	case <-ctx.Done():
		return rpcerrors.FailedPreconditionErrorf("context finished while waiting for instance to start: %v", ctx.Err())
	}
}

// Started returns a channel that closes once Start finishes.
func (o *Once) Started() <-chan struct{} { return o.startCh }

// Stopping returns a channel that closes once Stop begins.
func (o *Once) Stopping() <-chan struct{} { return o.stoppingCh }

// Stopped returns a channel that closes once Stop finishes.
func (o *Once) Stopped() <-chan struct{} { return o.stopCh }

// State returns the current state. The object has at least reached the
// returned state and may have moved on.
func (o *Once) State() State {
	return State(o.state.Load())
}

// IsRunning returns whether the object is in the Running state.
func (o *Once) IsRunning() bool {
	return o.State() == Running
}
