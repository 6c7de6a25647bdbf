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

// Package rpcfx ties the runtime's shared resources to an fx application.
// The resource manager it provides shuts down when the application stops,
// which in turn stops every client and server registered with it.
package rpcfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/rpcrt/client"
	"go.uber.org/rpcrt/resource"
	"go.uber.org/rpcrt/server"
	"go.uber.org/zap"
)

// Module provides a *resource.Manager.
var Module = fx.Options(
	fx.Provide(NewManager),
)

// ManagerParams defines the dependencies of this module.
type ManagerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Logger    *zap.Logger `optional:"true"`
}

// ManagerResult defines the values produced by this module.
type ManagerResult struct {
	fx.Out

	Manager *resource.Manager
}

// NewManager produces a resource manager that shuts down on OnStop.
func NewManager(p ManagerParams) (ManagerResult, error) {
	var opts []resource.Option
	if p.Logger != nil {
		opts = append(opts, resource.Logger(p.Logger))
	}
	m := resource.NewManager(opts...)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return m.Shutdown()
		},
	})
	return ManagerResult{Manager: m}, nil
}

// StartClient starts c with the application and stops it before the
// manager shuts down.
func StartClient(lc fx.Lifecycle, c *client.Client) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return c.Start() },
		OnStop:  func(context.Context) error { return c.Stop() },
	})
}

// StartServer starts s with the application and stops it before the
// manager shuts down.
func StartServer(lc fx.Lifecycle, s *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  func(context.Context) error { return s.Stop() },
	})
}
