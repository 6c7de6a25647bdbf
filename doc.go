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

// Package rpcrt is a client/server communication runtime for RPC services.
//
// A client keeps a live set of endpoints for a service, fed by a discovery
// registry, and reaches each endpoint through a channel: a pool of
// connections, a single multiplexed connection, or a connection per call.
// Every outgoing call passes an admission controller, is placed on an
// endpoint by a load balancer and is matched to its response by correlation
// id. Calls that fail in transit are retried on another endpoint.
//
// The packages are layered bottom up:
//
//	rpcerrors      error codes and remedies shared by every layer
//	api/codec      messages and the protocol codec contract
//	api/endpoint   endpoints and the discovery registry contract
//	codec/framing  a length prefixed binary codec
//	conn           physical connections with serialized writes
//	connpool       a generic bounded object pool
//	channel        Pooled, Single and Short channels over connections
//	dispatch       the correlation table for outstanding calls
//	peer           one endpoint: its channel, table and health
//	peerlist       the peers of one service, kept in step with discovery
//	loadbalance    random, weighted and fairness balancers
//	admission      counter, token bucket, rate and concurrency limiters
//	resource       named worker pools shared by clients and servers
//	config         YAML configuration of clients and servers
//	client         the caller side
//	server         the callee side
//	rpcfx          fx integration
//
// Worker pools are retained through a resource.Manager. Clients and servers
// built with the same manager and sharedThreadPool share their pools; the
// manager shuts everything down exactly once.
package rpcrt
