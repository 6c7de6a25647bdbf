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

// Package endpoint defines remote service endpoints and the contract of the
// naming/discovery collaborator that publishes them.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/exp/maps"
)

// Endpoint is an immutable remote target. Its identity is host:port;
// metadata does not participate in identity.
type Endpoint struct {
	host     string
	port     int
	metadata map[string]string
}

// New builds an Endpoint, copying the metadata.
func New(host string, port int, metadata map[string]string) Endpoint {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return Endpoint{host: host, port: port, metadata: md}
}

// Parse builds an Endpoint from a "host:port" string.
func Parse(hostport string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port in endpoint %q", hostport)
	}
	return New(host, port, nil), nil
}

// Host returns the host name or address.
func (e Endpoint) Host() string { return e.host }

// Port returns the port.
func (e Endpoint) Port() int { return e.port }

// Metadata returns the value of a metadata key.
func (e Endpoint) Metadata(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// Identifier returns "host:port", the identity of the endpoint.
func (e Endpoint) Identifier() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

func (e Endpoint) String() string { return e.Identifier() }

// Equal reports whether both endpoints have the same identity and metadata.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.host == o.host && e.port == o.port && maps.Equal(e.metadata, o.metadata)
}

// ServiceDescriptor names a logical service.
type ServiceDescriptor struct {
	Name    string
	Group   string
	Version string
}

func (d ServiceDescriptor) String() string {
	s := d.Name
	if d.Group != "" {
		s = d.Group + "/" + s
	}
	if d.Version != "" {
		s += ":" + d.Version
	}
	return s
}

// Updates is a change to the set of endpoints of a service.
type Updates struct {
	Additions []Endpoint
	Removals  []Endpoint
}

// Empty returns whether the updates change nothing.
func (u Updates) Empty() bool {
	return len(u.Additions) == 0 && len(u.Removals) == 0
}

// Subscriber receives pushed changes from a Registry.
type Subscriber func(Updates)

// Registry is the discovery collaborator. Both methods are authoritative:
// Lookup returns the full current set, Subscribe pushes deltas to it.
type Registry interface {
	// Lookup returns a point-in-time snapshot of the service's endpoints.
	Lookup(ctx context.Context, service ServiceDescriptor) ([]Endpoint, error)

	// Subscribe registers for pushed updates until cancel is called.
	Subscribe(service ServiceDescriptor, sub Subscriber) (cancel func(), err error)
}
