// Copyright 2021-2024 The Connect Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connect

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ServiceBuilder accumulates the Handlers that make up one service (spec
// §4.9's "generated RegisterXHandler" function), so a generated constructor
// can register every method under a single service path prefix.
type ServiceBuilder struct {
	prefix   string
	handlers map[string]*Handler
}

// NewServiceBuilder creates a ServiceBuilder for a service whose procedures
// are all mounted under "/"+serviceName+"/", e.g. "/hello.HelloWorldService/".
func NewServiceBuilder(serviceName string) *ServiceBuilder {
	return &ServiceBuilder{
		prefix:   "/" + serviceName + "/",
		handlers: make(map[string]*Handler),
	}
}

// Register adds a Handler for one RPC method of the service.
func (b *ServiceBuilder) Register(method string, handler *Handler) *ServiceBuilder {
	b.handlers[b.prefix+method] = handler
	return b
}

// Handlers returns every registered path and its Handler, ready to be
// mounted on a Mux.
func (b *ServiceBuilder) Handlers() map[string]*Handler {
	return b.handlers
}

// Mux is an http.Handler that dispatches RPC requests to registered
// service Handlers by path, and everything else (if a fallback is set) to a
// plain HTTP handler — the single-listener multiplexing described in spec
// §2 and §4.11, letting Connect, gRPC, gRPC-Web, and ordinary REST traffic
// share one *http.Server.
type Mux struct {
	routes   map[string]*Handler
	fallback http.Handler
}

// NewMux constructs an empty Mux. Without a fallback, unmatched paths
// receive a 404.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]*Handler)}
}

// Mount registers a ServiceBuilder's handlers under their procedure paths.
func (m *Mux) Mount(builder *ServiceBuilder) *Mux {
	for path, handler := range builder.Handlers() {
		m.routes[path] = handler
	}
	return m
}

// Handle registers a single Handler directly at path, bypassing
// ServiceBuilder — useful for one-off procedures or generated code that
// already knows its full path.
func (m *Mux) Handle(path string, handler *Handler) *Mux {
	m.routes[path] = handler
	return m
}

// Fallback sets the handler used for any request path not claimed by a
// registered RPC Handler.
func (m *Mux) Fallback(handler http.Handler) *Mux {
	m.fallback = handler
	return m
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handler, ok := m.routes[r.URL.Path]; ok {
		handler.ServeHTTP(w, r)
		return
	}
	if m.fallback != nil {
		m.fallback.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

// NewH2CHandler wraps handler so that the resulting http.Handler serves
// HTTP/2 (required for bidi-stream and gRPC) over plain-text connections as
// well as TLS ones, using golang.org/x/net/http2/h2c the way a bare *Mux
// would otherwise only do so under TLS (spec §5: "bidi streams require
// HTTP/2 framing").
func NewH2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{})
}
