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

import "context"

// UnaryFunc is the generic signature of a unary RPC, on either the client or
// the handler side. Interceptors wrap a UnaryFunc to add behavior around a
// single request/response pair.
type UnaryFunc func(ctx context.Context, request AnyRequest) (AnyResponse, error)

// StreamingClientFunc is the signature an interceptor wraps on the client
// side of a streaming call: given the call's Spec, it returns the conn for
// the stream. Client's streaming calls do not run WrapStreamingClient, so
// on the client only unary calls pass through interceptors.
type StreamingClientFunc func(ctx context.Context, spec Spec) StreamingClientConn

// Interceptor adds logic to a Connect client or handler, wrapping a unary,
// streaming-client, or streaming-handler function with whatever cross-cutting
// behavior it needs (logging, auth, metrics). Wrap methods that don't need to
// add behavior for a particular RPC shape should return the function
// unmodified.
//
// Interceptors compose like an onion: with interceptors A, B, C configured in
// that order, requests flow A -> B -> C -> handler and responses flow
// handler -> C -> B -> A. The last interceptor configured is closest to the
// wire.
type Interceptor interface {
	WrapUnary(UnaryFunc) UnaryFunc
	WrapStreamingClient(StreamingClientFunc) StreamingClientFunc
	WrapStreamingHandler(StreamingHandlerFunc) StreamingHandlerFunc
}

// UnaryInterceptorFunc adapts an ordinary function into an Interceptor that
// only wraps unary calls, leaving streaming calls untouched.
type UnaryInterceptorFunc func(UnaryFunc) UnaryFunc

func (f UnaryInterceptorFunc) WrapUnary(next UnaryFunc) UnaryFunc { return f(next) }

func (f UnaryInterceptorFunc) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	return next
}

func (f UnaryInterceptorFunc) WrapStreamingHandler(next StreamingHandlerFunc) StreamingHandlerFunc {
	return next
}

// chain composes multiple Interceptors into one, applying them in the order
// they were configured (see the onion-composition doc comment on
// Interceptor).
type chain struct {
	interceptors []Interceptor
}

// newChain builds a single Interceptor out of zero or more Interceptors.
// An empty chain is valid and simply passes every call through unmodified.
func newChain(interceptors []Interceptor) *chain {
	return &chain{interceptors: interceptors}
}

func (c *chain) WrapUnary(next UnaryFunc) UnaryFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapUnary(next)
	}
	return next
}

func (c *chain) WrapStreamingClient(next StreamingClientFunc) StreamingClientFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapStreamingClient(next)
	}
	return next
}

func (c *chain) WrapStreamingHandler(next StreamingHandlerFunc) StreamingHandlerFunc {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i].WrapStreamingHandler(next)
	}
	return next
}
