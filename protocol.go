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
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StreamType describes whether the client, server, neither, or both sides of
// an RPC are streaming (spec §3 "RequestProtocol", generalized to cover gRPC
// as well as Connect).
type StreamType uint8

const (
	StreamTypeUnary StreamType = 0b00
	StreamTypeClient StreamType = 0b01
	StreamTypeServer StreamType = 0b10
	StreamTypeBidi   StreamType = StreamTypeClient | StreamTypeServer
)

// Spec describes a client call or handler invocation: which procedure, and
// which streaming shape.
type Spec struct {
	StreamType StreamType
	Procedure  string // for example "/hello.HelloWorldService/SayHello"
	IsClient   bool
}

// Peer describes the other party to an RPC.
type Peer struct {
	Addr     string
	Protocol string // "connect", "grpc", or "grpc-web"
}

func newPeerFromURL(rawURL, protocol string) Peer {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Peer{Protocol: protocol}
	}
	return Peer{Addr: u.Host, Protocol: protocol}
}

// StreamingHandlerConn is the server's view of a bidirectional message
// exchange, regardless of whether the underlying protocol is Connect, gRPC,
// or gRPC-Web. Response headers are written to the network on the first
// call to Send; trailers may be mutated at any point before the handler
// returns and Close is called.
type StreamingHandlerConn interface {
	Spec() Spec
	Peer() Peer

	Receive(message any) error
	RequestHeader() http.Header

	Send(message any) error
	ResponseHeader() http.Header
	ResponseTrailer() http.Header
}

// handlerConnCloser extends StreamingHandlerConn with the method the
// dispatch layer uses to terminate the exchange, sending a terminal error
// (or nil, for success) per spec §4.3's streaming error surface.
type handlerConnCloser interface {
	StreamingHandlerConn
	Close(error) error
}

// StreamingClientConn is the client's view of a bidirectional message
// exchange.
type StreamingClientConn interface {
	Spec() Spec
	Peer() Peer

	Send(message any) error
	RequestHeader() http.Header
	CloseRequest() error

	Receive(message any) error
	ResponseHeader() http.Header
	ResponseTrailer() http.Header
	CloseResponse() error
}

// Request wraps a generated request message, giving access to the RPC
// Spec, Peer, and headers alongside the strongly-typed message.
type Request[T any] struct {
	Msg *T

	spec   Spec
	peer   Peer
	header http.Header
}

// NewRequest wraps a message as a Request.
func NewRequest[T any](message *T) *Request[T] {
	return &Request[T]{Msg: message}
}

func (r *Request[_]) Any() any     { return r.Msg }
func (r *Request[_]) Spec() Spec   { return r.spec }
func (r *Request[_]) Peer() Peer   { return r.peer }
func (r *Request[_]) Header() http.Header {
	if r.header == nil {
		r.header = make(http.Header)
	}
	return r.header
}
func (r *Request[_]) internalOnly() {}

// AnyRequest is the common method set of every Request[T], used by unary
// interceptors that don't know the concrete message type.
type AnyRequest interface {
	Any() any
	Spec() Spec
	Peer() Peer
	Header() http.Header
	internalOnly()
}

// Response wraps a generated response message, giving access to response
// headers and trailers alongside the strongly-typed message.
type Response[T any] struct {
	Msg *T

	header  http.Header
	trailer http.Header
}

// NewResponse wraps a message as a Response.
func NewResponse[T any](message *T) *Response[T] {
	return &Response[T]{Msg: message}
}

func (r *Response[_]) Any() any { return r.Msg }
func (r *Response[_]) Header() http.Header {
	if r.header == nil {
		r.header = make(http.Header)
	}
	return r.header
}
func (r *Response[_]) Trailer() http.Header {
	if r.trailer == nil {
		r.trailer = make(http.Header)
	}
	return r.trailer
}
func (r *Response[_]) internalOnly() {}

// AnyResponse is the common method set of every Response[T].
type AnyResponse interface {
	Any() any
	Header() http.Header
	Trailer() http.Header
	internalOnly()
}

// HTTPClient is the interface this package expects HTTP clients to
// implement. The standard library's *http.Client satisfies it.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// --- header helpers (spec §3 "Metadata") ---

// reservedHeaderPrefixes names the prefixes that must never be surfaced as
// stream metadata: they belong to the transport or the protocol, not to
// application-level trailers.
var reservedHeaderPrefixes = []string{
	"content-type",
	"content-encoding",
	"content-length",
	"accept-encoding",
	"grpc-",
	"connect-",
	"te",
	"trailer",
	"transfer-encoding",
	"user-agent",
}

func isReservedHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range reservedHeaderPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// filterReservedHeaders returns a copy of h with reserved protocol headers
// removed, used when promoting response headers into end-stream metadata
// and vice versa.
func filterReservedHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isReservedHeader(name) {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// mergeHeaders copies every value from src into dst, leaving any existing
// dst values in place (used to merge a handler's Response[T] headers into
// the conn's response header map).
func mergeHeaders(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append(dst[name], values...)
	}
}

// mergeNonProtocolHeaders merges src into dst, skipping reserved protocol
// headers (spec §4.3: "protocol headers are filtered out" of end-stream
// metadata).
func mergeNonProtocolHeaders(dst, src http.Header) {
	for name, values := range src {
		if isReservedHeader(name) {
			continue
		}
		dst[name] = append(dst[name], values...)
	}
}

// --- binary ("-bin"-suffixed) header helpers ---

// isBinaryHeader reports whether name should be treated as carrying a
// base64-encoded binary value rather than UTF-8 text (spec §3: "Keys ending
// with the suffix -bin carry base64-encoded binary values").
func isBinaryHeader(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), "-bin")
}

// --- timeout parsing shared by Connect and gRPC (spec §4.5, §6) ---

// effectiveTimeout returns the smaller of the server-configured timeout and
// the client-supplied timeout, treating zero/absent values as "no limit," so
// it never reports a non-positive timeout. A client timeout of zero is
// treated as already elapsed by each protocol's SetTimeout before this
// result is used (see SPEC_FULL.md's Open Question resolution #2).
func effectiveTimeout(serverTimeout, clientTimeout time.Duration) (time.Duration, bool) {
	switch {
	case serverTimeout <= 0 && clientTimeout <= 0:
		return 0, false
	case serverTimeout <= 0:
		return clientTimeout, true
	case clientTimeout <= 0:
		return serverTimeout, true
	case clientTimeout < serverTimeout:
		return clientTimeout, true
	default:
		return serverTimeout, true
	}
}

// withTimeoutContext applies an effective timeout to ctx, returning a
// no-op cancel func if there is no timeout to apply. On the handler side the
// returned context is the one passed to the handler function. On the client
// side it becomes the HTTP request's context, so the deadline bounds the
// whole call, including reading a streamed response body.
func withTimeoutContext(ctx context.Context, timeout time.Duration, hasTimeout bool) (context.Context, context.CancelFunc) {
	if !hasTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
