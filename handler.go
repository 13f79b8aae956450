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
	"sort"
	"strings"
	"time"
)

// StreamingHandlerFunc is the signature every RPC shape (unary, client
// stream, server stream, bidi stream) is eventually adapted to, so that a
// single Handler can dispatch to any of them (spec §4.7).
type StreamingHandlerFunc func(ctx context.Context, conn StreamingHandlerConn) error

// ExtractorFunc builds a request-part value from method, URL, and headers
// only — never the body, since it always runs before the body-consuming
// parameter (spec §4.7, §9 "Extractor-before-body ordering"). Returning a
// non-nil *Error short-circuits the handler and is encoded on the current
// protocol; returning an error built by NewHTTPPassthrough short-circuits
// with that raw HTTP response (how a 401 challenge interoperates with plain
// HTTP).
type ExtractorFunc func(r *http.Request) (value any, err error)

// httpPassthrough lets an ExtractorFunc bypass Connect/gRPC error encoding
// entirely and write a plain HTTP response (spec §4.7 step 3(b)).
type httpPassthrough struct {
	status int
	header http.Header
	body   []byte
}

func (h *httpPassthrough) Error() string { return "http passthrough response" }

// NewHTTPPassthrough constructs an ExtractorFunc failure that should be
// written as a raw HTTP response instead of a Connect/gRPC error.
func NewHTTPPassthrough(status int, header http.Header, body []byte) error {
	return &httpPassthrough{status: status, header: header, body: body}
}

// A Handler is the server-side implementation of a single RPC defined by a
// service schema. By default, Handlers support the Connect, gRPC, and
// gRPC-Web protocols with the binary Protobuf and JSON codecs, and gzip,
// deflate, brotli, and zstd compression.
type Handler struct {
	spec             Spec
	implementation   StreamingHandlerFunc
	extractors       []ExtractorFunc
	protocolHandlers []protocolHandler
	acceptPost       string
}

// NewUnaryHandler constructs a Handler for a request-response procedure.
func NewUnaryHandler[Req, Res any](
	procedure string,
	unary func(context.Context, *Request[Req]) (*Response[Res], error),
	options ...HandlerOption,
) *Handler {
	untyped := UnaryFunc(func(ctx context.Context, request AnyRequest) (AnyResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		typed, ok := request.(*Request[Req])
		if !ok {
			return nil, errorf(CodeInternal, "unexpected handler request type %T", request)
		}
		return unary(ctx, typed)
	})
	config := newHandlerConfig(procedure, options)
	if config.Interceptor != nil {
		untyped = config.Interceptor.WrapUnary(untyped)
	}
	implementation := func(ctx context.Context, conn StreamingHandlerConn) error {
		var msg Req
		if err := conn.Receive(&msg); err != nil {
			return err
		}
		request := &Request[Req]{Msg: &msg, spec: conn.Spec(), peer: conn.Peer(), header: conn.RequestHeader()}
		response, err := untyped(ctx, request)
		if err != nil {
			return err
		}
		mergeHeaders(conn.ResponseHeader(), response.Header())
		mergeHeaders(conn.ResponseTrailer(), response.Trailer())
		return conn.Send(response.Any())
	}
	return newHandler(config, StreamTypeUnary, implementation)
}

// NewClientStreamHandler constructs a Handler for a client-streaming
// procedure: many request messages, one response message.
func NewClientStreamHandler[Req, Res any](
	procedure string,
	implementation func(context.Context, *ClientStream[Req]) (*Response[Res], error),
	options ...HandlerOption,
) *Handler {
	config := newHandlerConfig(procedure, options)
	wrapped := func(ctx context.Context, conn StreamingHandlerConn) error {
		stream := &ClientStream[Req]{conn: conn}
		res, err := implementation(ctx, stream)
		if err != nil {
			return err
		}
		mergeHeaders(conn.ResponseHeader(), res.header)
		mergeHeaders(conn.ResponseTrailer(), res.trailer)
		return conn.Send(res.Msg)
	}
	if config.Interceptor != nil {
		wrapped = config.Interceptor.WrapStreamingHandler(wrapped)
	}
	return newHandler(config, StreamTypeClient, wrapped)
}

// NewServerStreamHandler constructs a Handler for a server-streaming
// procedure: one request message, many response messages.
func NewServerStreamHandler[Req, Res any](
	procedure string,
	implementation func(context.Context, *Request[Req], *ServerStream[Res]) error,
	options ...HandlerOption,
) *Handler {
	config := newHandlerConfig(procedure, options)
	wrapped := func(ctx context.Context, conn StreamingHandlerConn) error {
		var msg Req
		if err := conn.Receive(&msg); err != nil {
			return err
		}
		return implementation(
			ctx,
			&Request[Req]{Msg: &msg, spec: conn.Spec(), peer: conn.Peer(), header: conn.RequestHeader()},
			&ServerStream[Res]{conn: conn},
		)
	}
	if config.Interceptor != nil {
		wrapped = config.Interceptor.WrapStreamingHandler(wrapped)
	}
	return newHandler(config, StreamTypeServer, wrapped)
}

// NewBidiStreamHandler constructs a Handler for a bidirectional streaming
// procedure: interleaved request and response messages.
func NewBidiStreamHandler[Req, Res any](
	procedure string,
	implementation func(context.Context, *BidiStream[Req, Res]) error,
	options ...HandlerOption,
) *Handler {
	config := newHandlerConfig(procedure, options)
	wrapped := func(ctx context.Context, conn StreamingHandlerConn) error {
		return implementation(ctx, &BidiStream[Req, Res]{conn: conn})
	}
	if config.Interceptor != nil {
		wrapped = config.Interceptor.WrapStreamingHandler(wrapped)
	}
	return newHandler(config, StreamTypeBidi, wrapped)
}

func newHandler(config *handlerConfig, streamType StreamType, implementation StreamingHandlerFunc) *Handler {
	protocolHandlers := config.newProtocolHandlers(streamType)
	return &Handler{
		spec:             config.newSpec(streamType),
		implementation:   implementation,
		extractors:       config.Extractors,
		protocolHandlers: protocolHandlers,
		acceptPost:       sortedAcceptPostValue(protocolHandlers),
	}
}

// ServeHTTP implements http.Handler. It realizes §4.7's dispatch algorithm
// (extractors, then body decode, then the user function). ServeHTTP itself
// does not compare Content-Length with the read limit: only the Connect
// unary conn constructor rejects an oversized declared Content-Length with
// ResourceExhausted. Streaming Connect, gRPC, and gRPC-Web requests are not
// checked against Content-Length; each of their frames is checked against
// the read limit as it is read.
func (h *Handler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	isBidi := h.spec.StreamType&StreamTypeBidi == StreamTypeBidi
	if isBidi && request.ProtoMajor < 2 {
		responseWriter.WriteHeader(http.StatusHTTPVersionNotSupported)
		return
	}
	if request.Method != http.MethodPost && request.Method != http.MethodGet {
		responseWriter.Header().Set("Allow", http.MethodPost)
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	contentType := canonicalizeContentType(request.Header.Get("Content-Type"))
	var selected protocolHandler
	for _, ph := range h.protocolHandlers {
		if _, ok := ph.ContentTypes()[contentType]; ok {
			if _, ok := ph.Methods()[request.Method]; ok {
				selected = ph
				break
			}
		}
	}
	if selected == nil {
		responseWriter.Header().Set("Accept-Post", h.acceptPost)
		responseWriter.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	// Run extractors before touching the body (spec §4.7 step 3). Any
	// failure — Error or raw HTTP passthrough — short-circuits here.
	for _, extractor := range h.extractors {
		if _, err := extractor(request); err != nil {
			if passthrough, ok := err.(*httpPassthrough); ok {
				mergeHeaders(responseWriter.Header(), passthrough.header)
				responseWriter.WriteHeader(passthrough.status)
				_, _ = responseWriter.Write(passthrough.body)
				return
			}
			request.Header.Set("Content-Type", contentType)
			if connCloser, ok := selected.NewConn(responseWriter, request); ok {
				_ = connCloser.Close(asError(err))
			}
			return
		}
	}

	request.Header.Set("Content-Type", contentType)
	ctx, cancel, timeoutErr := selected.SetTimeout(request)
	if cancel != nil {
		defer cancel()
	}
	connCloser, ok := selected.NewConn(responseWriter, request.WithContext(ctx))
	if !ok {
		return
	}
	if timeoutErr != nil {
		_ = connCloser.Close(timeoutErr)
		return
	}
	_ = connCloser.Close(h.implementation(ctx, connCloser))
}

type handlerConfig struct {
	CompressionPools             map[string]*compressionPool
	CompressionNames             []string
	Codecs                       map[string]Codec
	CompressMinBytes             int
	Interceptor                  Interceptor
	Procedure                    string
	HandleGRPC                   bool
	HandleGRPCWeb                bool
	BufferPool                   *bufferPool
	ReadMaxBytes                 int64
	SendMaxBytes                 int64
	Timeout                      time.Duration
	RequireConnectProtocolHeader bool
	IdempotencyLevel             IdempotencyLevel
	Extractors                   []ExtractorFunc
}

func newHandlerConfig(procedure string, options []HandlerOption) *handlerConfig {
	config := handlerConfig{
		Procedure:        procedure,
		CompressionPools: make(map[string]*compressionPool),
		Codecs:           make(map[string]Codec),
		HandleGRPC:       true,
		HandleGRPCWeb:    true,
		BufferPool:       newBufferPool(),
	}
	withProtoBinaryCodec().applyToHandler(&config)
	withProtoJSONCodec().applyToHandler(&config)
	withStandardCompression().applyToHandler(&config)
	for _, opt := range options {
		opt.applyToHandler(&config)
	}
	return &config
}

func (c *handlerConfig) newSpec(streamType StreamType) Spec {
	return Spec{Procedure: c.Procedure, StreamType: streamType}
}

func (c *handlerConfig) newProtocolHandlers(streamType StreamType) []protocolHandler {
	protocols := []protocol{&protocolConnect{}}
	if c.HandleGRPC {
		protocols = append(protocols, &protocolGRPC{web: false})
	}
	if c.HandleGRPCWeb {
		protocols = append(protocols, &protocolGRPC{web: true})
	}
	codecs := newReadOnlyCodecs(c.Codecs)
	compressors := newReadOnlyCompressionPools(c.CompressionPools, c.CompressionNames)
	params := &protocolHandlerParams{
		Spec:                         c.newSpec(streamType),
		Codecs:                       codecs,
		CompressionPools:             compressors,
		CompressMinBytes:             c.CompressMinBytes,
		BufferPool:                   c.BufferPool,
		ReadMaxBytes:                 c.ReadMaxBytes,
		SendMaxBytes:                 c.SendMaxBytes,
		Timeout:                      c.Timeout,
		RequireConnectProtocolHeader: c.RequireConnectProtocolHeader,
		IdempotencyLevel:             c.IdempotencyLevel,
	}
	handlers := make([]protocolHandler, 0, len(protocols))
	for _, p := range protocols {
		handlers = append(handlers, p.NewHandler(params))
	}
	return handlers
}

func sortedAcceptPostValue(handlers []protocolHandler) string {
	set := make(map[string]struct{})
	for _, h := range handlers {
		for ct := range h.ContentTypes() {
			set[ct] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func canonicalizeContentType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}
