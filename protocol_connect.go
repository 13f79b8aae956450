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
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RequestProtocol identifies one of the four Connect wire variants named in
// spec §3. gRPC and gRPC-Web are routed before negotiation and never produce
// a RequestProtocol of their own.
type RequestProtocol int

const (
	ConnectUnaryJSON RequestProtocol = iota
	ConnectUnaryProto
	ConnectStreamJSON
	ConnectStreamProto
)

func (p RequestProtocol) codecName() string {
	switch p {
	case ConnectUnaryJSON, ConnectStreamJSON:
		return codecNameJSON
	default:
		return codecNameProto
	}
}

func (p RequestProtocol) isStreaming() bool {
	return p == ConnectStreamJSON || p == ConnectStreamProto
}

const (
	connectUnaryContentTypeJSON    = "application/json"
	connectUnaryContentTypeProto   = "application/proto"
	connectStreamContentTypeJSON   = "application/connect+json"
	connectStreamContentTypeProto  = "application/connect+proto"
	connectProtocolVersionHeader   = "Connect-Protocol-Version"
	connectProtocolVersionValue    = "1"
	connectTimeoutHeader           = "Connect-Timeout-Ms"
	connectContentEncodingHeader   = "Connect-Content-Encoding"
	connectAcceptEncodingHeader    = "Connect-Accept-Encoding"
)

// classifyContentType maps a Content-Type header (without parameters) to a
// RequestProtocol, per spec §3/§4.5. The boolean return is false for
// anything this server doesn't recognize as one of the four Connect
// variants (including gRPC, which is routed away before this runs).
func classifyContentType(contentType string) (RequestProtocol, bool) {
	switch contentType {
	case connectUnaryContentTypeJSON:
		return ConnectUnaryJSON, true
	case connectUnaryContentTypeProto:
		return ConnectUnaryProto, true
	case connectStreamContentTypeJSON:
		return ConnectStreamJSON, true
	case connectStreamContentTypeProto:
		return ConnectStreamProto, true
	default:
		return 0, false
	}
}

func acceptPostValue() string {
	return strings.Join([]string{
		connectUnaryContentTypeJSON,
		connectUnaryContentTypeProto,
		connectStreamContentTypeJSON,
		connectStreamContentTypeProto,
	}, ", ")
}

// protocolHandlerParams bundles the negotiated, immutable, per-Handler
// configuration that every protocol's NewHandler needs. This is the Go
// realization of spec §3's RequestContext: rather than a single struct
// threaded through context.Context, its fields live here (shared, immutable
// config) and on the conn objects constructed per request (negotiated,
// request-scoped state).
type protocolHandlerParams struct {
	Spec                         Spec
	Codecs                       *readOnlyCodecs
	CompressionPools             *readOnlyCompressionPools
	CompressMinBytes             int
	BufferPool                   *bufferPool
	ReadMaxBytes                 int64
	SendMaxBytes                 int64
	Timeout                      time.Duration
	RequireConnectProtocolHeader bool
	IdempotencyLevel             IdempotencyLevel
}

// protocolHandler is the per-protocol server-side capability a Handler
// dispatches to once it has classified an inbound request's Content-Type
// (spec §4.7 step 0, done by Handler.ServeHTTP before protocolHandler is
// even selected).
type protocolHandler interface {
	Methods() map[string]struct{}
	ContentTypes() map[string]struct{}
	SetTimeout(request *http.Request) (context.Context, context.CancelFunc, error)
	NewConn(w http.ResponseWriter, r *http.Request) (handlerConnCloser, bool)
}

// protocol is the capability every wire protocol (Connect, gRPC, gRPC-Web)
// implements to produce a protocolHandler bound to one Handler's config.
type protocol interface {
	NewHandler(params *protocolHandlerParams) protocolHandler
}

// IdempotencyLevel marks whether an RPC may be safely invoked with an
// idempotent GET, per spec §4.12.
type IdempotencyLevel int

const (
	IdempotencyUnknown IdempotencyLevel = iota
	IdempotencyNoSideEffects
	IdempotencyIdempotent
)

// protocolConnect implements protocol for the Connect wire format.
type protocolConnect struct{}

func (*protocolConnect) NewHandler(params *protocolHandlerParams) protocolHandler {
	contentTypes := make(map[string]struct{}, 4)
	contentTypes[connectUnaryContentTypeJSON] = struct{}{}
	contentTypes[connectUnaryContentTypeProto] = struct{}{}
	if params.Spec.StreamType != StreamTypeUnary {
		contentTypes[connectStreamContentTypeJSON] = struct{}{}
		contentTypes[connectStreamContentTypeProto] = struct{}{}
	}
	methods := map[string]struct{}{http.MethodPost: {}}
	if params.Spec.StreamType == StreamTypeUnary && params.IdempotencyLevel == IdempotencyNoSideEffects {
		methods[http.MethodGet] = struct{}{}
	}
	return &connectHandler{params: params, contentTypes: contentTypes, methods: methods}
}

type connectHandler struct {
	params       *protocolHandlerParams
	contentTypes map[string]struct{}
	methods      map[string]struct{}
}

func (h *connectHandler) Methods() map[string]struct{}      { return h.methods }
func (h *connectHandler) ContentTypes() map[string]struct{} { return h.contentTypes }

// SetTimeout parses Connect-Timeout-Ms and combines it with the
// handler-configured timeout per spec §4.5: the effective deadline is the
// minimum of the two, and either may be unset. A Connect-Timeout-Ms: 0 is
// treated as already expired (SPEC_FULL.md Open Question #2).
func (h *connectHandler) SetTimeout(request *http.Request) (context.Context, context.CancelFunc, error) {
	clientTimeout, hasClientTimeout, err := parseConnectTimeout(request.Header.Get(connectTimeoutHeader))
	if err != nil {
		return request.Context(), nil, err
	}
	var clientDuration time.Duration
	if hasClientTimeout {
		clientDuration = clientTimeout
	}
	timeout, hasTimeout := effectiveTimeout(h.params.Timeout, clientDuration)
	if hasClientTimeout && clientTimeout <= 0 {
		return request.Context(), nil, errorf(CodeDeadlineExceeded, "timeout already elapsed")
	}
	ctx, cancel := withTimeoutContext(request.Context(), timeout, hasTimeout)
	return ctx, cancel, nil
}

func parseConnectTimeout(raw string) (time.Duration, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || millis < 0 {
		return 0, false, errorf(CodeInvalidArgument, "invalid %s header %q", connectTimeoutHeader, raw)
	}
	return time.Duration(millis) * time.Millisecond, true, nil
}

// NewConn implements the bulk of spec §4.5's negotiation layer for the
// Connect protocol: classify content-type, validate protocol version,
// negotiate compression, and (for GET) synthesize a request body from query
// parameters (spec §4.12). It returns ok=false only when it has already
// written a terminal HTTP response (415, 400) and the caller should stop.
func (h *connectHandler) NewConn(w http.ResponseWriter, r *http.Request) (handlerConnCloser, bool) {
	if h.params.RequireConnectProtocolHeader && r.Header.Get(connectProtocolVersionHeader) != connectProtocolVersionValue {
		if r.Method != http.MethodGet || r.URL.Query().Get("connect") == "" {
			writeConnectUnaryError(w, errorf(CodeInvalidArgument, "missing required header: set %s to %q", connectProtocolVersionHeader, connectProtocolVersionValue))
			return nil, false
		}
	}

	if r.Method == http.MethodGet {
		return h.newGetConn(w, r)
	}

	contentType := r.Header.Get("Content-Type")
	proto, ok := classifyContentType(contentType)
	if !ok {
		w.Header().Set("Accept-Post", acceptPostValue())
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return nil, false
	}
	codec := h.params.Codecs.Get(proto.codecName())
	if codec == nil {
		w.Header().Set("Accept-Post", acceptPostValue())
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return nil, false
	}

	peer := newPeerFromURL(r.URL.String(), "connect")
	if proto.isStreaming() {
		return h.newStreamConn(w, r, proto, codec, peer)
	}
	return h.newUnaryConn(w, r, proto, codec, peer)
}

// newGetConn implements spec §4.12: a GET request with connect=v1 carries
// its payload in query parameters instead of the body.
func (h *connectHandler) newGetConn(w http.ResponseWriter, r *http.Request) (handlerConnCloser, bool) {
	q := r.URL.Query()
	if q.Get("connect") != "v1" {
		writeConnectUnaryError(w, errorf(CodeInvalidArgument, "missing required query parameter: connect=v1"))
		return nil, false
	}
	encoding := q.Get("encoding")
	var proto RequestProtocol
	switch encoding {
	case "json":
		proto = ConnectUnaryJSON
	case "proto":
		proto = ConnectUnaryProto
	default:
		w.Header().Set("Accept-Post", acceptPostValue())
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return nil, false
	}
	codec := h.params.Codecs.Get(proto.codecName())
	if codec == nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return nil, false
	}

	message := q.Get("message")
	var body []byte
	if message != "" {
		if q.Get("base64") == "1" {
			decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(message)
			if err != nil {
				if d2, err2 := base64.URLEncoding.DecodeString(message); err2 == nil {
					decoded = d2
				} else {
					writeConnectUnaryError(w, errorf(CodeInvalidArgument, "invalid base64 message: %w", err))
					return nil, false
				}
			}
			body = decoded
		} else {
			body = []byte(message)
		}
	}

	var pool *compressionPool
	if compressionName := q.Get("compression"); compressionName != "" && compressionName != compressionIdentity {
		pool = h.params.CompressionPools.Get(compressionName)
		if pool == nil {
			writeConnectUnaryError(w, errorf(CodeUnimplemented, "unknown compression %q: supported encodings are %s", compressionName, h.params.CompressionPools.CommaSeparatedNames()))
			return nil, false
		}
	}

	peer := newPeerFromURL(r.URL.String(), "connect")
	conn := &connectUnaryHandlerConn{
		spec:            h.params.Spec,
		peer:            peer,
		request:         r,
		responseWriter:  w,
		codec:           codec,
		marshalCodec:    codec,
		bufferPool:      h.params.BufferPool,
		sendMaxBytes:    h.params.SendMaxBytes,
		compressMinBytes: h.params.CompressMinBytes,
		requestHeader:   r.Header.Clone(),
		responseHeader:  make(http.Header),
		responseTrailer: make(http.Header),
		requestBody:     body,
		requestCompPool: pool,
		isGet:           true,
	}
	conn.responseHeader.Set("Content-Type", contentTypeForGet(proto))
	return conn, true
}

func contentTypeForGet(p RequestProtocol) string {
	if p == ConnectUnaryJSON {
		return connectUnaryContentTypeJSON
	}
	return connectUnaryContentTypeProto
}

// newUnaryConn negotiates compression (Content-Encoding / Accept-Encoding)
// for a POSTed unary request and constructs the handler-side conn.
func (h *connectHandler) newUnaryConn(w http.ResponseWriter, r *http.Request, proto RequestProtocol, codec Codec, peer Peer) (handlerConnCloser, bool) {
	var requestPool *compressionPool
	if name := r.Header.Get("Content-Encoding"); name != "" && name != compressionIdentity {
		requestPool = h.params.CompressionPools.Get(name)
		if requestPool == nil {
			writeConnectUnaryError(w, errorf(CodeUnimplemented, "unknown compression %q: supported encodings are %s", name, h.params.CompressionPools.CommaSeparatedNames()))
			return nil, false
		}
	}
	responseCompression, negErr := negotiateCompression(h.params.CompressionPools, r.Header.Get("Accept-Encoding"))
	if negErr != nil {
		writeConnectUnaryError(w, negErr)
		return nil, false
	}
	var responsePool *compressionPool
	if responseCompression != compressionIdentity {
		responsePool = h.params.CompressionPools.Get(responseCompression)
	}

	if r.ContentLength > 0 && h.params.ReadMaxBytes > 0 && r.ContentLength > h.params.ReadMaxBytes {
		writeConnectUnaryError(w, errorf(CodeResourceExhausted, "message size %d exceeds readMaxBytes %d", r.ContentLength, h.params.ReadMaxBytes))
		return nil, false
	}

	conn := &connectUnaryHandlerConn{
		spec:             h.params.Spec,
		peer:             peer,
		request:          r,
		responseWriter:   w,
		codec:            codec,
		marshalCodec:     codec,
		bufferPool:       h.params.BufferPool,
		readMaxBytes:     h.params.ReadMaxBytes,
		sendMaxBytes:     h.params.SendMaxBytes,
		compressMinBytes: h.params.CompressMinBytes,
		requestHeader:    r.Header.Clone(),
		responseHeader:   make(http.Header),
		responseTrailer:  make(http.Header),
		requestCompPool:  requestPool,
		responseCompPool: responsePool,
	}
	conn.responseHeader.Set("Content-Type", r.Header.Get("Content-Type"))
	if responsePool != nil {
		conn.responseHeader.Set("Content-Encoding", responseCompression)
	}
	return conn, true
}

// newStreamConn negotiates per-envelope compression (Connect-Content-Encoding
// / Connect-Accept-Encoding) for a streaming request and constructs the
// handler-side conn. Per spec §4.6, the HTTP body itself is never compressed
// for a streaming protocol: only the envelopes are.
func (h *connectHandler) newStreamConn(w http.ResponseWriter, r *http.Request, proto RequestProtocol, codec Codec, peer Peer) (handlerConnCloser, bool) {
	w.Header().Set("Accept-Encoding", compressionIdentity) // defeats transport-level body compression (spec §4.6 Bridge layer)
	r.Header.Del("Content-Encoding")                        // our own accounting of per-envelope compression is authoritative

	var requestPool *compressionPool
	if name := r.Header.Get(connectContentEncodingHeader); name != "" && name != compressionIdentity {
		requestPool = h.params.CompressionPools.Get(name)
		if requestPool == nil {
			writeConnectStreamError(w, codec, errorf(CodeUnimplemented, "unknown compression %q: supported encodings are %s", name, h.params.CompressionPools.CommaSeparatedNames()))
			return nil, false
		}
	}
	responseCompression, negErr := negotiateCompression(h.params.CompressionPools, r.Header.Get(connectAcceptEncodingHeader))
	if negErr != nil {
		writeConnectStreamError(w, codec, negErr)
		return nil, false
	}
	var responsePool *compressionPool
	if responseCompression != compressionIdentity {
		responsePool = h.params.CompressionPools.Get(responseCompression)
	}

	conn := &connectStreamingHandlerConn{
		spec:            h.params.Spec,
		peer:            peer,
		request:         r,
		responseWriter:  w,
		contentType:     r.Header.Get("Content-Type"),
		requestHeader:   r.Header.Clone(),
		responseHeader:  make(http.Header),
		responseTrailer: make(http.Header),
	}
	conn.marshaler = envelopeWriter{
		writer:           w,
		codec:            codec,
		compressionPool:  responsePool,
		bufferPool:       h.params.BufferPool,
		compressMinBytes: h.params.CompressMinBytes,
		sendMaxBytes:     int(h.params.SendMaxBytes),
	}
	conn.unmarshaler = *newEnvelopeReader(r.Body, codec, requestPool, h.params.BufferPool, h.params.ReadMaxBytes)
	if responsePool != nil {
		conn.responseHeader.Set(connectContentEncodingHeader, responseCompression)
	}
	conn.responseHeader.Set("Content-Type", conn.contentType)
	return conn, true
}

// --- server-side unary conn ---

type connectUnaryHandlerConn struct {
	spec             Spec
	peer             Peer
	request          *http.Request
	responseWriter   http.ResponseWriter
	codec            Codec
	marshalCodec     Codec
	bufferPool       *bufferPool
	readMaxBytes     int64
	sendMaxBytes     int64
	compressMinBytes int
	requestHeader    http.Header
	responseHeader   http.Header
	responseTrailer  http.Header
	requestCompPool  *compressionPool
	responseCompPool *compressionPool
	requestBody      []byte // pre-populated only for GET
	isGet            bool
	wroteHeader      bool
}

func (c *connectUnaryHandlerConn) Spec() Spec                 { return c.spec }
func (c *connectUnaryHandlerConn) Peer() Peer                 { return c.peer }
func (c *connectUnaryHandlerConn) RequestHeader() http.Header { return c.requestHeader }
func (c *connectUnaryHandlerConn) ResponseHeader() http.Header { return c.responseHeader }
func (c *connectUnaryHandlerConn) ResponseTrailer() http.Header { return c.responseTrailer }

func (c *connectUnaryHandlerConn) Receive(message any) error {
	var raw []byte
	if c.isGet {
		raw = c.requestBody
	} else {
		data := c.bufferPool.Get()
		defer c.bufferPool.Put(data)
		limit := c.readMaxBytes
		var reader io.Reader = c.request.Body
		if limit > 0 {
			reader = io.LimitReader(c.request.Body, limit+1)
		}
		if _, err := data.ReadFrom(reader); err != nil {
			return errorf(CodeUnknown, "read request body: %w", err)
		}
		if limit > 0 && int64(data.Len()) > limit {
			return errorf(CodeResourceExhausted, "message size exceeds readMaxBytes %d", limit)
		}
		raw = data.Bytes()
	}
	if c.requestCompPool != nil {
		decompressed := c.bufferPool.Get()
		defer c.bufferPool.Put(decompressed)
		src := c.bufferPool.Get()
		defer c.bufferPool.Put(src)
		src.Write(raw)
		if err := c.requestCompPool.Decompress(decompressed, src, c.readMaxBytes); err != nil {
			return err
		}
		raw = append([]byte(nil), decompressed.Bytes()...)
	}
	if err := c.codec.Unmarshal(raw, message); err != nil {
		return newCodecUnmarshalError(c.codec.Name(), err)
	}
	return nil
}

func (c *connectUnaryHandlerConn) Send(message any) error {
	encoded, err := c.marshalCodec.Marshal(message)
	if err != nil {
		return errorf(CodeInternal, "marshal response: %w", err)
	}
	body := c.bufferPool.Get()
	defer c.bufferPool.Put(body)
	body.Write(encoded)

	if c.responseCompPool != nil && body.Len() >= c.compressMinBytes {
		compressed := c.bufferPool.Get()
		defer c.bufferPool.Put(compressed)
		if cerr := c.responseCompPool.Compress(compressed, body); cerr != nil {
			return cerr
		}
		body = compressed
	} else {
		c.responseHeader.Del("Content-Encoding")
	}
	if c.sendMaxBytes > 0 && int64(body.Len()) > c.sendMaxBytes {
		return errorf(CodeResourceExhausted, "response size %d exceeds sendMaxBytes %d", body.Len(), c.sendMaxBytes)
	}
	c.writeHeader(http.StatusOK)
	_, werr := c.responseWriter.Write(body.Bytes())
	return werr
}

func (c *connectUnaryHandlerConn) writeHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	mergeHeaders(c.responseWriter.Header(), c.responseHeader)
	c.responseWriter.WriteHeader(status)
}

// Close implements spec §4.3: unary errors are always a JSON body
// regardless of the request's encoding, with the mapped HTTP status, and
// the error's metadata is emitted as response headers.
func (c *connectUnaryHandlerConn) Close(err error) error {
	if err == nil {
		if !c.wroteHeader {
			c.writeHeader(http.StatusOK)
		}
		return nil
	}
	connectErr := asError(err)
	mergeHeaders(c.responseHeader, connectErr.Meta())
	mergeHeaders(c.responseHeader, c.responseTrailer)
	c.responseHeader.Set("Content-Type", "application/json")
	mergeHeaders(c.responseWriter.Header(), c.responseHeader)
	c.responseWriter.WriteHeader(httpStatusFromCode(connectErr.Code()))
	return json.NewEncoder(c.responseWriter).Encode(connectErr.toWireJSON())
}

func writeConnectUnaryError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFromCode(err.Code()))
	_ = json.NewEncoder(w).Encode(err.toWireJSON())
}

func writeConnectStreamError(w http.ResponseWriter, codec Codec, err *Error) {
	w.Header().Set("Content-Type", "application/connect+"+codec.Name())
	w.WriteHeader(http.StatusOK)
	writer := envelopeWriter{writer: w, codec: codec, bufferPool: newBufferPool()}
	_ = writer.MarshalEndStream(err, nil)
}

// --- server-side streaming conn ---

type connectStreamingHandlerConn struct {
	spec            Spec
	peer            Peer
	request         *http.Request
	responseWriter  http.ResponseWriter
	contentType     string
	requestHeader   http.Header
	responseHeader  http.Header
	responseTrailer http.Header
	marshaler       envelopeWriter
	unmarshaler     envelopeReader
	wroteHeader     bool
}

func (c *connectStreamingHandlerConn) Spec() Spec                  { return c.spec }
func (c *connectStreamingHandlerConn) Peer() Peer                  { return c.peer }
func (c *connectStreamingHandlerConn) RequestHeader() http.Header  { return c.requestHeader }
func (c *connectStreamingHandlerConn) ResponseHeader() http.Header { return c.responseHeader }
func (c *connectStreamingHandlerConn) ResponseTrailer() http.Header {
	return c.responseTrailer
}

func (c *connectStreamingHandlerConn) Receive(message any) error {
	return c.unmarshaler.Unmarshal(message)
}

func (c *connectStreamingHandlerConn) Send(message any) error {
	c.writeHeader()
	if err := c.marshaler.Marshal(message); err != nil {
		return err
	}
	if f, ok := c.responseWriter.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (c *connectStreamingHandlerConn) writeHeader() {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	mergeHeaders(c.responseWriter.Header(), c.responseHeader)
	c.responseWriter.WriteHeader(http.StatusOK)
}

// Close implements spec §4.3's streaming error surface: HTTP is always 200,
// and the terminal error (if any) travels inside the end-stream frame along
// with any trailer metadata, with reserved protocol headers filtered out.
func (c *connectStreamingHandlerConn) Close(err error) error {
	c.writeHeader()
	var wireErr *Error
	if err != nil {
		wireErr = asError(err)
	}
	return c.marshaler.MarshalEndStream(wireErr, c.responseTrailer)
}

// --- client-side conns (used by client.go via duplex_http_call.go) ---

type connectUnaryClientConn struct {
	ctx             context.Context
	spec            Spec
	peer            Peer
	procedureURL    string
	httpClient      HTTPClient
	codec           Codec
	compressionName string
	compressionPool *compressionPool
	compressionPools *readOnlyCompressionPools
	bufferPool      *bufferPool
	sendMaxBytes    int64
	readMaxBytes    int64
	compressMinBytes int

	requestHeader http.Header

	response        *http.Response
	responseHeader  http.Header
	responseTrailer http.Header
	closed          bool
}

func (c *connectUnaryClientConn) Spec() Spec                 { return c.spec }
func (c *connectUnaryClientConn) Peer() Peer                 { return c.peer }
func (c *connectUnaryClientConn) RequestHeader() http.Header { return c.requestHeader }

func (c *connectUnaryClientConn) Send(message any) error {
	encoded, err := c.codec.Marshal(message)
	if err != nil {
		return errorf(CodeInternal, "marshal request: %w", err)
	}
	body := c.bufferPool.Get()
	defer c.bufferPool.Put(body)
	body.Write(encoded)
	if c.compressionPool != nil && body.Len() >= c.compressMinBytes {
		compressed := c.bufferPool.Get()
		defer c.bufferPool.Put(compressed)
		if cerr := c.compressionPool.Compress(compressed, body); cerr != nil {
			return cerr
		}
		body = compressed
		c.requestHeader.Set("Content-Encoding", c.compressionName)
	}
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.procedureURL, nil)
	if err != nil {
		return errorf(CodeInternal, "build request: %w", err)
	}
	req.Header = c.requestHeader
	raw := append([]byte(nil), body.Bytes()...)
	req.Body = io.NopCloser(newByteReader(raw))
	req.ContentLength = int64(len(raw))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errorf(CodeUnavailable, "HTTP request failed: %w", err)
	}
	c.response = resp
	c.responseHeader = resp.Header.Clone()
	c.responseTrailer = filterReservedHeaders(resp.Trailer)
	return nil
}

func (c *connectUnaryClientConn) CloseRequest() error { return nil }

func (c *connectUnaryClientConn) Receive(message any) error {
	if c.response == nil {
		return errorf(CodeInternal, "Receive called before Send")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, c.response.Body)
		_ = c.response.Body.Close()
	}()
	data := c.bufferPool.Get()
	defer c.bufferPool.Put(data)
	if _, err := data.ReadFrom(c.response.Body); err != nil {
		return errorf(CodeUnknown, "read response body: %w", err)
	}
	if c.response.StatusCode != http.StatusOK {
		var wire errorJSON
		if jerr := json.Unmarshal(data.Bytes(), &wire); jerr == nil && wire.Code != "" {
			connectErr, cerr := errorFromWireJSON(&wire)
			if cerr == nil {
				connectErr.meta = filterReservedHeaders(c.responseHeader)
				return connectErr
			}
		}
		return errorf(codeFromHTTPStatus(c.response.StatusCode), "HTTP status %d", c.response.StatusCode)
	}
	raw := data
	if encoding := c.response.Header.Get("Content-Encoding"); encoding != "" && encoding != compressionIdentity {
		pool := c.compressionPools.Get(encoding)
		if pool == nil {
			return errorf(CodeInternal, "unsupported response compression %q", encoding)
		}
		decompressed := c.bufferPool.Get()
		defer c.bufferPool.Put(decompressed)
		if derr := pool.Decompress(decompressed, raw, c.readMaxBytes); derr != nil {
			return derr
		}
		raw = decompressed
	}
	if err := c.codec.Unmarshal(raw.Bytes(), message); err != nil {
		return newCodecUnmarshalError(c.codec.Name(), err)
	}
	return nil
}

func (c *connectUnaryClientConn) ResponseHeader() http.Header  { return c.responseHeader }
func (c *connectUnaryClientConn) ResponseTrailer() http.Header { return c.responseTrailer }
func (c *connectUnaryClientConn) CloseResponse() error {
	if c.closed || c.response == nil {
		return nil
	}
	c.closed = true
	return c.response.Body.Close()
}

// --- client-side streaming conn ---

// connectStreamingClientConn implements StreamingClientConn for Connect
// client-stream, server-stream, and bidi-stream calls, framing messages
// over a duplexHTTPCall the same way connectStreamingHandlerConn frames them
// over an http.ResponseWriter (spec §4.2, §4.9).
type connectStreamingClientConn struct {
	spec             Spec
	peer             Peer
	call             *duplexHTTPCall
	cancel           context.CancelFunc
	codec            Codec
	bufferPool       *bufferPool
	compressMinBytes int
	sendMaxBytes     int
	readMaxBytes     int64
	compressionPool  *compressionPool
	compressionPools *readOnlyCompressionPools
	requestHeader    http.Header

	marshaler       *envelopeWriter
	unmarshaler     *envelopeReader
	responseHeader  http.Header
	responseTrailer http.Header
	initialized     bool
}

func (c *connectStreamingClientConn) Spec() Spec                 { return c.spec }
func (c *connectStreamingClientConn) Peer() Peer                 { return c.peer }
func (c *connectStreamingClientConn) RequestHeader() http.Header { return c.requestHeader }

func (c *connectStreamingClientConn) Send(message any) error {
	if c.marshaler == nil {
		c.marshaler = &envelopeWriter{
			writer:           c.call,
			codec:            c.codec,
			compressionPool:  c.compressionPool,
			bufferPool:       c.bufferPool,
			compressMinBytes: c.compressMinBytes,
			sendMaxBytes:     c.sendMaxBytes,
		}
	}
	return c.marshaler.Marshal(message)
}

func (c *connectStreamingClientConn) CloseRequest() error {
	return c.call.CloseWrite()
}

// ensureResponse blocks for response headers (and the HTTP status) on first
// use, lazily building the envelopeReader once the negotiated response
// compression is known.
func (c *connectStreamingClientConn) ensureResponse() error {
	if c.initialized {
		return nil
	}
	header, err := c.call.Header()
	if err != nil {
		return err
	}
	status, err := c.call.StatusCode()
	if err != nil {
		return err
	}
	c.responseHeader = header.Clone()
	c.responseTrailer = make(http.Header)
	if status != http.StatusOK {
		return errorf(codeFromHTTPStatus(status), "HTTP status %d", status)
	}
	var pool *compressionPool
	if name := header.Get(connectContentEncodingHeader); name != "" && name != compressionIdentity {
		pool = c.compressionPools.Get(name)
	}
	c.unmarshaler = newEnvelopeReader(c.call, c.codec, pool, c.bufferPool, c.readMaxBytes)
	c.initialized = true
	return nil
}

func (c *connectStreamingClientConn) Receive(message any) error {
	if err := c.ensureResponse(); err != nil {
		return err
	}
	err := c.unmarshaler.Unmarshal(message)
	if err == io.EOF {
		mergeHeaders(c.responseTrailer, c.unmarshaler.Trailer())
	}
	return err
}

func (c *connectStreamingClientConn) ResponseHeader() http.Header {
	_ = c.ensureResponse()
	return c.responseHeader
}

func (c *connectStreamingClientConn) ResponseTrailer() http.Header {
	return c.responseTrailer
}

func (c *connectStreamingClientConn) CloseResponse() error {
	defer func() {
		if c.cancel != nil {
			c.cancel()
		}
	}()
	return c.call.CloseRead()
}

// byteReader adapts a []byte to an io.ReadCloser without extra
// allocation beyond the slice itself; it is assigned to the request's Body
// directly, with ContentLength set from the slice length.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
