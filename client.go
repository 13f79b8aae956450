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
	"strconv"
	"strings"
	"time"
)

// clientConfig bundles the resolved, immutable configuration a Client uses
// to build conns for every call it makes — the client-side mirror of
// handlerConfig.
type clientConfig struct {
	CompressionPools map[string]*compressionPool
	CompressionNames []string
	Codecs           map[string]Codec
	CompressMinBytes int
	Interceptor      Interceptor
	ReadMaxBytes     int64
	SendMaxBytes     int64
	Timeout          time.Duration
	CompressionName  string
	CodecName        string
}

func newClientConfig(options []ClientOption) *clientConfig {
	config := clientConfig{
		CompressionPools: make(map[string]*compressionPool),
		Codecs:           make(map[string]Codec),
		CompressionName:  compressionGzip,
		CodecName:        codecNameProto,
	}
	withProtoBinaryCodec().applyToClient(&config)
	withProtoJSONCodec().applyToClient(&config)
	withStandardCompression().applyToClient(&config)
	for _, opt := range options {
		opt.applyToClient(&config)
	}
	return &config
}

func (c *clientConfig) compressionPools() *readOnlyCompressionPools {
	return newReadOnlyCompressionPools(c.CompressionPools, c.CompressionNames)
}

// Client calls a single procedure using the Connect protocol. One Client
// handles exactly one procedure; a generated service client holds one
// Client per RPC method (spec §4.9's client surface, §6's code-generator
// contract).
type Client[Req, Res any] struct {
	procedureURL string
	httpClient   HTTPClient
	config       *clientConfig
	spec         Spec
	unary        UnaryFunc
}

// NewClient constructs a Client for a single procedure, reachable at
// baseURL+procedure, e.g. baseURL "https://api.example.com" and procedure
// "/hello.HelloWorldService/SayHello".
func NewClient[Req, Res any](httpClient HTTPClient, baseURL, procedure string, streamType StreamType, options ...ClientOption) *Client[Req, Res] {
	config := newClientConfig(options)
	client := &Client[Req, Res]{
		procedureURL: strings.TrimSuffix(baseURL, "/") + procedure,
		httpClient:   httpClient,
		config:       config,
		spec:         Spec{Procedure: procedure, StreamType: streamType, IsClient: true},
	}
	unary := UnaryFunc(func(ctx context.Context, request AnyRequest) (AnyResponse, error) {
		typed, ok := request.(*Request[Req])
		if !ok {
			return nil, errorf(CodeInternal, "unexpected client request type %T", request)
		}
		return client.callUnary(ctx, typed)
	})
	if config.Interceptor != nil {
		unary = config.Interceptor.WrapUnary(unary)
	}
	client.unary = unary
	return client
}

func (c *Client[Req, Res]) newUnaryConn(ctx context.Context, header http.Header) (*connectUnaryClientConn, context.CancelFunc) {
	timeout, hasTimeout := effectiveTimeout(c.config.Timeout, 0)
	if hasTimeout {
		header.Set(connectTimeoutHeader, strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	ctx, cancel := withTimeoutContext(ctx, timeout, hasTimeout)
	header.Set(connectProtocolVersionHeader, connectProtocolVersionValue)
	codec := c.config.Codecs[c.config.CodecName]
	if c.config.CodecName == codecNameJSON {
		header.Set("Content-Type", connectUnaryContentTypeJSON)
	} else {
		header.Set("Content-Type", connectUnaryContentTypeProto)
	}
	header.Set("Accept-Encoding", c.config.compressionPools().CommaSeparatedNames())

	var pool *compressionPool
	if c.config.CompressionName != "" && c.config.CompressionName != compressionIdentity {
		pool = c.config.CompressionPools[c.config.CompressionName]
	}

	return &connectUnaryClientConn{
		ctx:              ctx,
		spec:             c.spec,
		peer:             newPeerFromURL(c.procedureURL, "connect"),
		procedureURL:     c.procedureURL,
		httpClient:       c.httpClient,
		codec:            codec,
		compressionName:  c.config.CompressionName,
		compressionPool:  pool,
		compressionPools: c.config.compressionPools(),
		bufferPool:       newBufferPool(),
		sendMaxBytes:     c.config.SendMaxBytes,
		readMaxBytes:     c.config.ReadMaxBytes,
		compressMinBytes: c.config.CompressMinBytes,
		requestHeader:    header,
	}, cancel
}

// CallUnary issues a single request-response RPC.
func (c *Client[Req, Res]) CallUnary(ctx context.Context, request *Request[Req]) (*Response[Res], error) {
	request.spec = c.spec
	response, err := c.unary(ctx, request)
	if err != nil {
		return nil, err
	}
	typed, ok := response.(*Response[Res])
	if !ok {
		return nil, errorf(CodeInternal, "unexpected client response type %T", response)
	}
	return typed, nil
}

func (c *Client[Req, Res]) callUnary(ctx context.Context, request *Request[Req]) (AnyResponse, error) {
	conn, cancel := c.newUnaryConn(ctx, request.Header())
	defer cancel()
	if err := conn.Send(request.Msg); err != nil {
		return nil, err
	}
	defer func() { _ = conn.CloseResponse() }()
	var msg Res
	if err := conn.Receive(&msg); err != nil {
		return nil, err
	}
	response := NewResponse(&msg)
	mergeHeaders(response.Header(), conn.ResponseHeader())
	mergeHeaders(response.Trailer(), conn.ResponseTrailer())
	return response, nil
}

// newStreamConn builds the streaming client conn shared by client-stream,
// server-stream, and bidi-stream calls: all three are the same framed,
// duplex HTTP exchange, differing only in how many messages each side sends
// (spec §4.2, §4.9).
func (c *Client[Req, Res]) newStreamConn(ctx context.Context, streamType StreamType) (*connectStreamingClientConn, context.CancelFunc, error) {
	header := make(http.Header)
	header.Set(connectProtocolVersionHeader, connectProtocolVersionValue)
	codec := c.config.Codecs[c.config.CodecName]
	if c.config.CodecName == codecNameJSON {
		header.Set("Content-Type", connectStreamContentTypeJSON)
	} else {
		header.Set("Content-Type", connectStreamContentTypeProto)
	}
	header.Set(connectAcceptEncodingHeader, c.config.compressionPools().CommaSeparatedNames())

	var pool *compressionPool
	if c.config.CompressionName != "" && c.config.CompressionName != compressionIdentity {
		pool = c.config.CompressionPools[c.config.CompressionName]
		header.Set(connectContentEncodingHeader, c.config.CompressionName)
	}
	timeout, hasTimeout := effectiveTimeout(c.config.Timeout, 0)
	if hasTimeout {
		header.Set(connectTimeoutHeader, strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	ctx, cancel := withTimeoutContext(ctx, timeout, hasTimeout)

	call, err := newDuplexHTTPCall(ctx, c.httpClient, c.procedureURL, header)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	spec := c.spec
	spec.StreamType = streamType
	conn := &connectStreamingClientConn{
		spec:             spec,
		peer:             newPeerFromURL(c.procedureURL, "connect"),
		call:             call,
		cancel:           cancel,
		codec:            codec,
		bufferPool:       newBufferPool(),
		compressMinBytes: c.config.CompressMinBytes,
		sendMaxBytes:     int(c.config.SendMaxBytes),
		readMaxBytes:     c.config.ReadMaxBytes,
		compressionPool:  pool,
		compressionPools: c.config.compressionPools(),
		requestHeader:    header,
	}
	return conn, cancel, nil
}

// CallClientStream opens a client-streaming call: the caller sends zero or
// more requests via the returned ClientStreamForClient, then calls
// CloseAndReceive for the single response.
func (c *Client[Req, Res]) CallClientStream(ctx context.Context) (*ClientStreamForClient[Req, Res], error) {
	conn, _, err := c.newStreamConn(ctx, StreamTypeClient)
	if err != nil {
		return nil, err
	}
	return &ClientStreamForClient[Req, Res]{conn: conn}, nil
}

// CallServerStream opens a server-streaming call: a single request, many
// responses delivered through the returned ServerStreamForClient.
func (c *Client[Req, Res]) CallServerStream(ctx context.Context, request *Request[Req]) (*ServerStreamForClient[Res], error) {
	conn, _, err := c.newStreamConn(ctx, StreamTypeServer)
	if err != nil {
		return nil, err
	}
	mergeHeaders(conn.RequestHeader(), request.Header())
	if err := conn.Send(request.Msg); err != nil {
		_ = conn.CloseResponse()
		return nil, err
	}
	if err := conn.CloseRequest(); err != nil {
		_ = conn.CloseResponse()
		return nil, err
	}
	return &ServerStreamForClient[Res]{conn: conn}, nil
}

// CallBidiStream opens a bidirectional streaming call.
func (c *Client[Req, Res]) CallBidiStream(ctx context.Context) (*BidiStreamForClient[Req, Res], error) {
	conn, _, err := c.newStreamConn(ctx, StreamTypeBidi)
	if err != nil {
		return nil, err
	}
	return &BidiStreamForClient[Req, Res]{conn: conn}, nil
}
