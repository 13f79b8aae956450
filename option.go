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
	"time"
)

// HandlerOption configures a Handler. Most options work identically on
// clients; those implement both HandlerOption and ClientOption, so a single
// With* constructor can configure either side (spec §6's functional-options
// surface, generalized per SPEC_FULL.md §4).
type HandlerOption interface {
	applyToHandler(*handlerConfig)
}

// ClientOption configures a Client.
type ClientOption interface {
	applyToClient(*clientConfig)
}

// Option configures both Handlers and Clients.
type Option interface {
	HandlerOption
	ClientOption
}

type handlerOptionFunc func(*handlerConfig)

func (f handlerOptionFunc) applyToHandler(c *handlerConfig) { f(c) }

type clientOptionFunc func(*clientConfig)

func (f clientOptionFunc) applyToClient(c *clientConfig) { f(c) }

type optionFunc struct {
	handler func(*handlerConfig)
	client  func(*clientConfig)
}

func (f *optionFunc) applyToHandler(c *handlerConfig) { f.handler(c) }
func (f *optionFunc) applyToClient(c *clientConfig)   { f.client(c) }

// WithReadMaxBytes limits the size, in bytes, of a message the package will
// read from the network before decompression (spec §4.4's receive-size
// guard).
func WithReadMaxBytes(max int) Option {
	return &optionFunc{
		handler: func(c *handlerConfig) { c.ReadMaxBytes = int64(max) },
		client:  func(c *clientConfig) { c.ReadMaxBytes = int64(max) },
	}
}

// WithSendMaxBytes limits the size, in bytes, of a message the package will
// send over the network, checked after encoding and compression (spec §4.4).
func WithSendMaxBytes(max int) Option {
	return &optionFunc{
		handler: func(c *handlerConfig) { c.SendMaxBytes = int64(max) },
		client:  func(c *clientConfig) { c.SendMaxBytes = int64(max) },
	}
}

// WithCompressMinBytes sets the minimum message size, in bytes, that will be
// compressed. Below the threshold, messages are sent uncompressed even when
// a compression scheme is negotiated.
func WithCompressMinBytes(min int) Option {
	return &optionFunc{
		handler: func(c *handlerConfig) { c.CompressMinBytes = min },
		client:  func(c *clientConfig) { c.CompressMinBytes = min },
	}
}

// WithTimeout sets a server-enforced (or client-requested) timeout, combined
// with any timeout the peer supplies using the smaller of the two (spec
// §4.5).
func WithTimeout(d time.Duration) Option {
	return &optionFunc{
		handler: func(c *handlerConfig) { c.Timeout = d },
		client:  func(c *clientConfig) { c.Timeout = d },
	}
}

// WithInterceptors adds one or more Interceptors, composed in the order
// given (see Interceptor's doc comment for composition order).
func WithInterceptors(interceptors ...Interceptor) Option {
	return &optionFunc{
		handler: func(c *handlerConfig) {
			c.Interceptor = appendInterceptor(c.Interceptor, interceptors)
		},
		client: func(c *clientConfig) {
			c.Interceptor = appendInterceptor(c.Interceptor, interceptors)
		},
	}
}

func appendInterceptor(existing Interceptor, add []Interceptor) Interceptor {
	if len(add) == 0 {
		return existing
	}
	all := make([]Interceptor, 0, len(add)+1)
	if existing != nil {
		all = append(all, existing)
	}
	all = append(all, add...)
	if len(all) == 1 {
		return all[0]
	}
	return newChain(all)
}

// WithCodec registers an additional Codec, keyed by its Name(). The codec is
// available for both requests and responses once registered.
func WithCodec(codec Codec) Option {
	return &optionFunc{
		handler: func(c *handlerConfig) { c.Codecs[codec.Name()] = codec },
		client:  func(c *clientConfig) { c.Codecs[codec.Name()] = codec },
	}
}

func withProtoBinaryCodec() Option {
	return WithCodec(&protoBinaryCodec{})
}

func withProtoJSONCodec() Option {
	return WithCodec(&protoJSONCodec{})
}

// WithProtoJSON configures a Client to send the JSON codec instead of the
// default binary Protobuf codec. Handlers always accept both; this only
// changes which one a Client picks for requests it originates.
func WithProtoJSON() ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.CodecName = codecNameJSON })
}

// WithCompression registers a compression algorithm under name, using
// newCompressor/newDecompressor to build pooled (de)compressors (spec §4.4's
// compression registry, generalized beyond gzip).
func WithCompression(name string, newDecompressor func() Decompressor, newCompressor func() Compressor) Option {
	pool := newCompressionPool(name, newDecompressor, newCompressor)
	return &optionFunc{
		handler: func(c *handlerConfig) {
			c.CompressionPools[name] = pool
			c.CompressionNames = append(c.CompressionNames, name)
		},
		client: func(c *clientConfig) {
			c.CompressionPools[name] = pool
			c.CompressionNames = append(c.CompressionNames, name)
		},
	}
}

// WithGzip registers gzip compression (stdlib compress/gzip).
func WithGzip() Option {
	return WithCompression(compressionGzip, newGzipDecompressor, newGzipCompressor)
}

// WithDeflate registers deflate compression (stdlib compress/flate).
func WithDeflate() Option {
	return WithCompression(compressionDeflate, newDeflateDecompressor, newDeflateCompressor)
}

// WithBrotli registers brotli compression using
// github.com/andybalholm/brotli.
func WithBrotli() Option {
	return WithCompression(compressionBrotli, newBrotliDecompressor, newBrotliCompressor)
}

// WithZstd registers zstd compression using
// github.com/klauspost/compress/zstd.
func WithZstd() Option {
	return WithCompression(compressionZstd, newZstdDecompressor, newZstdCompressor)
}

func withStandardCompression() Option {
	return &optionFunc{
		handler: func(c *handlerConfig) {
			WithGzip().applyToHandler(c)
			WithDeflate().applyToHandler(c)
			WithBrotli().applyToHandler(c)
			WithZstd().applyToHandler(c)
		},
		client: func(c *clientConfig) {
			WithGzip().applyToClient(c)
			WithDeflate().applyToClient(c)
			WithBrotli().applyToClient(c)
			WithZstd().applyToClient(c)
		},
	}
}

// WithRequireConnectProtocolHeader requires Connect requests, unary and
// streaming, to include the Connect-Protocol-Version header, rejecting
// requests that omit it (spec §4.5). GET requests that carry the connect
// query parameter instead are accepted. gRPC and gRPC-Web requests are
// unaffected.
func WithRequireConnectProtocolHeader() HandlerOption {
	return handlerOptionFunc(func(c *handlerConfig) { c.RequireConnectProtocolHeader = true })
}

// WithIdempotency declares the idempotency/side-effect level of a procedure.
// Procedures marked NoSideEffects become eligible for the GET-encoded unary
// form described in spec §4.12.
func WithIdempotency(level IdempotencyLevel) HandlerOption {
	return handlerOptionFunc(func(c *handlerConfig) { c.IdempotencyLevel = level })
}

// WithExtractor registers a request-part extractor that runs before any
// message body is read (spec §4.7). Multiple extractors run in the order
// registered.
func WithExtractor(fn ExtractorFunc) HandlerOption {
	return handlerOptionFunc(func(c *handlerConfig) { c.Extractors = append(c.Extractors, fn) })
}

// WithDisableGRPC disables the gRPC protocol for a Handler, leaving Connect
// and gRPC-Web active.
func WithDisableGRPC() HandlerOption {
	return handlerOptionFunc(func(c *handlerConfig) { c.HandleGRPC = false })
}

// WithDisableGRPCWeb disables the gRPC-Web protocol for a Handler, leaving
// Connect and gRPC active.
func WithDisableGRPCWeb() HandlerOption {
	return handlerOptionFunc(func(c *handlerConfig) { c.HandleGRPCWeb = false })
}

// WithClientOptions bundles several client options into one, applied in
// the order given.
func WithClientOptions(options ...ClientOption) ClientOption {
	return clientOptionFunc(func(c *clientConfig) {
		for _, opt := range options {
			opt.applyToClient(c)
		}
	})
}

// WithHandlerOptions bundles other options to apply together to a Handler.
func WithHandlerOptions(options ...HandlerOption) HandlerOption {
	return handlerOptionFunc(func(c *handlerConfig) {
		for _, opt := range options {
			opt.applyToHandler(c)
		}
	})
}
