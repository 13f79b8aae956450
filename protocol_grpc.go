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
	"net/http"
	"strconv"
	"strings"
	"time"
)

// protocolGRPC implements protocol for both gRPC (HTTP/2, binary trailers)
// and gRPC-Web (HTTP/1.1-compatible, binary trailer frame appended to the
// body). The two share everything but content-type strings and trailer
// placement, so one type covers both — the "Tonic/gRPC bridge" row of spec
// §2's component table, realized concretely (see SPEC_FULL.md §4).
type protocolGRPC struct {
	web bool
}

const (
	grpcContentTypeDefault    = "application/grpc"
	grpcWebContentTypeDefault = "application/grpc-web"
	grpcTimeoutHeader         = "Grpc-Timeout"
	grpcEncodingHeader        = "Grpc-Encoding"
	grpcAcceptEncodingHeader  = "Grpc-Accept-Encoding"
	grpcStatusHeader          = "Grpc-Status"
	grpcMessageHeader         = "Grpc-Message"
	grpcStatusDetailsHeader   = "Grpc-Status-Details-Bin"
)

func (p *protocolGRPC) contentTypePrefix() string {
	if p.web {
		return grpcWebContentTypeDefault
	}
	return grpcContentTypeDefault
}

func (p *protocolGRPC) NewHandler(params *protocolHandlerParams) protocolHandler {
	contentTypes := make(map[string]struct{}, 2*len(params.Codecs.Names())+2)
	prefix := p.contentTypePrefix()
	contentTypes[prefix] = struct{}{}
	contentTypes[prefix+"+proto"] = struct{}{}
	contentTypes[prefix+"+json"] = struct{}{}
	return &grpcHandler{params: params, web: p.web, contentTypes: contentTypes}
}

type grpcHandler struct {
	params       *protocolHandlerParams
	web          bool
	contentTypes map[string]struct{}
}

func (h *grpcHandler) Methods() map[string]struct{} {
	return map[string]struct{}{http.MethodPost: {}}
}

func (h *grpcHandler) ContentTypes() map[string]struct{} { return h.contentTypes }

// SetTimeout parses the Grpc-Timeout header, which uses a value+unit suffix
// (for example "100m" for 100 milliseconds) rather than Connect's plain
// milliseconds integer.
func (h *grpcHandler) SetTimeout(request *http.Request) (context.Context, context.CancelFunc, error) {
	clientTimeout, hasClientTimeout, err := parseGRPCTimeout(request.Header.Get(grpcTimeoutHeader))
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

func parseGRPCTimeout(raw string) (time.Duration, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	if len(raw) < 2 {
		return 0, false, errorf(CodeInvalidArgument, "invalid %s header %q", grpcTimeoutHeader, raw)
	}
	value, err := strconv.ParseInt(raw[:len(raw)-1], 10, 64)
	if err != nil || value < 0 {
		return 0, false, errorf(CodeInvalidArgument, "invalid %s header %q", grpcTimeoutHeader, raw)
	}
	var unit time.Duration
	switch raw[len(raw)-1] {
	case 'H':
		unit = time.Hour
	case 'M':
		unit = time.Minute
	case 'S':
		unit = time.Second
	case 'm':
		unit = time.Millisecond
	case 'u':
		unit = time.Microsecond
	case 'n':
		unit = time.Nanosecond
	default:
		return 0, false, errorf(CodeInvalidArgument, "invalid %s unit in %q", grpcTimeoutHeader, raw)
	}
	return time.Duration(value) * unit, true, nil
}

func (h *grpcHandler) NewConn(w http.ResponseWriter, r *http.Request) (handlerConnCloser, bool) {
	codecName := codecNameProto
	if idx := strings.LastIndex(r.Header.Get("Content-Type"), "+"); idx >= 0 {
		codecName = r.Header.Get("Content-Type")[idx+1:]
	}
	codec := h.params.Codecs.Get(codecName)
	if codec == nil {
		codec = h.params.Codecs.Protobuf()
	}

	var requestPool *compressionPool
	if name := r.Header.Get(grpcEncodingHeader); name != "" && name != compressionIdentity {
		requestPool = h.params.CompressionPools.Get(name)
		if requestPool == nil {
			w.Header().Set(grpcStatusHeader, strconv.Itoa(int(CodeUnimplemented)))
			w.Header().Set(grpcMessageHeader, percentEncode("unsupported grpc-encoding "+name))
			w.WriteHeader(http.StatusOK)
			return nil, false
		}
	}
	responseCompression, _ := negotiateCompression(h.params.CompressionPools, r.Header.Get(grpcAcceptEncodingHeader))
	var responsePool *compressionPool
	if responseCompression != compressionIdentity {
		responsePool = h.params.CompressionPools.Get(responseCompression)
	}

	contentType := h.contentTypePrefix() + "+" + codec.Name()
	w.Header().Set("Content-Type", contentType)
	if responsePool != nil {
		w.Header().Set(grpcEncodingHeader, responseCompression)
	}
	w.Header().Set(grpcAcceptEncodingHeader, h.params.CompressionPools.CommaSeparatedNames())
	if !h.web {
		w.Header().Set("Trailer", grpcStatusHeader+", "+grpcMessageHeader)
	}

	peer := newPeerFromURL(r.URL.String(), protocolName(h.web))
	conn := &grpcHandlerConn{
		spec:            h.params.Spec,
		peer:            peer,
		web:             h.web,
		responseWriter:  w,
		requestHeader:   r.Header.Clone(),
		responseHeader:  w.Header(),
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
	return conn, true
}

func protocolName(web bool) string {
	if web {
		return "grpc-web"
	}
	return "grpc"
}

func percentEncode(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if c >= 0x20 && c <= 0x7e && c != '%' {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(strconv.FormatInt(int64(c), 16)))
		}
	}
	return b.String()
}

func percentDecode(s string) string {
	// gRPC percent-encodes Grpc-Message; a best-effort decode is enough for
	// diagnostics and matches connect-go's own handling.
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseInt(s[i+1:i+3], 16, 16); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// grpcHandlerConn implements StreamingHandlerConn (and handlerConnCloser)
// for both gRPC and gRPC-Web. Trailers are real HTTP trailers for gRPC, and
// for gRPC-Web a plain-text header block framed as an extra binary envelope
// (flag 0x80) in the body (the upstream gRPC-Web wire spec's "trailer
// frame").
type grpcHandlerConn struct {
	spec            Spec
	peer            Peer
	web             bool
	responseWriter  http.ResponseWriter
	requestHeader   http.Header
	responseHeader  http.Header
	responseTrailer http.Header
	marshaler       envelopeWriter
	unmarshaler     envelopeReader
	wroteHeader     bool
}

func (c *grpcHandlerConn) Spec() Spec                  { return c.spec }
func (c *grpcHandlerConn) Peer() Peer                  { return c.peer }
func (c *grpcHandlerConn) RequestHeader() http.Header  { return c.requestHeader }
func (c *grpcHandlerConn) ResponseHeader() http.Header  { return c.responseHeader }
func (c *grpcHandlerConn) ResponseTrailer() http.Header { return c.responseTrailer }

func (c *grpcHandlerConn) Receive(message any) error {
	return c.unmarshaler.Unmarshal(message)
}

func (c *grpcHandlerConn) Send(message any) error {
	c.writeHeader()
	if err := c.marshaler.Marshal(message); err != nil {
		return err
	}
	if f, ok := c.responseWriter.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (c *grpcHandlerConn) writeHeader() {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.responseWriter.WriteHeader(http.StatusOK)
}

// Close writes the terminal gRPC status, either as real HTTP trailers
// (gRPC) or as a trailer frame appended to the body (gRPC-Web).
func (c *grpcHandlerConn) Close(err error) error {
	c.writeHeader()
	connectErr := asError(err)
	code := CodeOf(err)
	message := ""
	if connectErr != nil {
		message = connectErr.Message()
	}

	trailer := make(http.Header)
	mergeNonProtocolHeaders(trailer, c.responseTrailer)
	if connectErr != nil {
		mergeNonProtocolHeaders(trailer, connectErr.Meta())
	}
	trailer.Set(grpcStatusHeader, strconv.Itoa(int(code)))
	if message != "" {
		trailer.Set(grpcMessageHeader, percentEncode(message))
	}
	if connectErr != nil {
		for _, d := range connectErr.Details() {
			trailer.Add(grpcStatusDetailsHeader, base64.StdEncoding.EncodeToString(d.value))
		}
	}

	if c.web {
		return c.writeWebTrailer(trailer)
	}
	for name, values := range trailer {
		for _, v := range values {
			c.responseWriter.Header().Add(name, v)
		}
	}
	return nil
}

// writeWebTrailer serializes trailer as an HTTP/1-style header block and
// frames it as an envelope with the high trailer bit (0x80) set, per the
// gRPC-Web wire specification.
func (c *grpcHandlerConn) writeWebTrailer(trailer http.Header) error {
	var b strings.Builder
	for name, values := range trailer {
		for _, v := range values {
			b.WriteString(strings.ToLower(name))
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return writeEnvelope(c.responseWriter, []byte(b.String()), 0x80)
}
