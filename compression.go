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
	"compress/flate"
	"compress/gzip"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const (
	compressionIdentity = "identity"
	compressionGzip     = "gzip"
	compressionDeflate  = "deflate"
	compressionBrotli   = "br"
	compressionZstd     = "zstd"
)

// Compressor is the subset of io.WriteCloser used to compress request and
// response bodies. Reset lets implementations reuse compressor state across
// requests via a sync.Pool.
type Compressor interface {
	io.WriteCloser
	Reset(io.Writer)
}

// Decompressor is the subset of io.ReadCloser used to decompress request and
// response bodies. Reset lets implementations reuse decompressor state
// across requests via a sync.Pool.
type Decompressor interface {
	io.Reader
	Reset(io.Reader) error
	Close() error
}

// compressionPool pools Compressors and Decompressors for a single named
// codec, so that handlers and clients don't pay allocation costs for every
// request. This mirrors connect-go's own bufferPool/compressionPool design
// (see DESIGN.md): the core contract doesn't require blocking-pool
// delegation, only that compress/decompress are available and cheap to
// reuse, which sync.Pool gives us directly.
type compressionPool struct {
	name         string
	decompressor sync.Pool
	compressor   sync.Pool
}

func newCompressionPool(name string, newDecompressor func() Decompressor, newCompressor func() Compressor) *compressionPool {
	return &compressionPool{
		name: name,
		decompressor: sync.Pool{
			New: func() any { return newDecompressor() },
		},
		compressor: sync.Pool{
			New: func() any { return newCompressor() },
		},
	}
}

func (c *compressionPool) Name() string { return c.name }

// Decompress reads all of src, decompressing it with the pooled
// Decompressor, and enforces readMaxBytes on the decompressed output (spec
// §4.4: the receive-size check runs again, post-decompression).
func (c *compressionPool) Decompress(dst *buffer, src io.Reader, readMaxBytes int64) *Error {
	decompressor, ok := c.decompressor.Get().(Decompressor)
	if !ok {
		return errorf(CodeInternal, "expected Decompressor, got %T", decompressor)
	}
	if err := decompressor.Reset(src); err != nil {
		return errorf(CodeInternal, "can't reset decompressor: %w", err)
	}
	defer func() {
		_ = decompressor.Close()
		c.decompressor.Put(decompressor)
	}()
	reader := io.Reader(decompressor)
	if readMaxBytes > 0 {
		reader = io.LimitReader(decompressor, readMaxBytes+1)
	}
	bytesRead, err := dst.ReadFrom(reader)
	if err != nil {
		return errorf(CodeInternal, "decompress: %w", err)
	}
	if readMaxBytes > 0 && bytesRead > readMaxBytes {
		_, _ = io.Copy(io.Discard, decompressor)
		return errorf(CodeResourceExhausted, "message is larger than configured max %d", readMaxBytes)
	}
	return nil
}

// Compress writes all of src to dst, compressed with the pooled Compressor.
func (c *compressionPool) Compress(dst io.Writer, src *buffer) *Error {
	compressor, ok := c.compressor.Get().(Compressor)
	if !ok {
		return errorf(CodeInternal, "expected Compressor, got %T", compressor)
	}
	compressor.Reset(dst)
	defer func() {
		_ = compressor.Close()
		c.compressor.Put(compressor)
	}()
	if _, err := src.WriteTo(compressor); err != nil {
		return errorf(CodeInternal, "compress: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return errorf(CodeInternal, "close compressor: %w", err)
	}
	return nil
}

func newReadOnlyCompressionPools(
	nameToPool map[string]*compressionPool,
	reversedNames []string,
) *readOnlyCompressionPools {
	names := make([]string, 0, len(reversedNames))
	for i := len(reversedNames) - 1; i >= 0; i-- {
		names = append(names, reversedNames[i])
	}
	return &readOnlyCompressionPools{
		nameToPool: nameToPool,
		names:      names,
	}
}

// readOnlyCompressionPools is the immutable, enumerable view of a registry
// of compressionPools built at Handler/Client construction time (spec §3:
// "the registry is immutable per service instance").
type readOnlyCompressionPools struct {
	nameToPool map[string]*compressionPool
	names      []string
}

func (r *readOnlyCompressionPools) Get(name string) *compressionPool {
	if name == "" || name == compressionIdentity {
		return nil
	}
	return r.nameToPool[name]
}

func (r *readOnlyCompressionPools) Contains(name string) bool {
	_, ok := r.nameToPool[name]
	return ok
}

// Names returns the enabled codec names, most recently registered first, used to
// build the Unimplemented error message and the Accept-Encoding header.
func (r *readOnlyCompressionPools) Names() []string {
	return r.names
}

func (r *readOnlyCompressionPools) CommaSeparatedNames() string {
	return strings.Join(r.names, ",")
}

// --- gzip ---

type gzipCompressor struct{ *gzip.Writer }

func newGzipCompressor() Compressor {
	return &gzipCompressor{Writer: gzip.NewWriter(io.Discard)}
}

type gzipDecompressor struct{ *gzip.Reader }

func newGzipDecompressor() Decompressor {
	return &gzipDecompressor{Reader: new(gzip.Reader)}
}

func (g *gzipDecompressor) Reset(r io.Reader) error {
	return g.Reader.Reset(r)
}

// --- deflate ---

type deflateCompressor struct {
	*flate.Writer
}

func newDeflateCompressor() Compressor {
	w, _ := flate.NewWriter(io.Discard, flate.DefaultCompression)
	return &deflateCompressor{Writer: w}
}

type deflateDecompressor struct {
	io.ReadCloser
}

func newDeflateDecompressor() Decompressor {
	return &deflateDecompressor{ReadCloser: flate.NewReader(nil)}
}

func (d *deflateDecompressor) Reset(r io.Reader) error {
	type resetter interface {
		Reset(io.Reader, []byte) error
	}
	if rs, ok := d.ReadCloser.(resetter); ok {
		return rs.Reset(r, nil)
	}
	d.ReadCloser = flate.NewReader(r)
	return nil
}

// --- brotli ---

type brotliCompressor struct{ *brotli.Writer }

func newBrotliCompressor() Compressor {
	return &brotliCompressor{Writer: brotli.NewWriter(io.Discard)}
}

func (b *brotliCompressor) Reset(w io.Writer) { b.Writer.Reset(w) }

type brotliDecompressor struct{ *brotli.Reader }

func newBrotliDecompressor() Decompressor {
	return &brotliDecompressor{Reader: brotli.NewReader(nil)}
}

func (b *brotliDecompressor) Reset(r io.Reader) error {
	return b.Reader.Reset(r)
}

func (b *brotliDecompressor) Close() error { return nil }

// --- zstd ---

type zstdCompressor struct{ *zstd.Encoder }

func newZstdCompressor() Compressor {
	enc, _ := zstd.NewWriter(io.Discard)
	return &zstdCompressor{Encoder: enc}
}

func (z *zstdCompressor) Reset(w io.Writer) { z.Encoder.Reset(w) }

type zstdDecompressor struct{ *zstd.Decoder }

func newZstdDecompressor() Decompressor {
	dec, _ := zstd.NewReader(nil)
	return &zstdDecompressor{Decoder: dec}
}

func (z *zstdDecompressor) Reset(r io.Reader) error {
	return z.Decoder.Reset(r)
}

func (z *zstdDecompressor) Close() error { return nil }

// --- identity ---

// compressionIdentity is never registered as a compressionPool: both
// compress and decompress are zero-copy byte-identity operations, so the
// protocol layers special-case the name instead of pooling no-op writers.

// negotiateCompression implements spec §4.1's RFC 7231 Accept-Encoding
// parsing: the first codec in the header's own order that (a) is supported
// and (b) isn't explicitly disabled with q=0 wins. An empty header selects
// identity.
func negotiateCompression(pools *readOnlyCompressionPools, acceptEncodingHeader string) (string, *Error) {
	if acceptEncodingHeader == "" {
		return compressionIdentity, nil
	}
	for _, candidate := range parseAcceptEncoding(acceptEncodingHeader) {
		if candidate.qZero {
			continue
		}
		if candidate.name == compressionIdentity {
			return compressionIdentity, nil
		}
		if pools.Contains(candidate.name) {
			return candidate.name, nil
		}
	}
	return compressionIdentity, nil
}

type acceptEncodingCandidate struct {
	name  string
	qZero bool
}

// parseAcceptEncoding parses a comma-separated Accept-Encoding-style header
// into an ordered list of (name, q=0?) pairs, preserving client header order
// (spec §4.1: "first" means first in the client's header order, not sorted
// by q-value).
func parseAcceptEncoding(header string) []acceptEncodingCandidate {
	parts := strings.Split(header, ",")
	candidates := make([]acceptEncodingCandidate, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		qZero := false
		if idx := strings.Index(part, ";"); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			params := part[idx+1:]
			for _, param := range strings.Split(params, ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				q, err := strconv.ParseFloat(strings.TrimPrefix(param, "q="), 64)
				if err == nil && q == 0 {
					qZero = true
				}
			}
		}
		candidates = append(candidates, acceptEncodingCandidate{name: name, qZero: qZero})
	}
	return candidates
}

// sortedCompressionNames returns codec names in a stable, deterministic
// order for diagnostic messages (error text should not be nondeterministic
// across requests).
func sortedCompressionNames(pools *readOnlyCompressionPools) []string {
	names := append([]string(nil), pools.Names()...)
	sort.Strings(names)
	return names
}
