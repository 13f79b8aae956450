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
	"bytes"
	"testing"
)

func TestParseAcceptEncodingPreservesOrder(t *testing.T) {
	got := parseAcceptEncoding("br, gzip;q=0, zstd;q=0.5")
	want := []acceptEncodingCandidate{
		{name: "br", qZero: false},
		{name: "gzip", qZero: true},
		{name: "zstd", qZero: false},
	}
	if len(got) != len(want) {
		t.Fatalf("parseAcceptEncoding returned %d candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func newTestCompressionPools() *readOnlyCompressionPools {
	names := []string{compressionGzip, compressionZstd}
	pools := map[string]*compressionPool{
		compressionGzip: newCompressionPool(compressionGzip, newGzipDecompressor, newGzipCompressor),
		compressionZstd: newCompressionPool(compressionZstd, newZstdDecompressor, newZstdCompressor),
	}
	return newReadOnlyCompressionPools(pools, names)
}

func TestNegotiateCompressionFirstSupportedWins(t *testing.T) {
	pools := newTestCompressionPools()
	got, err := negotiateCompression(pools, "br, gzip, zstd")
	if err != nil {
		t.Fatalf("negotiateCompression: %v", err)
	}
	if got != compressionGzip {
		t.Errorf("negotiateCompression = %q, want %q (first supported in header order)", got, compressionGzip)
	}
}

func TestNegotiateCompressionRespectsQZero(t *testing.T) {
	pools := newTestCompressionPools()
	got, err := negotiateCompression(pools, "gzip;q=0, zstd")
	if err != nil {
		t.Fatalf("negotiateCompression: %v", err)
	}
	if got != compressionZstd {
		t.Errorf("negotiateCompression = %q, want %q (gzip disabled via q=0)", got, compressionZstd)
	}
}

func TestNegotiateCompressionEmptyHeaderIsIdentity(t *testing.T) {
	pools := newTestCompressionPools()
	got, err := negotiateCompression(pools, "")
	if err != nil {
		t.Fatalf("negotiateCompression: %v", err)
	}
	if got != compressionIdentity {
		t.Errorf("negotiateCompression(\"\") = %q, want %q", got, compressionIdentity)
	}
}

func TestNegotiateCompressionNoSupportedFallsBackToIdentity(t *testing.T) {
	pools := newTestCompressionPools()
	got, err := negotiateCompression(pools, "br, deflate")
	if err != nil {
		t.Fatalf("negotiateCompression: %v", err)
	}
	if got != compressionIdentity {
		t.Errorf("negotiateCompression = %q, want %q", got, compressionIdentity)
	}
}

func TestCompressionPoolRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name          string
		newCompressor func() Compressor
		newDecomp     func() Decompressor
	}{
		{compressionGzip, newGzipCompressor, newGzipDecompressor},
		{compressionDeflate, newDeflateCompressor, newDeflateDecompressor},
		{compressionBrotli, newBrotliCompressor, newBrotliDecompressor},
		{compressionZstd, newZstdCompressor, newZstdDecompressor},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pool := newCompressionPool(tc.name, tc.newDecomp, tc.newCompressor)
			src := newBufferPool().Get()
			src.WriteString("the quick brown fox jumps over the lazy dog, repeatedly, to give the compressor something to do")

			var compressed bytes.Buffer
			if err := pool.Compress(&compressed, src); err != nil {
				t.Fatalf("Compress: %v", err)
			}

			decompressed := newBufferPool().Get()
			if err := pool.Decompress(decompressed, bytes.NewReader(compressed.Bytes()), 0); err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if decompressed.String() != "the quick brown fox jumps over the lazy dog, repeatedly, to give the compressor something to do" {
				t.Errorf("round-tripped content mismatch: got %q", decompressed.String())
			}
		})
	}
}

func TestCompressionPoolDecompressEnforcesReadMaxBytes(t *testing.T) {
	pool := newCompressionPool(compressionGzip, newGzipDecompressor, newGzipCompressor)
	src := newBufferPool().Get()
	src.WriteString(string(bytes.Repeat([]byte("a"), 1000)))
	var compressed bytes.Buffer
	if err := pool.Compress(&compressed, src); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	dst := newBufferPool().Get()
	err := pool.Decompress(dst, bytes.NewReader(compressed.Bytes()), 10)
	if err == nil || err.Code() != CodeResourceExhausted {
		t.Fatalf("Decompress over readMaxBytes = %v, want CodeResourceExhausted", err)
	}
}
