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
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Envelope flag bits, spec §3 "Frame envelope": bit 0 is "compressed", bit 1
// is "end of stream". All other bits must be zero.
const (
	flagEnvelopeCompressed byte = 0b00000001
	flagEnvelopeEndStream  byte = 0b00000010

	envelopePrefixLength = 5 // 1 byte flags + 4 byte big-endian length
)

// envelope is a single decoded frame: flags plus the (still encoded, still
// possibly compressed) payload bytes.
type envelope struct {
	Data  *buffer
	Flags byte
}

func (e *envelope) IsCompressed() bool { return e.Flags&flagEnvelopeCompressed != 0 }
func (e *envelope) IsEndStream() bool  { return e.Flags&flagEnvelopeEndStream != 0 }

// writeEnvelope serializes the 5-byte prefix and payload directly to dst.
// The payload may be empty, which is how a bare end-of-stream marker (no
// data, flags=flagEnvelopeEndStream) is written.
func writeEnvelope(dst io.Writer, payload []byte, flags byte) *Error {
	prefix := [envelopePrefixLength]byte{}
	prefix[0] = flags
	binary.BigEndian.PutUint32(prefix[1:], uint32(len(payload)))
	if _, err := dst.Write(prefix[:]); err != nil {
		return errorf(CodeUnknown, "write envelope prefix: %w", err)
	}
	if len(payload) > 0 {
		if _, err := dst.Write(payload); err != nil {
			return errorf(CodeUnknown, "write envelope payload: %w", err)
		}
	}
	return nil
}

// envelopeWriter serializes messages (after codec marshaling and optional
// per-envelope compression) into the framed stream body used by Connect
// streaming RPCs and by gRPC/gRPC-Web (spec §4.2, §4.8).
type envelopeWriter struct {
	writer           io.Writer
	codec            Codec
	compressionPool  *compressionPool
	bufferPool       *bufferPool
	compressMinBytes int
	sendMaxBytes     int
}

// Marshal encodes message, compresses it if a pool is configured and the
// encoded size clears compressMinBytes, and writes it as a single envelope.
// The send-size check (spec §4.4) is applied after encoding *and*
// compression, so a message that compresses under sendMaxBytes succeeds
// even if its uncompressed size would not have.
func (w *envelopeWriter) Marshal(message any) *Error {
	encoded, err := w.codec.Marshal(message)
	if err != nil {
		return errorf(CodeInternal, "marshal message: %w", err)
	}
	return w.write(encoded, 0)
}

func (w *envelopeWriter) write(encoded []byte, extraFlags byte) *Error {
	flags := extraFlags
	data := w.bufferPool.Get()
	defer w.bufferPool.Put(data)
	data.Write(encoded)

	if w.compressionPool != nil && data.Len() >= w.compressMinBytes {
		compressed := w.bufferPool.Get()
		defer w.bufferPool.Put(compressed)
		if cerr := w.compressionPool.Compress(compressed, data); cerr != nil {
			return cerr
		}
		data = compressed
		flags |= flagEnvelopeCompressed
	}
	if w.sendMaxBytes > 0 && data.Len() > w.sendMaxBytes {
		return errorf(CodeResourceExhausted, "message size %d exceeds sendMaxBytes %d", data.Len(), w.sendMaxBytes)
	}
	return writeEnvelope(w.writer, data.Bytes(), flags)
}

// MarshalEndStream writes the end-of-stream frame: a JSON trailer payload
// (even when the stream's message encoding is protobuf) carrying an optional
// terminal error and optional metadata, with reserved protocol headers
// filtered from the metadata (spec §3, §4.3).
func (w *envelopeWriter) MarshalEndStream(endStreamErr *Error, trailer http.Header) *Error {
	end := &endStreamMessage{}
	if endStreamErr != nil {
		end.Error = endStreamErr.toWireJSON()
		mergeNonProtocolHeaders(end.metadataOut(), endStreamErr.meta)
	}
	mergeNonProtocolHeaders(end.metadataOut(), trailer)
	raw, err := json.Marshal(end)
	if err != nil {
		return errorf(CodeInternal, "marshal end-stream message: %w", err)
	}
	return w.write(raw, flagEnvelopeEndStream)
}

// endStreamMessage is the JSON shape of the end-of-stream trailer (spec §3,
// §6): {"error": {...}?, "metadata": {...}?}. Both fields are optional;
// absence of both indicates normal termination.
type endStreamMessage struct {
	Error    *errorJSON          `json:"error,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
}

func (e *endStreamMessage) metadataOut() http.Header {
	if e.Metadata == nil {
		e.Metadata = make(map[string][]string)
	}
	return http.Header(e.Metadata)
}

// envelopeReader consumes a framed body (request on the server, response on
// the client) and exposes either decoded messages or the terminal
// trailers/error carried by the end-stream frame. A frame split across
// chunk boundaries is reassembled by blocking reads (io.ReadFull/io.CopyN)
// on the underlying reader until the whole frame has arrived.
type envelopeReader struct {
	reader          io.Reader
	codec           Codec
	compressionPool *compressionPool
	bufferPool      *bufferPool
	readMaxBytes    int64

	trailer  http.Header
	finished bool
}

func newEnvelopeReader(r io.Reader, codec Codec, pool *compressionPool, bufPool *bufferPool, readMaxBytes int64) *envelopeReader {
	return &envelopeReader{
		reader:          r,
		codec:           codec,
		compressionPool: pool,
		bufferPool:      bufPool,
		readMaxBytes:    readMaxBytes,
	}
}

// Unmarshal reads exactly one frame and decodes it into message. It returns
// io.EOF once the end-of-stream frame has been consumed with no error
// attached; when the end-stream frame carries an error, Unmarshal returns
// that *Error itself. Callers use Trailer() to read end-stream metadata
// after Unmarshal returns io.EOF or a non-nil *Error.
func (r *envelopeReader) Unmarshal(message any) error {
	if r.finished {
		return io.EOF
	}
	var prefix [envelopePrefixLength]byte
	n, err := io.ReadFull(r.reader, prefix[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return io.EOF
		}
		return errorf(CodeDataLoss, "read envelope prefix: %w", err)
	}
	flags := prefix[0]
	if flags&^(flagEnvelopeCompressed|flagEnvelopeEndStream) != 0 {
		return errorf(CodeInternal, "unknown envelope flags %08b", flags)
	}
	size := binary.BigEndian.Uint32(prefix[1:])
	if r.readMaxBytes > 0 && int64(size) > r.readMaxBytes {
		// Drain so the connection can potentially be reused, then fail.
		_, _ = io.CopyN(io.Discard, r.reader, int64(size))
		return errorf(CodeResourceExhausted, "message size %d exceeds readMaxBytes %d", size, r.readMaxBytes)
	}
	data := r.bufferPool.Get()
	defer r.bufferPool.Put(data)
	if size > 0 {
		if _, err := io.CopyN(data, r.reader, int64(size)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errorf(CodeDataLoss, "envelope truncated: expected %d bytes", size)
			}
			return errorf(CodeUnknown, "read envelope payload: %w", err)
		}
	}

	isEndStream := flags&flagEnvelopeEndStream != 0
	isCompressed := flags&flagEnvelopeCompressed != 0
	if isCompressed && r.compressionPool != nil {
		decompressed := r.bufferPool.Get()
		defer r.bufferPool.Put(decompressed)
		if derr := r.compressionPool.Decompress(decompressed, data, r.readMaxBytes); derr != nil {
			return derr
		}
		data = decompressed
	} else if isCompressed {
		return errorf(CodeInternal, "protocol error: compressed envelope but no compression negotiated")
	}

	if isEndStream {
		r.finished = true
		var end endStreamMessage
		if err := json.Unmarshal(data.Bytes(), &end); err != nil {
			return errorf(CodeInternal, "invalid end-stream JSON: %w", err)
		}
		r.trailer = filterReservedHeaders(http.Header(end.Metadata))
		if end.Error != nil {
			connectErr, convErr := errorFromWireJSON(end.Error)
			if convErr != nil {
				return convErr
			}
			connectErr.meta = r.trailer
			return connectErr
		}
		return io.EOF
	}

	if err := r.codec.Unmarshal(data.Bytes(), message); err != nil {
		return newCodecUnmarshalError(r.codec.Name(), err)
	}
	return nil
}

// Trailer returns the end-stream frame's metadata. It's only populated once
// the stream has been fully consumed (spec §5: "Metadata in the end-stream
// frame is delivered after the last message frame").
func (r *envelopeReader) Trailer() http.Header {
	if r.trailer == nil {
		return make(http.Header)
	}
	return r.trailer
}
