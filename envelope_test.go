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
	"errors"
	"io"
	"testing"
)

func TestWriteEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEnvelope(&buf, []byte("hello"), flagEnvelopeCompressed); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	if got, want := buf.Len(), envelopePrefixLength+len("hello"); got != want {
		t.Fatalf("buf.Len() = %d, want %d", got, want)
	}
	prefix := buf.Bytes()[:envelopePrefixLength]
	if prefix[0] != flagEnvelopeCompressed {
		t.Errorf("flags byte = %08b, want %08b", prefix[0], flagEnvelopeCompressed)
	}
}

func TestEnvelopeWriterReaderMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bufPool := newBufferPool()
	codec := &protoJSONCodec{}

	writer := &envelopeWriter{
		writer:     &buf,
		codec:      codec,
		bufferPool: bufPool,
	}
	type payload struct {
		Name string `json:"name"`
	}
	if err := writer.Marshal(&payload{Name: "ping"}); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := writer.MarshalEndStream(nil, nil); err != nil {
		t.Fatalf("MarshalEndStream: %v", err)
	}

	reader := newEnvelopeReader(&buf, codec, nil, bufPool, 0)
	var got payload
	if err := reader.Unmarshal(&got); err != nil {
		t.Fatalf("Unmarshal message: %v", err)
	}
	if got.Name != "ping" {
		t.Errorf("got.Name = %q, want %q", got.Name, "ping")
	}

	var empty payload
	err := reader.Unmarshal(&empty)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Unmarshal end-stream frame: got %v, want io.EOF", err)
	}
}

func TestEnvelopeReaderEndStreamError(t *testing.T) {
	var buf bytes.Buffer
	bufPool := newBufferPool()
	codec := &protoJSONCodec{}
	writer := &envelopeWriter{writer: &buf, codec: codec, bufferPool: bufPool}

	connectErr := errorf(CodeNotFound, "no such widget")
	if err := writer.MarshalEndStream(connectErr, nil); err != nil {
		t.Fatalf("MarshalEndStream: %v", err)
	}

	reader := newEnvelopeReader(&buf, codec, nil, bufPool, 0)
	var msg struct{}
	err := reader.Unmarshal(&msg)
	var got *Error
	if !errors.As(err, &got) {
		t.Fatalf("Unmarshal returned %v, want an *Error", err)
	}
	if got.Code() != CodeNotFound {
		t.Errorf("got.Code() = %v, want CodeNotFound", got.Code())
	}
	if got.Message() != "no such widget" {
		t.Errorf("got.Message() = %q, want %q", got.Message(), "no such widget")
	}
}

func TestEnvelopeReaderRejectsUnknownFlags(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEnvelope(&buf, []byte("x"), 0b11111100); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	reader := newEnvelopeReader(&buf, &protoJSONCodec{}, nil, newBufferPool(), 0)
	var msg struct{}
	err := reader.Unmarshal(&msg)
	var connectErr *Error
	if !errors.As(err, &connectErr) || connectErr.Code() != CodeInternal {
		t.Fatalf("Unmarshal with unknown flags = %v, want CodeInternal", err)
	}
}

func TestEnvelopeReaderEnforcesReadMaxBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEnvelope(&buf, bytes.Repeat([]byte("a"), 100), 0); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	reader := newEnvelopeReader(&buf, &protoJSONCodec{}, nil, newBufferPool(), 10)
	var msg struct{}
	err := reader.Unmarshal(&msg)
	var connectErr *Error
	if !errors.As(err, &connectErr) || connectErr.Code() != CodeResourceExhausted {
		t.Fatalf("Unmarshal over readMaxBytes = %v, want CodeResourceExhausted", err)
	}
}

func TestEnvelopeReaderTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEnvelope(&buf, []byte("hello"), 0); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:envelopePrefixLength+2])
	reader := newEnvelopeReader(truncated, &protoJSONCodec{}, nil, newBufferPool(), 0)
	var msg struct{}
	err := reader.Unmarshal(&msg)
	var connectErr *Error
	if !errors.As(err, &connectErr) || connectErr.Code() != CodeDataLoss {
		t.Fatalf("Unmarshal truncated frame = %v, want CodeDataLoss", err)
	}
}
