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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// An Error captures four key pieces of information: a Code, an underlying
// Go error, a map of metadata, and an optional collection of arbitrary
// protobuf messages called "details" (see the Details method for more on
// this). Errors are serialized across the wire and deserialized by
// clients, then reconstructed as similar Error structs.
type Error struct {
	code    Code
	err     error
	details []*ErrorDetail
	meta    http.Header
	wireErr bool
}

// NewError annotates any error with a status code.
func NewError(c Code, underlying error) *Error {
	return &Error{code: c, err: underlying}
}

// NewWireError is similar to NewError, but is used to indicate that an error
// was sent over the network by a server implementing the Connect, gRPC, or
// gRPC-Web protocols. The protocol conns in this package use it when they
// decode an error received from the peer.
func NewWireError(c Code, underlying error) *Error {
	err := NewError(c, underlying)
	err.wireErr = true
	return err
}

func errorf(c Code, format string, args ...any) *Error {
	return NewError(c, fmt.Errorf(format, args...))
}

// Error implements error.
func (e *Error) Error() string {
	return e.code.String() + ": " + e.Message()
}

// Message returns the underlying error message. It doesn't include the
// status code.
func (e *Error) Message() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

// Unwrap allows errors.Is and errors.As to traverse to the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the error's status code.
func (e *Error) Code() Code {
	return e.code
}

// Meta returns the metadata attached to the error. Metadata attached here
// is sent as HTTP response headers on the unary path, and filtered into
// the end-stream frame's metadata field on the streaming path (reserved
// protocol headers are always filtered out of the latter).
func (e *Error) Meta() http.Header {
	if e.meta == nil {
		e.meta = make(http.Header)
	}
	return e.meta
}

// Details returns the error's details.
func (e *Error) Details() []*ErrorDetail {
	return e.details
}

// AddDetail appends a message to the error's details.
func (e *Error) AddDetail(d *ErrorDetail) {
	e.details = append(e.details, d)
}

// ErrorDetail is a self-describing protobuf message attached to an Error.
// On the wire, a detail is an object with a "type" field (a fully-qualified
// protobuf message type URL) and a "value" field (the base64-encoded,
// protobuf-serialized message bytes). A bare string is a protocol violation
// and must be rejected on both read and write.
type ErrorDetail struct {
	typeURL string
	value   []byte
}

// NewErrorDetail constructs a new ErrorDetail from the fully-qualified
// protobuf type name (for example "google.rpc.RetryInfo") and the
// protobuf-serialized bytes of the message.
func NewErrorDetail(typeName string, value []byte) *ErrorDetail {
	return &ErrorDetail{typeURL: typeDetailURLPrefix + typeName, value: value}
}

// Type returns the fully-qualified protobuf type name, without the leading
// "type.googleapis.com/"-style URL prefix.
func (d *ErrorDetail) Type() string {
	if i := lastSlash(d.typeURL); i >= 0 {
		return d.typeURL[i+1:]
	}
	return d.typeURL
}

// Bytes returns the protobuf-serialized message bytes.
func (d *ErrorDetail) Bytes() []byte {
	return d.value
}

const typeDetailURLPrefix = "type.googleapis.com/"

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// CodeOf recovers the Code from an error, defaulting to CodeUnknown if err
// isn't (or doesn't wrap) an *Error. CodeOf(nil) returns 0, an invalid code,
// since nil implies success rather than any specific failure.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var connectErr *Error
	if errors.As(err, &connectErr) {
		return connectErr.Code()
	}
	return CodeUnknown
}

// asError unwraps err into an *Error if possible, otherwise wrapping it as
// CodeUnknown. A nil err returns a nil *Error.
func asError(err error) *Error {
	if err == nil {
		return nil
	}
	var connectErr *Error
	if errors.As(err, &connectErr) {
		return connectErr
	}
	return NewError(CodeUnknown, err)
}

// wire JSON representations, shared by the Connect unary error body and the
// end-of-stream frame's "error" field (spec §4.3, §6).

type errorDetailJSON struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type errorJSON struct {
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details []errorDetailJSON `json:"details,omitempty"`
}

func (e *Error) toWireJSON() *errorJSON {
	wire := &errorJSON{
		Code:    e.code.String(),
		Message: e.Message(),
	}
	for _, d := range e.details {
		wire.Details = append(wire.Details, errorDetailJSON{
			Type:  d.typeURL,
			Value: base64.RawStdEncoding.EncodeToString(d.value),
		})
	}
	return wire
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toWireJSON())
}

// errorFromWireJSON reconstructs an *Error from a deserialized errorJSON,
// rejecting detail entries that aren't {"type":...,"value":...} objects (a
// bare string detail is a protocol violation per spec §3).
func errorFromWireJSON(wire *errorJSON) (*Error, error) {
	code, err := parseCode(wire.Code)
	if err != nil {
		code = CodeUnknown
	}
	connectErr := NewWireError(code, errors.New(wire.Message))
	for _, d := range wire.Details {
		if d.Type == "" {
			return nil, errors.New("error detail missing \"type\" field")
		}
		raw, err := base64.RawStdEncoding.DecodeString(d.Value)
		if err != nil {
			// The wire format is unpadded, but tolerate a padded peer.
			raw, err = base64.StdEncoding.DecodeString(d.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid error detail value: %w", err)
			}
		}
		connectErr.details = append(connectErr.details, &ErrorDetail{
			typeURL: d.Type,
			value:   raw,
		})
	}
	return connectErr, nil
}

// unmarshalErrorJSON parses a Connect unary error body or an end-stream
// frame's "error" object into an *Error.
func unmarshalErrorJSON(data []byte) (*Error, error) {
	var wire errorJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errorf(CodeInternal, "invalid error JSON: %w", err)
	}
	connectErr, err := errorFromWireJSON(&wire)
	if err != nil {
		return nil, errorf(CodeInternal, "invalid error JSON: %w", err)
	}
	return connectErr, nil
}
