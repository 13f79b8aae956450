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
	"fmt"
	"net/http"
	"strconv"
)

// A Code is one of the Connect/gRPC status codes. There are no user-defined
// codes, so only the codes enumerated below are valid.
type Code uint32

const (
	CodeCanceled           Code = 1
	CodeUnknown            Code = 2
	CodeInvalidArgument    Code = 3
	CodeDeadlineExceeded   Code = 4
	CodeNotFound           Code = 5
	CodeAlreadyExists      Code = 6
	CodePermissionDenied   Code = 7
	CodeResourceExhausted  Code = 8
	CodeFailedPrecondition Code = 9
	CodeAborted            Code = 10
	CodeOutOfRange         Code = 11
	CodeUnimplemented      Code = 12
	CodeInternal           Code = 13
	CodeUnavailable        Code = 14
	CodeDataLoss           Code = 15
	CodeUnauthenticated    Code = 16

	minCode Code = CodeCanceled
	maxCode Code = CodeUnauthenticated
)

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, ok := codeToString[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", uint32(c))
}

// MarshalText implements encoding.TextMarshaler, mostly so that the code can
// be used as a JSON object key.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(data []byte) error {
	code, ok := stringToCode[string(data)]
	if !ok {
		return fmt.Errorf("invalid code %q", string(data))
	}
	*c = code
	return nil
}

var codeToString = map[Code]string{
	CodeCanceled:           "canceled",
	CodeUnknown:            "unknown",
	CodeInvalidArgument:    "invalid_argument",
	CodeDeadlineExceeded:   "deadline_exceeded",
	CodeNotFound:           "not_found",
	CodeAlreadyExists:      "already_exists",
	CodePermissionDenied:   "permission_denied",
	CodeResourceExhausted:  "resource_exhausted",
	CodeFailedPrecondition: "failed_precondition",
	CodeAborted:            "aborted",
	CodeOutOfRange:         "out_of_range",
	CodeUnimplemented:      "unimplemented",
	CodeInternal:           "internal",
	CodeUnavailable:        "unavailable",
	CodeDataLoss:           "data_loss",
	CodeUnauthenticated:    "unauthenticated",
}

var stringToCode = func() map[string]Code {
	m := make(map[string]Code, len(codeToString))
	for code, name := range codeToString {
		m[name] = code
	}
	return m
}()

// codeToHTTP maps a terminal Code to the HTTP status used for Connect unary
// error responses. See spec §3 and §4.3.
var codeToHTTP = map[Code]int{
	CodeCanceled:           499, // matches grpc-gateway's use of the nonstandard 499 Client Closed Request
	CodeUnknown:            http.StatusInternalServerError,
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeDeadlineExceeded:   http.StatusGatewayTimeout,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeFailedPrecondition: http.StatusPreconditionFailed,
	CodeAborted:            http.StatusConflict,
	CodeOutOfRange:         http.StatusBadRequest,
	CodeUnimplemented:      http.StatusNotImplemented,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeDataLoss:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// httpToCode recovers a Code from a non-200 HTTP status when no more
// specific error information (such as a wire error body) is available.
var httpToCode = func() map[int]Code {
	m := make(map[int]Code, len(codeToHTTP))
	for code, status := range codeToHTTP {
		if _, taken := m[status]; !taken {
			m[status] = code
		}
	}
	return m
}()

func httpStatusFromCode(c Code) int {
	if status, ok := codeToHTTP[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func codeFromHTTPStatus(status int) Code {
	if code, ok := httpToCode[status]; ok {
		return code
	}
	return CodeUnknown
}

func (c Code) valid() bool {
	return c >= minCode && c <= maxCode
}

func parseCode(s string) (Code, error) {
	if code, ok := stringToCode[s]; ok {
		return code, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid code %q", s)
	}
	code := Code(n)
	if !code.valid() {
		return 0, fmt.Errorf("invalid code %q", s)
	}
	return code, nil
}
