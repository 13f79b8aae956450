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
	"io"
	"net/http"
)

// duplexHTTPCall manages a single streaming HTTP/2 exchange: the request
// body is written incrementally while the response may already be arriving,
// which is what lets a bidi-stream client send and receive interleaved
// (spec §4.2, §4.9). The HTTP round trip is started eagerly in a goroutine
// so that client writes aren't blocked on the server sending its first byte.
type duplexHTTPCall struct {
	ctx               context.Context
	request           *http.Request
	requestBodyWriter *io.PipeWriter

	done     chan struct{}
	response *http.Response
	err      error
}

func newDuplexHTTPCall(ctx context.Context, httpClient HTTPClient, url string, header http.Header) (*duplexHTTPCall, error) {
	pipeReader, pipeWriter := io.Pipe()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pipeReader)
	if err != nil {
		return nil, errorf(CodeInternal, "build request: %w", err)
	}
	request.Header = header

	call := &duplexHTTPCall{
		ctx:               ctx,
		request:           request,
		requestBodyWriter: pipeWriter,
		done:              make(chan struct{}),
	}
	go func() {
		defer close(call.done)
		response, err := httpClient.Do(request)
		if err != nil {
			call.err = errorf(CodeUnavailable, "HTTP request failed: %w", err)
			_ = pipeReader.CloseWithError(call.err)
			return
		}
		call.response = response
	}()
	return call, nil
}

// Write sends a chunk of the request body. It blocks until the HTTP
// transport reads it, which may not happen until the server starts
// responding — callers should not assume Write returning means the server
// has seen the bytes.
func (c *duplexHTTPCall) Write(p []byte) (int, error) {
	n, err := c.requestBodyWriter.Write(p)
	if err != nil {
		select {
		case <-c.done:
			if c.err != nil {
				return n, c.err
			}
		default:
		}
		return n, errorf(CodeUnknown, "write request body: %w", err)
	}
	return n, nil
}

// CloseWrite signals that no more request messages will be sent, unblocking
// the server's read of the request body (spec §4.2: client-stream and
// bidi-stream half-close).
func (c *duplexHTTPCall) CloseWrite() error {
	return c.requestBodyWriter.Close()
}

// Header blocks until the HTTP response headers have arrived (or the
// request fails outright) and returns them.
func (c *duplexHTTPCall) Header() (http.Header, error) {
	response, err := c.blockForResponse()
	if err != nil {
		return nil, err
	}
	return response.Header, nil
}

func (c *duplexHTTPCall) blockForResponse() (*http.Response, error) {
	select {
	case <-c.done:
		if c.err != nil {
			return nil, c.err
		}
		return c.response, nil
	case <-c.ctx.Done():
		return nil, errorf(CodeCanceled, "context done before response headers arrived: %w", c.ctx.Err())
	}
}

// Read reads from the response body, blocking until headers have arrived if
// necessary.
func (c *duplexHTTPCall) Read(p []byte) (int, error) {
	response, err := c.blockForResponse()
	if err != nil {
		return 0, err
	}
	return response.Body.Read(p)
}

// StatusCode returns the HTTP status code, blocking until it's known.
func (c *duplexHTTPCall) StatusCode() (int, error) {
	response, err := c.blockForResponse()
	if err != nil {
		return 0, err
	}
	return response.StatusCode, nil
}

// Trailer returns the HTTP trailers, valid only once the response body has
// been fully read.
func (c *duplexHTTPCall) Trailer() http.Header {
	if c.response == nil {
		return make(http.Header)
	}
	return c.response.Trailer
}

// CloseRead closes the response body, releasing the underlying connection.
func (c *duplexHTTPCall) CloseRead() error {
	select {
	case <-c.done:
		if c.response != nil {
			return c.response.Body.Close()
		}
		return nil
	default:
		return nil
	}
}
