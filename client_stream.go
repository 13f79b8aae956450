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
	"errors"
	"io"
	"net/http"
)

// ClientStream is the server-side view of a client-streaming RPC: the
// handler receives many request messages, then returns one response. The
// idiom is "for stream.Receive() { ... stream.Msg() ... }", then check
// stream.Err() once the loop ends.
type ClientStream[T any] struct {
	conn StreamingHandlerConn
	msg  T
	err  error
}

func (s *ClientStream[T]) Spec() Spec                 { return s.conn.Spec() }
func (s *ClientStream[T]) Peer() Peer                 { return s.conn.Peer() }
func (s *ClientStream[T]) RequestHeader() http.Header { return s.conn.RequestHeader() }

// Receive advances to the next request message, returning false once the
// client has sent its last message (or a read error occurred — check Err).
func (s *ClientStream[T]) Receive() bool {
	s.msg = *new(T)
	if err := s.conn.Receive(&s.msg); err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	return true
}

// Msg returns a pointer to the most recently received message.
func (s *ClientStream[T]) Msg() *T { return &s.msg }

// Err returns the first non-EOF error encountered while receiving, if any.
func (s *ClientStream[T]) Err() error { return s.err }

// ServerStream is the server-side view of a server-streaming RPC: the
// handler received a single request (already delivered via the
// implementation function's *Request[T] parameter) and sends many responses.
type ServerStream[T any] struct {
	conn StreamingHandlerConn
}

func (s *ServerStream[T]) ResponseHeader() http.Header  { return s.conn.ResponseHeader() }
func (s *ServerStream[T]) ResponseTrailer() http.Header { return s.conn.ResponseTrailer() }

// Send sends a single response message.
func (s *ServerStream[T]) Send(message *T) error {
	if message == nil {
		return nil
	}
	return s.conn.Send(message)
}

// BidiStream is the server-side view of a bidirectional streaming RPC.
type BidiStream[Req, Res any] struct {
	conn StreamingHandlerConn
	msg  Req
}

func (s *BidiStream[Req, Res]) Spec() Spec                 { return s.conn.Spec() }
func (s *BidiStream[Req, Res]) Peer() Peer                 { return s.conn.Peer() }
func (s *BidiStream[Req, Res]) RequestHeader() http.Header  { return s.conn.RequestHeader() }
func (s *BidiStream[Req, Res]) ResponseHeader() http.Header  { return s.conn.ResponseHeader() }
func (s *BidiStream[Req, Res]) ResponseTrailer() http.Header { return s.conn.ResponseTrailer() }

// Receive reads the next request message.
func (s *BidiStream[Req, Res]) Receive() (*Req, error) {
	s.msg = *new(Req)
	if err := s.conn.Receive(&s.msg); err != nil {
		return nil, err
	}
	return &s.msg, nil
}

// Send sends a single response message.
func (s *BidiStream[Req, Res]) Send(message *Res) error {
	return s.conn.Send(message)
}

// --- client-side stream wrappers ---

// ClientStreamForClient is the caller's view of a client-streaming RPC.
type ClientStreamForClient[Req, Res any] struct {
	conn      *connectStreamingClientConn
	sendErr   error
}

func (c *ClientStreamForClient[Req, Res]) RequestHeader() http.Header { return c.conn.RequestHeader() }

// Send sends a single request message. Once the caller is done sending, call
// CloseAndReceive.
func (c *ClientStreamForClient[Req, Res]) Send(request *Req) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	if err := c.conn.Send(request); err != nil {
		c.sendErr = err
		return err
	}
	return nil
}

// CloseAndReceive closes the send side of the stream and blocks for the
// single response message.
func (c *ClientStreamForClient[Req, Res]) CloseAndReceive() (*Response[Res], error) {
	if err := c.conn.CloseRequest(); err != nil {
		return nil, err
	}
	var msg Res
	if err := c.conn.Receive(&msg); err != nil {
		_ = c.conn.CloseResponse()
		return nil, err
	}
	response := NewResponse(&msg)
	mergeHeaders(response.Header(), c.conn.ResponseHeader())
	mergeHeaders(response.Trailer(), c.conn.ResponseTrailer())
	return response, c.conn.CloseResponse()
}

// ServerStreamForClient is the caller's view of a server-streaming RPC.
type ServerStreamForClient[Res any] struct {
	conn *connectStreamingClientConn
	msg  Res
	err  error
}

// Receive advances to the next response message, returning false once the
// stream ends (check Err afterward to distinguish a clean end from a
// failure).
func (s *ServerStreamForClient[Res]) Receive() bool {
	s.msg = *new(Res)
	if err := s.conn.Receive(&s.msg); err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	return true
}

// Msg returns the most recently received message.
func (s *ServerStreamForClient[Res]) Msg() *Res { return &s.msg }

// Err returns the first error encountered, if any, after Receive returns
// false.
func (s *ServerStreamForClient[Res]) Err() error { return s.err }

// ResponseHeader returns the response headers, valid once the first
// Receive call (or ResponseHeader itself) has returned.
func (s *ServerStreamForClient[Res]) ResponseHeader() http.Header { return s.conn.ResponseHeader() }

// ResponseTrailer returns end-of-stream metadata, valid only once Receive
// has returned false.
func (s *ServerStreamForClient[Res]) ResponseTrailer() http.Header { return s.conn.ResponseTrailer() }

// Close releases the underlying connection.
func (s *ServerStreamForClient[Res]) Close() error { return s.conn.CloseResponse() }

// BidiStreamForClient is the caller's view of a bidirectional streaming RPC.
type BidiStreamForClient[Req, Res any] struct {
	conn *connectStreamingClientConn
}

func (b *BidiStreamForClient[Req, Res]) RequestHeader() http.Header { return b.conn.RequestHeader() }

// Send sends a single request message.
func (b *BidiStreamForClient[Req, Res]) Send(request *Req) error {
	return b.conn.Send(request)
}

// CloseRequest closes the send side of the stream.
func (b *BidiStreamForClient[Req, Res]) CloseRequest() error { return b.conn.CloseRequest() }

// Receive reads the next response message.
func (b *BidiStreamForClient[Req, Res]) Receive() (*Res, error) {
	var msg Res
	if err := b.conn.Receive(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CloseResponse closes the receive side of the stream.
func (b *BidiStreamForClient[Req, Res]) CloseResponse() error { return b.conn.CloseResponse() }

// ResponseHeader returns the response headers.
func (b *BidiStreamForClient[Req, Res]) ResponseHeader() http.Header { return b.conn.ResponseHeader() }

// ResponseTrailer returns end-of-stream metadata.
func (b *BidiStreamForClient[Req, Res]) ResponseTrailer() http.Header {
	return b.conn.ResponseTrailer()
}
