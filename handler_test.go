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
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type greetRequest struct {
	Name string `json:"name"`
}

type greetResponse struct {
	Greeting string `json:"greeting"`
}

func greetUnary(_ context.Context, req *Request[greetRequest]) (*Response[greetResponse], error) {
	if req.Msg.Name == "" {
		return nil, errorf(CodeInvalidArgument, "name is required")
	}
	return NewResponse(&greetResponse{Greeting: "Hello, " + req.Msg.Name + "!"}), nil
}

func TestUnaryHandlerRoundTrip(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/greet.v1.GreetService/Greet", greetUnary)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient[greetRequest, greetResponse](server.Client(), server.URL, "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON())
	resp, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: "Ada"}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if diff := cmp.Diff(&greetResponse{Greeting: "Hello, Ada!"}, resp.Msg); diff != "" {
		t.Errorf("response message mismatch (-want +got):\n%s", diff)
	}
}

func TestUnaryHandlerPropagatesApplicationError(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/greet.v1.GreetService/Greet", greetUnary)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient[greetRequest, greetResponse](server.Client(), server.URL, "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON())
	_, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: ""}))
	if err == nil {
		t.Fatal("CallUnary should have failed for an empty name")
	}
	if CodeOf(err) != CodeInvalidArgument {
		t.Errorf("CodeOf(err) = %v, want CodeInvalidArgument", CodeOf(err))
	}
}

func TestUnaryHandlerRejectsWrongMethod(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/greet.v1.GreetService/Greet", greetUnary)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Head(server.URL)
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 405 {
		t.Errorf("HEAD status = %d, want 405", resp.StatusCode)
	}
}

type countRequest struct {
	Upto int32 `json:"upto"`
}

type countResponse struct {
	N int32 `json:"n"`
}

func countServerStream(_ context.Context, req *Request[countRequest], stream *ServerStream[countResponse]) error {
	for i := int32(1); i <= req.Msg.Upto; i++ {
		if err := stream.Send(&countResponse{N: i}); err != nil {
			return err
		}
	}
	return nil
}

func TestServerStreamHandlerRoundTrip(t *testing.T) {
	handler := NewServerStreamHandler[countRequest, countResponse]("/count.v1.CountService/Count", countServerStream)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient[countRequest, countResponse](server.Client(), server.URL, "/count.v1.CountService/Count", StreamTypeServer, WithProtoJSON())
	stream, err := client.CallServerStream(context.Background(), NewRequest(&countRequest{Upto: 3}))
	if err != nil {
		t.Fatalf("CallServerStream: %v", err)
	}
	defer stream.Close()

	var got []int32
	for stream.Receive() {
		got = append(got, stream.Msg().N)
	}
	if stream.Err() != nil {
		t.Fatalf("stream.Err() = %v", stream.Err())
	}
	if diff := cmp.Diff([]int32{1, 2, 3}, got); diff != "" {
		t.Errorf("stream contents mismatch (-want +got):\n%s", diff)
	}
}

type sumRequest struct {
	N int32 `json:"n"`
}

type sumResponse struct {
	Total int32 `json:"total"`
}

func sumClientStream(_ context.Context, stream *ClientStream[sumRequest]) (*Response[sumResponse], error) {
	var total int32
	for stream.Receive() {
		total += stream.Msg().N
	}
	if stream.Err() != nil {
		return nil, stream.Err()
	}
	return NewResponse(&sumResponse{Total: total}), nil
}

func TestClientStreamHandlerRoundTrip(t *testing.T) {
	handler := NewClientStreamHandler[sumRequest, sumResponse]("/sum.v1.SumService/Sum", sumClientStream)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient[sumRequest, sumResponse](server.Client(), server.URL, "/sum.v1.SumService/Sum", StreamTypeClient, WithProtoJSON())
	stream, err := client.CallClientStream(context.Background())
	if err != nil {
		t.Fatalf("CallClientStream: %v", err)
	}
	for _, n := range []int32{1, 2, 3, 4} {
		if err := stream.Send(&sumRequest{N: n}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	resp, err := stream.CloseAndReceive()
	if err != nil {
		t.Fatalf("CloseAndReceive: %v", err)
	}
	if diff := cmp.Diff(&sumResponse{Total: 10}, resp.Msg); diff != "" {
		t.Errorf("response message mismatch (-want +got):\n%s", diff)
	}
}

func TestUnaryHandlerCompressedResponse(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/greet.v1.GreetService/Greet", greetUnary, WithCompressMinBytes(1))
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient[greetRequest, greetResponse](server.Client(), server.URL, "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON())
	resp, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: "Compressed"}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Msg.Greeting != "Hello, Compressed!" {
		t.Errorf("Greeting = %q", resp.Msg.Greeting)
	}
}

func TestServerStreamHandlerPropagatesHandlerError(t *testing.T) {
	failing := func(_ context.Context, _ *Request[countRequest], _ *ServerStream[countResponse]) error {
		return errorf(CodeUnavailable, "backend down")
	}
	handler := NewServerStreamHandler[countRequest, countResponse]("/count.v1.CountService/Count", failing)
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewClient[countRequest, countResponse](server.Client(), server.URL, "/count.v1.CountService/Count", StreamTypeServer, WithProtoJSON())
	stream, err := client.CallServerStream(context.Background(), NewRequest(&countRequest{Upto: 1}))
	if err != nil {
		t.Fatalf("CallServerStream: %v", err)
	}
	for stream.Receive() {
		t.Fatal("expected no messages before the error")
	}
	if CodeOf(stream.Err()) != CodeUnavailable {
		t.Errorf("CodeOf(stream.Err()) = %v, want CodeUnavailable", CodeOf(stream.Err()))
	}
}
