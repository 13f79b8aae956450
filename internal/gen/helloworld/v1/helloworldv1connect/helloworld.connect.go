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

// Package helloworldv1connect is the generated RPC plumbing for
// hello.v1.HelloWorldService: the handler interface, a constructor that
// wires it into a *connect.ServiceBuilder, and a thin client (spec §6's
// code-generator contract, §4.9's service-composition surface).
package helloworldv1connect

import (
	"context"

	connect "github.com/frame-rpc/connect"
	helloworldv1 "github.com/frame-rpc/connect/internal/gen/helloworld/v1"
)

const (
	// HelloWorldServiceName is the fully-qualified service name used to build
	// every procedure path under it.
	HelloWorldServiceName = "hello.v1.HelloWorldService"

	SayHelloProcedure      = "/" + HelloWorldServiceName + "/SayHello"
	SayHelloStreamProcedure = "/" + HelloWorldServiceName + "/SayHelloStream"
	CollectNamesProcedure  = "/" + HelloWorldServiceName + "/CollectNames"
	ChatProcedure          = "/" + HelloWorldServiceName + "/Chat"
)

// HelloWorldServiceHandler is the server API for HelloWorldService,
// implemented by application code and adapted to connect.Handlers by
// NewHelloWorldServiceHandler.
type HelloWorldServiceHandler interface {
	SayHello(context.Context, *connect.Request[helloworldv1.SayHelloRequest]) (*connect.Response[helloworldv1.SayHelloResponse], error)
	SayHelloStream(context.Context, *connect.Request[helloworldv1.SayHelloStreamRequest], *connect.ServerStream[helloworldv1.SayHelloStreamResponse]) error
	CollectNames(context.Context, *connect.ClientStream[helloworldv1.CollectNamesRequest]) (*connect.Response[helloworldv1.CollectNamesResponse], error)
	Chat(context.Context, *connect.BidiStream[helloworldv1.ChatMessage, helloworldv1.ChatMessage]) error
}

// UnimplementedHelloWorldServiceHandler can be embedded to have forward
// compatible implementations that return connect.CodeUnimplemented from any
// method not explicitly overridden.
type UnimplementedHelloWorldServiceHandler struct{}

func (UnimplementedHelloWorldServiceHandler) SayHello(context.Context, *connect.Request[helloworldv1.SayHelloRequest]) (*connect.Response[helloworldv1.SayHelloResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, nil)
}

func (UnimplementedHelloWorldServiceHandler) SayHelloStream(context.Context, *connect.Request[helloworldv1.SayHelloStreamRequest], *connect.ServerStream[helloworldv1.SayHelloStreamResponse]) error {
	return connect.NewError(connect.CodeUnimplemented, nil)
}

func (UnimplementedHelloWorldServiceHandler) CollectNames(context.Context, *connect.ClientStream[helloworldv1.CollectNamesRequest]) (*connect.Response[helloworldv1.CollectNamesResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, nil)
}

func (UnimplementedHelloWorldServiceHandler) Chat(context.Context, *connect.BidiStream[helloworldv1.ChatMessage, helloworldv1.ChatMessage]) error {
	return connect.NewError(connect.CodeUnimplemented, nil)
}

// NewHelloWorldServiceHandler builds a *connect.ServiceBuilder with every
// HelloWorldService method registered, ready to be mounted on a
// *connect.Mux.
func NewHelloWorldServiceHandler(svc HelloWorldServiceHandler, options ...connect.HandlerOption) *connect.ServiceBuilder {
	builder := connect.NewServiceBuilder(HelloWorldServiceName)
	builder.Register("SayHello", connect.NewUnaryHandler(SayHelloProcedure, svc.SayHello, options...))
	builder.Register("SayHelloStream", connect.NewServerStreamHandler(SayHelloStreamProcedure, svc.SayHelloStream, options...))
	builder.Register("CollectNames", connect.NewClientStreamHandler(CollectNamesProcedure, svc.CollectNames, options...))
	builder.Register("Chat", connect.NewBidiStreamHandler(ChatProcedure, svc.Chat, options...))
	return builder
}

// HelloWorldServiceClient is the client API for HelloWorldService.
type HelloWorldServiceClient struct {
	sayHello       *connect.Client[helloworldv1.SayHelloRequest, helloworldv1.SayHelloResponse]
	sayHelloStream *connect.Client[helloworldv1.SayHelloStreamRequest, helloworldv1.SayHelloStreamResponse]
	collectNames   *connect.Client[helloworldv1.CollectNamesRequest, helloworldv1.CollectNamesResponse]
	chat           *connect.Client[helloworldv1.ChatMessage, helloworldv1.ChatMessage]
}

// NewHelloWorldServiceClient builds a client for every HelloWorldService
// method against baseURL.
func NewHelloWorldServiceClient(httpClient connect.HTTPClient, baseURL string, options ...connect.ClientOption) *HelloWorldServiceClient {
	return &HelloWorldServiceClient{
		sayHello:       connect.NewClient[helloworldv1.SayHelloRequest, helloworldv1.SayHelloResponse](httpClient, baseURL, SayHelloProcedure, connect.StreamTypeUnary, options...),
		sayHelloStream: connect.NewClient[helloworldv1.SayHelloStreamRequest, helloworldv1.SayHelloStreamResponse](httpClient, baseURL, SayHelloStreamProcedure, connect.StreamTypeServer, options...),
		collectNames:   connect.NewClient[helloworldv1.CollectNamesRequest, helloworldv1.CollectNamesResponse](httpClient, baseURL, CollectNamesProcedure, connect.StreamTypeClient, options...),
		chat:           connect.NewClient[helloworldv1.ChatMessage, helloworldv1.ChatMessage](httpClient, baseURL, ChatProcedure, connect.StreamTypeBidi, options...),
	}
}

func (c *HelloWorldServiceClient) SayHello(ctx context.Context, req *connect.Request[helloworldv1.SayHelloRequest]) (*connect.Response[helloworldv1.SayHelloResponse], error) {
	return c.sayHello.CallUnary(ctx, req)
}

func (c *HelloWorldServiceClient) SayHelloStream(ctx context.Context, req *connect.Request[helloworldv1.SayHelloStreamRequest]) (*connect.ServerStreamForClient[helloworldv1.SayHelloStreamResponse], error) {
	return c.sayHelloStream.CallServerStream(ctx, req)
}

func (c *HelloWorldServiceClient) CollectNames(ctx context.Context) (*connect.ClientStreamForClient[helloworldv1.CollectNamesRequest, helloworldv1.CollectNamesResponse], error) {
	return c.collectNames.CallClientStream(ctx)
}

func (c *HelloWorldServiceClient) Chat(ctx context.Context) (*connect.BidiStreamForClient[helloworldv1.ChatMessage, helloworldv1.ChatMessage], error) {
	return c.chat.CallBidiStream(ctx)
}
