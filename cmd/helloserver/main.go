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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	connect "github.com/frame-rpc/connect"
	helloworldv1 "github.com/frame-rpc/connect/internal/gen/helloworld/v1"
	"github.com/frame-rpc/connect/internal/gen/helloworld/v1/helloworldv1connect"
)

// exampleHelloWorldServer implements helloworldv1connect.HelloWorldServiceHandler.
type exampleHelloWorldServer struct {
	helloworldv1connect.UnimplementedHelloWorldServiceHandler
	logger *zap.Logger
}

// SayHello implements the unary RPC shape.
func (s *exampleHelloWorldServer) SayHello(
	_ context.Context,
	request *connect.Request[helloworldv1.SayHelloRequest],
) (*connect.Response[helloworldv1.SayHelloResponse], error) {
	s.logger.Info("SayHello", zap.String("name", request.Msg.Name))
	return connect.NewResponse(&helloworldv1.SayHelloResponse{
		Greeting: fmt.Sprintf("Hello, %s!", request.Msg.Name),
	}), nil
}

// SayHelloStream implements the server-streaming RPC shape.
func (s *exampleHelloWorldServer) SayHelloStream(
	_ context.Context,
	request *connect.Request[helloworldv1.SayHelloStreamRequest],
	stream *connect.ServerStream[helloworldv1.SayHelloStreamResponse],
) error {
	for i := int32(1); i <= request.Msg.Count; i++ {
		resp := &helloworldv1.SayHelloStreamResponse{
			Greeting: fmt.Sprintf("Hello, %s!", request.Msg.Name),
			Sequence: i,
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return nil
}

// CollectNames implements the client-streaming RPC shape.
func (s *exampleHelloWorldServer) CollectNames(
	_ context.Context,
	stream *connect.ClientStream[helloworldv1.CollectNamesRequest],
) (*connect.Response[helloworldv1.CollectNamesResponse], error) {
	var names []string
	for stream.Receive() {
		names = append(names, stream.Msg().Name)
	}
	if stream.Err() != nil {
		return nil, stream.Err()
	}
	return connect.NewResponse(&helloworldv1.CollectNamesResponse{
		Greeting: fmt.Sprintf("Hello, %v!", names),
		Count:    int32(len(names)),
	}), nil
}

// Chat implements the bidirectional-streaming RPC shape.
func (s *exampleHelloWorldServer) Chat(
	_ context.Context,
	stream *connect.BidiStream[helloworldv1.ChatMessage, helloworldv1.ChatMessage],
) error {
	for {
		msg, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		reply := &helloworldv1.ChatMessage{
			From: "server",
			Body: fmt.Sprintf("echo: %s", msg.Body),
		}
		if err := stream.Send(reply); err != nil {
			return err
		}
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	mux := connect.NewMux()
	mux.Mount(helloworldv1connect.NewHelloWorldServiceHandler(&exampleHelloWorldServer{logger: logger}))

	app := gin.New()
	app.Use(gin.Recovery())
	app.NoRoute(gin.WrapH(connect.NewH2CHandler(mux)))

	logger.Info("starting hello server", zap.String("addr", ":8080"))
	if err := app.Run(":8080"); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
