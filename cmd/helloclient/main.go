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
	"fmt"
	"net/http"
	"time"

	connect "github.com/frame-rpc/connect"
	helloworldv1 "github.com/frame-rpc/connect/internal/gen/helloworld/v1"
	"github.com/frame-rpc/connect/internal/gen/helloworld/v1/helloworldv1connect"
)

func main() {
	client := helloworldv1connect.NewHelloWorldServiceClient(
		&http.Client{Timeout: 10 * time.Second},
		"http://localhost:8080",
		connect.WithProtoJSON(),
	)
	ctx := context.Background()

	sayHello(ctx, client)
	sayHelloStream(ctx, client)
	collectNames(ctx, client)
	chat(ctx, client)
}

func sayHello(ctx context.Context, client *helloworldv1connect.HelloWorldServiceClient) {
	resp, err := client.SayHello(ctx, connect.NewRequest(&helloworldv1.SayHelloRequest{Name: "World"}))
	if err != nil {
		fmt.Println("SayHello failed:", err)
		return
	}
	fmt.Println(resp.Msg.Greeting)
}

func sayHelloStream(ctx context.Context, client *helloworldv1connect.HelloWorldServiceClient) {
	stream, err := client.SayHelloStream(ctx, connect.NewRequest(&helloworldv1.SayHelloStreamRequest{Name: "World", Count: 3}))
	if err != nil {
		fmt.Println("SayHelloStream failed:", err)
		return
	}
	defer stream.Close()
	for stream.Receive() {
		fmt.Printf("%d: %s\n", stream.Msg().Sequence, stream.Msg().Greeting)
	}
	if stream.Err() != nil {
		fmt.Println("SayHelloStream error:", stream.Err())
	}
}

func collectNames(ctx context.Context, client *helloworldv1connect.HelloWorldServiceClient) {
	stream, err := client.CollectNames(ctx)
	if err != nil {
		fmt.Println("CollectNames failed:", err)
		return
	}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		if err := stream.Send(&helloworldv1.CollectNamesRequest{Name: name}); err != nil {
			fmt.Println("CollectNames send failed:", err)
			return
		}
	}
	resp, err := stream.CloseAndReceive()
	if err != nil {
		fmt.Println("CollectNames close failed:", err)
		return
	}
	fmt.Println(resp.Msg.Greeting)
}

func chat(ctx context.Context, client *helloworldv1connect.HelloWorldServiceClient) {
	stream, err := client.Chat(ctx)
	if err != nil {
		fmt.Println("Chat failed:", err)
		return
	}
	if err := stream.Send(&helloworldv1.ChatMessage{From: "client", Body: "hi there"}); err != nil {
		fmt.Println("Chat send failed:", err)
		return
	}
	_ = stream.CloseRequest()
	reply, err := stream.Receive()
	if err != nil {
		fmt.Println("Chat receive failed:", err)
		return
	}
	fmt.Println(reply.From, ":", reply.Body)
	_ = stream.CloseResponse()
}
