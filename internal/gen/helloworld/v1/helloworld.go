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

// Package helloworldv1 holds the message types for hello.v1.HelloWorldService.
// In a real project these would be generated from a .proto file by protoc-gen-go;
// here they're hand-written plain structs so the example codecs (protoJSONCodec's
// struct fallback) can (de)serialize them without a protoc step.
package helloworldv1

// SayHelloRequest is the request message for the unary SayHello RPC.
type SayHelloRequest struct {
	Name string `json:"name"`
}

// SayHelloResponse is the response message for the unary SayHello RPC.
type SayHelloResponse struct {
	Greeting string `json:"greeting"`
}

// SayHelloStreamRequest is the request message for the server-streaming
// SayHelloStream RPC: greet the same name Count times.
type SayHelloStreamRequest struct {
	Name  string `json:"name"`
	Count int32  `json:"count"`
}

// SayHelloStreamResponse is one response message of the SayHelloStream RPC.
type SayHelloStreamResponse struct {
	Greeting string `json:"greeting"`
	Sequence int32  `json:"sequence"`
}

// CollectNamesRequest is one request message of the client-streaming
// CollectNames RPC.
type CollectNamesRequest struct {
	Name string `json:"name"`
}

// CollectNamesResponse is the single response message of the CollectNames
// RPC: every name collected, greeted together.
type CollectNamesResponse struct {
	Greeting string `json:"greeting"`
	Count    int32  `json:"count"`
}

// ChatMessage is both the request and response message of the bidirectional
// Chat RPC: an echo-with-transformation chat.
type ChatMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
}
