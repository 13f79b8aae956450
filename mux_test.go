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
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceBuilderRegistersUnderPrefix(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/greet.v1.GreetService/Greet", greetUnary)
	builder := NewServiceBuilder("greet.v1.GreetService")
	builder.Register("Greet", handler)

	handlers := builder.Handlers()
	if _, ok := handlers["/greet.v1.GreetService/Greet"]; !ok {
		t.Fatalf("Handlers() = %v, missing the registered path", keysOf(handlers))
	}
}

func keysOf(m map[string]*Handler) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestMuxRoutesMountedService(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/greet.v1.GreetService/Greet", greetUnary)
	builder := NewServiceBuilder("greet.v1.GreetService")
	builder.Register("Greet", handler)

	mux := NewMux()
	mux.Mount(builder)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient[greetRequest, greetResponse](server.Client(), server.URL, "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON())
	resp, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: "Mux"}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Msg.Greeting != "Hello, Mux!" {
		t.Errorf("Greeting = %q", resp.Msg.Greeting)
	}
}

func TestMuxFallback(t *testing.T) {
	mux := NewMux()
	mux.Fallback(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/not-an-rpc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
}

func TestMuxNotFoundWithoutFallback(t *testing.T) {
	mux := NewMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/nothing-here")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMuxHandleDirectPath(t *testing.T) {
	handler := NewUnaryHandler[greetRequest, greetResponse]("/direct/Greet", greetUnary)
	mux := NewMux()
	mux.Handle("/direct/Greet", handler)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient[greetRequest, greetResponse](server.Client(), server.URL, "/direct/Greet", StreamTypeUnary, WithProtoJSON())
	resp, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: "Direct"}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Msg.Greeting != "Hello, Direct!" {
		t.Errorf("Greeting = %q", resp.Msg.Greeting)
	}
}
