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
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNewClientBuildsProcedureURL(t *testing.T) {
	client := NewClient[greetRequest, greetResponse](http.DefaultClient, "https://api.example.com/", "/greet.v1.GreetService/Greet", StreamTypeUnary)
	if client.procedureURL != "https://api.example.com/greet.v1.GreetService/Greet" {
		t.Errorf("procedureURL = %q, want no doubled slash", client.procedureURL)
	}
}

func TestClientDefaultsToBinaryProtoCodec(t *testing.T) {
	client := NewClient[greetRequest, greetResponse](http.DefaultClient, "https://api.example.com", "/greet.v1.GreetService/Greet", StreamTypeUnary)
	if client.config.CodecName != codecNameProto {
		t.Errorf("default CodecName = %q, want %q", client.config.CodecName, codecNameProto)
	}
}

func TestWithProtoJSONSwitchesClientCodec(t *testing.T) {
	client := NewClient[greetRequest, greetResponse](http.DefaultClient, "https://api.example.com", "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON())
	if client.config.CodecName != codecNameJSON {
		t.Errorf("CodecName = %q, want %q", client.config.CodecName, codecNameJSON)
	}
	conn, cancel := client.newUnaryConn(context.Background(), make(http.Header))
	defer cancel()
	if got := conn.requestHeader.Get("Content-Type"); got != connectUnaryContentTypeJSON {
		t.Errorf("Content-Type = %q, want %q", got, connectUnaryContentTypeJSON)
	}
}

// unreachableHTTPClient simulates a connection failure without touching the
// network, so the test doesn't depend on DNS/firewall behavior.
type unreachableHTTPClient struct{}

func (unreachableHTTPClient) Do(*http.Request) (*http.Response, error) {
	return nil, context.DeadlineExceeded
}

func TestCallUnaryWrapsTransportErrorAsUnavailable(t *testing.T) {
	client := NewClient[greetRequest, greetResponse](unreachableHTTPClient{}, "https://example.invalid", "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON())
	_, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: "Ada"}))
	if err == nil {
		t.Fatal("CallUnary should fail against an unreachable client")
	}
	if CodeOf(err) != CodeUnavailable {
		t.Errorf("CodeOf(err) = %v, want CodeUnavailable", CodeOf(err))
	}
}

// TestCallUnaryEnforcesClientTimeout guards against the client waiting
// forever on a peer that never responds: WithTimeout must locally bound the
// wait for a response, not just ask the server to bound its own work.
func TestCallUnaryEnforcesClientTimeout(t *testing.T) {
	unblock := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-unblock
	}))
	defer server.Close()
	// Deferred calls run last-in first-out: release the handler before
	// server.Close waits for it.
	defer close(unblock)

	client := NewClient[greetRequest, greetResponse](server.Client(), server.URL, "/greet.v1.GreetService/Greet", StreamTypeUnary, WithProtoJSON(), WithTimeout(20*time.Millisecond))

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := client.CallUnary(context.Background(), NewRequest(&greetRequest{Name: "Ada"}))
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("CallUnary should fail when the peer never responds before the client timeout")
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("CallUnary took %v, want well under the 2s safety bound", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CallUnary hung past its configured client timeout")
	}
}

func TestNewUnaryConnSetsAcceptEncoding(t *testing.T) {
	client := NewClient[greetRequest, greetResponse](http.DefaultClient, "https://api.example.com", "/greet.v1.GreetService/Greet", StreamTypeUnary)
	conn, cancel := client.newUnaryConn(context.Background(), make(http.Header))
	defer cancel()
	got := strings.Split(conn.requestHeader.Get("Accept-Encoding"), ",")
	want := []string{"gzip", "br", "zstd", "deflate"}
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("Accept-Encoding schemes mismatch (-want +got):\n%s", diff)
	}
}
