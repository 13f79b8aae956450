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
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewErrorBasics(t *testing.T) {
	err := NewError(CodeNotFound, errors.New("widget missing"))
	if err.Code() != CodeNotFound {
		t.Errorf("Code() = %v, want CodeNotFound", err.Code())
	}
	if err.Message() != "widget missing" {
		t.Errorf("Message() = %q, want %q", err.Message(), "widget missing")
	}
	if err.Error() != "not_found: widget missing" {
		t.Errorf("Error() = %q, want %q", err.Error(), "not_found: widget missing")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != 0 {
		t.Errorf("CodeOf(nil) = %v, want 0", CodeOf(nil))
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Errorf("CodeOf(plain error) = %v, want CodeUnknown", got)
	}
	wrapped := errorf(CodeAborted, "underlying")
	if got := CodeOf(wrapped); got != CodeAborted {
		t.Errorf("CodeOf(*Error) = %v, want CodeAborted", got)
	}
	// errors.As must see through a wrapping layer, since interceptors and
	// callers often re-wrap errors with fmt.Errorf("%w", ...).
	rewrapped := errors.Join(wrapped)
	if got := CodeOf(rewrapped); got != CodeAborted {
		t.Errorf("CodeOf(joined *Error) = %v, want CodeAborted", got)
	}
}

func TestErrorDetailTypeStripsURLPrefix(t *testing.T) {
	detail := NewErrorDetail("google.rpc.RetryInfo", []byte("payload"))
	if detail.Type() != "google.rpc.RetryInfo" {
		t.Errorf("Type() = %q, want %q", detail.Type(), "google.rpc.RetryInfo")
	}
	if string(detail.Bytes()) != "payload" {
		t.Errorf("Bytes() = %q, want %q", detail.Bytes(), "payload")
	}
}

func TestErrorWireJSONRoundTrip(t *testing.T) {
	original := NewError(CodePermissionDenied, errors.New("no access"))
	original.AddDetail(NewErrorDetail("google.rpc.DebugInfo", []byte("trace-data")))

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	recovered, err := unmarshalErrorJSON(raw)
	if err != nil {
		t.Fatalf("unmarshalErrorJSON: %v", err)
	}
	if recovered.Code() != CodePermissionDenied {
		t.Errorf("recovered.Code() = %v, want CodePermissionDenied", recovered.Code())
	}
	if recovered.Message() != "no access" {
		t.Errorf("recovered.Message() = %q, want %q", recovered.Message(), "no access")
	}
	type detailView struct {
		Type  string
		Bytes string
	}
	viewOf := func(details []*ErrorDetail) []detailView {
		views := make([]detailView, len(details))
		for i, d := range details {
			views[i] = detailView{Type: d.Type(), Bytes: string(d.Bytes())}
		}
		return views
	}
	want := []detailView{{Type: "google.rpc.DebugInfo", Bytes: "trace-data"}}
	if diff := cmp.Diff(want, viewOf(recovered.Details())); diff != "" {
		t.Fatalf("recovered details mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorDetailValueIsUnpaddedBase64OnTheWire(t *testing.T) {
	// spec §3/§6 mandate unpadded base64 for detail "value"; "payload" is 7
	// bytes, so standard padded base64 would carry a trailing "==" that must
	// not appear on the wire.
	original := NewError(CodeInternal, errors.New("boom"))
	original.AddDetail(NewErrorDetail("google.rpc.DebugInfo", []byte("payload")))

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"value":"cGF5bG9hZA"`) {
		t.Errorf("wire JSON = %s, want unpadded base64 value %q", raw, "cGF5bG9hZA")
	}
	if strings.Contains(string(raw), "=") {
		t.Errorf("wire JSON = %s, must not contain padding characters", raw)
	}
}

func TestUnmarshalErrorJSONRejectsDetailMissingType(t *testing.T) {
	// A detail entry with no "type" field is a protocol violation (spec §3):
	// it must be rejected rather than silently accepted as an opaque blob.
	raw := []byte(`{"code":"internal","message":"boom","details":[{"value":"eA=="}]}`)
	if _, err := unmarshalErrorJSON(raw); err == nil {
		t.Error("unmarshalErrorJSON should reject a detail missing \"type\"")
	}
}

func TestUnmarshalErrorJSONUnknownCodeFallsBackToUnknown(t *testing.T) {
	raw := []byte(`{"code":"not_a_real_code","message":"boom"}`)
	connectErr, err := unmarshalErrorJSON(raw)
	if err != nil {
		t.Fatalf("unmarshalErrorJSON: %v", err)
	}
	if connectErr.Code() != CodeUnknown {
		t.Errorf("Code() = %v, want CodeUnknown", connectErr.Code())
	}
}
