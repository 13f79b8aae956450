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
	"net/http"
	"testing"
)

func TestCodeStringRoundTrip(t *testing.T) {
	for code := minCode; code <= maxCode; code++ {
		name := code.String()
		if name == "" {
			t.Fatalf("code %d has empty String()", code)
		}
		parsed, err := parseCode(name)
		if err != nil {
			t.Fatalf("parseCode(%q): %v", name, err)
		}
		if parsed != code {
			t.Errorf("parseCode(%q) = %d, want %d", name, parsed, code)
		}
	}
}

func TestCodeStringUnknown(t *testing.T) {
	if got := Code(255).String(); got != "code_255" {
		t.Errorf("Code(255).String() = %q, want %q", got, "code_255")
	}
}

func TestParseCodeNumeric(t *testing.T) {
	code, err := parseCode("13")
	if err != nil {
		t.Fatalf("parseCode(\"13\"): %v", err)
	}
	if code != CodeInternal {
		t.Errorf("parseCode(\"13\") = %v, want CodeInternal", code)
	}
	if _, err := parseCode("9001"); err == nil {
		t.Error("parseCode(\"9001\") should fail: out of range")
	}
	if _, err := parseCode("not-a-code"); err == nil {
		t.Error("parseCode(\"not-a-code\") should fail")
	}
}

func TestCodeCanceledIsNonstandardHTTPStatus(t *testing.T) {
	if got := httpStatusFromCode(CodeCanceled); got != 499 {
		t.Errorf("httpStatusFromCode(CodeCanceled) = %d, want 499", got)
	}
}

func TestHTTPStatusRoundTripUnique(t *testing.T) {
	// Every code maps to some HTTP status; codeFromHTTPStatus only needs to
	// recover *a* valid code for that status, not necessarily the original
	// one, since several Connect codes share an HTTP status (spec §3).
	for code := minCode; code <= maxCode; code++ {
		status := httpStatusFromCode(code)
		recovered := codeFromHTTPStatus(status)
		if httpStatusFromCode(recovered) != status {
			t.Errorf("status %d round-trips to code %v, whose own status is %d", status, recovered, httpStatusFromCode(recovered))
		}
	}
}

func TestCodeFromHTTPStatusUnmapped(t *testing.T) {
	if got := codeFromHTTPStatus(http.StatusTeapot); got != CodeUnknown {
		t.Errorf("codeFromHTTPStatus(418) = %v, want CodeUnknown", got)
	}
}

func TestCodeValid(t *testing.T) {
	if !CodeInternal.valid() {
		t.Error("CodeInternal should be valid")
	}
	if Code(0).valid() {
		t.Error("Code(0) should not be valid")
	}
	if Code(17).valid() {
		t.Error("Code(17) should not be valid")
	}
}

func TestCodeMarshalUnmarshalText(t *testing.T) {
	data, err := CodeNotFound.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(data) != "not_found" {
		t.Errorf("MarshalText() = %q, want %q", data, "not_found")
	}
	var code Code
	if err := code.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if code != CodeNotFound {
		t.Errorf("UnmarshalText round-trip = %v, want CodeNotFound", code)
	}
	if err := code.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(\"bogus\") should fail")
	}
}
