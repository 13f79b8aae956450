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

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	codecNameProto = "proto"
	codecNameJSON  = "json"
)

// Codec marshals structs (typically generated from a protobuf schema) to and
// from bytes. Connect supports the binary protobuf codec and the JSON codec
// named by spec §4.1's codec registry; Codec implementations are looked up by
// name from a per-handler/per-client registry.
type Codec interface {
	Name() string
	Marshal(message any) ([]byte, error)
	Unmarshal(data []byte, message any) error
}

// readOnlyCodecs is an immutable, name-keyed view over a set of Codecs,
// built once per Handler/Client and shared across requests.
type readOnlyCodecs struct {
	codecs map[string]Codec
}

func newReadOnlyCodecs(codecs map[string]Codec) *readOnlyCodecs {
	return &readOnlyCodecs{codecs: codecs}
}

func (c *readOnlyCodecs) Get(name string) Codec {
	return c.codecs[name]
}

func (c *readOnlyCodecs) Protobuf() Codec {
	if codec, ok := c.codecs[codecNameProto]; ok {
		return codec
	}
	return &protoBinaryCodec{}
}

func (c *readOnlyCodecs) Names() []string {
	names := make([]string, 0, len(c.codecs))
	for name := range c.codecs {
		names = append(names, name)
	}
	return names
}

// protoBinaryCodec implements Codec using google.golang.org/protobuf's
// binary wire format. Messages that don't implement proto.Message produce a
// marshaling error, matching connect-go's own NameBinary codec behavior.
type protoBinaryCodec struct{}

func (p *protoBinaryCodec) Name() string { return codecNameProto }

func (p *protoBinaryCodec) Marshal(message any) ([]byte, error) {
	protoMessage, ok := message.(proto.Message)
	if !ok {
		return nil, errorf(CodeInternal, "%T doesn't implement proto.Message", message)
	}
	return proto.Marshal(protoMessage)
}

func (p *protoBinaryCodec) Unmarshal(data []byte, message any) error {
	protoMessage, ok := message.(proto.Message)
	if !ok {
		return errorf(CodeInternal, "%T doesn't implement proto.Message", message)
	}
	return proto.Unmarshal(data, protoMessage)
}

// protoJSONCodec implements Codec using protobuf's canonical JSON mapping
// for proto.Message values, and falls back to encoding/json for plain Go
// structs so the same handler code paths can serve the hand-written example
// messages in internal/gen without a .proto schema.
type protoJSONCodec struct{}

func (p *protoJSONCodec) Name() string { return codecNameJSON }

func (p *protoJSONCodec) Marshal(message any) ([]byte, error) {
	if protoMessage, ok := message.(proto.Message); ok {
		return protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(protoMessage)
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, errorf(CodeInternal, "marshal JSON: %w", err)
	}
	return data, nil
}

func (p *protoJSONCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return errorf(CodeInvalidArgument, "empty JSON body")
	}
	if protoMessage, ok := message.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, protoMessage)
	}
	if err := json.Unmarshal(data, message); err != nil {
		return errorf(CodeInvalidArgument, "unmarshal JSON: %w", err)
	}
	return nil
}

func newCodecUnmarshalError(codecName string, err error) *Error {
	return errorf(CodeInvalidArgument, "unmarshal message using codec %q: %w", codecName, err)
}
