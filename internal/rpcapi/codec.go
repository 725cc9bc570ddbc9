package rpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype this codec registers under. Clients opt
// into it with grpc.CallContentSubtype(codecName); the server accepts
// whatever subtype a call negotiates, so registering is enough on that side.
const codecName = "isolatorjson"

// jsonCodec implements encoding.Codec using plain JSON over the plain Go
// structs in messages.go, standing in for the protobuf wire codec a
// .proto/protoc-gen-go pipeline would normally provide (out of scope per
// spec §1 — see DESIGN.md).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
