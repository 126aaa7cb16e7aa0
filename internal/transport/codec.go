package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the grpc channel carry the client's own wire.Request /
// wire.EventRequest structs directly, without requiring a separate
// protobuf-generated message type for every RPC (the wire schema is an
// opaque contract per spec §1). Registered under the "json" subtype and
// selected per-call with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ContentSubtype is the grpc.CallContentSubtype value selecting jsonCodec.
const ContentSubtype = "json"
