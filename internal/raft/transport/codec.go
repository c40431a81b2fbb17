package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype the consensus service speaks.
const codecName = "json"

// jsonCodec lets gRPC carry plain Go structs without generated protobuf
// bindings. Clients select it per call with grpc.CallContentSubtype; servers
// pick it up automatically from the request's content-subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
