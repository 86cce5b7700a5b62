package target

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a grpc/encoding.Codec content-subtype so
// GrpcClient can call an out-of-process driver service without any
// protobuf-generated stubs, which the example corpus has no Go Tron gRPC
// client to generate from. grpc.CallContentSubtype(jsonCodecName) selects it
// per call; the server side of this wire contract is out of scope (spec.md
// §1 names the target-chain driver as an external collaborator).
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec by delegating
// to encoding/json; messages exchanged over GrpcClient are plain structs in
// this file's request/response types, never protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("target: json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return jsonCodecName
}
