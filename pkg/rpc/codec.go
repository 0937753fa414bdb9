package rpc

import "encoding/json"

// codecName is registered as the sole content-subtype this server and
// its dialing clients understand; grpc.ForceServerCodec/grpc.ForceCodec
// pin every call to it, bypassing the proto-based negotiation grpc-go
// otherwise assumes.
const codecName = "json"

// jsonCodec implements encoding.Codec (the grpc.Codec successor) over
// plain Go structs, standing in for protoc-generated marshaling. This is
// the exercise's one deliberate departure from the usual protobuf wire
// format: everything else about the transport (HTTP/2 framing, flow
// control, deadlines, server streaming) is the genuine grpc-go stack.
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
