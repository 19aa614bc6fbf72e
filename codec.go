package grpcbridge

import (
	"fmt"
)

// rawMessage carries one opaque, already-serialized message through the
// transport. The engine never interprets the bytes; serialization is
// the caller's concern.
type rawMessage struct {
	data []byte
}

// rawCodec is a passthrough [google.golang.org/grpc/encoding.Codec]
// that moves raw bytes in and out of the transport unmodified. It is
// forced onto every call this package issues, which is what makes the
// client method-agnostic: no generated stubs, no message descriptors.
type rawCodec struct{}

// Marshal returns a copy of the wrapped bytes. The transport may
// retain the returned slice past the call, so the caller's buffer must
// not be aliased.
func (rawCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("grpcbridge: rawCodec.Marshal: unexpected message type %T", v)
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Unmarshal copies the wire bytes into the message. The transport may
// reuse the input buffer after Unmarshal returns.
func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("grpcbridge: rawCodec.Unmarshal: unexpected message type %T", v)
	}
	m.data = make([]byte, len(data))
	copy(m.data, data)
	return nil
}

// Name identifies the codec. It reuses the proto content-subtype so no
// grpc-encoding negotiation is required with standard servers.
func (rawCodec) Name() string { return "proto" }
