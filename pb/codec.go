package pb

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which Codec is registered.
const CodecName = "gogoproto"

// LeaderHintKey is the trailer metadata key a node sets on a "not leader" reply to name the
// URI of the leader it knows about.
const LeaderHintKey = "raftlog-leader"

// LeaderIDKey is the trailer metadata key carrying the decimal ID of that leader.
const LeaderIDKey = "raftlog-leader-id"

// Codec marshals pb messages with gogo/protobuf.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("pb: cannot marshal %T", v)
	}
	return proto.Marshal(m)
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("pb: cannot unmarshal into %T", v)
	}
	return proto.Unmarshal(data, m)
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}

// CallOption selects Codec for a call.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}

// DialOption makes Codec the default for every call on a connection.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(CallOption())
}

func init() {
	encoding.RegisterCodec(Codec{})
}
