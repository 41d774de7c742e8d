package kvstore

import (
	"github.com/gogo/protobuf/proto"
)

// Op is the operation of a KV command.
type Op int32

const (
	// OpSet sets K to V.
	OpSet Op = 0
	// OpDelete removes K.
	OpDelete Op = 1
)

var opName = map[int32]string{
	0: "Set",
	1: "Delete",
}

var opValue = map[string]int32{
	"Set":    0,
	"Delete": 1,
}

func (o Op) String() string {
	return proto.EnumName(opName, int32(o))
}

// KV is a command carried by a log entry.
type KV struct {
	Op Op     `protobuf:"varint,1,opt,name=op,proto3,enum=kvstore.Op" json:"op,omitempty"`
	K  string `protobuf:"bytes,2,opt,name=k,proto3" json:"k,omitempty"`
	V  string `protobuf:"bytes,3,opt,name=v,proto3" json:"v,omitempty"`
}

func (m *KV) Reset()         { *m = KV{} }
func (m *KV) String() string { return proto.CompactTextString(m) }
func (*KV) ProtoMessage()    {}

// Get is a query for the value of K.
type Get struct {
	K string `protobuf:"bytes,1,opt,name=k,proto3" json:"k,omitempty"`
}

func (m *Get) Reset()         { *m = Get{} }
func (m *Get) String() string { return proto.CompactTextString(m) }
func (*Get) ProtoMessage()    {}

// Result answers a Get. Found is false, and V empty, when the key is not set.
type Result struct {
	V     string `protobuf:"bytes,1,opt,name=v,proto3" json:"v,omitempty"`
	Found bool   `protobuf:"varint,2,opt,name=found,proto3" json:"found,omitempty"`
}

func (m *Result) Reset()         { *m = Result{} }
func (m *Result) String() string { return proto.CompactTextString(m) }
func (*Result) ProtoMessage()    {}

func init() {
	proto.RegisterEnum("kvstore.Op", opName, opValue)
	proto.RegisterType((*KV)(nil), "kvstore.KV")
	proto.RegisterType((*Get)(nil), "kvstore.Get")
	proto.RegisterType((*Result)(nil), "kvstore.Result")
}
