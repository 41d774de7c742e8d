// Package pb holds the wire types shared by raftlog nodes and their clients.
//
// The messages are plain structs carrying protobuf field tags, so gogo/protobuf marshals
// them through its reflection path without generated marshalers.
package pb

import (
	"github.com/gogo/protobuf/proto"
)

// MessageType is the type of a Raft protocol message.
type MessageType int32

const (
	// MsgApp appends entries (or carries a heartbeat / read confirmation) from the leader.
	MsgApp MessageType = 0
	// MsgAppResp answers MsgApp.
	MsgAppResp MessageType = 1
	// MsgVote requests a vote from a peer.
	MsgVote MessageType = 2
	// MsgVoteResp answers MsgVote.
	MsgVoteResp MessageType = 3
)

var messageTypeName = map[int32]string{
	0: "MsgApp",
	1: "MsgAppResp",
	2: "MsgVote",
	3: "MsgVoteResp",
}

var messageTypeValue = map[string]int32{
	"MsgApp":      0,
	"MsgAppResp":  1,
	"MsgVote":     2,
	"MsgVoteResp": 3,
}

func (t MessageType) String() string {
	return proto.EnumName(messageTypeName, int32(t))
}

// Entry is a log entry.
type Entry struct {
	Index uint64 `protobuf:"varint,1,opt,name=index,proto3" json:"index,omitempty"`
	Term  uint64 `protobuf:"varint,2,opt,name=term,proto3" json:"term,omitempty"`
	Data  []byte `protobuf:"bytes,3,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *Entry) Reset()         { *m = Entry{} }
func (m *Entry) String() string { return proto.CompactTextString(m) }
func (*Entry) ProtoMessage()    {}

// Clone returns a deep copy of the entry.
func (m Entry) Clone() Entry {
	c := m
	if m.Data != nil {
		c.Data = append([]byte(nil), m.Data...)
	}
	return c
}

// Ballot is the persisted election state of a node. VotedFor is 0 when no vote was cast in Term.
type Ballot struct {
	Term     uint64 `protobuf:"varint,1,opt,name=term,proto3" json:"term,omitempty"`
	VotedFor uint64 `protobuf:"varint,2,opt,name=voted_for,json=votedFor,proto3" json:"voted_for,omitempty"`
}

func (m *Ballot) Reset()         { *m = Ballot{} }
func (m *Ballot) String() string { return proto.CompactTextString(m) }
func (*Ballot) ProtoMessage()    {}

// Message is a Raft protocol message exchanged between peers.
type Message struct {
	Type    MessageType `protobuf:"varint,1,opt,name=type,proto3,enum=raftlog.MessageType" json:"type,omitempty"`
	Term    uint64      `protobuf:"varint,2,opt,name=term,proto3" json:"term,omitempty"`
	From    uint64      `protobuf:"varint,3,opt,name=from,proto3" json:"from,omitempty"`
	To      uint64      `protobuf:"varint,4,opt,name=to,proto3" json:"to,omitempty"`
	Index   uint64      `protobuf:"varint,5,opt,name=index,proto3" json:"index,omitempty"`
	LogTerm uint64      `protobuf:"varint,6,opt,name=log_term,json=logTerm,proto3" json:"log_term,omitempty"`
	Commit  uint64      `protobuf:"varint,7,opt,name=commit,proto3" json:"commit,omitempty"`
	Entries []*Entry    `protobuf:"bytes,8,rep,name=entries,proto3" json:"entries,omitempty"`
	Tid     int64       `protobuf:"varint,9,opt,name=tid,proto3" json:"tid,omitempty"`
	Proxy   uint64      `protobuf:"varint,10,opt,name=proxy,proto3" json:"proxy,omitempty"`
	Success bool        `protobuf:"varint,11,opt,name=success,proto3" json:"success,omitempty"`
}

func (m *Message) Reset()         { *m = Message{} }
func (m *Message) String() string { return proto.CompactTextString(m) }
func (*Message) ProtoMessage()    {}

// Empty is the empty message.
type Empty struct{}

func (m *Empty) Reset()         { *m = Empty{} }
func (m *Empty) String() string { return proto.CompactTextString(m) }
func (*Empty) ProtoMessage()    {}

// Member is a cluster member as seen by the node answering ClusterInfo.
type Member struct {
	Id  uint64 `protobuf:"varint,1,opt,name=id,proto3" json:"id,omitempty"`
	Uri string `protobuf:"bytes,2,opt,name=uri,proto3" json:"uri,omitempty"`
}

func (m *Member) Reset()         { *m = Member{} }
func (m *Member) String() string { return proto.CompactTextString(m) }
func (*Member) ProtoMessage()    {}

// ClusterInfoRequest asks a node for its view of the cluster.
type ClusterInfoRequest struct{}

func (m *ClusterInfoRequest) Reset()         { *m = ClusterInfoRequest{} }
func (m *ClusterInfoRequest) String() string { return proto.CompactTextString(m) }
func (*ClusterInfoRequest) ProtoMessage()    {}

// ClusterInfoResponse is a node's view of the cluster. LeaderId is 0 if the leader is unknown.
type ClusterInfoResponse struct {
	LeaderId  uint64    `protobuf:"varint,1,opt,name=leader_id,json=leaderId,proto3" json:"leader_id,omitempty"`
	LeaderUri string    `protobuf:"bytes,2,opt,name=leader_uri,json=leaderUri,proto3" json:"leader_uri,omitempty"`
	Members   []*Member `protobuf:"bytes,3,rep,name=members,proto3" json:"members,omitempty"`
	Term      uint64    `protobuf:"varint,4,opt,name=term,proto3" json:"term,omitempty"`
}

func (m *ClusterInfoResponse) Reset()         { *m = ClusterInfoResponse{} }
func (m *ClusterInfoResponse) String() string { return proto.CompactTextString(m) }
func (*ClusterInfoResponse) ProtoMessage()    {}

// ProposeRequest proposes a command to the replicated log.
type ProposeRequest struct {
	Data []byte `protobuf:"bytes,1,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *ProposeRequest) Reset()         { *m = ProposeRequest{} }
func (m *ProposeRequest) String() string { return proto.CompactTextString(m) }
func (*ProposeRequest) ProtoMessage()    {}

// ProposeResponse is returned once the proposed command has been applied.
type ProposeResponse struct {
	Index uint64 `protobuf:"varint,1,opt,name=index,proto3" json:"index,omitempty"`
	Term  uint64 `protobuf:"varint,2,opt,name=term,proto3" json:"term,omitempty"`
}

func (m *ProposeResponse) Reset()         { *m = ProposeResponse{} }
func (m *ProposeResponse) String() string { return proto.CompactTextString(m) }
func (*ProposeResponse) ProtoMessage()    {}

// QueryRequest is a linearizable read-only query against the application.
type QueryRequest struct {
	Data []byte `protobuf:"bytes,1,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *QueryRequest) Reset()         { *m = QueryRequest{} }
func (m *QueryRequest) String() string { return proto.CompactTextString(m) }
func (*QueryRequest) ProtoMessage()    {}

// QueryResponse carries the application's answer and the read index it was served at.
type QueryResponse struct {
	Data  []byte `protobuf:"bytes,1,opt,name=data,proto3" json:"data,omitempty"`
	Index uint64 `protobuf:"varint,2,opt,name=index,proto3" json:"index,omitempty"`
}

func (m *QueryResponse) Reset()         { *m = QueryResponse{} }
func (m *QueryResponse) String() string { return proto.CompactTextString(m) }
func (*QueryResponse) ProtoMessage()    {}

func init() {
	proto.RegisterEnum("raftlog.MessageType", messageTypeName, messageTypeValue)
	proto.RegisterType((*Entry)(nil), "raftlog.Entry")
	proto.RegisterType((*Ballot)(nil), "raftlog.Ballot")
	proto.RegisterType((*Message)(nil), "raftlog.Message")
	proto.RegisterType((*Empty)(nil), "raftlog.Empty")
	proto.RegisterType((*Member)(nil), "raftlog.Member")
	proto.RegisterType((*ClusterInfoRequest)(nil), "raftlog.ClusterInfoRequest")
	proto.RegisterType((*ClusterInfoResponse)(nil), "raftlog.ClusterInfoResponse")
	proto.RegisterType((*ProposeRequest)(nil), "raftlog.ProposeRequest")
	proto.RegisterType((*ProposeResponse)(nil), "raftlog.ProposeResponse")
	proto.RegisterType((*QueryRequest)(nil), "raftlog.QueryRequest")
	proto.RegisterType((*QueryResponse)(nil), "raftlog.QueryResponse")
}
