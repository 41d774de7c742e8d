package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

/******** RaftProtocol *******************************************************/

// RaftProtocolServer is the peer-to-peer Raft protocol service.
type RaftProtocolServer interface {
	Communicate(RaftProtocol_CommunicateServer) error
}

// UnimplementedRaftProtocolServer can be embedded to have forward compatible implementations.
type UnimplementedRaftProtocolServer struct{}

// Communicate implements RaftProtocolServer.
func (UnimplementedRaftProtocolServer) Communicate(RaftProtocol_CommunicateServer) error {
	return status.Errorf(codes.Unimplemented, "method Communicate not implemented")
}

// RegisterRaftProtocolServer registers srv on s.
func RegisterRaftProtocolServer(s *grpc.Server, srv RaftProtocolServer) {
	s.RegisterService(&raftProtocolServiceDesc, srv)
}

// RaftProtocol_CommunicateServer is the server side of the Communicate stream.
type RaftProtocol_CommunicateServer interface {
	SendAndClose(*Empty) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type raftProtocolCommunicateServer struct {
	grpc.ServerStream
}

func (x *raftProtocolCommunicateServer) SendAndClose(m *Empty) error {
	return x.ServerStream.SendMsg(m)
}

func (x *raftProtocolCommunicateServer) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func raftProtocolCommunicateHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RaftProtocolServer).Communicate(&raftProtocolCommunicateServer{stream})
}

var raftProtocolServiceDesc = grpc.ServiceDesc{
	ServiceName: "raftlog.RaftProtocol",
	HandlerType: (*RaftProtocolServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Communicate",
			Handler:       raftProtocolCommunicateHandler,
			ClientStreams: true,
		},
	},
	Metadata: "raftlog.proto",
}

// RaftProtocolClient is the client API of the RaftProtocol service.
type RaftProtocolClient interface {
	Communicate(ctx context.Context, opts ...grpc.CallOption) (RaftProtocol_CommunicateClient, error)
}

type raftProtocolClient struct {
	cc grpc.ClientConnInterface
}

// NewRaftProtocolClient returns a RaftProtocolClient over cc.
func NewRaftProtocolClient(cc grpc.ClientConnInterface) RaftProtocolClient {
	return &raftProtocolClient{cc}
}

func (c *raftProtocolClient) Communicate(
	ctx context.Context,
	opts ...grpc.CallOption,
) (RaftProtocol_CommunicateClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(
		ctx, &raftProtocolServiceDesc.Streams[0], "/raftlog.RaftProtocol/Communicate", opts...)
	if err != nil {
		return nil, err
	}
	return &raftProtocolCommunicateClient{stream}, nil
}

// RaftProtocol_CommunicateClient is the client side of the Communicate stream.
type RaftProtocol_CommunicateClient interface {
	Send(*Message) error
	CloseAndRecv() (*Empty, error)
	grpc.ClientStream
}

type raftProtocolCommunicateClient struct {
	grpc.ClientStream
}

func (x *raftProtocolCommunicateClient) Send(m *Message) error {
	return x.ClientStream.SendMsg(m)
}

func (x *raftProtocolCommunicateClient) CloseAndRecv() (*Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

/******** Raft (client API) **************************************************/

// RaftServer is the client-facing API of a raftlog node.
type RaftServer interface {
	ClusterInfo(context.Context, *ClusterInfoRequest) (*ClusterInfoResponse, error)
	Propose(context.Context, *ProposeRequest) (*ProposeResponse, error)
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
}

// RegisterRaftServer registers srv on s.
func RegisterRaftServer(s *grpc.Server, srv RaftServer) {
	s.RegisterService(&raftServiceDesc, srv)
}

func raftClusterInfoHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(ClusterInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).ClusterInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodClusterInfo}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).ClusterInfo(ctx, req.(*ClusterInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func raftProposeHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(ProposeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).Propose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPropose}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).Propose(ctx, req.(*ProposeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func raftQueryHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodQuery}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).Query(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Full method names of the Raft service.
const (
	MethodClusterInfo = "/raftlog.Raft/ClusterInfo"
	MethodPropose     = "/raftlog.Raft/Propose"
	MethodQuery       = "/raftlog.Raft/Query"
)

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: "raftlog.Raft",
	HandlerType: (*RaftServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ClusterInfo", Handler: raftClusterInfoHandler},
		{MethodName: "Propose", Handler: raftProposeHandler},
		{MethodName: "Query", Handler: raftQueryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftlog.proto",
}

// RaftClient is the client API of the Raft service. It works over any
// grpc.ClientConnInterface, including a gateway.
type RaftClient interface {
	ClusterInfo(ctx context.Context, in *ClusterInfoRequest, opts ...grpc.CallOption) (*ClusterInfoResponse, error)
	Propose(ctx context.Context, in *ProposeRequest, opts ...grpc.CallOption) (*ProposeResponse, error)
	Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error)
}

type raftClient struct {
	cc grpc.ClientConnInterface
}

// NewRaftClient returns a RaftClient over cc.
func NewRaftClient(cc grpc.ClientConnInterface) RaftClient {
	return &raftClient{cc}
}

func (c *raftClient) ClusterInfo(
	ctx context.Context,
	in *ClusterInfoRequest,
	opts ...grpc.CallOption,
) (*ClusterInfoResponse, error) {
	out := new(ClusterInfoResponse)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := c.cc.Invoke(ctx, MethodClusterInfo, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftClient) Propose(
	ctx context.Context,
	in *ProposeRequest,
	opts ...grpc.CallOption,
) (*ProposeResponse, error) {
	out := new(ProposeResponse)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := c.cc.Invoke(ctx, MethodPropose, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftClient) Query(
	ctx context.Context,
	in *QueryRequest,
	opts ...grpc.CallOption,
) (*QueryResponse, error) {
	out := new(QueryResponse)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := c.cc.Invoke(ctx, MethodQuery, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
