package raft

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ulysseses/raftlog/pb"
)

// clientService serves the client API of a node on its transport's gRPC server.
type clientService struct {
	node *Node
}

var _ pb.RaftServer = (*clientService)(nil)

// ClusterInfo implements pb.RaftServer. Any node answers it.
func (s *clientService) ClusterInfo(
	ctx context.Context,
	req *pb.ClusterInfoRequest,
) (*pb.ClusterInfoResponse, error) {
	state := s.node.State()
	resp := &pb.ClusterInfoResponse{
		LeaderId: state.Leader,
		Term:     state.Term,
	}
	if state.Leader != 0 {
		resp.LeaderUri = s.node.tr.address(state.Leader)
	}
	for _, id := range s.node.tr.memberIDs() {
		resp.Members = append(resp.Members, &pb.Member{Id: id, Uri: s.node.tr.address(id)})
	}
	return resp, nil
}

// Propose implements pb.RaftServer.
func (s *clientService) Propose(ctx context.Context, req *pb.ProposeRequest) (*pb.ProposeResponse, error) {
	index, term, err := s.node.Propose(ctx, req.Data)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &pb.ProposeResponse{Index: index, Term: term}, nil
}

// Query implements pb.RaftServer.
func (s *clientService) Query(ctx context.Context, req *pb.QueryRequest) (*pb.QueryResponse, error) {
	res, err := s.node.query(ctx, req.Data)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &pb.QueryResponse{Data: res.data, Index: res.index}, nil
}

// toStatus maps node errors onto gRPC status codes. A "not leader" reply carries the leader,
// if known, in the trailers.
func (s *clientService) toStatus(ctx context.Context, err error) error {
	var nle *NotLeaderError
	switch {
	case errors.As(err, &nle) && nle.Leader != 0:
		trailer := metadata.Pairs(
			pb.LeaderHintKey, nle.Addr,
			pb.LeaderIDKey, strconv.FormatUint(nle.Leader, 10))
		if terr := grpc.SetTrailer(ctx, trailer); terr != nil && s.node.l() {
			s.node.logger.Warn("could not set leader hint", zap.Error(terr))
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrNoLeader):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrStopped), errors.Is(err, ErrQueryUnresolved):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrProposalDropped):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
