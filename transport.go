package raft

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/ulysseses/raftlog/pb"
)

// Transport sends and receives Raft protocol messages between Raft nodes of the cluster.
type Transport interface {
	// recv returns a channel to "read" messages from the network/cluster.
	recv() <-chan pb.Message

	// send returns a channel to "send" messages out to the network/cluster.
	send() chan<- pb.Message

	// memberIDs returns a slice of the IDs of all Raft nodes in the cluster.
	memberIDs() []uint64

	// address returns the URI of a member, or "" if it is unknown.
	address(id uint64) string

	// start starts the transporter
	start()

	// stop stops the transporter
	stop() error
}

// gRPCTransport is resposible for network interaction of the Raft cluster. Its gRPC server
// also serves the client API of the node.
type gRPCTransport struct {
	pb.UnimplementedRaftProtocolServer
	lis        net.Listener
	grpcServer *grpc.Server
	id         uint64
	addr       string
	peers      map[uint64]*peer

	recvChan chan pb.Message
	sendChan chan pb.Message
	stopChan chan struct{}
	doneChan chan struct{}

	logger *zap.Logger
	debug  bool
}

// recv implements Transporter for gRPCTransport
func (t *gRPCTransport) recv() <-chan pb.Message {
	return t.recvChan
}

// send implements Transporter for gRPCTransport
func (t *gRPCTransport) send() chan<- pb.Message {
	return t.sendChan
}

// memberIDs implements Transporter for gRPCTransport
func (t *gRPCTransport) memberIDs() []uint64 {
	mIDs := []uint64{t.id}
	for peerID := range t.peers {
		mIDs = append(mIDs, peerID)
	}
	sort.Slice(mIDs, func(i, j int) bool { return mIDs[i] < mIDs[j] })
	return mIDs
}

// address implements Transporter for gRPCTransport
func (t *gRPCTransport) address(id uint64) string {
	if id == t.id {
		return t.addr
	}
	if p, ok := t.peers[id]; ok {
		return p.addr
	}
	return ""
}

// server returns the gRPC server, so that more services can be registered before start.
func (t *gRPCTransport) server() *grpc.Server {
	return t.grpcServer
}

// start starts the node's gRPC server and connects to all other peer servers in the
// background.
func (t *gRPCTransport) start() {
	// start Communicate RPC
	if t.l() {
		t.logger.Info("starting gRPC server", zap.String("addr", t.addr))
	}
	go func() {
		err := t.grpcServer.Serve(t.lis)
		if err != nil && t.l() {
			t.logger.Error("gRPC serve ended with error", zap.Error(err))
		}
	}()

	// connect to peers' RaftProtocolServers
	for _, p := range t.peers {
		go p.loop()
	}

	// start sendLoop
	go t.sendLoop()
}

// stop stops the Raft node's gRPC server and clients to peer servers.
func (t *gRPCTransport) stop() error {
	// Stop Communicate RPC and sendLoop
	close(t.stopChan)
	t.grpcServer.Stop()
	<-t.doneChan
	// Close connections to peers.
	var result *multierror.Error
	for _, p := range t.peers {
		if err := p.stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Communicate implements RaftProtocolServer for Transport.
func (t *gRPCTransport) Communicate(stream pb.RaftProtocol_CommunicateServer) error {
	var (
		recvChan chan<- pb.Message = t.recvChan
		stopChan <-chan struct{}   = t.stopChan
	)
	for {
		msgPtr, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&pb.Empty{})
		}
		if err != nil {
			return err
		}
		if msgPtr.From == 0 || msgPtr.To != t.id {
			return fmt.Errorf("receiving with bogus recipient/sender: %v", msgPtr.String())
		}
		if t.debug && t.l() {
			t.logger.Debug(
				"received message",
				zap.String("type", msgPtr.Type.String()), zap.Uint64("from", msgPtr.From))
		}
		select {
		case recvChan <- *msgPtr:
		case <-stopChan:
			return nil
		}
	}
}

func (t *gRPCTransport) sendLoop() {
	defer close(t.doneChan)
	var stopChan <-chan struct{} = t.stopChan
	for {
		var msg pb.Message
		select {
		case <-stopChan:
			return
		case msg = <-t.sendChan:
		}

		p, ok := t.peers[msg.To]
		if !ok {
			if t.l() {
				t.logger.Error("unknown recipient", msgZapFields(msg)...)
			}
			continue
		}
		select {
		case p.sendChan <- msg:
		default:
			if t.debug && t.l() {
				t.logger.Debug(
					"could not send",
					zap.Uint64("to", msg.To), zap.String("type", msg.Type.String()))
			}
		}
	}
}

func (t *gRPCTransport) l() bool {
	return t.logger != nil
}

type peer struct {
	stopChan chan struct{}
	doneChan chan struct{}
	sendChan chan pb.Message

	// ctx outlives every stream to the peer and is cancelled by stop.
	ctx    context.Context
	cancel context.CancelFunc

	id   uint64
	addr string

	reconnectDelay time.Duration
	dialOptions    []grpc.DialOption
	callOptions    []grpc.CallOption

	logger *zap.Logger
	debug  bool
}

func (p *peer) loop() {
	defer close(p.doneChan)
	var (
		sendChan <-chan pb.Message = p.sendChan
		stopChan <-chan struct{}   = p.stopChan
	)
	for {
		// connect loop
		conn, stream, ok := p.connect()
		if !ok {
			return
		}

		// alive loop
		p.sendUntilError(sendChan, stopChan, stream)
		if err := conn.Close(); err != nil && p.l() {
			p.logger.Warn("error from closing connection", zap.Error(err))
		}

		select {
		case <-stopChan:
			return
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *peer) sendUntilError(
	sendChan <-chan pb.Message,
	stopChan <-chan struct{},
	stream pb.RaftProtocol_CommunicateClient,
) {
	for {
		var msg pb.Message
		select {
		case <-stopChan:
			return
		case msg = <-sendChan:
		}
		if p.debug && p.l() {
			p.logger.Debug(
				"sending msg",
				zap.String("type", msg.Type.String()), zap.Uint64("to", msg.To))
		}
		if err := stream.Send(&msg); err != nil {
			if p.l() {
				p.logger.Info("stream send failed", zap.Error(err))
			}
			return
		}
	}
}

// connect opens a Communicate stream to the peer, retrying until it succeeds or the peer is
// stopped.
func (p *peer) connect() (*grpc.ClientConn, pb.RaftProtocol_CommunicateClient, bool) {
	for {
		select {
		case <-p.stopChan:
			return nil, nil, false
		default:
		}

		conn, err := grpc.NewClient(dialTarget(p.addr), p.dialOptions...)
		if err == nil {
			var stream pb.RaftProtocol_CommunicateClient
			stream, err = pb.NewRaftProtocolClient(conn).Communicate(p.ctx, p.callOptions...)
			if err == nil {
				if p.l() {
					p.logger.Info("connected to peer", zap.String("addr", p.addr))
				}
				return conn, stream, true
			}
			conn.Close()
		}
		if p.debug && p.l() {
			p.logger.Debug("will retry failed connection", zap.Error(err))
		}

		select {
		case <-p.stopChan:
			return nil, nil, false
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *peer) stop() error {
	close(p.stopChan)
	p.cancel()
	select {
	case <-p.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out stopping connection to peer %d at %s", p.id, p.addr)
	}
}

func (p *peer) l() bool {
	return p.logger != nil
}

func listen(target string) (net.Listener, error) {
	tokens := strings.Split(target, "://")
	if len(tokens) == 2 {
		return net.Listen(tokens[0], tokens[1])
	}
	return nil, fmt.Errorf("target must be in {net}://{addr} format. Got: %s", target)
}

// dialTarget turns a member URI into a gRPC dial target.
// https://github.com/grpc/grpc/blob/master/doc/naming.md
func dialTarget(uri string) string {
	return strings.TrimPrefix(uri, "tcp://")
}
