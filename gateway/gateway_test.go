package gateway

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ulysseses/raftlog/pb"
)

// fakeNode answers the client API the way a raftlog node does, from a configurable view of
// who leads.
type fakeNode struct {
	uri     string
	members []string

	mu        sync.Mutex
	leader    string
	hint      bool
	err       error
	proposals int
}

func (n *fakeNode) set(leader string, hint bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leader = leader
	n.hint = hint
}

func (n *fakeNode) ClusterInfo(context.Context, *pb.ClusterInfoRequest) (*pb.ClusterInfoResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := &pb.ClusterInfoResponse{LeaderUri: n.leader, Term: 1}
	for i, uri := range n.members {
		resp.Members = append(resp.Members, &pb.Member{Id: uint64(i + 1), Uri: uri})
	}
	return resp, nil
}

func (n *fakeNode) Propose(ctx context.Context, req *pb.ProposeRequest) (*pb.ProposeResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.serve(ctx); err != nil {
		return nil, err
	}
	n.proposals++
	return &pb.ProposeResponse{Index: uint64(n.proposals), Term: 1}, nil
}

func (n *fakeNode) Query(ctx context.Context, req *pb.QueryRequest) (*pb.QueryResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.serve(ctx); err != nil {
		return nil, err
	}
	return &pb.QueryResponse{Data: []byte(n.uri)}, nil
}

// serve returns the error a node that is not the leader would reply with.
func (n *fakeNode) serve(ctx context.Context) error {
	switch {
	case n.err != nil:
		return n.err
	case n.leader == n.uri:
		return nil
	case n.leader == "":
		return status.Error(codes.Unavailable, "no known leader")
	case n.hint:
		_ = grpc.SetTrailer(ctx, metadata.Pairs(pb.LeaderHintKey, n.leader, pb.LeaderIDKey, "0"))
	}
	return status.Error(codes.FailedPrecondition, "not leader")
}

func (n *fakeNode) proposed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.proposals
}

// fakeCluster serves fakeNodes over in-memory listeners.
type fakeCluster struct {
	nodes     map[string]*fakeNode
	servers   map[string]*grpc.Server
	listeners map[string]*bufconn.Listener
}

func newFakeCluster(t *testing.T, uris ...string) *fakeCluster {
	sorted := append([]string(nil), uris...)
	sort.Strings(sorted)
	fc := &fakeCluster{
		nodes:     map[string]*fakeNode{},
		servers:   map[string]*grpc.Server{},
		listeners: map[string]*bufconn.Listener{},
	}
	for _, uri := range uris {
		n := &fakeNode{uri: uri, members: sorted}
		lis := bufconn.Listen(1 << 20)
		s := grpc.NewServer()
		pb.RegisterRaftServer(s, n)
		go func() { _ = s.Serve(lis) }()
		t.Cleanup(s.Stop)
		fc.nodes[uri] = n
		fc.servers[uri] = s
		fc.listeners[uri] = lis
	}
	return fc
}

func (fc *fakeCluster) resolve(uri string) Target {
	lis := fc.listeners[uri]
	return Target{
		Addr: "passthrough:///" + uri,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				if lis == nil {
					return nil, errors.New("unknown node")
				}
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}
}

// lead makes every node agree that leader leads.
func (fc *fakeCluster) lead(leader string, hint bool) {
	for _, n := range fc.nodes {
		n.set(leader, hint)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func Test_Gateway_FollowsHint(t *testing.T) {
	fc := newFakeCluster(t, "a", "b", "c")
	fc.lead("b", true)
	c := NewConnector(fc.resolve, WithLogger(zaptest.NewLogger(t)))
	g := c.Connect("a")
	defer g.Close()

	resp, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.Index)
	assert.Equal(t, "b", g.Leader())
	assert.Equal(t, 1, fc.nodes["b"].proposed())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.redirects))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.probes))

	// The leader is remembered: the next call goes straight to it.
	_, err = pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("y")})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.redirects))
}

func Test_Gateway_ProbesWithoutHint(t *testing.T) {
	fc := newFakeCluster(t, "a", "b", "c")
	fc.lead("c", false)
	c := NewConnector(fc.resolve)
	g := c.Connect("a")
	defer g.Close()

	resp, err := pb.NewRaftClient(g).Query(testContext(t), &pb.QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, "c", string(resp.Data))
	assert.Equal(t, "c", g.Leader())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probes))
	assert.Equal(t, []string{"a", "b", "c"}, g.Members())
}

func Test_Gateway_LeaderStops(t *testing.T) {
	fc := newFakeCluster(t, "a", "b", "c")
	fc.lead("a", true)
	c := NewConnector(fc.resolve, WithProbeTimeout(5*time.Second))
	g := c.Connect("a")
	defer g.Close()
	client := pb.NewRaftClient(g)

	_, err := client.ClusterInfo(testContext(t), &pb.ClusterInfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, g.Members())

	// Leadership moves to b once a is gone.
	fc.servers["a"].Stop()
	fc.nodes["b"].set("b", true)
	fc.nodes["c"].set("b", true)

	_, err = client.Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "b", g.Leader())
	assert.Equal(t, 1, fc.nodes["b"].proposed())
}

func Test_Gateway_WaitsForElection(t *testing.T) {
	fc := newFakeCluster(t, "a", "b", "c")
	fc.lead("", false)
	c := NewConnector(fc.resolve, WithProbeTimeout(5*time.Second))
	g := c.Connect("a")
	defer g.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		fc.lead("c", true)
	}()
	_, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "c", g.Leader())
}

func Test_Gateway_NoLeaderAvailable(t *testing.T) {
	fc := newFakeCluster(t, "a", "b")
	fc.lead("", false)
	g := NewConnector(fc.resolve, WithProbeTimeout(100*time.Millisecond)).Connect("a")
	defer g.Close()

	_, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	assert.True(t, errors.Is(err, ErrNoLeaderAvailable), "got %v", err)
}

func Test_Gateway_RedirectLoopExceeded(t *testing.T) {
	fc := newFakeCluster(t, "a", "b")
	fc.nodes["a"].set("b", true)
	fc.nodes["b"].set("a", true)
	c := NewConnector(fc.resolve, WithMaxRedirects(3))
	g := c.Connect("a")
	defer g.Close()

	_, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	assert.True(t, errors.Is(err, ErrRedirectLoopExceeded), "got %v", err)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.redirects))
	assert.Equal(t, 0, fc.nodes["a"].proposed()+fc.nodes["b"].proposed())
}

func Test_Gateway_OtherErrorsPassThrough(t *testing.T) {
	fc := newFakeCluster(t, "a", "b")
	fc.lead("a", true)
	fc.nodes["a"].err = status.Error(codes.InvalidArgument, "bad command")
	c := NewConnector(fc.resolve)
	g := c.Connect("a")
	defer g.Close()

	_, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.redirects))
}

func Test_Gateway_Close(t *testing.T) {
	fc := newFakeCluster(t, "a")
	fc.lead("a", true)
	g := NewConnector(fc.resolve).Connect("a")

	_, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err = pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func Test_DefaultResolver(t *testing.T) {
	assert.Equal(t, "localhost:8001", DefaultResolver("tcp://localhost:8001").Addr)
	assert.Equal(t, "unix:///tmp/1.sock", DefaultResolver("unix:///tmp/1.sock").Addr)
	assert.NotEmpty(t, DefaultResolver("tcp://localhost:8001").DialOptions)
}

func Test_Gateway_SeedMembers(t *testing.T) {
	fc := newFakeCluster(t, "a", "b", "c")
	fc.lead("c", true)
	fc.servers["a"].Stop()
	c := NewConnector(fc.resolve, WithProbeTimeout(5*time.Second))
	g := c.Connect("a", "b")
	defer g.Close()

	_, err := pb.NewRaftClient(g).Propose(testContext(t), &pb.ProposeRequest{Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "c", g.Leader())
	assert.Equal(t, 1, fc.nodes["c"].proposed())
}
