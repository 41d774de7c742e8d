//go:build unix

package main

import (
	"context"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"

	"github.com/ulysseses/raftlog/cluster"
	"github.com/ulysseses/raftlog/gateway"
	"github.com/ulysseses/raftlog/kvstore"
	"github.com/ulysseses/raftlog/pb"
)

const runMainEnv = "RAFTLOGD_TEST_RUN_MAIN"

// TestMain lets the harness start the test binary itself as raftlogd.
func TestMain(m *testing.M) {
	if os.Getenv(runMainEnv) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func Test_parsePeers(t *testing.T) {
	got, err := parsePeers([]string{"1=tcp://localhost:8001", "", "2=unix:///tmp/2.sock"})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{1: "tcp://localhost:8001", 2: "unix:///tmp/2.sock"}, got)

	for _, bad := range [][]string{
		{"tcp://localhost:8001"},
		{"0=tcp://localhost:8001"},
		{"x=tcp://localhost:8001"},
		{"1="},
		{"1=tcp://localhost:8001", "1=tcp://localhost:8002"},
	} {
		_, err := parsePeers(bad)
		assert.Error(t, err, "%v", bad)
	}
}

type testCluster struct {
	env     *cluster.Environment
	ids     []uint64
	uris    map[uint64]string
	clients map[uint64]pb.RaftClient
	dataDir string
}

func newTestCluster(t *testing.T, ids ...uint64) *testCluster {
	env := cluster.NewEnvironment(cluster.WithLogger(zaptest.NewLogger(t)), cluster.WithOutput(os.Stderr))
	t.Cleanup(func() { env.Close() })
	tc := &testCluster{
		env:     env,
		ids:     ids,
		uris:    map[uint64]string{},
		clients: map[uint64]pb.RaftClient{},
		dataDir: t.TempDir(),
	}
	for _, id := range ids {
		uri, err := env.NodeID(id)
		require.NoError(t, err)
		tc.uris[id] = uri

		target := gateway.DefaultResolver(uri)
		conn, err := grpc.NewClient(target.Addr, append(target.DialOptions, pb.DialOption())...)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		tc.clients[id] = pb.NewRaftClient(conn)
	}
	return tc
}

func (tc *testCluster) start(t *testing.T, id uint64) {
	exe, err := os.Executable()
	require.NoError(t, err)
	var peers []string
	for _, other := range tc.ids {
		peers = append(peers, strconv.FormatUint(other, 10)+"="+tc.uris[other])
	}
	cmd := cluster.NewNodeCommand(exe).
		WithEnv(runMainEnv+"=1").
		WithArgs(
			"--id", strconv.FormatUint(id, 10),
			"--peers", strings.Join(peers, ","),
			"--data-dir", tc.dataDir+"/"+strconv.FormatUint(id, 10),
			"--tick-period", "10ms",
			"--log-level", "warn",
		)
	require.NoError(t, tc.env.Start(id, cmd))
}

// leader waits until the nodes in ids agree on a leader among them.
func (tc *testCluster) leader(t *testing.T, ids []uint64) uint64 {
	leader, err := cluster.WaitForConsensus(30*time.Second, ids, func(id uint64) (uint64, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		info, err := tc.clients[id].ClusterInfo(ctx, &pb.ClusterInfoRequest{})
		if err != nil || !slices.Contains(ids, info.LeaderId) {
			return 0, false
		}
		return info.LeaderId, true
	})
	require.NoError(t, err)
	return leader
}

func Test_raftlogd_Cluster(t *testing.T) {
	if testing.Short() {
		t.Skip("starts processes")
	}
	ids := []uint64{1, 2, 3}
	tc := newTestCluster(t, ids...)
	for _, id := range ids {
		tc.start(t, id)
	}
	leader := tc.leader(t, ids)

	g := gateway.NewConnector(nil, gateway.WithProbeTimeout(10*time.Second)).Connect(tc.uris[1])
	defer g.Close()
	kv := kvstore.NewClient(g)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	require.NoError(t, kv.Set(ctx, "k", "1"))
	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// A paused follower does not stop the majority.
	var follower uint64
	for _, id := range ids {
		if id != leader {
			follower = id
			break
		}
	}
	require.NoError(t, tc.env.Pause(follower))
	require.NoError(t, kv.Set(ctx, "k", "2"))
	require.NoError(t, tc.env.Unpause(follower))

	// Leadership moves once the leader is gone, and the gateway follows it.
	require.NoError(t, tc.env.Stop(leader))
	var survivors []uint64
	for _, id := range ids {
		if id != leader {
			survivors = append(survivors, id)
		}
	}
	newLeader := tc.leader(t, survivors)
	assert.NotEqual(t, leader, newLeader)

	require.NoError(t, kv.Set(ctx, "k", "3"))
	v, _, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	// The stopped node restarts from its bolt log and catches up.
	tc.start(t, leader)
	assert.True(t, cluster.Eventually(30*time.Second, uint64(len(ids)), func() uint64 {
		c, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		info, err := tc.clients[leader].ClusterInfo(c, &pb.ClusterInfoRequest{})
		if err != nil || info.LeaderId == 0 {
			return 0
		}
		return uint64(len(info.Members))
	}))
	tc.leader(t, ids)
	v, _, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}
