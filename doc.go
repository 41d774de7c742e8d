// Package raft implements a replicated log on the Raft consensus algorithm
// (See https://raft.github.io/).
//
// The log and the node's ballot (current term and vote) live in a storage.Storage, so a node
// restarted on a bolt store rejoins with its history. Writes go through Node.Propose on the
// leader. Reads go through Node.Query, which confirms leadership with a quorum, then waits
// until the Application has applied everything committed before answering, which makes
// queries linearizable. Requests sent to a follower fail with a *NotLeaderError naming the
// leader; the gateway package follows those redirects for gRPC clients.
//
// End-users of the raft package should configure the Raft cluster and then
// run the Raft cluster as follows:
//
//	func main() {
//	  id := uint64(1)
//	  addresses := map[uint64]string{
//	    1: "tcp://localhost:8001",
//	    2: "tcp://localhost:8002",
//	    3: "tcp://localhost:8003",
//	  }
//	  tr, err := raft.NewTransportConfig(id, addresses).Build()
//	  if err != nil {
//	    log.Fatal(err)
//	  }
//	  s, err := storage.OpenBolt("/var/lib/raftlog/raft.db", nil)
//	  if err != nil {
//	    log.Fatal(err)
//	  }
//	  psm, err := raft.NewProtocolConfig(id, raft.WithStorage(s)).Build(tr)
//	  if err != nil {
//	    log.Fatal(err)
//	  }
//	  app := newApplication()
//	  node, err := raft.NewNodeConfig(id).Build(psm, tr, app)
//	  if err != nil {
//	    log.Fatal(err)
//	  }
//
//	  node.Start()
//	  defer node.Stop()
//
//	  // Here, app can interact with node by calling node.Propose() and node.Query()
//	  // ...
//	}
//
// See cmd/raftlogd for a node daemon serving the kvstore application, and
// examples/kvstore/server for an HTTP front-end that reaches it through a gateway.
package raft
