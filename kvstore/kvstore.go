// Package kvstore is a key-value store replicated by a raftlog cluster.
//
// Store is the raft.Application run by every node. Client reaches the cluster over gRPC,
// typically through a gateway.Gateway so that it does not need to know which node leads.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc"

	"github.com/ulysseses/raftlog/pb"
)

// ErrEmptyKey is returned for commands without a key.
var ErrEmptyKey = errors.New("kvstore: empty key")

// Store is an in-memory key value store. It implements raft.Application.
type Store struct {
	sync.RWMutex
	store map[string]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{store: map[string]string{}}
}

// Apply implements raft.Application for Store.
func (s *Store) Apply(entries []pb.Entry) error {
	s.Lock()
	defer s.Unlock()
	var kv KV
	for _, entry := range entries {
		if len(entry.Data) == 0 {
			continue
		}
		if err := proto.Unmarshal(entry.Data, &kv); err != nil {
			return fmt.Errorf("kvstore: entry %d: %w", entry.Index, err)
		}
		switch kv.Op {
		case OpSet:
			s.store[kv.K] = kv.V
		case OpDelete:
			delete(s.store, kv.K)
		default:
			return fmt.Errorf("kvstore: entry %d: unknown op %v", entry.Index, kv.Op)
		}
	}
	return nil
}

// Query implements raft.Querier for Store. data is a marshaled Get; the answer is a
// marshaled Result.
func (s *Store) Query(data []byte) ([]byte, error) {
	var get Get
	if err := proto.Unmarshal(data, &get); err != nil {
		return nil, fmt.Errorf("kvstore: bad query: %w", err)
	}
	v, ok := s.Get(get.K)
	return proto.Marshal(&Result{V: v, Found: ok})
}

// Get reads the local replica without going through the cluster.
func (s *Store) Get(k string) (string, bool) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.store[k]
	return v, ok
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.store)
}

// Client sets and gets keys of a Store replicated by a cluster.
type Client struct {
	raft pb.RaftClient
}

// NewClient returns a Client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{raft: pb.NewRaftClient(cc)}
}

// Set sets k to v and returns once the command is applied on the leader.
func (c *Client) Set(ctx context.Context, k, v string) error {
	return c.propose(ctx, &KV{Op: OpSet, K: k, V: v})
}

// Delete removes k.
func (c *Client) Delete(ctx context.Context, k string) error {
	return c.propose(ctx, &KV{Op: OpDelete, K: k})
}

func (c *Client) propose(ctx context.Context, kv *KV) error {
	if kv.K == "" {
		return ErrEmptyKey
	}
	data, err := proto.Marshal(kv)
	if err != nil {
		return err
	}
	_, err = c.raft.Propose(ctx, &pb.ProposeRequest{Data: data})
	return err
}

// Get is a linearizable read of k.
func (c *Client) Get(ctx context.Context, k string) (v string, ok bool, err error) {
	data, err := proto.Marshal(&Get{K: k})
	if err != nil {
		return "", false, err
	}
	resp, err := c.raft.Query(ctx, &pb.QueryRequest{Data: data})
	if err != nil {
		return "", false, err
	}
	var res Result
	if err := proto.Unmarshal(resp.Data, &res); err != nil {
		return "", false, fmt.Errorf("kvstore: bad result: %w", err)
	}
	return res.V, res.Found, nil
}
