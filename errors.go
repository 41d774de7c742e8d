package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLeader is returned when the node does not know of a leader to serve the request.
	ErrNoLeader = errors.New("raft: no known leader")

	// ErrStopped is returned for requests made to, or left pending on, a stopped node.
	ErrStopped = errors.New("raft: node stopped")

	// ErrQueryUnresolved resolves queries still pending when the node shuts down.
	ErrQueryUnresolved = errors.New("raft: query unresolved at shutdown")

	// ErrProposalDropped is returned when a proposal was overwritten by another leader's entry
	// before it could commit.
	ErrProposalDropped = errors.New("raft: proposal dropped")

	// ErrLeaderNotReady is returned for reads served by a leader that has not yet committed an
	// entry of its own term, so its commit index may be stale.
	ErrLeaderNotReady = errors.New("raft: leader has not committed an entry in its term")
)

// NotLeaderError is returned by requests that only the leader can serve. Leader is 0 if this
// node does not know the current leader.
type NotLeaderError struct {
	Leader uint64
	Addr   string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == 0 {
		return "raft: not leader, leader unknown"
	}
	return fmt.Sprintf("raft: not leader, leader is %d at %s", e.Leader, e.Addr)
}

// Is makes a NotLeaderError with no known leader match ErrNoLeader.
func (e *NotLeaderError) Is(target error) bool {
	return target == ErrNoLeader && e.Leader == 0
}
