package raft

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Role can be follower, candidate, or leader.
type Role uint8

const (
	// RoleFollower is the follower role.
	RoleFollower Role = iota
	// RoleCandidate is the candidate role.
	RoleCandidate
	// RoleLeader is the leader role.
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MarshalJSON implements json.Marshaler for Role
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, r.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler for Role
func (r *Role) UnmarshalJSON(b []byte) error {
	var j string
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	switch strings.ToLower(j) {
	case "follower":
		*r = RoleFollower
	case "candidate":
		*r = RoleCandidate
	case "leader":
		*r = RoleLeader
	default:
		return fmt.Errorf("unrecognized role: %s", j)
	}
	return nil
}

// State contains all state of a Node.
type State struct {
	// id
	ID uint64

	// quorum size
	QuorumSize int

	// cluster size
	ClusterSize int

	// role
	Role Role

	// current term
	Term uint64

	// who this node thinks currently is the leader.
	Leader uint64

	// committed index
	Commit uint64

	// who this node voted for in Term
	VotedFor uint64

	// last index of this node's log
	LastIndex uint64

	// term of the entry at LastIndex
	LogTerm uint64

	// number of reads awaiting leadership confirmation
	PendingReads int
}

// MarshalLogObject implements zap.Marshaler for State.
func (s State) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("id", s.ID)
	enc.AddInt("quorumSize", s.QuorumSize)
	enc.AddInt("clusterSize", s.ClusterSize)
	enc.AddString("role", s.Role.String())
	enc.AddUint64("term", s.Term)
	enc.AddUint64("leader", s.Leader)
	enc.AddUint64("commit", s.Commit)
	enc.AddUint64("votedFor", s.VotedFor)
	enc.AddUint64("lastIndex", s.LastIndex)
	enc.AddUint64("logTerm", s.LogTerm)
	enc.AddInt("pendingReads", s.PendingReads)
	return nil
}

// MemberState contains all info about a member node from the perspective of
// this node.
type MemberState struct {
	// peer node's ID
	ID uint64

	// last known largest index that this peer matches this node's log
	Match uint64

	// index of the next entry to send to the peer
	Next uint64

	// whether or not the peer responded to the leader within the election timeout
	Ack bool

	// vote was granted to elect us by this peer
	VoteGranted bool
}

// MarshalLogObject implements zap.Marshaler for MemberState.
func (m MemberState) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("id", m.ID)
	enc.AddUint64("match", m.Match)
	enc.AddUint64("next", m.Next)
	enc.AddBool("ack", m.Ack)
	enc.AddBool("voteGranted", m.VoteGranted)
	return nil
}
