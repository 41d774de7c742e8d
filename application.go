package raft

import (
	"github.com/ulysseses/raftlog/pb"
)

// Application applies the committed raft entries and answers queries against the applied
// state. Applications interfacing with the Raft node must implement this interface.
type Application interface {
	// Apply applies the newly committed entries to the application, in index order. Entries
	// with empty Data are appended by new leaders and carry no command.
	Apply(entries []pb.Entry) error

	Querier
}
