package cluster

import (
	"errors"
	"time"
)

// ErrConsensusNotReached is returned by WaitForConsensus when the nodes did not agree in time.
var ErrConsensusNotReached = errors.New("cluster: consensus not reached")

const pollInterval = 10 * time.Millisecond

// WaitForConsensus evaluates f on every node until all of them return the same value, and
// returns it. A node returning ok == false has no value, which prevents consensus.
func WaitForConsensus[T comparable](
	timeout time.Duration,
	ids []uint64,
	f func(id uint64) (v T, ok bool),
) (T, error) {
	var zero T
	if len(ids) == 0 {
		return zero, ErrConsensusNotReached
	}
	deadline := time.Now().Add(timeout)
	for {
		if v, ok := agree(ids, f); ok {
			return v, nil
		}
		if !time.Now().Before(deadline) {
			return zero, ErrConsensusNotReached
		}
		time.Sleep(pollInterval)
	}
}

func agree[T comparable](ids []uint64, f func(uint64) (T, bool)) (T, bool) {
	first, ok := f(ids[0])
	if !ok {
		return first, false
	}
	for _, id := range ids[1:] {
		v, ok := f(id)
		if !ok || v != first {
			return first, false
		}
	}
	return first, true
}

// Eventually evaluates f until it returns want, reporting whether it did before the timeout.
func Eventually[T comparable](timeout time.Duration, want T, f func() T) bool {
	deadline := time.Now().Add(timeout)
	for {
		if f() == want {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
