package raft

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// appliedIndex is the highest log index applied to the Application. It is written by the
// apply path only and never regresses. Waiters fetch notify() before reading the value, so a
// missed advance is at most one broadcast late.
type appliedIndex struct {
	v atomic.Uint64

	mu      sync.Mutex
	notifyC chan struct{}
}

func newAppliedIndex() *appliedIndex {
	return &appliedIndex{notifyC: make(chan struct{})}
}

// Load returns the applied index.
func (a *appliedIndex) Load() uint64 {
	return a.v.Load()
}

// advance raises the applied index to i and wakes every waiter. It returns false and leaves
// the index untouched if i does not exceed it.
func (a *appliedIndex) advance(i uint64) bool {
	for {
		old := a.v.Load()
		if i <= old {
			return false
		}
		if a.v.CompareAndSwap(old, i) {
			break
		}
	}
	a.broadcast()
	return true
}

// notify returns a channel closed on the next advance.
func (a *appliedIndex) notify() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notifyC
}

func (a *appliedIndex) broadcast() {
	a.mu.Lock()
	close(a.notifyC)
	a.notifyC = make(chan struct{})
	a.mu.Unlock()
}

// wait blocks until the applied index reaches i.
func (a *appliedIndex) wait(ctx context.Context, i uint64, stopC <-chan struct{}) error {
	for {
		notifyC := a.notify()
		if a.Load() >= i {
			return nil
		}
		select {
		case <-notifyC:
		case <-stopC:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
