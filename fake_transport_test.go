package raft

import (
	"fmt"
	"sort"

	"github.com/ulysseses/raftlog/pb"
)

// fakeTransport is an in-memory transport consisting of channels. Messages to a peer whose
// inbox is full are dropped, like the gRPC transport does.
type fakeTransport struct {
	recvChan chan pb.Message
	sendChan chan pb.Message
	id       uint64
	stopChan chan struct{}
	doneChan chan struct{}

	outboxes map[uint64]chan<- pb.Message
}

func (t *fakeTransport) recv() <-chan pb.Message {
	return t.recvChan
}

func (t *fakeTransport) send() chan<- pb.Message {
	return t.sendChan
}

func (t *fakeTransport) memberIDs() []uint64 {
	mIDs := []uint64{t.id}
	for pID := range t.outboxes {
		mIDs = append(mIDs, pID)
	}
	sort.Slice(mIDs, func(i, j int) bool { return mIDs[i] < mIDs[j] })
	return mIDs
}

func (t *fakeTransport) address(id uint64) string {
	return fmt.Sprintf("fake://%d", id)
}

func (t *fakeTransport) start() {
	go func() {
		defer close(t.doneChan)
		for {
			select {
			case <-t.stopChan:
				return
			case msg := <-t.sendChan:
				outbox, ok := t.outboxes[msg.To]
				if !ok {
					panic(fmt.Sprintf("unrecognized recipient: %d", msg.To))
				}
				select {
				case outbox <- msg:
				default:
				}
			}
		}
	}()
}

func (t *fakeTransport) stop() error {
	close(t.stopChan)
	<-t.doneChan
	return nil
}

// bind is symmetric and idempotent
func (t *fakeTransport) bind(peer *fakeTransport) {
	t.outboxes[peer.id] = peer.recvChan
	peer.outboxes[t.id] = t.recvChan
}

func newFakeTransport(id uint64, bufferSize int) *fakeTransport {
	return &fakeTransport{
		recvChan: make(chan pb.Message, bufferSize),
		sendChan: make(chan pb.Message, bufferSize),
		id:       id,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),

		outboxes: map[uint64]chan<- pb.Message{},
	}
}

func newFakeTransports(ids ...uint64) map[uint64]*fakeTransport {
	trs := map[uint64]*fakeTransport{}
	for _, id := range ids {
		trs[id] = newFakeTransport(id, 64*len(ids))
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			trs[ids[i]].bind(trs[ids[j]])
		}
	}

	return trs
}

// unboundTransport returns a transport for id whose peers are ids but whose messages go
// nowhere: the test reads sendChan and writes recvChan itself.
func unboundTransport(id uint64, ids ...uint64) *fakeTransport {
	t := newFakeTransport(id, 256)
	for _, pID := range ids {
		if pID != id {
			t.outboxes[pID] = nil
		}
	}
	return t
}
