package raft

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ulysseses/raftlog/pb"
	"github.com/ulysseses/raftlog/storage"
)

// psmHarness drives a single ProtocolStateMachine by hand: the test plays every peer and
// fires the tickers.
type psmHarness struct {
	t         *testing.T
	psm       *ProtocolStateMachine
	tr        *fakeTransport
	store     *storage.MemoryStorage
	heartbeat *manualTicker
	election  *manualTicker
}

func newPSMHarness(t *testing.T, id uint64, ids []uint64, store *storage.MemoryStorage) *psmHarness {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	h := &psmHarness{
		t:         t,
		tr:        unboundTransport(id, ids...),
		store:     store,
		heartbeat: newManualTicker(),
		election:  newManualTicker(),
	}
	psm, err := NewProtocolConfig(
		id,
		WithStorage(store),
		WithHeartbeatTicker(h.heartbeat),
		WithElectionTicker(h.election),
		WithMaxEntriesPerMsg(2),
		WithProtocolLogger(zaptest.NewLogger(t)),
		WithProtocolDebug(true),
	).Build(h.tr)
	if err != nil {
		t.Fatal(err)
	}
	h.psm = psm
	psm.start()
	t.Cleanup(psm.stop)
	return h
}

func (h *psmHarness) deliver(msg pb.Message) {
	h.tr.recvChan <- msg
}

// expect returns the next message the state machine sent.
func (h *psmHarness) expect(typ pb.MessageType, to uint64) pb.Message {
	h.t.Helper()
	select {
	case msg := <-h.tr.sendChan:
		if msg.Type != typ || msg.To != to {
			h.t.Fatalf("want %v to %d, got %v", typ, to, msg.String())
		}
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatalf("timed out waiting for %v to %d", typ, to)
		return pb.Message{}
	}
}

// expectPair returns the messages sent to peers a and b, in either order.
func (h *psmHarness) expectPair(typ pb.MessageType, a, b uint64) (pb.Message, pb.Message) {
	h.t.Helper()
	got := map[uint64]pb.Message{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-h.tr.sendChan:
			if msg.Type != typ {
				h.t.Fatalf("want %v, got %v", typ, msg.String())
			}
			got[msg.To] = msg
		case <-time.After(5 * time.Second):
			h.t.Fatalf("timed out waiting for %v", typ)
		}
	}
	ma, okA := got[a]
	mb, okB := got[b]
	if !okA || !okB {
		h.t.Fatalf("want messages to %d and %d, got %v", a, b, got)
	}
	return ma, mb
}

func (h *psmHarness) expectQuiet() {
	h.t.Helper()
	select {
	case msg := <-h.tr.sendChan:
		h.t.Fatalf("unexpected message %v", msg.String())
	case <-time.After(20 * time.Millisecond):
	}
}

func (h *psmHarness) state() State {
	h.psm.stateReqChan <- stateReq{}
	return <-h.psm.stateRespChan
}

// elect makes node 1 of {1, 2, 3} leader of term 1 and commits its no-op entry.
func (h *psmHarness) elect() {
	h.t.Helper()
	h.election.fire()
	h.expectPair(pb.MsgVote, 2, 3)
	h.deliver(buildVoteResp(1, 2, 1, true))
	app2, _ := h.expectPair(pb.MsgApp, 2, 3)
	if len(app2.Entries) != 1 || app2.Entries[0].Index != 1 || len(app2.Entries[0].Data) != 0 {
		h.t.Fatalf("want the no-op entry at index 1, got %v", app2.String())
	}
	h.deliver(buildAppResp(1, 2, 1, 1, true))
	h.waitCommit(1)
}

// eventually polls the state until cond holds. Ticks and state requests race in the event
// loop, so a state read right after a tick may predate it.
func (h *psmHarness) eventually(cond func(State) bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := h.state()
		if cond(s) {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("state never satisfied the condition: %+v", s)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *psmHarness) waitCommit(i uint64) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.psm.commit.Load() < i {
		if time.Now().After(deadline) {
			h.t.Fatalf("commit did not reach %d", i)
		}
		time.Sleep(time.Millisecond)
	}
}

func Test_ProtocolStateMachine_Election(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)

	h.election.fire()
	v2, v3 := h.expectPair(pb.MsgVote, 2, 3)
	if v2.Term != 1 || v3.Term != 1 {
		t.Fatalf("want vote requests for term 1, got %d and %d", v2.Term, v3.Term)
	}
	if s := h.state(); s.Role != RoleCandidate || s.VotedFor != 1 {
		t.Fatalf("want candidate voting for itself, got %+v", s)
	}
	b, err := h.store.LoadBallot()
	if err != nil {
		t.Fatal(err)
	}
	if b != (pb.Ballot{Term: 1, VotedFor: 1}) {
		t.Fatalf("ballot not persisted: %+v", b)
	}

	// A rejection does not count.
	h.deliver(buildVoteResp(1, 3, 1, false))
	h.expectQuiet()
	if s := h.state(); s.Role != RoleCandidate {
		t.Fatalf("want candidate, got %v", s.Role)
	}

	h.deliver(buildVoteResp(1, 2, 1, true))
	h.expectPair(pb.MsgApp, 2, 3)
	s := h.state()
	if s.Role != RoleLeader || s.Leader != 1 || s.LastIndex != 1 || s.LogTerm != 1 {
		t.Fatalf("want leader with the no-op entry, got %+v", s)
	}
}

func Test_ProtocolStateMachine_ReplicateAndCommit(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.elect()
	if s := h.state(); s.Commit != 1 {
		t.Fatalf("want commit 1, got %d", s.Commit)
	}
	select {
	case <-h.psm.commitChan:
	default:
		t.Fatal("commit was not signaled")
	}

	respC := make(chan proposalResponse, 1)
	h.psm.propReqChan <- proposalRequest{data: []byte("x"), respC: respC}
	resp := <-respC
	if resp.err != nil || resp.index != 2 || resp.term != 1 {
		t.Fatalf("got %+v", resp)
	}
	// Both peers were optimistically sent the no-op, so both get the new entry right away.
	app, _ := h.expectPair(pb.MsgApp, 2, 3)
	if app.Index != 1 || app.LogTerm != 1 || len(app.Entries) != 1 || string(app.Entries[0].Data) != "x" {
		t.Fatalf("got %v", app.String())
	}
	h.expectQuiet()

	h.deliver(buildAppResp(1, 2, 1, 2, true))
	h.waitCommit(2)

	e, ok, err := h.store.GetEntry(2)
	if err != nil || !ok || string(e.Data) != "x" {
		t.Fatalf("entry 2 not stored: %v %v %v", e, ok, err)
	}
}

func Test_ProtocolStateMachine_BackoffBatches(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.elect()
	for i := 0; i < 4; i++ {
		respC := make(chan proposalResponse, 1)
		h.psm.propReqChan <- proposalRequest{data: []byte{byte(i)}, respC: respC}
		<-respC
		h.expectPair(pb.MsgApp, 2, 3)
	}

	// Node 3 has nothing: it rejects the no-op append with a hint of 0.
	h.deliver(buildAppResp(1, 3, 1, 0, false))
	app := h.expect(pb.MsgApp, 3)
	if app.Index != 0 || len(app.Entries) != 2 {
		t.Fatalf("want entries from index 1, batched by 2, got %v", app.String())
	}
	h.deliver(buildAppResp(1, 3, 1, 2, true))
	app = h.expect(pb.MsgApp, 3)
	if app.Index != 2 || len(app.Entries) != 2 || app.Entries[0].Index != 3 {
		t.Fatalf("want entries 3-4, got %v", app.String())
	}
}

func Test_ProtocolStateMachine_FollowerTruncatesConflicts(t *testing.T) {
	store := storage.NewMemory()
	for i := uint64(1); i <= 3; i++ {
		if err := store.InsertEntry(i, pb.Entry{Term: 1, Data: []byte{byte(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SaveBallot(pb.Ballot{Term: 1}); err != nil {
		t.Fatal(err)
	}
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, store)
	if s := h.state(); s.LastIndex != 3 || s.LogTerm != 1 || s.Term != 1 {
		t.Fatalf("state not recovered from storage: %+v", s)
	}

	h.deliver(buildApp(2, 2, 1, 1, 1, 2, []pb.Entry{{Index: 2, Term: 2, Data: []byte("new")}}))
	resp := h.expect(pb.MsgAppResp, 2)
	if !resp.Success || resp.Index != 2 {
		t.Fatalf("got %v", resp.String())
	}
	s := h.state()
	if s.Role != RoleFollower || s.Leader != 2 || s.Term != 2 || s.LastIndex != 2 || s.LogTerm != 2 || s.Commit != 2 {
		t.Fatalf("got %+v", s)
	}
	if _, ok, _ := store.GetEntry(3); ok {
		t.Fatal("conflicting entry 3 was not deleted")
	}
	if e, _, _ := store.GetEntry(2); string(e.Data) != "new" {
		t.Fatalf("entry 2 not replaced: %v", e)
	}
}

func Test_ProtocolStateMachine_FollowerRejectsGap(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.deliver(buildApp(1, 2, 1, 5, 1, 5, []pb.Entry{{Index: 6, Term: 1}}))
	resp := h.expect(pb.MsgAppResp, 2)
	if resp.Success || resp.Index != 0 {
		t.Fatalf("want rejection hinting at index 0, got %v", resp.String())
	}
}

func Test_ProtocolStateMachine_Vote(t *testing.T) {
	store := storage.NewMemory()
	if err := store.InsertEntry(1, pb.Entry{Term: 2}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveBallot(pb.Ballot{Term: 2}); err != nil {
		t.Fatal(err)
	}
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, store)

	// Candidate 2's log ends in an older term.
	h.deliver(buildVote(3, 2, 1, 5, 1))
	if resp := h.expect(pb.MsgVoteResp, 2); resp.Success {
		t.Fatal("granted a vote to a candidate with a stale log")
	}

	// Candidate 3 is up to date.
	h.deliver(buildVote(3, 3, 1, 1, 2))
	if resp := h.expect(pb.MsgVoteResp, 3); !resp.Success || resp.Term != 3 {
		t.Fatalf("want vote granted in term 3, got %v", resp.String())
	}
	b, err := store.LoadBallot()
	if err != nil {
		t.Fatal(err)
	}
	if b != (pb.Ballot{Term: 3, VotedFor: 3}) {
		t.Fatalf("vote not persisted: %+v", b)
	}

	// One vote per term.
	h.deliver(buildVote(3, 2, 1, 1, 2))
	if resp := h.expect(pb.MsgVoteResp, 2); resp.Success {
		t.Fatal("voted twice in one term")
	}
}

func Test_ProtocolStateMachine_ProposeAsFollower(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.deliver(buildApp(1, 3, 1, 0, 0, 0, nil))
	h.expect(pb.MsgAppResp, 3)

	respC := make(chan proposalResponse, 1)
	h.psm.propReqChan <- proposalRequest{data: []byte("x"), respC: respC}
	var nle *NotLeaderError
	if err := (<-respC).err; !errors.As(err, &nle) || nle.Leader != 3 {
		t.Fatalf("want NotLeaderError naming 3, got %v", err)
	}
}

func Test_ProtocolStateMachine_ReadIndex(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.elect()
	h.expectQuiet()

	respC := make(chan readResponse, 1)
	h.psm.readReqChan <- readRequest{respC: respC}
	r2, _ := h.expectPair(pb.MsgApp, 2, 3)
	if r2.Proxy != 1 || r2.Tid == 0 {
		t.Fatalf("want a read heartbeat, got %v", r2.String())
	}
	select {
	case resp := <-respC:
		t.Fatalf("read answered before a quorum confirmed leadership: %+v", resp)
	default:
	}

	h.deliver(buildAppRespRead(1, 3, 1, r2.Tid, 1))
	select {
	case resp := <-respC:
		if resp.err != nil || resp.index != 1 {
			t.Fatalf("got %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read was not answered")
	}
}

func Test_ProtocolStateMachine_ReadBeforeNoopCommits(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.election.fire()
	h.expectPair(pb.MsgVote, 2, 3)
	h.deliver(buildVoteResp(1, 2, 1, true))
	h.expectPair(pb.MsgApp, 2, 3)

	respC := make(chan readResponse, 1)
	h.psm.readReqChan <- readRequest{respC: respC}
	if err := (<-respC).err; !errors.Is(err, ErrLeaderNotReady) {
		t.Fatalf("want ErrLeaderNotReady, got %v", err)
	}
}

func Test_ProtocolStateMachine_StepDownFailsReads(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.elect()
	h.expectQuiet()

	respC := make(chan readResponse, 1)
	h.psm.readReqChan <- readRequest{respC: respC}
	h.expectPair(pb.MsgApp, 2, 3)

	// A newer leader appears.
	h.deliver(buildApp(2, 3, 1, 1, 1, 1, nil))
	var nle *NotLeaderError
	if err := (<-respC).err; !errors.As(err, &nle) || nle.Leader != 3 {
		t.Fatalf("want NotLeaderError naming 3, got %v", err)
	}
	if s := h.state(); s.Role != RoleFollower || s.Term != 2 {
		t.Fatalf("got %+v", s)
	}
}

func Test_ProtocolStateMachine_LeaderStepsDownWithoutQuorum(t *testing.T) {
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, nil)
	h.elect()

	// Node 2 acknowledged the no-op within this election timeout.
	h.election.fire()
	if s := h.state(); s.Role != RoleLeader {
		t.Fatalf("want leader, got %v", s.Role)
	}
	// Nobody acknowledged anything since.
	h.election.fire()
	h.eventually(func(s State) bool { return s.Role == RoleFollower && s.Leader == 0 })
}

func Test_ProtocolStateMachine_StorageFailureStops(t *testing.T) {
	store := storage.NewMemory()
	h := newPSMHarness(t, 1, []uint64{1, 2, 3}, store)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	h.election.fire()
	select {
	case <-h.psm.doneChan:
	case <-time.After(5 * time.Second):
		t.Fatal("state machine kept running after a storage failure")
	}
	if err := h.psm.Err(); !errors.Is(err, storage.ErrStorageIO) {
		t.Fatalf("want ErrStorageIO, got %v", err)
	}
}
