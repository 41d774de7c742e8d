package raft

import (
	"fmt"
	"sort"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ulysseses/raftlog/pb"
	"github.com/ulysseses/raftlog/storage"
)

// ProtocolStateMachine represents the Raft Protocol state machine of a Raft node.
// It has a central event loop that interacts with a heartbeat ticker, election ticker,
// and Raft protocol messages sent/received over the transport network.
//
// The log and the ballot live in a storage.Storage. The ballot is saved before the state
// machine acts on a new term or vote, and entries are durable before they are acknowledged.
// A storage failure stops the event loop; Err reports it.
type ProtocolStateMachine struct {
	// ticker
	heartbeatTicker Ticker
	electionTicker  Ticker
	heartbeatC      <-chan struct{}

	// network io
	recvChan <-chan pb.Message
	sendChan chan<- pb.Message

	// proposals
	propReqChan chan proposalRequest

	// reads
	readReqChan chan readRequest

	// applies; notifications are coalesced, commit holds the latest value
	commitChan chan struct{}
	commit     atomic.Uint64

	// state requests
	stateReqChan  chan stateReq
	stateRespChan chan State

	// members requests
	membersReqChan  chan membersRequest
	membersRespChan chan map[uint64]MemberState

	// raft state
	state   State
	members map[uint64]*MemberState
	reads   map[int64]*pendingRead
	readTID int64

	storage                storage.Storage
	maxEntriesPerMsg       uint64
	quorumMatchIndexBuffer []uint64
	stopChan               chan struct{}
	doneChan               chan struct{}
	err                    error

	metrics *metrics
	logger  *zap.Logger
	debug   bool
}

func (psm *ProtocolStateMachine) run() {
	defer close(psm.doneChan)
	defer psm.failReads(ErrStopped)

	electionTickerC := psm.electionTicker.C()
	for {
		var err error
		select {
		case <-psm.stopChan:
			return
		case <-psm.heartbeatC: // heartbeatC is nil when not leader
			err = psm.heartbeat()
		case <-electionTickerC:
			err = psm.electionTimeout()
		case msg := <-psm.recvChan:
			err = psm.processMessage(msg)
		case req := <-psm.propReqChan:
			err = psm.propose(req)
		case req := <-psm.readReqChan:
			err = psm.read(req)
		case <-psm.stateReqChan:
			psm.stateRespChan <- psm.snapshot()
		case <-psm.membersReqChan:
			members := map[uint64]MemberState{}
			for _, m := range psm.members {
				members[m.ID] = *m
			}
			psm.membersRespChan <- members
		}
		if err != nil {
			psm.err = err
			if psm.l() {
				psm.logger.Error(
					"stopping raft state machine on storage failure",
					zap.Error(err), zap.Object("state", psm.state))
			}
			return
		}
	}
}

func (psm *ProtocolStateMachine) snapshot() State {
	s := psm.state
	s.PendingReads = len(psm.reads)
	return s
}

func (psm *ProtocolStateMachine) electionTimeout() error {
	if psm.state.Role != RoleLeader {
		return psm.becomeCandidate()
	}
	// Step down to follower role if could not establish quorum
	if !psm.hasQuorumAcks() {
		if psm.l() {
			psm.logger.Info("no heartbeats received within election timeout")
		}
		if err := psm.becomeFollower(psm.state.Term, 0); err != nil {
			return err
		}
	}
	// Reset acks
	for _, m := range psm.members {
		m.Ack = false
	}
	return nil
}

func (psm *ProtocolStateMachine) hasQuorumAcks() bool {
	acks := 0
	for _, m := range psm.members {
		if m.ID == psm.state.ID || m.Ack {
			acks++
		}
	}
	return acks >= psm.state.QuorumSize
}

func (psm *ProtocolStateMachine) processMessage(msg pb.Message) error {
	if _, ok := psm.members[msg.From]; !ok || msg.From == psm.state.ID {
		if psm.l() {
			psm.logger.Warn("dropping msg from unknown member", msgZapFields(msg)...)
		}
		return nil
	}
	if msg.Term < psm.state.Term {
		if psm.debug && psm.l() {
			psm.logger.Debug(
				"ignoring stale msg",
				zap.Uint64("from", msg.From), zap.String("type", msg.Type.String()))
		}
		return nil
	}
	if msg.Term > psm.state.Term {
		if psm.l() {
			psm.logger.Info("received msg with higher term", zap.Uint64("msgTerm", msg.Term))
		}
		var leader uint64
		if msg.Type == pb.MsgApp {
			leader = msg.From
		}
		if err := psm.becomeFollower(msg.Term, leader); err != nil {
			return err
		}
	}

	switch msg.Type {
	case pb.MsgApp:
		return psm.processApp(getApp(msg))
	case pb.MsgAppResp:
		return psm.processAppResp(getAppResp(msg))
	case pb.MsgVote:
		return psm.processVote(getVote(msg))
	case pb.MsgVoteResp:
		return psm.processVoteResp(getVoteResp(msg))
	default:
		if psm.l() {
			psm.logger.Warn("unrecognized msg type", msgZapFields(msg)...)
		}
		return nil
	}
}

func (psm *ProtocolStateMachine) processApp(msg msgApp) error {
	switch psm.state.Role {
	case RoleLeader:
		if psm.l() {
			psm.logger.Error("received append from another leader of the same term", zap.Uint64("from", msg.from))
		}
		return nil
	case RoleCandidate:
		if err := psm.becomeFollower(msg.term, msg.from); err != nil {
			return err
		}
	case RoleFollower:
		psm.setLeader(msg.from)
		psm.electionTicker.Reset()
	}

	if msg.proxy != 0 {
		// leadership confirmation for a read on the leader
		psm.sendChan <- buildAppRespRead(
			psm.state.Term, psm.state.ID, msg.from,
			msg.tid, msg.proxy)
		return nil
	}

	// Log matching: the entry preceding the appended ones must be present with the same term.
	if msg.index > psm.state.LastIndex {
		psm.sendChan <- buildAppResp(
			psm.state.Term, psm.state.ID, msg.from,
			psm.state.LastIndex, false)
		return nil
	}
	prevTerm, err := psm.termAt(msg.index)
	if err != nil {
		return err
	}
	if prevTerm != msg.logTerm {
		if psm.debug && psm.l() {
			psm.logger.Debug(
				"log mismatch",
				zap.Uint64("index", msg.index),
				zap.Uint64("logTerm", prevTerm), zap.Uint64("msgLogTerm", msg.logTerm))
		}
		psm.sendChan <- buildAppResp(
			psm.state.Term, psm.state.ID, msg.from,
			msg.index-1, false)
		return nil
	}

	match, err := psm.appendEntries(msg.index, msg.entries)
	if err != nil {
		return err
	}
	newCommit := msg.commit
	if newCommit > match {
		newCommit = match
	}
	if newCommit > psm.state.Commit {
		psm.updateCommit(newCommit)
	}
	psm.sendChan <- buildAppResp(
		psm.state.Term, psm.state.ID, msg.from,
		match, true)
	return nil
}

// appendEntries writes the entries following prevIndex, truncating any conflicting suffix, and
// returns the index of the last entry known to match the leader.
func (psm *ProtocolStateMachine) appendEntries(prevIndex uint64, entries []pb.Entry) (uint64, error) {
	var toInsert []pb.Entry
	for i, e := range entries {
		if e.Index <= psm.state.LastIndex {
			t, err := psm.termAt(e.Index)
			if err != nil {
				return 0, err
			}
			if t == e.Term {
				continue
			}
			if e.Index <= psm.state.Commit {
				return 0, fmt.Errorf("raft: conflicting entry at committed index %d", e.Index)
			}
			if err := psm.truncate(e.Index); err != nil {
				return 0, err
			}
		}
		toInsert = entries[i:]
		break
	}

	if len(toInsert) > 0 {
		if err := psm.storage.InsertEntries(toInsert); err != nil {
			return 0, err
		}
		last := toInsert[len(toInsert)-1]
		psm.state.LastIndex, psm.state.LogTerm = last.Index, last.Term
	}
	return prevIndex + uint64(len(entries)), nil
}

// truncate deletes the entries in [from, LastIndex].
func (psm *ProtocolStateMachine) truncate(from uint64) error {
	if psm.l() {
		psm.logger.Info(
			"truncating log",
			zap.Uint64("from", from), zap.Uint64("lastIndex", psm.state.LastIndex))
	}
	for i := psm.state.LastIndex; i >= from; i-- {
		if err := psm.storage.DeleteEntry(i); err != nil {
			return err
		}
	}
	t, err := psm.storedTerm(from - 1)
	if err != nil {
		return err
	}
	psm.state.LastIndex, psm.state.LogTerm = from-1, t
	return nil
}

func (psm *ProtocolStateMachine) processAppResp(msg msgAppResp) error {
	if psm.state.Role != RoleLeader {
		return nil
	}

	m := psm.members[msg.from]
	m.Ack = true

	if msg.proxy != 0 {
		psm.ackReads(msg.tid, msg.from)
		return nil
	}

	if msg.success {
		if msg.index > m.Match {
			m.Match = msg.index
		}
		if m.Next <= m.Match {
			m.Next = m.Match + 1
		}
		if err := psm.advanceCommit(); err != nil {
			return err
		}
		if m.Next <= psm.state.LastIndex {
			return psm.sendAppend(m)
		}
		return nil
	}

	// msg.index is the last index the follower may share with us.
	next := msg.index + 1
	if next >= m.Next {
		next = m.Next - 1
	}
	if next < 1 {
		next = 1
	}
	m.Next = next
	if m.Match >= m.Next {
		m.Match = m.Next - 1
	}
	if psm.debug && psm.l() {
		psm.logger.Debug(
			"decreased next",
			zap.Uint64("follower", m.ID), zap.Uint64("newNext", m.Next))
	}
	return psm.sendAppend(m)
}

func (psm *ProtocolStateMachine) processVote(msg msgVote) error {
	upToDate := msg.logTerm > psm.state.LogTerm ||
		(msg.logTerm == psm.state.LogTerm && msg.index >= psm.state.LastIndex)
	grantVote := psm.state.Role == RoleFollower &&
		(psm.state.VotedFor == 0 || psm.state.VotedFor == msg.from) &&
		upToDate
	if grantVote {
		if psm.state.VotedFor != msg.from {
			psm.state.VotedFor = msg.from
			if err := psm.saveBallot(); err != nil {
				return err
			}
		}
		psm.electionTicker.Reset()
		if psm.l() {
			psm.logger.Info(
				"voted for candidate",
				zap.Uint64("votedFor", psm.state.VotedFor), zap.Uint64("term", psm.state.Term))
		}
	}
	psm.sendChan <- buildVoteResp(psm.state.Term, psm.state.ID, msg.from, grantVote)
	return nil
}

func (psm *ProtocolStateMachine) processVoteResp(msg msgVoteResp) error {
	if psm.state.Role != RoleCandidate || !msg.granted {
		return nil
	}
	if psm.l() {
		psm.logger.Info("got vote", zap.Uint64("from", msg.from), zap.Uint64("term", msg.term))
	}
	psm.members[msg.from].VoteGranted = true
	voteCount := 0
	for _, m := range psm.members {
		if m.VoteGranted {
			voteCount++
		}
	}
	if voteCount >= psm.state.QuorumSize {
		return psm.becomeLeader()
	}
	return nil
}

func (psm *ProtocolStateMachine) propose(req proposalRequest) error {
	if psm.debug && psm.l() {
		psm.logger.Debug("proposing")
	}
	if psm.state.Role != RoleLeader {
		req.respC <- proposalResponse{err: &NotLeaderError{Leader: psm.state.Leader}}
		return nil
	}

	entry := pb.Entry{
		Index: psm.state.LastIndex + 1,
		Term:  psm.state.Term,
		Data:  req.data,
	}
	if err := psm.appendAsLeader(entry); err != nil {
		req.respC <- proposalResponse{err: err}
		return err
	}
	req.respC <- proposalResponse{index: entry.Index, term: entry.Term}

	// Replicate right away to peers that are caught up; the rest catch up on responses and
	// heartbeats.
	for _, m := range psm.members {
		if m.ID != psm.state.ID && m.Next == entry.Index {
			if err := psm.sendAppend(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (psm *ProtocolStateMachine) appendAsLeader(entry pb.Entry) error {
	if err := psm.storage.InsertEntry(entry.Index, entry); err != nil {
		return err
	}
	psm.state.LastIndex, psm.state.LogTerm = entry.Index, entry.Term
	psm.members[psm.state.ID].Match = entry.Index
	// shortcut: 1-node cluster
	if psm.state.QuorumSize == 1 {
		return psm.advanceCommit()
	}
	return nil
}

// read records the commit index as the read index and confirms leadership with a quorum of
// read heartbeats before handing it back.
func (psm *ProtocolStateMachine) read(req readRequest) error {
	if psm.debug && psm.l() {
		psm.logger.Debug("incoming read request")
	}
	if psm.state.Role != RoleLeader {
		req.respC <- readResponse{err: &NotLeaderError{Leader: psm.state.Leader}}
		return nil
	}
	commitTerm, err := psm.termAt(psm.state.Commit)
	if err != nil {
		req.respC <- readResponse{err: err}
		return err
	}
	if commitTerm != psm.state.Term {
		req.respC <- readResponse{err: ErrLeaderNotReady}
		return nil
	}

	// shortcut: 1-node cluster
	if psm.state.QuorumSize == 1 {
		req.respC <- readResponse{index: psm.state.Commit}
		return nil
	}

	psm.readTID++
	psm.reads[psm.readTID] = &pendingRead{
		index: psm.state.Commit,
		acks:  map[uint64]struct{}{},
		respC: req.respC,
	}
	psm.heartbeatRead(psm.readTID)
	return nil
}

// ackReads records that peer confirmed our leadership at read tid, and therefore also for
// every read registered before it.
func (psm *ProtocolStateMachine) ackReads(tid int64, peer uint64) {
	for id, r := range psm.reads {
		if id > tid {
			continue
		}
		r.acks[peer] = struct{}{}
		if len(r.acks)+1 >= psm.state.QuorumSize {
			r.respC <- readResponse{index: r.index}
			delete(psm.reads, id)
		}
	}
}

func (psm *ProtocolStateMachine) failReads(err error) {
	for id, r := range psm.reads {
		r.respC <- readResponse{err: err}
		delete(psm.reads, id)
	}
}

func (psm *ProtocolStateMachine) becomeFollower(term, leader uint64) error {
	if term > psm.state.Term {
		psm.state.Term = term
		psm.state.VotedFor = 0
		if err := psm.saveBallot(); err != nil {
			return err
		}
	}
	if psm.state.Role != RoleFollower && psm.l() {
		psm.logger.Info("becoming follower", zap.Uint64("term", psm.state.Term))
	}
	psm.heartbeatC = nil
	psm.electionTicker.Reset()
	psm.state.Role = RoleFollower
	psm.setLeader(leader)
	for _, m := range psm.members {
		m.VoteGranted = false
	}
	psm.failReads(&NotLeaderError{Leader: leader})
	psm.metrics.observeState(psm.state)
	return nil
}

func (psm *ProtocolStateMachine) becomeCandidate() error {
	if psm.l() {
		psm.logger.Info("becoming candidate", zap.Uint64("newTerm", psm.state.Term+1))
	}
	psm.heartbeatC = nil
	psm.state.Role = RoleCandidate
	psm.setLeader(0)
	psm.state.Term++
	psm.state.VotedFor = psm.state.ID
	if err := psm.saveBallot(); err != nil {
		return err
	}
	psm.metrics.elections.Inc()
	psm.metrics.observeState(psm.state)

	// Send vote requests to other peers
	for _, m := range psm.members {
		if psm.state.ID == m.ID {
			m.VoteGranted = true
			continue
		}
		m.VoteGranted = false
		psm.sendChan <- buildVote(
			psm.state.Term, psm.state.ID, m.ID,
			psm.state.LastIndex, psm.state.LogTerm)
	}

	// shortcut: 1-node cluster
	if psm.state.QuorumSize == 1 {
		if psm.l() {
			psm.logger.Info("1-node cluster shortcut: become leader instantly")
		}
		return psm.becomeLeader()
	}
	return nil
}

func (psm *ProtocolStateMachine) becomeLeader() error {
	if psm.l() {
		psm.logger.Info("becoming leader", zap.Uint64("term", psm.state.Term))
	}
	psm.state.Role = RoleLeader
	psm.setLeader(psm.state.ID)
	for _, m := range psm.members {
		m.VoteGranted = false
		m.Next = psm.state.LastIndex + 1
		m.Match = 0
		m.Ack = false
	}
	psm.metrics.observeState(psm.state)

	// Commit an (empty) entry from the newly elected term so that earlier entries, and the
	// commit index used for reads, become current.
	err := psm.appendAsLeader(pb.Entry{
		Index: psm.state.LastIndex + 1,
		Term:  psm.state.Term,
	})
	if err != nil {
		return err
	}
	if err := psm.heartbeat(); err != nil {
		return err
	}
	psm.heartbeatTicker.Reset()
	psm.heartbeatC = psm.heartbeatTicker.C()
	return nil
}

func (psm *ProtocolStateMachine) heartbeat() error {
	for _, m := range psm.members {
		if psm.state.ID == m.ID {
			continue
		}
		if err := psm.sendAppend(m); err != nil {
			return err
		}
	}
	// Re-confirm reads whose confirmations may have been dropped.
	if len(psm.reads) > 0 {
		psm.heartbeatRead(psm.readTID)
	}
	return nil
}

// sendAppend sends m the entries from m.Next on, up to maxEntriesPerMsg of them, and
// optimistically advances m.Next past them.
func (psm *ProtocolStateMachine) sendAppend(m *MemberState) error {
	prevIndex := m.Next - 1
	prevTerm, err := psm.termAt(prevIndex)
	if err != nil {
		return err
	}
	var entries []pb.Entry
	if m.Next <= psm.state.LastIndex {
		hi := psm.state.LastIndex
		if hi-m.Next+1 > psm.maxEntriesPerMsg {
			hi = m.Next + psm.maxEntriesPerMsg - 1
		}
		entries, err = psm.storage.Entries(m.Next, hi)
		if err != nil {
			return err
		}
		m.Next = hi + 1
	}
	psm.sendChan <- buildApp(
		psm.state.Term, psm.state.ID, m.ID,
		prevIndex, prevTerm, psm.state.Commit,
		entries)
	return nil
}

func (psm *ProtocolStateMachine) heartbeatRead(tid int64) {
	for _, m := range psm.members {
		if psm.state.ID == m.ID {
			continue
		}
		psm.sendChan <- buildAppRead(
			psm.state.Term, psm.state.ID, m.ID,
			psm.state.Commit, tid)
	}
}

// advanceCommit commits the largest index replicated on a quorum, if it is from the current term.
func (psm *ProtocolStateMachine) advanceCommit() error {
	idx := psm.quorumMatchIndex()
	if idx <= psm.state.Commit {
		return nil
	}
	t, err := psm.termAt(idx)
	if err != nil {
		return err
	}
	if t == psm.state.Term {
		psm.updateCommit(idx)
	}
	return nil
}

// Figure out the largest match index of a quorum so far.
func (psm *ProtocolStateMachine) quorumMatchIndex() uint64 {
	matches := psm.quorumMatchIndexBuffer
	i := 0
	for _, m := range psm.members {
		if psm.state.ID == m.ID {
			matches[i] = psm.state.LastIndex
		} else {
			matches[i] = m.Match
		}
		i++
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i] > matches[j]
	})
	return matches[psm.state.QuorumSize-1]
}

// update commit and alert downstream application state machine
func (psm *ProtocolStateMachine) updateCommit(newCommit uint64) {
	if psm.debug && psm.l() {
		psm.logger.Debug(
			"updating commit",
			zap.Uint64("oldCommit", psm.state.Commit), zap.Uint64("newCommit", newCommit))
	}
	psm.state.Commit = newCommit
	psm.commit.Store(newCommit)
	psm.metrics.commit.Set(float64(newCommit))
	select {
	case psm.commitChan <- struct{}{}:
	default:
	}
}

func (psm *ProtocolStateMachine) setLeader(id uint64) {
	if psm.state.Leader == id {
		return
	}
	if psm.l() {
		psm.logger.Info(
			"leader changed",
			zap.Uint64("oldLeader", psm.state.Leader), zap.Uint64("newLeader", id),
			zap.Uint64("term", psm.state.Term))
	}
	psm.state.Leader = id
	if id != 0 {
		psm.metrics.leaderChanges.Inc()
	}
}

func (psm *ProtocolStateMachine) saveBallot() error {
	return psm.storage.SaveBallot(pb.Ballot{Term: psm.state.Term, VotedFor: psm.state.VotedFor})
}

// termAt returns the term of the entry at index i, or 0 if there is none.
func (psm *ProtocolStateMachine) termAt(i uint64) (uint64, error) {
	if i == 0 {
		return 0, nil
	}
	if i == psm.state.LastIndex {
		return psm.state.LogTerm, nil
	}
	return psm.storedTerm(i)
}

func (psm *ProtocolStateMachine) storedTerm(i uint64) (uint64, error) {
	if i == 0 {
		return 0, nil
	}
	e, ok, err := psm.storage.GetEntry(i)
	if err != nil || !ok {
		return 0, err
	}
	return e.Term, nil
}

// Err returns the storage error that stopped the event loop, if any. It is only meaningful
// once the loop has exited.
func (psm *ProtocolStateMachine) Err() error {
	select {
	case <-psm.doneChan:
		return psm.err
	default:
		return nil
	}
}

func (psm *ProtocolStateMachine) start() {
	if psm.l() {
		psm.logger.Info("starting election timeout ticker")
	}
	psm.electionTicker.Start()
	if psm.l() {
		psm.logger.Info("starting heartbeat ticker")
	}
	psm.heartbeatTicker.Start()
	if psm.l() {
		psm.logger.Info("starting raft state machine run loop", zap.Object("state", psm.state))
	}
	go psm.run()
}

func (psm *ProtocolStateMachine) stop() {
	if psm.l() {
		psm.logger.Info("stopping raft state machine run loop...")
	}
	close(psm.stopChan)
	<-psm.doneChan
	if psm.l() {
		psm.logger.Info("stopped")
		psm.logger.Info("stopping election timeout ticker...")
	}
	psm.electionTicker.Stop()
	if psm.l() {
		psm.logger.Info("stopped")
		psm.logger.Info("stopping heartbeat ticker...")
	}
	psm.heartbeatTicker.Stop()
	if psm.l() {
		psm.logger.Info("stopped")
	}
}

func (psm *ProtocolStateMachine) l() bool {
	return psm.logger != nil
}

type proposalRequest struct {
	data  []byte
	respC chan<- proposalResponse
}
type proposalResponse struct {
	index, term uint64
	err         error
}
type readRequest struct {
	respC chan<- readResponse
}
type readResponse struct {
	index uint64
	err   error
}
type pendingRead struct {
	index uint64
	acks  map[uint64]struct{}
	respC chan<- readResponse
}
type membersRequest struct{}
type stateReq struct{}
