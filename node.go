package raft

import (
	"context"
	"errors"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// leaderNotReadyBackoff is how long a query waits before asking a leader that has not yet
// committed an entry of its term again.
const leaderNotReadyBackoff = 10 * time.Millisecond

// Node is a Raft node that interacts with an Application state machine and network.
type Node struct {
	psm *ProtocolStateMachine
	tr  Transport
	app Application

	applied  *appliedIndex
	queries  *queryQueue
	executor *queryExecutor

	started  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}

	stopAppChan    chan struct{}
	stopAppErrChan chan error

	logger *zap.Logger
	debug  bool
}

// Propose appends data to the replicated log and waits until it is applied. It returns the
// index and term of the entry. If the entry was overwritten by another leader before it
// committed, ErrProposalDropped is returned.
func (n *Node) Propose(ctx context.Context, data []byte) (index, term uint64, err error) {
	defer func() { n.psm.metrics.proposals.WithLabelValues(resultLabel(err)).Inc() }()

	respC := make(chan proposalResponse, 1)
	select {
	case n.psm.propReqChan <- proposalRequest{data: data, respC: respC}:
	case <-n.psm.doneChan:
		return 0, 0, ErrStopped
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}

	var resp proposalResponse
	select {
	case resp = <-respC:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	if resp.err != nil {
		return 0, 0, n.withAddr(resp.err)
	}

	if err := n.applied.wait(ctx, resp.index, n.stopChan); err != nil {
		return 0, 0, err
	}
	e, ok, err := n.psm.storage.GetEntry(resp.index)
	if err != nil {
		return 0, 0, err
	}
	if !ok || e.Term != resp.term {
		return 0, 0, ErrProposalDropped
	}
	return resp.index, resp.term, nil
}

// Query answers data with the Application once every entry committed before the query was
// received has been applied. It must be sent to the leader.
func (n *Node) Query(ctx context.Context, data []byte) ([]byte, error) {
	res, err := n.query(ctx, data)
	return res.data, err
}

func (n *Node) query(ctx context.Context, data []byte) (res queryResult, err error) {
	defer func() { n.psm.metrics.queries.WithLabelValues(resultLabel(err)).Inc() }()

	readIndex, err := n.readIndex(ctx)
	if err != nil {
		return queryResult{}, err
	}
	select {
	case res = <-n.queries.submit(readIndex, data):
		return res, res.err
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	}
}

// Read blocks until the Application has applied every entry committed before the call. After
// it returns, reads of local Application state are linearizable.
func (n *Node) Read(ctx context.Context) error {
	readIndex, err := n.readIndex(ctx)
	if err != nil {
		return err
	}
	return n.applied.wait(ctx, readIndex, n.stopChan)
}

// readIndex asks the leader for a read index, retrying while the leader is not ready to
// serve reads.
func (n *Node) readIndex(ctx context.Context) (uint64, error) {
	for {
		index, err := n.read(ctx)
		if !errors.Is(err, ErrLeaderNotReady) {
			return index, err
		}
		if n.debug && n.l() {
			n.logger.Debug("leader not ready for reads, retrying")
		}
		select {
		case <-time.After(leaderNotReadyBackoff):
		case <-n.stopChan:
			return 0, ErrStopped
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (n *Node) read(ctx context.Context) (uint64, error) {
	respC := make(chan readResponse, 1)
	select {
	case n.psm.readReqChan <- readRequest{respC: respC}:
	case <-n.psm.doneChan:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case resp := <-respC:
		return resp.index, n.withAddr(resp.err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// State returns the latest known state of the Raft node.
func (n *Node) State() State {
	select {
	case n.psm.stateReqChan <- stateReq{}:
		return <-n.psm.stateRespChan
	case <-n.psm.doneChan:
		return n.psm.snapshot()
	}
}

// Members returns the latest member states.
func (n *Node) Members() map[uint64]MemberState {
	select {
	case n.psm.membersReqChan <- membersRequest{}:
		return <-n.psm.membersRespChan
	case <-n.psm.doneChan:
		members := map[uint64]MemberState{}
		for _, m := range n.psm.members {
			members[m.ID] = *m
		}
		return members
	}
}

// Applied returns the index of the last entry applied to the Application.
func (n *Node) Applied() uint64 {
	return n.applied.Load()
}

// Collectors returns the node's Prometheus collectors, including the storage's if it exports
// any. They are not registered.
func (n *Node) Collectors() []prometheus.Collector {
	cs := n.psm.metrics.collectors()
	if c, ok := n.psm.storage.(prometheus.Collector); ok {
		cs = append(cs, c)
	}
	return cs
}

// withAddr fills in the address of the leader named by a NotLeaderError.
func (n *Node) withAddr(err error) error {
	var nle *NotLeaderError
	if !errors.As(err, &nle) || nle.Leader == 0 || nle.Addr != "" {
		return err
	}
	return &NotLeaderError{Leader: nle.Leader, Addr: n.tr.address(nle.Leader)}
}

// applyTo applies the entries in (applied, commit] and advances the applied index.
func (n *Node) applyTo(commit uint64) error {
	applied := n.applied.Load()
	if commit <= applied {
		return nil
	}
	entries, err := n.psm.storage.Entries(applied+1, commit)
	if err != nil {
		return err
	}
	if err := n.app.Apply(entries); err != nil {
		return err
	}
	n.applied.advance(commit)
	n.psm.metrics.applied.Set(float64(commit))
	if n.debug && n.l() {
		n.logger.Debug("applied", zap.Uint64("applied", commit), zap.Int("entries", len(entries)))
	}
	return nil
}

func (n *Node) runApplication() error {
	var commitChan <-chan struct{} = n.psm.commitChan
	for {
		select {
		case <-n.stopAppChan:
			return nil
		case <-commitChan:
			if err := n.applyTo(n.psm.commit.Load()); err != nil {
				return err
			}
		}
	}
}

// Start starts the Raft node.
func (n *Node) Start() {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	n.tr.start()
	n.psm.start()
	n.executor.start()
	go func() {
		err := n.runApplication()
		if err != nil && n.l() {
			n.logger.Error("runApplication ended with error", zap.Error(err))
		}
		n.stopAppErrChan <- err
	}()
}

// Stop stops the Raft node and closes its storage. Queries still pending are resolved with
// ErrQueryUnresolved. The returned error combines the errors of every component.
func (n *Node) Stop() error {
	if !n.stopped.CompareAndSwap(false, true) {
		return nil
	}
	var result *multierror.Error
	close(n.stopChan)
	if n.started.Load() {
		n.psm.stop()
		if err := n.psm.Err(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := n.tr.stop(); err != nil {
			result = multierror.Append(result, err)
		}
		close(n.stopAppChan)
		if err := <-n.stopAppErrChan; err != nil {
			result = multierror.Append(result, err)
		}
		n.executor.stop()
	} else {
		n.queries.close()
	}
	if err := n.psm.storage.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if n.l() {
		n.logger.Info("stopped node", zap.Error(result.ErrorOrNil()))
	}
	return result.ErrorOrNil()
}

func (n *Node) l() bool {
	return n.logger != nil
}
