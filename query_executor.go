package raft

import (
	"time"

	"go.uber.org/zap"
)

// queryExecutor drains the query queue whenever the applied index advances. It also polls
// every pollInterval, so a lost wakeup delays queries by at most one interval.
type queryExecutor struct {
	queue        *queryQueue
	applied      *appliedIndex
	app          Querier
	pollInterval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}

	logger *zap.Logger
	debug  bool
}

func newQueryExecutor(
	queue *queryQueue,
	applied *appliedIndex,
	app Querier,
	pollInterval time.Duration,
	logger *zap.Logger,
	debug bool,
) *queryExecutor {
	return &queryExecutor{
		queue:        queue,
		applied:      applied,
		app:          app,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		logger:       logger,
		debug:        debug,
	}
}

func (e *queryExecutor) run() {
	defer close(e.doneChan)
	t := newTimer(e.pollInterval)
	defer t.Stop()
	for {
		notifyC := e.applied.notify()
		for e.queue.execute(e.applied.Load(), e.app) {
		}

		t.Reset(e.pollInterval)
		select {
		case <-e.stopChan:
			return
		case <-notifyC:
		case <-t.C:
			if e.debug && e.l() {
				e.logger.Debug("query executor poll", zap.Uint64("applied", e.applied.Load()))
			}
		}
	}
}

func (e *queryExecutor) start() {
	if e.l() {
		e.logger.Info("starting query executor", zap.Duration("pollInterval", e.pollInterval))
	}
	go e.run()
}

// stop waits for an in-flight execute to finish, then resolves the remaining queries with
// ErrQueryUnresolved.
func (e *queryExecutor) stop() {
	close(e.stopChan)
	<-e.doneChan
	if n := e.queue.len(); n > 0 && e.l() {
		e.logger.Info("resolving unresolved queries", zap.Int("pending", n))
	}
	e.queue.close()
}

func (e *queryExecutor) l() bool {
	return e.logger != nil
}
