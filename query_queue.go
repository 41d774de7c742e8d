package raft

import (
	"sync"

	"github.com/google/btree"
)

// Querier answers read-only queries against applied state.
type Querier interface {
	Query(data []byte) ([]byte, error)
}

type queryResult struct {
	data  []byte
	index uint64
	err   error
}

type pendingQuery struct {
	index   uint64
	seq     uint64
	payload []byte
	respC   chan queryResult
}

func pendingQueryLess(a, b *pendingQuery) bool {
	if a.index != b.index {
		return a.index < b.index
	}
	return a.seq < b.seq
}

// queryQueue holds queries until the applied index reaches the index each was admitted at.
// Queries are ordered by (index, submission order). Submissions never block on execute, and at
// most one execute runs at a time.
type queryQueue struct {
	execMu sync.Mutex

	mu      sync.Mutex
	pending *btree.BTreeG[*pendingQuery]
	seq     uint64
	closed  bool
}

func newQueryQueue() *queryQueue {
	return &queryQueue{
		pending: btree.NewG(16, pendingQueryLess),
	}
}

// submit registers a query that becomes eligible once the applied index reaches index. The
// returned channel receives exactly one result.
func (q *queryQueue) submit(index uint64, payload []byte) <-chan queryResult {
	respC := make(chan queryResult, 1)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		respC <- queryResult{index: index, err: ErrQueryUnresolved}
		return respC
	}
	q.seq++
	q.pending.ReplaceOrInsert(&pendingQuery{
		index:   index,
		seq:     q.seq,
		payload: payload,
		respC:   respC,
	})
	return respC
}

// execute answers every pending query admitted at or below applied and reports whether there
// were any. Queries submitted while it runs are left for the next call.
func (q *queryQueue) execute(applied uint64, app Querier) bool {
	q.execMu.Lock()
	defer q.execMu.Unlock()

	var ready []*pendingQuery
	q.mu.Lock()
	for {
		pq, ok := q.pending.Min()
		if !ok || pq.index > applied {
			break
		}
		q.pending.DeleteMin()
		ready = append(ready, pq)
	}
	q.mu.Unlock()

	for _, pq := range ready {
		data, err := app.Query(pq.payload)
		pq.respC <- queryResult{data: data, index: pq.index, err: err}
	}
	return len(ready) > 0
}

// len returns the number of pending queries.
func (q *queryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// close resolves every pending query, and every later submission, with ErrQueryUnresolved.
func (q *queryQueue) close() {
	q.execMu.Lock()
	defer q.execMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending.Ascend(func(pq *pendingQuery) bool {
		pq.respC <- queryResult{index: pq.index, err: ErrQueryUnresolved}
		return true
	})
	q.pending.Clear(false)
}
