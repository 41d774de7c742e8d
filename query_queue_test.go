package raft

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// echoQuerier answers every query with its payload and records the order it saw them in.
type echoQuerier struct {
	mu   sync.Mutex
	seen [][]byte

	// block, if set, is waited on before answering
	block chan struct{}
}

func (q *echoQuerier) Query(data []byte) ([]byte, error) {
	if q.block != nil {
		<-q.block
	}
	q.mu.Lock()
	q.seen = append(q.seen, data)
	q.mu.Unlock()
	return data, nil
}

func (q *echoQuerier) order() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s []string
	for _, d := range q.seen {
		s = append(s, string(d))
	}
	return s
}

func expectNoResult(t *testing.T, c <-chan queryResult) {
	t.Helper()
	select {
	case res := <-c:
		t.Fatalf("unexpected result %+v", res)
	default:
	}
}

func expectResult(t *testing.T, c <-chan queryResult) queryResult {
	t.Helper()
	select {
	case res := <-c:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for query result")
		return queryResult{}
	}
}

func Test_queryQueue_ReleasesAtAppliedIndex(t *testing.T) {
	q := newQueryQueue()
	app := &echoQuerier{}

	c5 := q.submit(5, []byte("five"))
	c3 := q.submit(3, []byte("three"))
	c7 := q.submit(7, []byte("seven"))

	if q.execute(2, app) {
		t.Fatal("execute below every index reported work")
	}
	expectNoResult(t, c3)

	if !q.execute(5, app) {
		t.Fatal("execute at 5 reported no work")
	}
	if res := expectResult(t, c3); string(res.data) != "three" || res.index != 3 || res.err != nil {
		t.Fatalf("got %+v", res)
	}
	if res := expectResult(t, c5); string(res.data) != "five" || res.index != 5 {
		t.Fatalf("got %+v", res)
	}
	expectNoResult(t, c7)
	if q.len() != 1 {
		t.Fatalf("want 1 pending query, got %d", q.len())
	}

	// Index order, not submission order.
	if got := app.order(); len(got) != 2 || got[0] != "three" || got[1] != "five" {
		t.Fatalf("queries answered out of index order: %v", got)
	}
}

func Test_queryQueue_SameIndexKeepsSubmissionOrder(t *testing.T) {
	q := newQueryQueue()
	app := &echoQuerier{}
	var cs []<-chan queryResult
	for _, p := range []string{"a", "b", "c", "d"} {
		cs = append(cs, q.submit(1, []byte(p)))
	}
	q.execute(1, app)
	for _, c := range cs {
		expectResult(t, c)
	}
	if got := app.order(); len(got) != 4 || got[0] != "a" || got[3] != "d" {
		t.Fatalf("got %v", got)
	}
}

func Test_queryQueue_EligibleAtSubmitWaitsForExecute(t *testing.T) {
	q := newQueryQueue()
	c := q.submit(0, []byte("x"))
	// Nothing answers a query inline with submit.
	expectNoResult(t, c)
	q.execute(10, &echoQuerier{})
	expectResult(t, c)
}

func Test_queryQueue_SubmitDuringExecuteWaitsForNextPass(t *testing.T) {
	q := newQueryQueue()
	app := &echoQuerier{block: make(chan struct{})}
	first := q.submit(1, []byte("first"))

	done := make(chan bool)
	go func() { done <- q.execute(1, app) }()

	// Wait until execute has popped the first query and is blocked answering it.
	deadline := time.Now().Add(5 * time.Second)
	for q.len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("execute never picked up the first query")
		}
		time.Sleep(time.Millisecond)
	}
	second := q.submit(1, []byte("second"))
	close(app.block)

	if !<-done {
		t.Fatal("execute reported no work")
	}
	expectResult(t, first)
	expectNoResult(t, second)

	if !q.execute(1, app) {
		t.Fatal("second pass reported no work")
	}
	if res := expectResult(t, second); !bytes.Equal(res.data, []byte("second")) {
		t.Fatalf("got %+v", res)
	}
}

func Test_queryQueue_CloseResolvesUnresolved(t *testing.T) {
	q := newQueryQueue()
	c1 := q.submit(4, []byte("a"))
	c2 := q.submit(9, []byte("b"))
	q.close()

	for _, c := range []<-chan queryResult{c1, c2} {
		if res := expectResult(t, c); !errors.Is(res.err, ErrQueryUnresolved) {
			t.Fatalf("want ErrQueryUnresolved, got %v", res.err)
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue not empty after close: %d", q.len())
	}

	// Submissions after close resolve right away.
	if res := expectResult(t, q.submit(1, nil)); !errors.Is(res.err, ErrQueryUnresolved) {
		t.Fatalf("want ErrQueryUnresolved, got %v", res.err)
	}
}

func Test_queryQueue_ConcurrentSubmit(t *testing.T) {
	q := newQueryQueue()
	app := &echoQuerier{}
	const n = 200
	var wg sync.WaitGroup
	results := make(chan (<-chan queryResult), n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- q.submit(uint64(i%10), []byte{byte(i)})
		}(i)
	}
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				q.execute(5, app)
			}
		}
	}()
	wg.Wait()
	close(stop)
	close(results)
	q.execute(10, app)

	for c := range results {
		if res := expectResult(t, c); res.err != nil {
			t.Fatal(res.err)
		}
	}
}
