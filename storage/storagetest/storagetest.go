// Package storagetest is a conformance suite for storage.Storage implementations.
package storagetest

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulysseses/raftlog/pb"
	"github.com/ulysseses/raftlog/storage"
)

// Storage runs the full suite against a freshly created, empty store.
func Storage(t *testing.T, s storage.Storage) {
	t.Run("Empty", func(t *testing.T) { empty(t, s) })
	t.Run("Entries", func(t *testing.T) { entries(t, s) })
	t.Run("Order", func(t *testing.T) { order(t, s) })
	t.Run("Ballot", func(t *testing.T) { ballot(t, s) })
}

func empty(t *testing.T, s storage.Storage) {
	head, err := s.HeadIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head)

	last, err := s.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)

	_, ok, err := s.GetEntry(1)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := s.LoadBallot()
	require.NoError(t, err)
	assert.Equal(t, pb.Ballot{}, b)
}

func entries(t *testing.T, s storage.Storage) {
	for _, i := range []uint64{3, 1, 2} {
		require.NoError(t, s.InsertEntry(i, pb.Entry{Term: 1, Data: []byte{byte(i)}}))
	}
	assertBounds(t, s, 1, 3)

	e, ok, err := s.GetEntry(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pb.Entry{Index: 2, Term: 1, Data: []byte{2}}, e)

	// Returned entries are copies.
	e.Data[0] = 42
	e, _, err = s.GetEntry(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, e.Data)

	// Upsert.
	require.NoError(t, s.InsertEntry(2, pb.Entry{Term: 2, Data: []byte("x")}))
	e, _, err = s.GetEntry(2)
	require.NoError(t, err)
	assert.Equal(t, pb.Entry{Index: 2, Term: 2, Data: []byte("x")}, e)

	require.NoError(t, s.DeleteEntry(1))
	assertBounds(t, s, 2, 3)
	require.NoError(t, s.DeleteEntry(3))
	assertBounds(t, s, 2, 2)
	// Deleting an absent entry is a no-op.
	require.NoError(t, s.DeleteEntry(3))
	require.NoError(t, s.DeleteEntry(2))
	assertBounds(t, s, 0, 0)

	require.NoError(t, s.InsertEntries([]pb.Entry{
		{Index: 10, Term: 3},
		{Index: 11, Term: 3},
		{Index: 12, Term: 4},
	}))
	got, err := s.Entries(11, 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(11), got[0].Index)
	assert.Equal(t, uint64(12), got[1].Index)

	got, err = s.Entries(12, 11)
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, i := range []uint64{10, 11, 12} {
		require.NoError(t, s.DeleteEntry(i))
	}
}

// order inserts indices whose variable-length or little-endian encodings would misorder and
// checks that scans and bounds follow numeric order.
func order(t *testing.T, s storage.Storage) {
	rng := rand.New(rand.NewSource(1))
	present := map[uint64]bool{}
	indices := []uint64{1, 255, 256, 65535, 65536, 1 << 32, math.MaxUint64 - 1}
	for i := 0; i < 64; i++ {
		indices = append(indices, uint64(rng.Int63n(1<<20))+1)
	}
	for _, i := range indices {
		require.NoError(t, s.InsertEntry(i, pb.Entry{Term: 1}))
		present[i] = true
	}
	for i := range indices {
		if i%5 == 0 {
			require.NoError(t, s.DeleteEntry(indices[i]))
			delete(present, indices[i])
		}
	}

	var want []uint64
	for i := range present {
		want = append(want, i)
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	assertBounds(t, s, want[0], want[len(want)-1])

	got, err := s.Entries(0, math.MaxUint64)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range got {
		assert.Equal(t, want[i], got[i].Index)
		if i > 0 {
			assert.Less(t, got[i-1].Index, got[i].Index)
		}
	}

	for _, i := range want {
		require.NoError(t, s.DeleteEntry(i))
	}
	assertBounds(t, s, 0, 0)
}

func ballot(t *testing.T, s storage.Storage) {
	require.NoError(t, s.SaveBallot(pb.Ballot{Term: 1, VotedFor: 2}))
	b, err := s.LoadBallot()
	require.NoError(t, err)
	assert.Equal(t, pb.Ballot{Term: 1, VotedFor: 2}, b)

	// Same term, vote cleared.
	require.NoError(t, s.SaveBallot(pb.Ballot{Term: 1}))
	require.NoError(t, s.SaveBallot(pb.Ballot{Term: 3}))

	err = s.SaveBallot(pb.Ballot{Term: 2, VotedFor: 1})
	require.ErrorIs(t, err, storage.ErrBallotRegression)

	b, err = s.LoadBallot()
	require.NoError(t, err)
	assert.Equal(t, pb.Ballot{Term: 3}, b)
}

func assertBounds(t *testing.T, s storage.Storage, head, last uint64) {
	t.Helper()
	gotHead, err := s.HeadIndex()
	require.NoError(t, err)
	assert.Equal(t, head, gotHead, "head index")
	gotLast, err := s.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, last, gotLast, "last index")
}

var persisted = []pb.Entry{
	{Index: 1, Term: 1, Data: []byte("hello")},
	{Index: 2, Term: 1, Data: []byte{0, 1, 2, 255}},
	{Index: 3, Term: 2},
}

var persistedBallot = pb.Ballot{Term: 2, VotedFor: 3}

// PersistencyPreClose writes state that PersistencyPostClose expects after a reopen, then
// closes s.
func PersistencyPreClose(t *testing.T, s storage.Storage) {
	for _, e := range persisted {
		require.NoError(t, s.InsertEntry(e.Index, e))
	}
	require.NoError(t, s.SaveBallot(persistedBallot))
	require.NoError(t, s.Close())
}

// PersistencyPostClose checks the state written by PersistencyPreClose, then closes s.
func PersistencyPostClose(t *testing.T, s storage.Storage) {
	assertBounds(t, s, 1, 3)
	for _, want := range persisted {
		got, ok, err := s.GetEntry(want.Index)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.Term, got.Term)
		assert.Equal(t, string(want.Data), string(got.Data))
	}
	b, err := s.LoadBallot()
	require.NoError(t, err)
	assert.Equal(t, persistedBallot, b)
	require.NoError(t, s.Close())
}
