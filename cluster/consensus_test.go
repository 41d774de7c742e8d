package cluster

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func hundredNodes() []uint64 {
	ids := make([]uint64, 100)
	for i := range ids {
		ids[i] = uint64(i)
	}
	return ids
}

func Test_WaitForConsensus(t *testing.T) {
	ids := hundredNodes()

	_, err := WaitForConsensus(time.Second, ids, func(id uint64) (uint64, bool) { return id, true })
	assert.True(t, errors.Is(err, ErrConsensusNotReached), "every node has its own value")

	v, err := WaitForConsensus(time.Second, ids, func(uint64) (int, bool) { return 10, true })
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = WaitForConsensus(time.Second, ids, func(uint64) (int, bool) { return 0, false })
	assert.True(t, errors.Is(err, ErrConsensusNotReached), "no node has a value")

	_, err = WaitForConsensus(time.Second, ids, func(id uint64) (uint64, bool) { return 0, id == 0 })
	assert.True(t, errors.Is(err, ErrConsensusNotReached), "only node 0 has a value")
}

func Test_WaitForConsensus_Converges(t *testing.T) {
	calls := atomic.NewInt64(0)
	v, err := WaitForConsensus(5*time.Second, []uint64{1, 2, 3}, func(id uint64) (string, bool) {
		// Node 3 lags behind for the first rounds.
		if id == 3 && calls.Inc() < 5 {
			return "old", true
		}
		return "new", true
	})
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func Test_WaitForConsensus_NoNodes(t *testing.T) {
	_, err := WaitForConsensus(time.Second, nil, func(uint64) (int, bool) { return 1, true })
	assert.True(t, errors.Is(err, ErrConsensusNotReached))
}

func Test_Eventually(t *testing.T) {
	n := atomic.NewInt64(0)
	assert.True(t, Eventually(5*time.Second, int64(3), func() int64 { return n.Inc() }))
	assert.False(t, Eventually(50*time.Millisecond, true, func() bool { return false }))
}
