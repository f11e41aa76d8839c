package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/graph"
)

func equalInts(prev, next any) bool { return prev.(int) == next.(int) }

func TestHandle_LookupKeyEmptyIsCompute(t *testing.T) {
	h := New(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	res, err := h.LookupKey(context.Background(), dicekey.KeyId(1), 1)
	require.NoError(t, err)
	assert.Equal(t, graph.Compute, res.Kind)
}

func TestHandle_UpdateComputedThenLookupMatches(t *testing.T) {
	h := New(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	cv, ok, err := h.UpdateComputed(context.Background(), dicekey.KeyId(1), 1, h.CurrentEpoch(), 42, nil, graph.Normal, equalInts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, cv.Value)

	res, err := h.LookupKey(context.Background(), dicekey.KeyId(1), 1)
	require.NoError(t, err)
	require.Equal(t, graph.Match, res.Kind)
	assert.Equal(t, 42, res.Match.Value)
}

func TestHandle_UpdateComputedStaleEpochIsDropped(t *testing.T) {
	h := New(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	stale := h.CurrentEpoch()
	h.AdvanceEpoch()

	_, ok, err := h.UpdateComputed(context.Background(), dicekey.KeyId(1), 1, stale, 7, nil, graph.Normal, equalInts)
	require.NoError(t, err)
	assert.False(t, ok, "a write carrying an epoch older than the live one must be dropped")

	res, err := h.LookupKey(context.Background(), dicekey.KeyId(1), 1)
	require.NoError(t, err)
	assert.Equal(t, graph.Compute, res.Kind, "the dropped write must not have reached the graph")
}

func TestHandle_UpdateComputedFireAndForgetIsVisibleEventually(t *testing.T) {
	h := New(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	h.UpdateComputedFireAndForget(dicekey.KeyId(1), 1, h.CurrentEpoch(), 9, nil, graph.Normal, equalInts)

	// A subsequent request through the same serializing mailbox can only be
	// processed after the fire-and-forget write, since the batcher applies
	// submitted jobs in order.
	count, err := h.KeyCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandle_KeyCountCountsDistinctKeys(t *testing.T) {
	h := New(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	_, _, err := h.UpdateComputed(context.Background(), dicekey.KeyId(1), 1, h.CurrentEpoch(), 1, nil, graph.Normal, equalInts)
	require.NoError(t, err)
	_, _, err = h.UpdateComputed(context.Background(), dicekey.KeyId(2), 1, h.CurrentEpoch(), 2, nil, graph.Normal, equalInts)
	require.NoError(t, err)

	count, err := h.KeyCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHandle_AdvanceEpochIncrements(t *testing.T) {
	h := New(nil)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	first := h.CurrentEpoch()
	next := h.AdvanceEpoch()
	assert.Equal(t, first+1, next)
	assert.Equal(t, next, h.CurrentEpoch())
}
