package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/versions"
)

func TestVersionedGraph_LookupEmptyIsCompute(t *testing.T) {
	g := New()
	res := g.Lookup(1, versions.Version(1))
	assert.Equal(t, Compute, res.Kind)
}

func TestVersionedGraph_UpdateThenMatch(t *testing.T) {
	g := New()
	cv, ok := g.UpdateComputed(1, 1, 0, 0, "a", nil, Normal, nil)
	require.True(t, ok)
	assert.Equal(t, "a", cv.Value)

	res := g.Lookup(1, 1)
	require.Equal(t, Match, res.Kind)
	assert.Equal(t, "a", res.Match.Value)
}

func TestVersionedGraph_StaleEpochDropped(t *testing.T) {
	g := New()
	cv, ok := g.UpdateComputed(1, 1, 0 /* epoch */, 1 /* liveEpoch */, "a", nil, Normal, nil)
	assert.False(t, ok)
	assert.Equal(t, ComputedValue{}, cv)

	res := g.Lookup(1, 1)
	assert.Equal(t, Compute, res.Kind)
}

func TestVersionedGraph_CheckDepsForLaterVersion(t *testing.T) {
	g := New()
	_, ok := g.UpdateComputed(1, 1, 0, 0, "a", []dicekey.KeyId{2}, Normal, nil)
	require.True(t, ok)

	res := g.Lookup(1, 5)
	require.Equal(t, CheckDeps, res.Kind)
	assert.Equal(t, "a", res.Mismatch.Entry)
	assert.Equal(t, []dicekey.KeyId{2}, res.Mismatch.DepsToValidate)
	assert.True(t, res.Mismatch.VerifiedVersions.Contains(1))
}

func TestVersionedGraph_EqualExtendsHistoryInstead(t *testing.T) {
	equal := func(prev, next any) bool { return prev == next }
	g := New()
	_, ok := g.UpdateComputed(1, 1, 0, 0, "a", nil, Normal, equal)
	require.True(t, ok)

	_, ok = g.UpdateComputed(1, 2, 0, 0, "a", nil, Normal, equal)
	require.True(t, ok)

	assert.Equal(t, 1, g.EntryCount(1))
	res := g.Lookup(1, 2)
	require.Equal(t, Match, res.Kind)
}

func TestVersionedGraph_NormalStorageKeepsOnlyLatest(t *testing.T) {
	g := New()
	_, ok := g.UpdateComputed(1, 1, 0, 0, "a", nil, Normal, nil)
	require.True(t, ok)
	_, ok = g.UpdateComputed(1, 2, 0, 0, "b", nil, Normal, nil)
	require.True(t, ok)

	assert.Equal(t, 1, g.EntryCount(1))
	res := g.Lookup(1, 1)
	// The old entry covering v=1 was dropped: only "b"'s entry remains,
	// and it doesn't verify v=1, so this reports CheckDeps against "b".
	require.Equal(t, CheckDeps, res.Kind)
	assert.Equal(t, "b", res.Mismatch.Entry)
}

func TestVersionedGraph_RetainStorageKeepsAllVersions(t *testing.T) {
	g := New()
	_, ok := g.UpdateComputed(1, 1, 0, 0, "a", nil, Retain, nil)
	require.True(t, ok)
	_, ok = g.UpdateComputed(1, 2, 0, 0, "b", nil, Retain, nil)
	require.True(t, ok)

	assert.Equal(t, 2, g.EntryCount(1))
	res := g.Lookup(1, 1)
	require.Equal(t, Match, res.Kind)
	assert.Equal(t, "a", res.Match.Value)
}

func TestVersionedGraph_KeyCount(t *testing.T) {
	g := New()
	assert.Equal(t, 0, g.KeyCount())
	_, _ = g.UpdateComputed(1, 1, 0, 0, "a", nil, Normal, nil)
	_, _ = g.UpdateComputed(2, 1, 0, 0, "b", nil, Normal, nil)
	assert.Equal(t, 2, g.KeyCount())
}
