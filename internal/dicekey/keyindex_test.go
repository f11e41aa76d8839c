package dicekey

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIndex_InternIsStable(t *testing.T) {
	k := New()
	id1 := k.Intern("a")
	id2 := k.Intern("a")
	assert.Equal(t, id1, id2)
	assert.Equal(t, "a", k.Get(id1))
}

func TestKeyIndex_DistinctKeysGetDistinctIds(t *testing.T) {
	k := New()
	idA := k.Intern("a")
	idB := k.Intern("b")
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, k.Len())
}

func TestKeyIndex_GetUnknownPanics(t *testing.T) {
	k := New()
	assert.Panics(t, func() { k.Get(42) })
}

func TestKeyIndex_ConcurrentInternIsStable(t *testing.T) {
	k := New()
	const n = 100
	ids := make([]KeyId, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = k.Intern("shared")
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, k.Len())
}
