package task

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_WaitBlocksUntilResolve(t *testing.T) {
	p := NewPromise[int]()
	done := make(chan struct{})
	var got int
	go func() {
		v, err := p.Wait()
		require.NoError(t, err)
		got = v
		close(done)
	}()

	p.Resolve(42, nil)
	<-done
	assert.Equal(t, 42, got)
}

func TestPromise_ResolveIsOnlyEffectiveOnce(t *testing.T) {
	p := NewPromise[int]()
	p.Resolve(1, nil)
	p.Resolve(2, errors.New("ignored"))

	v, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPromise_FanOutAllAwaitersSeeSameResult(t *testing.T) {
	p := NewPromise[string]()
	const n = 20
	results := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := p.Wait()
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	p.Resolve("value", nil)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "value", v)
	}
}

func TestPromise_GetOrCompleteRunsProducerExactlyOnce(t *testing.T) {
	p := NewPromise[int]()
	var calls atomic.Int32
	producer := func() (int, error) {
		calls.Add(1)
		return 7, nil
	}

	const n = 50
	results := make([]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := p.GetOrComplete(producer)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestPromise_ResolvedIsAlreadySettled(t *testing.T) {
	p := Resolved(5, nil)
	assert.Equal(t, Settled, p.State())
	v, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}
