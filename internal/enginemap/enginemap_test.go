package enginemap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/engine"
	"github.com/joeycumines/go-dice/internal/graph"
	"github.com/joeycumines/go-dice/internal/state"
	"github.com/joeycumines/go-dice/internal/task"
)

// noopCycles never detects a cycle; sufficient for tests that don't
// exercise cycle detection itself.
type noopCycles struct{}

func (noopCycles) StartComputingKey(any)                    {}
func (noopCycles) FinishedComputingKey(any)                 {}
func (noopCycles) Subrequest(any, int) engine.CycleDetector { return noopCycles{} }

// strEvaluator computes string keys into their length.
type strEvaluator struct{}

func (strEvaluator) Evaluate(_ context.Context, key string, _ *engine.DepCtx, _ *task.CancellationContext) (engine.EvalResult[int], error) {
	return engine.EvalResult[int]{Value: len(key)}, nil
}
func (strEvaluator) StorageType(string) graph.Storage { return graph.Normal }

// intEvaluator computes int keys into themselves squared.
type intEvaluator struct{}

func (intEvaluator) Evaluate(_ context.Context, key int, _ *engine.DepCtx, _ *task.CancellationContext) (engine.EvalResult[int], error) {
	return engine.EvalResult[int]{Value: key * key}, nil
}
func (intEvaluator) StorageType(int) graph.Storage { return graph.Normal }

func TestFindOrCreate_SameTypeReturnsSameEngine(t *testing.T) {
	em := New(nil)
	t.Cleanup(em.Close)

	st := state.New(nil)
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	newEng := func() *engine.Engine[string, int] {
		return engine.New(engine.Config[string, int]{
			State: st, KeyIndex: dicekey.New(), Registry: em,
			Async:      strEvaluator{},
			OnActivity: em.NotifyActivity,
		})
	}

	e1 := FindOrCreate[string, int](em, newEng)
	e2 := FindOrCreate[string, int](em, newEng)
	assert.Same(t, e1, e2, "a second registration for the same key type must not construct a new engine")
}

func TestEngineFor_ResolvesByDynamicKeyType(t *testing.T) {
	em := New(nil)
	t.Cleanup(em.Close)

	st := state.New(nil)
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	eng := FindOrCreate[string, int](em, func() *engine.Engine[string, int] {
		return engine.New(engine.Config[string, int]{
			State: st, KeyIndex: dicekey.New(), Registry: em,
			Async: strEvaluator{},
		})
	})

	found, ok := em.EngineFor("some key")
	require.True(t, ok)
	assert.Same(t, eng, found.(*engine.Engine[string, int]))

	_, ok = em.EngineFor(42)
	assert.False(t, ok, "no engine is registered for int keys in this test")
}

func TestIntrospect_AggregatesAcrossEngines(t *testing.T) {
	em := New(nil)
	t.Cleanup(em.Close)

	stA := state.New(nil)
	t.Cleanup(func() { _ = stA.Close(context.Background()) })
	stB := state.New(nil)
	t.Cleanup(func() { _ = stB.Close(context.Background()) })

	strEng := FindOrCreate[string, int](em, func() *engine.Engine[string, int] {
		return engine.New(engine.Config[string, int]{
			State: stA, KeyIndex: dicekey.New(), Registry: em,
			Async:      strEvaluator{},
			OnActivity: em.NotifyActivity,
		})
	})
	intEng := FindOrCreate[int, int](em, func() *engine.Engine[int, int] {
		return engine.New(engine.Config[int, int]{
			State: stB, KeyIndex: dicekey.New(), Registry: em,
			Async:      intEvaluator{},
			OnActivity: em.NotifyActivity,
		})
	})

	tk1 := strEng.SpawnForKey(context.Background(), "a", 1, 0, noopCycles{})
	_, err := tk1.Promise().Wait()
	require.NoError(t, err)
	tk2 := intEng.SpawnForKey(context.Background(), 1, 1, 0, noopCycles{})
	_, err = tk2.Promise().Wait()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return em.Introspect().TotalKeys == 2
	}, time.Second, 5*time.Millisecond, "introspection snapshot must eventually reflect both engines' commits")

	assert.Equal(t, 0, em.Introspect().RunningKeys)
}
