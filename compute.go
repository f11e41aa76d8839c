package dice

import "context"

// Compute resolves key's value at Dice's current version, deduplicating
// against any already in-flight computation for key (spec.md §4.4/§8:
// "concurrently spawning N requests produces at most one call to
// evaluate; all N awaiters observe the same ComputedValue"). cycles, if
// nil, defaults to the Dice's configured CycleDetector.
func (c *Computation[K, V]) Compute(ctx context.Context, key K, cycles CycleDetector) (V, error) {
	var zero V
	if cycles == nil {
		cycles = c.d.defaultCycles
	}
	t := c.eng.SpawnForKey(ctx, key, c.d.CurrentVersion(), c.d.state.CurrentEpoch(), cycles)
	cv, err := t.Promise().Wait()
	if err != nil {
		return zero, err
	}
	value, ok := cv.Value.(V)
	if !ok {
		panicInvariant("computed value for key %v has type %T, want %T", key, cv.Value, zero)
	}
	return value, nil
}

// Project resolves key's value via the registered SyncEvaluator, a
// non-suspending path for cheap, pure values (spec.md §4.4/§4.6). Calling
// Project twice for the same (key, version, epoch) returns equal values
// without invoking the evaluator a second time (spec.md §8,
// "Projection idempotence"). Returns an error if no SyncEvaluator was
// registered for K (see WithSync).
func (c *Computation[K, V]) Project(key K) (V, error) {
	var zero V
	cv, err := c.eng.ProjectForKey(key, c.d.CurrentVersion(), c.d.state.CurrentEpoch())
	if err != nil {
		return zero, err
	}
	value, ok := cv.Value.(V)
	if !ok {
		panicInvariant("projected value for key %v has type %T, want %T", key, cv.Value, zero)
	}
	return value, nil
}
