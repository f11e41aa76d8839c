package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/dicelog"
	"github.com/joeycumines/go-dice/internal/graph"
	"github.com/joeycumines/go-dice/internal/state"
	"github.com/joeycumines/go-dice/internal/task"
	"github.com/joeycumines/go-dice/internal/versions"
	"golang.org/x/sync/errgroup"
)

// depsChange is the outcome of computeWhetherDependenciesChanged, mirroring
// the three-way DidDepsChange enum in
// original_source/dice/dice/src/impls/incremental/mod.rs: a key with no
// recorded deps is *not* treated the same as a key whose deps are all
// unchanged -- both NoDeps and Changed fall through to a full recompute,
// only NoChange reuses the previous value.
type depsChange int

const (
	depsChanged depsChange = iota
	depsNoChange
	depsNoDeps
)

// Config wires an Engine's dependencies together.
type Config[K comparable, V any] struct {
	State             *state.Handle
	KeyIndex          *dicekey.KeyIndex
	Registry          Registry
	Async             AsyncEvaluator[K, V]
	Sync              SyncEvaluator[K, V] // optional; nil if key has no projection
	Equal             graph.EqualFunc
	Spawner           task.Spawner
	ActivationTracker ActivationTracker
	Log               dicelog.Logger
	WarnLimiter       *dicelog.WarnLimiter

	// OnActivity, if set, is called once per successful commit (a fresh
	// compute, a dep-revalidated reuse, or a projection write). Register
	// wires this to EngineMap.NotifyActivity to push an
	// introspection-refresh notification (SPEC_FULL.md §10).
	OnActivity func()
}

// Engine is the IncrementalEngine for a single key type K: it manages
// deduplicated, versioned (re)computation of V values, performing
// recomputation only when necessary (spec.md §4.4).
type Engine[K comparable, V any] struct {
	state      *state.Handle
	keyIndex   *dicekey.KeyIndex
	registry   Registry
	async      AsyncEvaluator[K, V]
	sync       SyncEvaluator[K, V]
	equal      graph.EqualFunc
	spawner    task.Spawner
	tracker    ActivationTracker
	log        dicelog.Logger
	warn       *dicelog.WarnLimiter
	onActivity func()

	mu         sync.Mutex
	running    map[dicekey.KeyId]*task.DiceTask
	projecting map[dicekey.KeyId]*projectionEntry
	known      map[dicekey.KeyId]struct{}
}

// projectionEntry tracks the in-flight or settled promise for the most
// recent ProjectForKey call against a given key, along with the (version,
// epoch) it was computed at, so a second sequential call at the same
// (key, v, epoch) can reuse the settled promise instead of re-invoking
// the sync evaluator (spec.md §8, "Projection idempotence").
type projectionEntry struct {
	v       versions.Version
	epoch   versions.VersionEpoch
	promise *task.Promise[graph.ComputedValue]
}

// New constructs an Engine[K,V] from cfg.
func New[K comparable, V any](cfg Config[K, V]) *Engine[K, V] {
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = task.DefaultSpawner
	}
	return &Engine[K, V]{
		state:      cfg.State,
		keyIndex:   cfg.KeyIndex,
		registry:   cfg.Registry,
		async:      cfg.Async,
		sync:       cfg.Sync,
		equal:      cfg.Equal,
		spawner:    spawner,
		tracker:    cfg.ActivationTracker,
		log:        dicelog.OrGlobal(cfg.Log),
		warn:       cfg.WarnLimiter,
		onActivity: cfg.OnActivity,
		running:    make(map[dicekey.KeyId]*task.DiceTask),
		projecting: make(map[dicekey.KeyId]*projectionEntry),
		known:      make(map[dicekey.KeyId]struct{}),
	}
}

// SpawnForKey returns the in-flight or freshly-spawned DiceTask computing
// key at (v, epoch), deduplicating against any live task for the same key
// (spec.md §4.4: "at most one computation in flight at a time"). If a prior
// task for the key exists but was cancelled, the new task first awaits its
// termination and adopts its result if it actually finished
// (spec.md §4.3/§8, "Revival").
func (e *Engine[K, V]) SpawnForKey(ctx context.Context, key K, v versions.Version, epoch versions.VersionEpoch, cycles CycleDetector) *task.DiceTask {
	id := e.keyIndex.Intern(key)

	e.mu.Lock()
	if existing, ok := e.running[id]; ok {
		switch existing.State() {
		case task.Finished:
			// The finished task is about to forget itself; spawn a fresh
			// task below so this request is checked against v.
		case task.Cancelled:
			previous := task.NewPreviouslyCancelledTask(existing)
			t := task.Spawn(e.spawner, func(h *task.Handle) {
				e.runSpawned(ctx, id, key, v, epoch, cycles, previous, h)
			})
			e.running[id] = t
			e.mu.Unlock()
			return t
		default:
			e.mu.Unlock()
			return existing
		}
	}

	t := task.Spawn(e.spawner, func(h *task.Handle) {
		e.runSpawned(ctx, id, key, v, epoch, cycles, nil, h)
	})
	e.running[id] = t
	e.mu.Unlock()
	return t
}

// runSpawned is the body handed to task.Spawn: the Go analogue of
// spawn_for_key's async closure.
func (e *Engine[K, V]) runSpawned(
	ctx context.Context,
	id dicekey.KeyId,
	key K,
	v versions.Version,
	epoch versions.VersionEpoch,
	cycles CycleDetector,
	previous *task.PreviouslyCancelledTask,
	h *task.Handle,
) {
	// running only dedupes work still in flight (spec.md §4.3's at-most-
	// one-live-task invariant); the durable cache is the VersionedGraph.
	// Forgetting this entry once the body terminates means the next
	// SpawnForKey for id goes through evalEntryVersioned and is checked
	// against the requested version, instead of being handed this task's
	// value regardless of version.
	defer e.forgetIfCurrent(id, h.Task())

	if previous != nil {
		e.log.Debug().Log("waiting for previously cancelled task")
		if previous.AwaitTermination() == task.TerminationFinished {
			if value, ok := previous.Previous().GetFinishedValue(); ok {
				e.log.Debug().Log("previously cancelled task actually finished")
				h.Finished(value)
				return
			}
		}
	}

	result, err := e.evalEntryVersioned(ctx, id, key, v, epoch, cycles, h)
	switch {
	case err == nil:
		h.Finished(result)
	case errors.Is(err, task.ErrTransient):
		h.Transient(result, err)
	default:
		h.Abandon()
	}
}

// evalEntryVersioned mirrors eval_entry_versioned: look up the key's prior
// state and decide between reuse, dep-revalidation, and recompute.
func (e *Engine[K, V]) evalEntryVersioned(
	ctx context.Context,
	id dicekey.KeyId,
	key K,
	v versions.Version,
	epoch versions.VersionEpoch,
	cycles CycleDetector,
	h *task.Handle,
) (graph.ComputedValue, error) {
	res, err := e.state.LookupKey(ctx, id, v)
	if err != nil {
		return graph.ComputedValue{}, err
	}

	switch res.Kind {
	case graph.Match:
		e.log.Debug().Log("found existing entry with matching version in cache. reusing result.")
		return *res.Match, nil

	case graph.Compute:
		cycles.StartComputingKey(key)
		return e.compute(ctx, id, key, v, epoch, cycles, h)

	case graph.CheckDeps:
		cycles.StartComputingKey(key)
		h.CheckingDeps()

		kind, deps, err := e.computeWhetherDependenciesChanged(
			ctx, id, res.Mismatch.VerifiedVersions, v, epoch, res.Mismatch.DepsToValidate, cycles,
		)
		if err != nil {
			return graph.ComputedValue{}, err
		}

		switch kind {
		case depsChanged, depsNoDeps:
			return e.compute(ctx, id, key, v, epoch, cycles, h)
		default: // depsNoChange
			cycles.FinishedComputingKey(key)
			e.log.Debug().Log("reusing previous value because deps didn't change. Updating caches")

			e.reportActivation(key, deps, ActivationData{Kind: ActivationReused})

			cv, ok, err := e.state.UpdateComputed(ctx, id, v, epoch, res.Mismatch.Entry, deps, e.async.StorageType(key), e.equal)
			if err != nil {
				return graph.ComputedValue{}, err
			}
			if !ok {
				return graph.ComputedValue{}, task.ErrCancelled
			}
			e.markKnown(id)
			return cv, nil
		}
	}

	return graph.ComputedValue{}, task.ErrCancelled
}

// compute mirrors IncrementalEngine.compute: run the evaluator, then commit
// its result, guarding the commit against a racing cancellation.
func (e *Engine[K, V]) compute(
	ctx context.Context,
	id dicekey.KeyId,
	key K,
	v versions.Version,
	epoch versions.VersionEpoch,
	cycles CycleDetector,
	h *task.Handle,
) (graph.ComputedValue, error) {
	h.Computing()
	e.log.Debug().Log("running evaluator")

	deps := newDepCtx(e.registry, e.keyIndex, id, v, epoch, cycles)
	evalResult, evalErr := e.async.Evaluate(ctx, key, deps, h.CancellationContext())
	if evalErr != nil && !errors.Is(evalErr, task.ErrTransient) {
		if e.warn == nil || e.warn.Allow(id) {
			e.log.Warning().Err(evalErr).Log("evaluator returned an error")
		}
		return graph.ComputedValue{}, evalErr
	}

	guard, ok := h.CancellationContext().TryToDisableCancellation()
	if !ok {
		e.log.Debug().Log("evaluation cancelled, skipping cache updates")
		return graph.ComputedValue{}, task.ErrCancelled
	}
	defer guard.Release()

	e.log.Debug().Log("evaluation finished. updating caches")

	e.reportActivation(key, evalResult.Deps, ActivationData{
		Kind:           ActivationComputed,
		EvaluationData: evalResult.EvaluationData,
	})

	if evalErr != nil {
		// Transient/invalid value (spec.md §4.4, §7 category 2): skip the
		// state write entirely and hand back a synthetic ComputedValue
		// valid only at v, rather than caching it.
		e.log.Debug().Log("evaluator produced a transient value, skipping cache update")
		return graph.ComputedValue{Value: evalResult.Value, History: graph.VerifiedAt(v)}, evalErr
	}

	cv, ok, err := e.state.UpdateComputed(ctx, id, v, epoch, evalResult.Value, evalResult.Deps, evalResult.Storage, e.equal)
	if err != nil {
		return graph.ComputedValue{}, err
	}
	if !ok {
		return graph.ComputedValue{}, task.ErrCancelled
	}
	e.markKnown(id)

	e.log.Debug().Log("update future completed")
	return cv, nil
}

// computeWhetherDependenciesChanged dispatches an opaque compute for every
// dep concurrently (SPEC_FULL.md §10: errgroup fan-out) and intersects their
// verified version ranges against the mismatch's verified_versions, exactly
// as compute_whether_dependencies_changed does.
func (e *Engine[K, V]) computeWhetherDependenciesChanged(
	ctx context.Context,
	parent dicekey.KeyId,
	verified versions.Ranges,
	v versions.Version,
	epoch versions.VersionEpoch,
	deps []dicekey.KeyId,
	cycles CycleDetector,
) (depsChange, []dicekey.KeyId, error) {
	if len(deps) == 0 {
		return depsNoDeps, deps, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if budgeter, ok := any(e.async).(ConcurrencyBudgeter); ok {
		if n := budgeter.ConcurrencyBudget(); n > 0 {
			g.SetLimit(n)
		}
	}
	ranges := make([]versions.Ranges, len(deps))
	for i, dep := range deps {
		i, dep := i, dep
		g.Go(func() error {
			key := e.keyIndex.Get(dep)
			eng, ok := e.registry.EngineFor(key)
			if !ok {
				return fmt.Errorf("dice: no engine registered for key type %T", key)
			}
			r, err := eng.computeOpaqueByID(gctx, v, epoch, dep, parent, cycles.Subrequest(key, i))
			if err != nil {
				return err
			}
			ranges[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return depsChanged, nil, err
	}

	merged := verified
	for _, r := range ranges {
		merged = merged.Intersect(r)
		if merged.IsEmpty() {
			e.log.Debug().Log("deps changed")
			return depsChanged, nil, nil
		}
	}

	e.log.Debug().Log("deps did not change")
	return depsNoChange, deps, nil
}

// ProjectForKey is the sync/projection path (spec.md §4.4): a projection
// has no async suspension points, so its dedup is a plain
// Promise.GetOrComplete rather than a spawned DiceTask, and its cache write
// is fire-and-forget.
func (e *Engine[K, V]) ProjectForKey(key K, v versions.Version, epoch versions.VersionEpoch) (graph.ComputedValue, error) {
	if e.sync == nil {
		return graph.ComputedValue{}, fmt.Errorf("dice: key %v has no projection evaluator registered", key)
	}
	id := e.keyIndex.Intern(key)

	e.mu.Lock()
	entry, ok := e.projecting[id]
	if !ok || entry.v != v || entry.epoch != epoch {
		entry = &projectionEntry{v: v, epoch: epoch, promise: task.NewPromise[graph.ComputedValue]()}
		e.projecting[id] = entry
	}
	e.mu.Unlock()

	value, err := entry.promise.GetOrComplete(func() (graph.ComputedValue, error) {
		e.log.Debug().Log("running projection")

		evalResult, err := e.sync.Evaluate(key)
		if err != nil {
			return graph.ComputedValue{}, err
		}

		e.log.Debug().Log("projection finished. updating caches")
		e.state.UpdateComputedFireAndForget(id, v, epoch, evalResult.Value, evalResult.Deps, evalResult.Storage, e.equal)
		e.markKnown(id)

		return graph.ComputedValue{Value: evalResult.Value, History: graph.VerifiedAt(v)}, nil
	})

	if err != nil {
		// Don't keep a failed projection's promise around: a later call at
		// the same (key, v, epoch) should retry the sync evaluator rather
		// than replay the same failure forever. A successful entry is left
		// in place so a second sequential call at the same (key, v, epoch)
		// reuses the settled promise instead of re-invoking the evaluator
		// (spec.md §8, "Projection idempotence").
		e.mu.Lock()
		if e.projecting[id] == entry {
			delete(e.projecting, id)
		}
		e.mu.Unlock()
	}

	return value, err
}

// reportActivation mirrors report_key_activation: translate internal
// KeyIds back to user key identities before invoking the ActivationTracker.
func (e *Engine[K, V]) reportActivation(key K, deps []dicekey.KeyId, data ActivationData) {
	if e.tracker == nil {
		return
	}
	depKeys := make([]any, len(deps))
	for i, d := range deps {
		depKeys[i] = e.keyIndex.Get(d)
	}
	e.tracker.KeyActivated(key, depKeys, data)
}

func (e *Engine[K, V]) forgetIfCurrent(id dicekey.KeyId, t *task.DiceTask) {
	e.mu.Lock()
	if e.running[id] == t {
		delete(e.running, id)
	}
	e.mu.Unlock()
}

func (e *Engine[K, V]) markKnown(id dicekey.KeyId) {
	e.mu.Lock()
	e.known[id] = struct{}{}
	e.mu.Unlock()
	if e.onActivity != nil {
		e.onActivity()
	}
}

// computeOpaqueByID implements DepEngine for Engine[K,V]: spawn/await the
// dependency and surface only its verified version ranges.
func (e *Engine[K, V]) computeOpaqueByID(ctx context.Context, v versions.Version, epoch versions.VersionEpoch, depID dicekey.KeyId, parent dicekey.KeyId, cycles CycleDetector) (versions.Ranges, error) {
	key, ok := e.keyIndex.Get(depID).(K)
	if !ok {
		return versions.Ranges{}, fmt.Errorf("dice: key for id %d is not of the expected type", depID)
	}
	t := e.SpawnForKey(ctx, key, v, epoch, cycles)
	cv, err := t.Promise().Wait()
	if err != nil {
		return versions.Ranges{}, err
	}
	return cv.History.VerifiedRanges(), nil
}

// computeValueByID implements DepEngine for Engine[K,V]: spawn/await the
// dependency and surface its resolved value.
func (e *Engine[K, V]) computeValueByID(ctx context.Context, v versions.Version, epoch versions.VersionEpoch, depID dicekey.KeyId, parent dicekey.KeyId, cycles CycleDetector) (any, error) {
	key, ok := e.keyIndex.Get(depID).(K)
	if !ok {
		return nil, fmt.Errorf("dice: key for id %d is not of the expected type", depID)
	}
	t := e.SpawnForKey(ctx, key, v, epoch, cycles)
	cv, err := t.Promise().Wait()
	if err != nil {
		return nil, err
	}
	return cv.Value, nil
}

// TotalKeys implements ErasedEngine: the number of distinct keys this
// engine has ever committed a value for.
func (e *Engine[K, V]) TotalKeys() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.known)
}

// RunningKeys implements ErasedEngine: the number of keys with a live
// (not yet Finished or Cancelled) task in flight.
func (e *Engine[K, V]) RunningKeys() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.running {
		switch t.State() {
		case task.Finished, task.Cancelled:
		default:
			n++
		}
	}
	return n
}
