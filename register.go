package dice

import (
	"github.com/joeycumines/go-dice/internal/engine"
	"github.com/joeycumines/go-dice/internal/enginemap"
)

// EngineOption configures a single key type's registration with Register,
// overriding one of Dice's defaults for that key type only.
type EngineOption[K comparable, V any] func(*engine.Config[K, V])

// WithSync attaches a SyncEvaluator, enabling Computation.Project for this
// key type (spec.md §4.4/§4.6). Without one, Project returns an error.
func WithSync[K comparable, V any](sync SyncEvaluator[K, V]) EngineOption[K, V] {
	return func(cfg *engine.Config[K, V]) { cfg.Sync = sync }
}

// WithEqual overrides Dice's default equivalence for this key type.
func WithEqual[K comparable, V any](equal Equal) EngineOption[K, V] {
	return func(cfg *engine.Config[K, V]) { cfg.Equal = equal }
}

// WithEngineActivationTracker overrides Dice's default ActivationTracker
// for this key type.
func WithEngineActivationTracker[K comparable, V any](tracker ActivationTracker) EngineOption[K, V] {
	return func(cfg *engine.Config[K, V]) { cfg.ActivationTracker = tracker }
}

// WithEngineSpawner overrides Dice's default Spawner for this key type.
func WithEngineSpawner[K comparable, V any](spawner Spawner) EngineOption[K, V] {
	return func(cfg *engine.Config[K, V]) { cfg.Spawner = spawner }
}

// Computation is the typed handle returned by Register: the entry point
// for computing or projecting values of a single key type K.
type Computation[K comparable, V any] struct {
	d   *Dice
	eng *engine.Engine[K, V]
}

// Register binds an AsyncEvaluator to key type K and returns a typed
// Computation handle. Package-level (not a Dice method) because Go
// methods cannot introduce new type parameters.
//
// Each key type may only be registered once per Dice: a second Register
// call for the same K returns the handle wrapping the already-registered
// engine, per enginemap.FindOrCreate's find-or-create semantics (any
// options passed to the second call are ignored, matching
// legacy/map.rs's DiceMap.find_cache).
func Register[K comparable, V any](d *Dice, async AsyncEvaluator[K, V], opts ...EngineOption[K, V]) *Computation[K, V] {
	eng := enginemap.FindOrCreate(d.engines, func() *engine.Engine[K, V] {
		cfg := engine.Config[K, V]{
			State:             d.state,
			KeyIndex:          d.keyIndex,
			Registry:          d.engines,
			Async:             async,
			Equal:             d.defaultEqual,
			Spawner:           d.defaultSpawner,
			ActivationTracker: d.defaultTracker,
			Log:               d.log,
			WarnLimiter:       d.warnLimiter,
			OnActivity:        d.engines.NotifyActivity,
		}
		for _, opt := range opts {
			opt(&cfg)
		}
		return engine.New(cfg)
	})
	return &Computation[K, V]{d: d, eng: eng}
}
