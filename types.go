package dice

import (
	"github.com/joeycumines/go-dice/internal/engine"
	"github.com/joeycumines/go-dice/internal/graph"
	"github.com/joeycumines/go-dice/internal/task"
	"github.com/joeycumines/go-dice/internal/versions"
)

// AsyncEvaluator is the suspending Evaluator contract (spec.md §4.6/§6):
// compute a key's value, reading every dependency through deps so the
// engine can record exactly what was touched.
type AsyncEvaluator[K comparable, V any] = engine.AsyncEvaluator[K, V]

// SyncEvaluator is the non-suspending projection evaluator (spec.md §4.4).
type SyncEvaluator[K comparable, V any] = engine.SyncEvaluator[K, V]

// EvalResult is what an Evaluator returns on success.
type EvalResult[V any] = engine.EvalResult[V]

// DepCtx is the dependency-tracking context handed to an AsyncEvaluator.
type DepCtx = engine.DepCtx

// CancellationContext is the cooperative cancellation surface handed to an
// AsyncEvaluator at every suspension point (spec.md §5).
type CancellationContext = task.CancellationContext

// ActivationTracker mirrors spec.md §6's key_activated hook.
type ActivationTracker = engine.ActivationTracker

// ActivationData is the payload passed to ActivationTracker.KeyActivated.
type ActivationData = engine.ActivationData

// ActivationKind distinguishes a recompute from a dep-revalidated reuse.
type ActivationKind = engine.ActivationKind

const (
	ActivationComputed = engine.ActivationComputed
	ActivationReused   = engine.ActivationReused
)

// CycleDetector mirrors spec.md §6's cycle-detector hook; the engine
// reports keys but does not define the detection algorithm itself.
type CycleDetector = engine.CycleDetector

// Storage selects how superseded values are retained for a key
// (spec.md §4.1).
type Storage = graph.Storage

const (
	// StorageNormal keeps only the latest committed value per key.
	StorageNormal = graph.Normal
	// StorageRetain keeps every committed value, for historical queries.
	StorageRetain = graph.Retain
)

// Equal is the user-supplied equivalence deciding whether a freshly
// computed value is equal to the previously stored one, in which case
// history is extended instead of superseding the entry.
type Equal = graph.EqualFunc

// Spawner abstracts the pluggable executor spec.md §5 describes.
type Spawner = task.Spawner

// Version is the monotone counter bumped on any externally-visible input
// change (spec.md §3).
type Version = versions.Version

// VersionEpoch disambiguates two evaluations that share a Version after a
// reset of the underlying state machine.
type VersionEpoch = versions.VersionEpoch
