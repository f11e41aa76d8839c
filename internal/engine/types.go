// Package engine implements the IncrementalEngine protocol: turning a
// request for (key, version) into a cache hit, a dep-revalidation, or a
// fresh compute (spec.md §4.4), ported from
// original_source/dice/dice/src/impls/incremental/mod.rs.
package engine

import (
	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/graph"
)

// ActivationKind distinguishes whether a key's value was recomputed or
// reused, per spec.md §6's ActivationTracker hook.
type ActivationKind int

const (
	// ActivationComputed means the evaluator actually ran.
	ActivationComputed ActivationKind = iota
	// ActivationReused means deps revalidated unchanged and no evaluator
	// call occurred.
	ActivationReused
)

// ActivationData is the payload passed to ActivationTracker.KeyActivated.
type ActivationData struct {
	Kind           ActivationKind
	EvaluationData any // only meaningful when Kind == ActivationComputed
}

// ActivationTracker mirrors spec.md §6's hook:
// "key_activated(key_any, deps_any_iter, data)".
type ActivationTracker interface {
	KeyActivated(key any, deps []any, data ActivationData)
}

// CycleDetector mirrors spec.md §6's hook. The engine reports keys but
// does not define the detection algorithm itself. Subrequest returns the
// (possibly new) detector state to use for a dependency computation.
type CycleDetector interface {
	StartComputingKey(key any)
	FinishedComputingKey(key any)
	Subrequest(child any, index int) CycleDetector
}

// EvalResult is what an evaluator returns on success: the value, the
// ordered set of deps actually read, the storage policy, and arbitrary
// data forwarded to the ActivationTracker as ActivationData.EvaluationData.
type EvalResult[V any] struct {
	Value          V
	Deps           []dicekey.KeyId
	Storage        graph.Storage
	EvaluationData any
}

// ErasedEngine is the type-erased introspection surface every per-key-type
// Engine[K,V] implements, used by EngineMap for aggregate counts
// (spec.md §4.5, §6), grounded on
// original_source/dice/dice/src/legacy/map.rs's ErasedEngine trait.
type ErasedEngine interface {
	TotalKeys() int
	RunningKeys() int
}
