package engine

import (
	"context"

	"github.com/joeycumines/go-dice/internal/graph"
	"github.com/joeycumines/go-dice/internal/task"
)

// AsyncEvaluator is the suspending evaluator contract (spec.md §4.6):
// "may await; must route every dependency fetch through the supplied
// dep-tracking context so that deps is the exact set of keys read."
type AsyncEvaluator[K comparable, V any] interface {
	Evaluate(ctx context.Context, key K, deps *DepCtx, cancel *task.CancellationContext) (EvalResult[V], error)
	StorageType(key K) graph.Storage
}

// SyncEvaluator is the non-suspending evaluator used for projections
// (spec.md §4.6): "a non-suspending evaluate(key) returning the same
// shape."
type SyncEvaluator[K comparable, V any] interface {
	Evaluate(key K) (EvalResult[V], error)
}

// ConcurrencyBudgeter is an optional AsyncEvaluator extension: if an
// evaluator implements it, dependency revalidation fan-out
// (computeWhetherDependenciesChanged's errgroup) is capped at
// ConcurrencyBudget() simultaneous opaque computes instead of running
// every dep unbounded, e.g. to avoid saturating a downstream resource a
// wide key's deps all contend on. A non-positive return means unbounded.
type ConcurrencyBudgeter interface {
	ConcurrencyBudget() int
}
