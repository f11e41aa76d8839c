package engine

import (
	"context"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/versions"
)

// DepEngine is the type-erased entry point a DepCtx uses to recurse into
// whatever Engine[K,V] owns a dependency key, without knowing its static
// K/V types -- the Go analogue of buck2 dice's `Arc<dyn Key>` dispatch via
// DiceKeyIndex, carried forward per SPEC_FULL.md §11. Exported so
// internal/enginemap (which implements Registry) can spell the type, even
// though its two compute methods stay package-private: only code within
// internal/engine ever calls them directly.
type DepEngine interface {
	ErasedEngine

	// computeOpaqueByID computes depID (interning already done by the
	// caller) for side effects only: the returned Ranges are the
	// verified version ranges, used to fold into the running
	// intersection during dependency revalidation (spec.md §4.4).
	computeOpaqueByID(ctx context.Context, v versions.Version, epoch versions.VersionEpoch, depID dicekey.KeyId, parent dicekey.KeyId, cycles CycleDetector) (versions.Ranges, error)

	// computeValueByID computes depID and returns its resolved value, for
	// a dep-tracking context that actually needs the value (not just an
	// opaque compute).
	computeValueByID(ctx context.Context, v versions.Version, epoch versions.VersionEpoch, depID dicekey.KeyId, parent dicekey.KeyId, cycles CycleDetector) (any, error)
}

// Registry resolves a dependency key's dynamic type to the DepEngine that
// owns it. Implemented by internal/enginemap.EngineMap; declared here,
// narrowly, to avoid engine depending on enginemap (enginemap depends on
// engine for ErasedEngine/DepEngine instead).
type Registry interface {
	EngineFor(key any) (DepEngine, bool)
}
