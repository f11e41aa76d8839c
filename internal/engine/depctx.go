package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/versions"
)

// DepCtx is the dependency-tracking context an AsyncEvaluator is given: it
// records, in order, every key requested while evaluating its parent, and
// lets the evaluator actually fetch a dependency's value. spec.md §3:
// "deps is recorded in the order in which the evaluator first requested
// each dep; duplicates collapse to first occurrence" -- enforced here
// with an ordered slice plus a seen-set, matching spec.md §9's design
// note ("Collect deps into an ordered container ... do not rely on
// completion order").
type DepCtx struct {
	mu       sync.Mutex
	registry Registry
	keyIndex *dicekey.KeyIndex
	parent   dicekey.KeyId
	version  versions.Version
	epoch    versions.VersionEpoch
	cycles   CycleDetector
	deps     []dicekey.KeyId
	seen     map[dicekey.KeyId]int
}

func newDepCtx(registry Registry, keyIndex *dicekey.KeyIndex, parent dicekey.KeyId, v versions.Version, epoch versions.VersionEpoch, cycles CycleDetector) *DepCtx {
	return &DepCtx{
		registry: registry,
		keyIndex: keyIndex,
		parent:   parent,
		version:  v,
		epoch:    epoch,
		cycles:   cycles,
		seen:     make(map[dicekey.KeyId]int),
	}
}

// record appends id to the ordered dep set if not already present, and
// returns its first-occurrence index within the ordered dep set (used to
// derive a stable per-dependency CycleDetector.Subrequest index).
func (d *DepCtx) record(id dicekey.KeyId) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.seen[id]; ok {
		return i
	}
	i := len(d.deps)
	d.seen[id] = i
	d.deps = append(d.deps, id)
	return i
}

// Deps returns the ordered, deduplicated set of keys read so far.
func (d *DepCtx) Deps() []dicekey.KeyId {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dicekey.KeyId, len(d.deps))
	copy(out, d.deps)
	return out
}

// Get computes (or reuses the cached value of) key at this DepCtx's
// version/epoch (the same ones its parent key is being computed at),
// records it as a dependency, and returns its resolved value. This is how
// an evaluator's body routes every dependency fetch through the engine,
// per spec.md §4.6. The CycleDetector handed to the dependency's own
// computation is cycles.Subrequest(key, i), i being key's first-occurrence
// index in this DepCtx's ordered dep set -- cycles itself is the one the
// parent key is already being computed under (SpawnForKey's cycles
// argument), not something the evaluator supplies per call.
func Get[V any](ctx context.Context, d *DepCtx, key any) (V, error) {
	var zero V
	eng, ok := d.registry.EngineFor(key)
	if !ok {
		return zero, fmt.Errorf("dice: no engine registered for key type %T", key)
	}
	id := d.keyIndex.Intern(key)
	index := d.record(id)

	value, err := eng.computeValueByID(ctx, d.version, d.epoch, id, d.parent, d.cycles.Subrequest(key, index))
	if err != nil {
		return zero, err
	}
	typed, ok := value.(V)
	if !ok {
		return zero, fmt.Errorf("dice: dependency %T did not produce the expected value type (got %T)", key, value)
	}
	return typed, nil
}
