// Package enginemap implements EngineMap: a dynamically-typed registry
// mapping a user key type to the Engine[K,V] that owns it, plus a
// type-erased list of every registered engine for introspection
// (TotalKeys/RunningKeys aggregated across all key types). Grounded on
// original_source/dice/dice/src/legacy/map.rs's DiceMap (typed + erased),
// using reflect.Type as the heterogeneous map key in place of anymap::Map.
package enginemap

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-dice/internal/dicelog"
	"github.com/joeycumines/go-dice/internal/engine"
	"github.com/joeycumines/go-longpoll"
)

// Snapshot is the aggregate introspection result spec.md §6 exposes:
// total distinct keys known across every registered engine, and how many
// have a task currently in flight.
type Snapshot struct {
	TotalKeys   int
	RunningKeys int
}

// EngineMap is the single-writer registry of per-key-type engines. New
// engine types are registered once (find-or-create, like DiceMap.find_cache);
// after that, lookups by key only need a read lock.
type EngineMap struct {
	mu     sync.RWMutex
	typed  map[reflect.Type]any // reflect.Type of K -> *engine.Engine[K, V]
	erased []engine.DepEngine   // same engines, type-erased, insertion order

	snapshot atomic.Pointer[Snapshot]

	notify chan struct{}
	stop   context.CancelFunc
	done   chan struct{}
}

// New creates an empty EngineMap and starts its introspection-refresh
// poller, which drains bursts of activity notifications (one per commit,
// see engine.Config.OnActivity) via longpoll.Channel instead of
// recomputing the aggregate snapshot on every single commit.
func New(log dicelog.Logger) *EngineMap {
	ctx, cancel := context.WithCancel(context.Background())
	em := &EngineMap{
		typed:  make(map[reflect.Type]any),
		notify: make(chan struct{}, 256),
		stop:   cancel,
		done:   make(chan struct{}),
	}
	em.snapshot.Store(&Snapshot{})
	log = dicelog.OrGlobal(log)
	go em.refreshLoop(ctx, log)
	return em
}

// refreshLoop drains notify in batches (longpoll.Channel: at least one,
// plus whatever arrived within the partial timeout) and recomputes the
// aggregate Snapshot once per batch.
func (em *EngineMap) refreshLoop(ctx context.Context, log dicelog.Logger) {
	defer close(em.done)
	cfg := &longpoll.ChannelConfig{
		MaxSize:        64,
		MinSize:        1,
		PartialTimeout: 20 * time.Millisecond,
	}
	for {
		err := longpoll.Channel(ctx, cfg, em.notify, func(struct{}) error {
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// io.EOF (channel closed) or any other terminal condition: stop.
			return
		}
		em.recompute()
		log.Trace().Log("introspection snapshot refreshed")
	}
}

// recompute sums TotalKeys/RunningKeys across every registered engine and
// publishes the result.
func (em *EngineMap) recompute() {
	em.mu.RLock()
	erased := em.erased
	em.mu.RUnlock()

	var s Snapshot
	for _, e := range erased {
		s.TotalKeys += e.TotalKeys()
		s.RunningKeys += e.RunningKeys()
	}
	em.snapshot.Store(&s)
}

// NotifyActivity pushes a (best-effort) activity notification; dropped if
// the buffer is full, since a refresh is already pending in that case.
func (em *EngineMap) NotifyActivity() {
	select {
	case em.notify <- struct{}{}:
	default:
	}
}

// FindOrCreate is the Go analogue of DiceMap.find_cache: it returns the
// already-registered Engine[K,V] for this key type, or registers and
// returns a freshly constructed one. Package-level (not a method) because
// Go methods cannot introduce new type parameters.
func FindOrCreate[K comparable, V any](em *EngineMap, newEngine func() *engine.Engine[K, V]) *engine.Engine[K, V] {
	var zero K
	t := reflect.TypeOf(zero)

	em.mu.RLock()
	if existing, ok := em.typed[t]; ok {
		em.mu.RUnlock()
		return existing.(*engine.Engine[K, V])
	}
	em.mu.RUnlock()

	em.mu.Lock()
	defer em.mu.Unlock()
	if existing, ok := em.typed[t]; ok {
		return existing.(*engine.Engine[K, V])
	}

	e := newEngine()
	em.typed[t] = e
	em.erased = append(em.erased, any(e).(engine.DepEngine))
	return e
}

// EngineFor implements engine.Registry: resolve key's dynamic type to its
// owning engine's type-erased DepEngine.
func (em *EngineMap) EngineFor(key any) (engine.DepEngine, bool) {
	t := reflect.TypeOf(key)
	em.mu.RLock()
	defer em.mu.RUnlock()
	stored, ok := em.typed[t]
	if !ok {
		return nil, false
	}
	return stored.(engine.DepEngine), true
}

// Introspect returns the most recently published aggregate Snapshot
// (spec.md §6's key_count/currently_running_key_count).
func (em *EngineMap) Introspect() Snapshot {
	return *em.snapshot.Load()
}

// Close stops the introspection-refresh poller.
func (em *EngineMap) Close() {
	em.stop()
	<-em.done
}
