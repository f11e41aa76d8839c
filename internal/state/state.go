// Package state implements the StateHandle: the single-owner mailbox that
// serializes every mutating request against the VersionedGraph
// (spec.md §4.2). Rather than a bespoke channel-actor loop, this wraps the
// teacher's own go-microbatch.Batcher configured with MaxConcurrency: 1,
// which is exactly a single-owner serializing mailbox whose
// JobResult.Wait is the one-shot reply channel spec.md describes.
package state

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/graph"
	"github.com/joeycumines/go-dice/internal/versions"
	"github.com/joeycumines/go-dice/internal/dicelog"
	microbatch "github.com/joeycumines/go-microbatch"
)

type requestKind int

const (
	kindLookupKey requestKind = iota
	kindUpdateComputed
	kindKeyCount
)

// request is the single Job type submitted to the microbatch.Batcher; its
// fields double as both the request payload and (once the BatchProcessor
// has run) the reply.
type request struct {
	kind requestKind

	key     dicekey.KeyId
	version versions.Version

	// UpdateComputed-only fields.
	epoch   versions.VersionEpoch
	value   any
	deps    []dicekey.KeyId
	storage graph.Storage
	equal   graph.EqualFunc

	// Replies, populated by the BatchProcessor before the job completes.
	lookupResult graph.Result
	updateValue  graph.ComputedValue
	updateOK     bool
	keyCount     int
}

// Handle is the StateHandle: client code posts requests and awaits a
// one-shot reply, exactly as spec.md §4.2 describes.
type Handle struct {
	graph     *graph.VersionedGraph
	batcher   *microbatch.Batcher[*request]
	liveEpoch atomic.Int64 // versions.VersionEpoch
	log       dicelog.Logger
}

// New creates a Handle owning a fresh, empty VersionedGraph.
func New(log dicelog.Logger) *Handle {
	h := &Handle{
		graph: graph.New(),
		log:   dicelog.OrGlobal(log),
	}
	h.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		// MaxConcurrency: 1 is what makes this a single-owner mailbox:
		// every batch is applied to the graph by exactly one goroutine at
		// a time, so VersionedGraph itself needs no internal locking.
		MaxConcurrency: 1,
	}, h.process)
	return h
}

// process is the microbatch.BatchProcessor: the sole writer of the graph.
func (h *Handle) process(_ context.Context, jobs []*request) error {
	for _, req := range jobs {
		switch req.kind {
		case kindLookupKey:
			req.lookupResult = h.graph.Lookup(req.key, req.version)
		case kindUpdateComputed:
			value, ok := h.graph.UpdateComputed(
				req.key, req.version, req.epoch, versions.VersionEpoch(h.liveEpoch.Load()),
				req.value, req.deps, req.storage, req.equal,
			)
			req.updateValue, req.updateOK = value, ok
		case kindKeyCount:
			req.keyCount = h.graph.KeyCount()
		}
	}
	return nil
}

// LookupKey implements spec.md §4.2's LookupKey request/reply.
func (h *Handle) LookupKey(ctx context.Context, key dicekey.KeyId, v versions.Version) (graph.Result, error) {
	req := &request{kind: kindLookupKey, key: key, version: v}
	jr, err := h.batcher.Submit(ctx, req)
	if err != nil {
		return graph.Result{}, err
	}
	if err := jr.Wait(ctx); err != nil {
		return graph.Result{}, err
	}
	return jr.Job.lookupResult, nil
}

// UpdateComputed implements spec.md §4.2's UpdateComputed request/reply.
// ok is false if the write carried a stale epoch and was dropped (the
// task that produced it was cancelled).
func (h *Handle) UpdateComputed(
	ctx context.Context,
	key dicekey.KeyId,
	v versions.Version,
	epoch versions.VersionEpoch,
	value any,
	deps []dicekey.KeyId,
	storage graph.Storage,
	equal graph.EqualFunc,
) (graph.ComputedValue, bool, error) {
	req := &request{
		kind: kindUpdateComputed, key: key, version: v,
		epoch: epoch, value: value, deps: deps, storage: storage, equal: equal,
	}
	jr, err := h.batcher.Submit(ctx, req)
	if err != nil {
		return graph.ComputedValue{}, false, err
	}
	if err := jr.Wait(ctx); err != nil {
		return graph.ComputedValue{}, false, err
	}
	return jr.Job.updateValue, jr.Job.updateOK, nil
}

// UpdateComputedFireAndForget submits an UpdateComputed request without
// waiting for its reply, used by the projection path (spec.md §4.4:
// "Writes are fire-and-forget (the reply channel is dropped) because
// projection values are defined to be cheap and idempotent").
func (h *Handle) UpdateComputedFireAndForget(
	key dicekey.KeyId,
	v versions.Version,
	epoch versions.VersionEpoch,
	value any,
	deps []dicekey.KeyId,
	storage graph.Storage,
	equal graph.EqualFunc,
) {
	req := &request{
		kind: kindUpdateComputed, key: key, version: v,
		epoch: epoch, value: value, deps: deps, storage: storage, equal: equal,
	}
	// Best-effort: Submit itself still goes through the serializing
	// mailbox, but nobody waits on the JobResult.
	_, _ = h.batcher.Submit(context.Background(), req)
}

// CurrentEpoch returns the live VersionEpoch: writes carrying any other
// epoch are treated as stale (spec.md §4.1).
func (h *Handle) CurrentEpoch() versions.VersionEpoch {
	return versions.VersionEpoch(h.liveEpoch.Load())
}

// AdvanceEpoch bumps the live epoch, e.g. when the owning Dice resets
// in-flight computations, and returns the new epoch.
func (h *Handle) AdvanceEpoch() versions.VersionEpoch {
	return versions.VersionEpoch(h.liveEpoch.Add(1))
}

// KeyCount returns the number of distinct keys with at least one stored
// entry, for introspection (spec.md §6). Routed through the same
// serializing mailbox as every other graph access.
func (h *Handle) KeyCount(ctx context.Context) (int, error) {
	req := &request{kind: kindKeyCount}
	jr, err := h.batcher.Submit(ctx, req)
	if err != nil {
		return 0, err
	}
	if err := jr.Wait(ctx); err != nil {
		return 0, err
	}
	return jr.Job.keyCount, nil
}

// Close shuts down the underlying batcher, waiting for in-flight batches
// to finish.
func (h *Handle) Close(ctx context.Context) error {
	return h.batcher.Shutdown(ctx)
}
