// Package graph implements the VersionedGraph: the authoritative store of
// computed values, tagged with cell histories (verified version ranges),
// as described by spec.md §4.1. It is owned exclusively by a single
// goroutine (internal/state.Handle), so it performs no internal locking --
// this mirrors spec.md §4.2's "non-shared resource" design and the
// teacher's go-microbatch single-owner BatchProcessor.
package graph

import (
	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/versions"
)

// Storage selects how superseded GraphEntry values are retained.
type Storage int

const (
	// Normal keeps only the latest entry per key.
	Normal Storage = iota
	// Retain keeps older versions around for historical queries.
	Retain
)

// EqualFunc is the user-supplied equivalence used to decide whether a
// freshly computed value is equal to the previously stored one, in which
// case the prior entry's history is simply extended instead of inserting a
// new entry (spec.md §4.1).
type EqualFunc func(prev, next any) bool

// CellHistory is the set of versions at which a value is known to hold.
type CellHistory struct {
	verified versions.Ranges
}

// VerifiedAt returns a CellHistory verified only at v.
func VerifiedAt(v versions.Version) CellHistory {
	return CellHistory{verified: versions.Single(v)}
}

// Verifies reports whether this history verifies v.
func (h CellHistory) Verifies(v versions.Version) bool {
	return h.verified.Contains(v)
}

// Extend returns a history additionally verified at v.
func (h CellHistory) Extend(v versions.Version) CellHistory {
	return CellHistory{verified: h.verified.Insert(v)}
}

// VerifiedRanges returns the verified version ranges, e.g. for folding into
// a running intersection during dependency revalidation.
func (h CellHistory) VerifiedRanges() versions.Ranges {
	return h.verified
}

// GraphEntry is one stored value for a key: the value itself, the history
// over which it is known-verified, the ordered set of deps read while
// computing it, and its storage policy.
type GraphEntry struct {
	Value   any
	History CellHistory
	Deps    []dicekey.KeyId // ordered by first-touch, deduplicated
	Storage Storage
}

// ComputedValue is the short-lived result handed back to callers. It is
// passed by value: deduplicated awaiters of one task each receive a copy
// of the same ComputedValue from the task's shared promise, so their Value
// fields hold the same underlying value.
type ComputedValue struct {
	Value   any
	History CellHistory
}

// ResultKind distinguishes the three VersionedGraph.Lookup outcomes.
type ResultKind int

const (
	// Compute means nothing usable exists; a fresh evaluation is required.
	Compute ResultKind = iota
	// Match means some stored entry's history verifies the requested
	// version.
	Match
	// CheckDeps means a prior entry exists whose history borders the
	// requested version; its deps must be revalidated.
	CheckDeps
)

// Mismatch carries the detail needed to revalidate a CheckDeps result.
type Mismatch struct {
	Entry            any               // the previous value, to reuse if deps didn't change
	VerifiedVersions versions.Ranges   // the verified ranges to intersect against
	DepsToValidate   []dicekey.KeyId   // ordered deps to revalidate
}

// Result is the outcome of VersionedGraph.Lookup.
type Result struct {
	Kind     ResultKind
	Match    *ComputedValue
	Mismatch *Mismatch
}

// VersionedGraph is the authoritative versioned value store, keyed by
// dicekey.KeyId. It must only be accessed from a single goroutine.
type VersionedGraph struct {
	// entries[key] is ordered oldest-to-newest by the version at which the
	// entry was first committed.
	entries map[dicekey.KeyId][]*GraphEntry
}

// New creates an empty VersionedGraph.
func New() *VersionedGraph {
	return &VersionedGraph{entries: make(map[dicekey.KeyId][]*GraphEntry)}
}

// Lookup implements spec.md §4.1's lookup(key, v) -> VersionedGraphResult.
func (g *VersionedGraph) Lookup(key dicekey.KeyId, v versions.Version) Result {
	es := g.entries[key]
	if len(es) == 0 {
		return Result{Kind: Compute}
	}

	// Most recent entry whose history verifies v wins outright.
	for i := len(es) - 1; i >= 0; i-- {
		if es[i].History.Verifies(v) {
			return Result{Kind: Match, Match: &ComputedValue{
				Value:   es[i].Value,
				History: es[i].History,
			}}
		}
	}

	// Otherwise, the most recently stored entry is the candidate for
	// revalidation, whatever the version it was committed at and whether
	// or not it recorded deps.
	latest := es[len(es)-1]
	if len(latest.Deps) == 0 {
		// No deps to revalidate: spec.md §4.1 "empty-deps entries ...
		// revalidation path is the fast NoDeps outcome" is handled by the
		// engine, but the graph itself still reports CheckDeps with an
		// empty dep list so the engine can fast-path it.
	}
	return Result{Kind: CheckDeps, Mismatch: &Mismatch{
		Entry:            latest.Value,
		VerifiedVersions: latest.History.VerifiedRanges(),
		DepsToValidate:   latest.Deps,
	}}
}

// UpdateComputed implements spec.md §4.1's update_computed. currentEpoch is
// the VersionEpoch the caller's task was spawned under; if it no longer
// matches the graph's notion of the live epoch for this commit, the write
// is a stale, cancelled write and is dropped (returns ok=false).
func (g *VersionedGraph) UpdateComputed(
	key dicekey.KeyId,
	v versions.Version,
	epoch versions.VersionEpoch,
	liveEpoch versions.VersionEpoch,
	value any,
	deps []dicekey.KeyId,
	storage Storage,
	equal EqualFunc,
) (result ComputedValue, ok bool) {
	if epoch != liveEpoch {
		// The write carrying a stale epoch loses the tie-break: its task
		// was cancelled (spec.md §4.1).
		return ComputedValue{}, false
	}

	es := g.entries[key]
	if len(es) > 0 {
		prev := es[len(es)-1]
		if equal != nil && equal(prev.Value, value) {
			prev.History = prev.History.Extend(v)
			return ComputedValue{Value: prev.Value, History: prev.History}, true
		}
	}

	entry := &GraphEntry{
		Value:   value,
		History: VerifiedAt(v),
		Deps:    dedupeOrdered(deps),
		Storage: storage,
	}

	if storage == Normal && len(es) > 0 {
		// Normal storage keeps only the latest entry per key.
		g.entries[key] = []*GraphEntry{entry}
	} else {
		g.entries[key] = append(es, entry)
	}

	return ComputedValue{Value: entry.Value, History: entry.History}, true
}

// dedupeOrdered preserves first-occurrence order while dropping duplicates,
// per spec.md §3: "deps is recorded in the order in which the evaluator
// first requested each dep; duplicates collapse to first occurrence."
func dedupeOrdered(deps []dicekey.KeyId) []dicekey.KeyId {
	if len(deps) == 0 {
		return nil
	}
	seen := make(map[dicekey.KeyId]struct{}, len(deps))
	out := make([]dicekey.KeyId, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// EntryCount returns the number of live GraphEntry values stored for key,
// used by introspection and by Retain-storage tests.
func (g *VersionedGraph) EntryCount(key dicekey.KeyId) int {
	return len(g.entries[key])
}

// KeyCount returns the number of distinct keys with at least one entry.
func (g *VersionedGraph) KeyCount() int {
	return len(g.entries)
}
