// Package dice implements a generic memoizing dataflow runtime: clients
// declare keys whose values are computed by evaluators that may themselves
// request other keys. The engine tracks dependencies, versions results,
// reuses prior work when inputs are unchanged, deduplicates in-flight
// work, and supports cooperative cancellation with safe revival.
//
// A zero-value Dice is not usable; construct one with New. Register binds
// an Evaluator to a key type, returning a typed Computation handle used to
// actually request values via Compute or Project.
package dice

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/joeycumines/go-dice/internal/dicekey"
	"github.com/joeycumines/go-dice/internal/dicelog"
	"github.com/joeycumines/go-dice/internal/enginemap"
	"github.com/joeycumines/go-dice/internal/state"
	"github.com/joeycumines/logiface"
)

// Dice is the runtime: a key index, a versioned graph behind a single
// serializing StateHandle, and the type-indexed registry of per-key-type
// engines, wired together per spec.md §2's module list.
type Dice struct {
	keyIndex *dicekey.KeyIndex
	state    *state.Handle
	engines  *enginemap.EngineMap
	log      dicelog.Logger

	defaultEqual    Equal
	defaultSpawner  Spawner
	defaultTracker  ActivationTracker
	defaultCycles   CycleDetector
	warnLimiter     *dicelog.WarnLimiter

	version atomic.Int64 // versions.Version; bumped by NewVersion
}

// Option configures a Dice at construction time, matching the functional
// options pattern logiface.Logger itself uses (Option[E Event]).
type Option func(*Dice)

// WithLogger installs the structured logger handed to every engine, the
// state actor and the introspection poller. Defaults to dicelog.Global() (a no-op logger
// unless dicelog.SetGlobal was called).
func WithLogger(log Logger) Option {
	return func(d *Dice) { d.log = log }
}

// Logger is the structured logging handle threaded through this module
// (github.com/joeycumines/logiface, backed by the stumpy zero-alloc
// backend). See dicelog.New to build one writing to an arbitrary
// io.Writer.
type Logger = dicelog.Logger

// NewLogger constructs a Logger writing structured JSON lines to w at the
// given minimum level.
func NewLogger(w io.Writer, level logiface.Level) Logger {
	return dicelog.New(w, level)
}

// WithDefaultEqual installs the equivalence used by engines that don't
// override it via a per-registration WithEqual option (spec.md §4.1).
func WithDefaultEqual(equal Equal) Option {
	return func(d *Dice) { d.defaultEqual = equal }
}

// WithSpawner installs the default pluggable executor (spec.md §5) used
// by engines that don't override it via WithEngineSpawner.
func WithSpawner(spawner Spawner) Option {
	return func(d *Dice) { d.defaultSpawner = spawner }
}

// WithActivationTracker installs the default ActivationTracker (spec.md
// §6) used by engines that don't override it via
// WithEngineActivationTracker.
func WithActivationTracker(tracker ActivationTracker) Option {
	return func(d *Dice) { d.defaultTracker = tracker }
}

// WithCycleDetector installs the CycleDetector used by Compute calls that
// don't supply one of their own context (spec.md §6). Defaults to a
// no-op detector, since cycle detection policy is explicitly out of
// scope for the core (spec.md §6: "the engine reports keys but does not
// define the detection algorithm").
func WithCycleDetector(cycles CycleDetector) Option {
	return func(d *Dice) { d.defaultCycles = cycles }
}

// WithWarnLimiter installs the rate limiter guarding the repeated
// "evaluator returned an error" warning for a hot key (SPEC_FULL.md §10).
// Transient results and cancellations log at Debug and are not limited.
func WithWarnLimiter(limiter *dicelog.WarnLimiter) Option {
	return func(d *Dice) { d.warnLimiter = limiter }
}

// New constructs an empty Dice at version 0. Register at least one key
// type before calling Compute/Project.
func New(opts ...Option) *Dice {
	d := &Dice{
		keyIndex:      dicekey.New(),
		defaultCycles: noopCycleDetector{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = dicelog.OrGlobal(d.log)
	d.state = state.New(d.log)
	d.engines = enginemap.New(d.log)
	return d
}

// CurrentVersion returns the version NewVersion last returned (or 0, the
// initial version, if NewVersion was never called).
func (d *Dice) CurrentVersion() Version {
	return Version(d.version.Load())
}

// NewVersion bumps and returns a fresh Version, for the transaction layer
// to call whenever an externally-visible input changes (spec.md §3:
// "assigned by the transaction layer"; Dice itself has no notion of
// inputs or dirtying, only of the counter).
func (d *Dice) NewVersion() Version {
	return Version(d.version.Add(1))
}

// ResetEpoch advances the live VersionEpoch, causing any subsequent commit
// carrying an older epoch to be dropped as stale (spec.md §4.1). This is
// the mechanism by which a transaction layer could invalidate all
// in-flight computations without waiting for them to finish.
func (d *Dice) ResetEpoch() VersionEpoch {
	return d.state.AdvanceEpoch()
}

// Introspect returns the most recently published aggregate key/running
// counts across every registered key type (spec.md §6).
func (d *Dice) Introspect() Snapshot {
	return Snapshot(d.engines.Introspect())
}

// Snapshot is the aggregate introspection result: total distinct keys
// known across every registered key type, and how many currently have a
// task in flight.
type Snapshot = enginemap.Snapshot

// Close releases resources: it stops the introspection-refresh poller and
// shuts down the state actor, waiting for in-flight graph requests to
// finish.
func (d *Dice) Close(ctx context.Context) error {
	d.engines.Close()
	return d.state.Close(ctx)
}

// noopCycleDetector is the default CycleDetector: cycle detection policy
// is explicitly out of scope for the core (spec.md §6), so by default
// nothing is tracked.
type noopCycleDetector struct{}

func (noopCycleDetector) StartComputingKey(any)             {}
func (noopCycleDetector) FinishedComputingKey(any)           {}
func (noopCycleDetector) Subrequest(any, int) CycleDetector { return noopCycleDetector{} }
