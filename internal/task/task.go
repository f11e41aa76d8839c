package task

import (
	"sync/atomic"

	"github.com/joeycumines/go-dice/internal/graph"
)

// HandleState is the DiceTaskHandle lifecycle, per spec.md §4.3:
// "{Initial, Computing, CheckingDeps, Finished(value), Cancelled}".
// Transitions are one-way except CheckingDeps -> Computing.
type HandleState int32

const (
	Initial HandleState = iota
	Computing
	CheckingDeps
	Finished
	Cancelled
)

// Spawner abstracts the pluggable executor spec.md §5 describes
// ("the underlying executor is injected (pluggable spawner)"). The default
// is DefaultSpawner, which runs body on a new goroutine.
type Spawner func(body func())

// DefaultSpawner runs body on a new goroutine.
func DefaultSpawner(body func()) { go body() }

// DiceTask is one in-flight (or finished) computation for a key at some
// epoch. It exposes a Promise that any number of awaiters may share, and
// a Cancel method any holder of the task may call.
type DiceTask struct {
	state   atomic.Int32 // HandleState
	promise *Promise[graph.ComputedValue]
	cancel  *CancellationContext
}

// Handle is the mutable view of a DiceTask passed into a spawned body; it
// is how the body reports state transitions and checks for cancellation.
type Handle struct {
	task *DiceTask
}

// Spawn starts body on spawner (or DefaultSpawner if nil), returning the
// new DiceTask immediately. body is given a Handle to report its progress
// and a CancellationContext to observe cancellation requests.
func Spawn(spawner Spawner, body func(h *Handle)) *DiceTask {
	if spawner == nil {
		spawner = DefaultSpawner
	}
	t := &DiceTask{
		promise: NewPromise[graph.ComputedValue](),
		cancel:  NewCancellationContext(),
	}
	t.state.Store(int32(Initial))
	h := &Handle{task: t}
	spawner(func() {
		body(h)
	})
	return t
}

// Promise returns the task's shared promise.
func (t *DiceTask) Promise() *Promise[graph.ComputedValue] { return t.promise }

// CancellationContext returns the task's cancellation context.
func (t *DiceTask) CancellationContext() *CancellationContext { return t.cancel }

// State returns the task's current HandleState.
func (t *DiceTask) State() HandleState { return HandleState(t.state.Load()) }

// Cancel requests cooperative cancellation of the task. If the task has
// already disabled cancellation (entered its commit phase) or finished,
// this has no effect on the eventual outcome, per spec.md §5.
func (t *DiceTask) Cancel(reason any) {
	t.cancel.Cancel(reason)
}

// CancellationContext exposes the handle's owning task's context, for the
// evaluator body to consult at every suspension point (spec.md §5).
func (h *Handle) CancellationContext() *CancellationContext { return h.task.cancel }

// Task returns the DiceTask this Handle reports progress for, letting the
// caller identify (by pointer) whether a dedup map still points at this
// exact task once its body terminates.
func (h *Handle) Task() *DiceTask { return h.task }

// Computing transitions the task into the Computing state.
func (h *Handle) Computing() { h.task.state.Store(int32(Computing)) }

// CheckingDeps transitions the task into the CheckingDeps state. Only
// CheckingDeps -> Computing is a legal reverse transition, via a
// subsequent call to Computing.
func (h *Handle) CheckingDeps() { h.task.state.Store(int32(CheckingDeps)) }

// Finished transitions the task to its terminal Finished state and
// resolves its promise with value.
func (h *Handle) Finished(value graph.ComputedValue) {
	h.task.state.Store(int32(Finished))
	h.task.promise.Resolve(value, nil)
}

// Transient transitions the task to its terminal Finished state but
// resolves its promise with a synthetic value alongside a non-nil err
// (spec.md §7 category 2). Unlike Abandon, the task is not marked
// Cancelled -- a later SpawnForKey must not treat a transient result as a
// cancellation race to revive. Unlike Finished, GetFinishedValue still
// reports false for it, since Wait returns a non-nil error: the value was
// never committed, so revival must not adopt it either.
func (h *Handle) Transient(value graph.ComputedValue, err error) {
	h.task.state.Store(int32(Finished))
	h.task.promise.Resolve(value, err)
}

// Abandon transitions the task to its terminal Cancelled state and
// resolves its promise with ErrCancelled, without ever having committed
// (spec.md §3: "A cancellation that has not been disabled must eventually
// cause the task's promise to resolve to Cancelled").
func (h *Handle) Abandon() {
	h.task.state.Store(int32(Cancelled))
	var zero graph.ComputedValue
	h.task.promise.Resolve(zero, ErrCancelled)
}

// GetFinishedValue returns the task's value if it reached Finished,
// without blocking. Used by revival (spec.md §4.3 PreviouslyCancelledTask)
// to adopt a predecessor's result if it actually finished despite being
// marked cancelled.
func (t *DiceTask) GetFinishedValue() (graph.ComputedValue, bool) {
	if t.State() != Finished {
		return graph.ComputedValue{}, false
	}
	v, err := t.promise.Wait()
	if err != nil {
		return graph.ComputedValue{}, false
	}
	return v, true
}

// Termination is the outcome observed when awaiting a predecessor task's
// end-of-life, per spec.md §4.3's PreviouslyCancelledTask.termination.
type Termination int

const (
	// TerminationFinished means the predecessor actually finished
	// (possibly despite being marked cancelled): its value should be
	// adopted without re-running the evaluator.
	TerminationFinished Termination = iota
	// TerminationCancelled means the predecessor was genuinely cancelled:
	// the new task must recompute.
	TerminationCancelled
)

// PreviouslyCancelledTask records a terminated predecessor task, allowing
// a newly spawned task for the same key to adopt its result instead of
// recomputing, if it turns out the predecessor actually finished
// (spec.md §4.3, §8 "Revival").
type PreviouslyCancelledTask struct {
	previous *DiceTask
}

// NewPreviouslyCancelledTask wraps prev, a task that was cancelled (or is
// being cancelled) but may still finish.
func NewPreviouslyCancelledTask(prev *DiceTask) *PreviouslyCancelledTask {
	return &PreviouslyCancelledTask{previous: prev}
}

// AwaitTermination blocks until prev reaches a terminal state, then
// reports whether it actually finished or was genuinely cancelled.
func (p *PreviouslyCancelledTask) AwaitTermination() Termination {
	_, _ = p.previous.promise.Wait()
	if p.previous.State() == Finished {
		return TerminationFinished
	}
	return TerminationCancelled
}

// Previous returns the wrapped predecessor task, e.g. to call
// GetFinishedValue after AwaitTermination reports TerminationFinished.
func (p *PreviouslyCancelledTask) Previous() *DiceTask { return p.previous }
