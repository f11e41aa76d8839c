// Package task implements the per-key task layer: DiceTask, its Promise,
// cooperative CancellationContext with a disable-cancellation guard for
// the commit phase, and PreviouslyCancelledTask for safe revival.
//
// Promise is grounded on the teacher's eventloop/promise.go
// (mutex + subscriber-channel fan-out on settle); CancellationContext is
// grounded on eventloop/abort.go's AbortController/AbortSignal.
package task

import (
	"sync"
)

// State is the lifecycle state of a Promise.
type State int

const (
	// Pending indicates the result is not yet available.
	Pending State = iota
	// Settled indicates Resolve was called; a result is available.
	Settled
)

// Promise is an at-most-once completion channel with many awaiters,
// sharing a single cheaply-shared result (spec.md §3, §9: "the stored
// result must be cheaply cloneable").
type Promise[T any] struct {
	mu          sync.Mutex
	state       State
	value       T
	err         error
	subscribers []chan struct{}

	// producing guards the exactly-one-producer path used by
	// GetOrComplete (the projection dedup primitive, spec.md §4.3).
	producing bool
}

// NewPromise returns a new, pending Promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{}
}

// Resolved returns an already-settled Promise wrapping value/err. Useful
// when a previously-cancelled task is adopted without re-running the
// evaluator (spec.md §8, "Revival").
func Resolved[T any](value T, err error) *Promise[T] {
	p := &Promise[T]{state: Settled, value: value, err: err}
	return p
}

// State returns the current lifecycle state.
func (p *Promise[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Resolve settles the promise with value/err. Only the first call has any
// effect; subsequent calls are no-ops, matching eventloop/promise.go's
// Resolve/Reject semantics.
func (p *Promise[T]) Resolve(value T, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Pending {
		return
	}
	p.value = value
	p.err = err
	p.state = Settled
	p.fanOut()
}

// fanOut notifies all subscribers that the promise has settled. Must be
// called with p.mu held.
func (p *Promise[T]) fanOut() {
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// Wait blocks (on an internal subscriber channel) until the promise settles, then
// returns its value/err. All awaiters observe the same value (spec.md §8:
// "Deduplication ... all N awaiters observe the same ComputedValue object
// identity").
func (p *Promise[T]) Wait() (T, error) {
	p.mu.Lock()
	if p.state == Settled {
		value, err := p.value, p.err
		p.mu.Unlock()
		return value, err
	}
	ch := make(chan struct{})
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()

	<-ch

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Done returns a channel that is closed once the promise settles, for use
// in select statements alongside other suspension points (spec.md §5).
func (p *Promise[T]) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Settled {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{})
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// GetOrComplete implements the projection dedup primitive (spec.md §4.3):
// "awaiters call get_or_complete(|| producer); exactly one awaiter runs
// the producer, all others see the same result." It is synchronous:
// whichever goroutine wins the race to set producing=true runs producer
// itself (inline, on its own goroutine), while the rest block on Wait.
func (p *Promise[T]) GetOrComplete(producer func() (T, error)) (T, error) {
	p.mu.Lock()
	if p.state == Settled {
		value, err := p.value, p.err
		p.mu.Unlock()
		return value, err
	}
	if p.producing {
		p.mu.Unlock()
		return p.Wait()
	}
	p.producing = true
	p.mu.Unlock()

	value, err := producer()
	p.Resolve(value, err)
	return value, err
}
