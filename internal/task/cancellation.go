package task

import (
	"sync"
	"sync/atomic"
)

// cancelState is the 2+1-state CAS flag spec.md §9 describes: "awaiters
// may only cancel while the flag is Cancellable; the body must flip it to
// Committing before any state write."
type cancelState int32

const (
	cancellable cancelState = iota
	committing
	cancelled
)

// CancellationContext is the cooperative cancellation surface handed to an
// evaluator body, grounded on eventloop/abort.go's
// AbortController/AbortSignal (Aborted/OnAbort), extended with the
// disable-cancellation CAS spec.md §4.3/§9 requires.
type CancellationContext struct {
	state    atomic.Int32 // cancelState
	mu       sync.Mutex
	reason   any
	handlers []func(reason any)
}

// NewCancellationContext returns a fresh, cancellable context.
func NewCancellationContext() *CancellationContext {
	c := &CancellationContext{}
	c.state.Store(int32(cancellable))
	return c
}

// Cancel requests cancellation with reason. If the body has already moved
// to the commit phase (disabled cancellation), this is a no-op: the
// canceller "loses the race" and proceeds as if not cancelled
// (spec.md §9).
func (c *CancellationContext) Cancel(reason any) bool {
	if !c.state.CompareAndSwap(int32(cancellable), int32(cancelled)) {
		return false
	}
	c.mu.Lock()
	c.reason = reason
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
	return true
}

// Cancelled reports whether cancellation has taken effect.
func (c *CancellationContext) Cancelled() bool {
	return cancelState(c.state.Load()) == cancelled
}

// Reason returns the cancellation reason, or nil.
func (c *CancellationContext) Reason() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// OnCancel registers a callback invoked when cancellation occurs. If
// already cancelled, it is invoked immediately (synchronously, on the
// calling goroutine), matching AbortSignal.OnAbort's semantics.
func (c *CancellationContext) OnCancel(fn func(reason any)) {
	if c.Cancelled() {
		fn(c.Reason())
		return
	}
	c.mu.Lock()
	if c.Cancelled() {
		c.mu.Unlock()
		fn(c.Reason())
		return
	}
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// DisableCancellationGuard is held for the duration of the commit phase:
// while held, Cancel can never succeed, guaranteeing the commit runs to
// completion (spec.md §3 invariant, §4.4 "Commit phase").
type DisableCancellationGuard struct {
	ctx *CancellationContext
}

// TryToDisableCancellation attempts to move the context into the
// committing state. It fails (returns ok=false) if cancellation has
// already taken effect -- the body must then abandon the commit
// (spec.md §4.4).
func (c *CancellationContext) TryToDisableCancellation() (guard *DisableCancellationGuard, ok bool) {
	if c.state.CompareAndSwap(int32(cancellable), int32(committing)) {
		return &DisableCancellationGuard{ctx: c}, true
	}
	return nil, false
}

// Release is a no-op marker that the commit phase has completed; provided
// so callers can defer it symmetrically with acquisition. The context
// remains permanently non-cancellable afterwards -- a DiceTask that has
// committed is terminal (spec.md §3).
func (g *DisableCancellationGuard) Release() {}
