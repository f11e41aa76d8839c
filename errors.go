package dice

import (
	"fmt"

	"github.com/joeycumines/go-dice/internal/task"
)

// ErrCancelled is returned by Compute when the underlying task was
// cooperatively cancelled before it committed a value (spec.md §7,
// category 1). Callers should treat it identically to "try again later":
// it is never logged as a bug.
var ErrCancelled = task.ErrCancelled

// ErrTransient wraps an evaluator error that the evaluator itself
// classified as transient (spec.md §7, category 2): the engine skips the
// state write and resolves the task with a ComputedValue verified only at
// the requested version, rather than caching it. Compute returns the zero
// V together with the error; it does not return that value.
var ErrTransient = task.ErrTransient

// Transient wraps err so errors.Is(result, ErrTransient) reports true,
// for evaluators that want to signal a retryable failure (e.g. a network
// timeout) rather than a permanent one.
func Transient(err error) error {
	return task.Transient(err)
}

// invariantViolation is the panic payload for spec.md §7's category 4
// ("an internal invariant violation: a programming error in the engine
// itself, not a recoverable runtime condition"). It is never recovered
// internally -- an invariant violation is expected to crash the process
// the same way a failed assertion would.
type invariantViolation struct {
	msg string
}

func (e invariantViolation) Error() string { return "dice: internal invariant violation: " + e.msg }

func panicInvariant(format string, args ...any) {
	panic(invariantViolation{msg: fmt.Sprintf(format, args...)})
}
