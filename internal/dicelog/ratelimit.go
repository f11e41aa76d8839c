package dicelog

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// WarnLimiter rate-limits repeated warning-level log lines keyed by an
// arbitrary category (typically a dicekey.KeyId), so a key whose
// evaluator keeps returning errors doesn't flood the log. Grounded on catrate's role as a dependency of
// logiface itself.
type WarnLimiter struct {
	limiter *catrate.Limiter
}

// NewWarnLimiter allows at most n occurrences of a given category within
// window.
func NewWarnLimiter(window time.Duration, n int) *WarnLimiter {
	return &WarnLimiter{limiter: catrate.NewLimiter(map[time.Duration]int{window: n})}
}

// Allow reports whether a log line for category should be emitted now.
func (w *WarnLimiter) Allow(category any) bool {
	if w == nil || w.limiter == nil {
		return true
	}
	_, ok := w.limiter.Allow(category)
	return ok
}
