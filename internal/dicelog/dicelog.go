// Package dicelog provides the engine's structured logging, following the
// teacher's (eventloop/logging.go) design note: a low-overhead built-in
// implementation, replaceable by an external framework. Here the built-in
// implementation is backed by logiface+stumpy, a real third-party
// zero-alloc logging facade, rather than a hand-rolled writer.
package dicelog

import (
	"io"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Event is the concrete event type used by the default backend.
type Event = stumpy.Event

// Logger is the logging handle threaded through the engine and state
// layers. It is a thin alias over logiface.Logger, which is itself
// already the pluggable-backend abstraction -- a second wrapper interface
// on top would just duplicate that.
type Logger = *logiface.Logger[*Event]

var (
	globalMu     sync.RWMutex
	globalLogger Logger
	noopOnce     sync.Once
	noop         Logger
)

// New constructs a Logger writing structured JSON lines to w at the given
// minimum level, using the default stumpy backend.
func New(w io.Writer, level logiface.Level) Logger {
	if w == nil {
		w = io.Discard
	}
	return stumpy.L.New(
		logiface.WithLevel[*Event](level),
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
}

// NoOp returns a disabled logger: cheap to call on every hot path when the
// caller did not configure one.
func NoOp() Logger {
	noopOnce.Do(func() {
		noop = New(io.Discard, logiface.LevelDisabled)
	})
	return noop
}

// SetGlobal installs the package-level default logger, used by components
// that weren't explicitly configured with one (mirrors
// eventloop.SetStructuredLogger).
func SetGlobal(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the package-level default logger, or a no-op logger if
// none was installed.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoOp()
}

// OrGlobal returns l if non-nil, else the package-level default.
func OrGlobal(l Logger) Logger {
	if l != nil {
		return l
	}
	return Global()
}
