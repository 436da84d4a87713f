// Package lifecycle owns the process-wide stop signal. Components that hit an
// unrecoverable condition call Crash instead of exiting, and the entrypoint
// observes the cancelled context to shut everything down in order.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrCrashed matches every error produced by Crash.
var ErrCrashed = errors.New("application crashed")

type CrashError struct {
	Message string
}

func (e *CrashError) Error() string { return "application crashed: " + e.Message }

func (e *CrashError) Is(target error) bool { return target == ErrCrashed }

type Lifecycle struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	logger *slog.Logger

	mu       sync.Mutex
	hooks    []func()
	stopOnce sync.Once
}

// New derives the application context from parent. The returned context is
// cancelled when parent is done or Crash is called.
func New(parent context.Context, logger *slog.Logger) (*Lifecycle, context.Context) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Lifecycle{ctx: ctx, cancel: cancel, logger: logger}, ctx
}

// Crash reports a fatal condition and requests shutdown. Only the first
// crash is recorded as the cause.
func (l *Lifecycle) Crash(message string) {
	l.logger.Error("application crash", "reason", message)
	l.cancel(&CrashError{Message: message})
}

// OnStopping registers fn to run during Stop.
func (l *Lifecycle) OnStopping(fn func()) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Stop cancels the context and runs stop hooks once, last registered first.
func (l *Lifecycle) Stop() {
	l.stopOnce.Do(func() {
		l.cancel(context.Canceled)

		l.mu.Lock()
		hooks := l.hooks
		l.hooks = nil
		l.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	})
}

func (l *Lifecycle) Done() <-chan struct{} { return l.ctx.Done() }

// Err returns the crash cause, or nil when the application was not crashed.
func (l *Lifecycle) Err() error {
	cause := context.Cause(l.ctx)
	if errors.Is(cause, ErrCrashed) {
		return cause
	}
	return nil
}
