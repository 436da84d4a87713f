// Package retry runs operations with a bounded number of attempts and a
// linearly growing wait between them.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts       = 3
	DefaultInitialBackoff = 10 * time.Second
	DefaultStep           = 5 * time.Second
)

// Policy retries failures accepted by Retryable. The wait before retry n
// (0-based) is InitialBackoff + n*Step. A nil Retryable retries every error.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	Step           time.Duration
	Retryable      func(error) bool
	Logger         *slog.Logger

	timer backoff.Timer
}

// New returns a policy with the given bounds and the default step.
func New(attempts int, initial time.Duration, retryable func(error) bool) Policy {
	return Policy{
		Attempts:       attempts,
		InitialBackoff: initial,
		Step:           DefaultStep,
		Retryable:      retryable,
	}
}

// Default is three attempts starting at ten seconds.
func Default(retryable func(error) bool) Policy {
	return New(DefaultAttempts, DefaultInitialBackoff, retryable)
}

type linearBackOff struct {
	initial time.Duration
	step    time.Duration
	n       int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.initial + time.Duration(b.n)*b.step
	b.n++
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up. The last error is returned unmodified.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	step := p.Step
	if step == 0 {
		step = DefaultStep
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var b backoff.BackOff = &linearBackOff{initial: p.InitialBackoff, step: step}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"attempts", attempts,
			"backoff", wait,
			"error", err,
		)
	}

	return backoff.RetryNotifyWithTimer(wrapped, b, notify, p.timer)
}
