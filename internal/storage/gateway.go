// Package storage owns the database handle used by every repository. The
// handle lives in a single slot: when the backend becomes unreachable the
// gateway opens a fresh handle, swaps it in, and retries the failed
// operation once.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nedroden/Kraken-Backend/internal/db"
	"github.com/nedroden/Kraken-Backend/internal/retry"
)

var (
	// ErrUnreachable wraps failures caused by a lost or refused backend connection.
	ErrUnreachable = errors.New("storage backend unreachable")
	// ErrNotConnected is returned when no handle has been established.
	ErrNotConnected = errors.New("storage gateway not connected")
)

const (
	DefaultConnectAttempts = 10
)

// Opener builds a new, pinged handle.
type Opener func(ctx context.Context) (*sql.DB, error)

// Crasher receives fatal storage conditions.
type Crasher interface {
	Crash(message string)
}

type Gateway struct {
	open        Opener
	dialect     db.Dialect
	policy      retry.Policy
	unreachable func(error) bool
	crasher     Crasher
	logger      *slog.Logger
	onReconnect func()

	mu   sync.RWMutex
	slot *slot

	// reconnectMu serializes reconnects so concurrent callers that saw the
	// same broken handle rebuild it once.
	reconnectMu sync.Mutex
}

// slot is one generation of the handle. Borrowers are counted so a
// replaced handle is closed only after every query started on it returns.
type slot struct {
	db        *sql.DB
	borrowers sync.WaitGroup
}

type Option func(*Gateway)

// WithPolicy overrides the connect/reconnect policy. Its Retryable is
// always replaced with the connectivity check.
func WithPolicy(p retry.Policy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithClassifier overrides how driver errors are mapped to ErrUnreachable.
func WithClassifier(fn func(error) bool) Option {
	return func(g *Gateway) { g.unreachable = fn }
}

// WithReconnectHook registers fn to run after every successful reconnect.
func WithReconnectHook(fn func()) Option {
	return func(g *Gateway) { g.onReconnect = fn }
}

func NewGateway(open Opener, dialect db.Dialect, crasher Crasher, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		open:        open,
		dialect:     dialect,
		policy:      retry.New(DefaultConnectAttempts, retry.DefaultInitialBackoff, nil),
		unreachable: db.IsUnreachable,
		crasher:     crasher,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.policy.Retryable = func(err error) bool { return errors.Is(err, ErrUnreachable) }
	if g.policy.Logger == nil {
		g.policy.Logger = logger
	}
	return g
}

// Connect establishes the initial handle. Failure is reported to the
// crasher, unless ctx was cancelled, and the gateway stays unusable.
func (g *Gateway) Connect(ctx context.Context) error {
	h, err := g.dial(ctx)
	if err != nil {
		g.crash(ctx, "unable to connect to the storage backend", err)
		return fmt.Errorf("storage connect: %w", err)
	}

	g.mu.Lock()
	old := g.slot
	g.slot = &slot{db: h}
	g.mu.Unlock()
	g.retire(old)

	g.logger.Info("storage connected", "dialect", string(g.dialect))
	return nil
}

func (g *Gateway) Dialect() db.Dialect { return g.dialect }

// DB returns the current handle, for startup work such as migrations.
func (g *Gateway) DB() (*sql.DB, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.slot == nil {
		return nil, ErrNotConnected
	}
	return g.slot.db, nil
}

// Ping checks the backend through the reconnecting path.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.Do(ctx, func(h *sql.DB) error {
		return h.PingContext(ctx)
	})
}

// Do runs op against the current handle. When op fails because the backend
// is unreachable the handle is rebuilt and op runs exactly once more. A
// handle replaced by another caller stays open until op returns.
func (g *Gateway) Do(ctx context.Context, op func(*sql.DB) error) error {
	s, err := g.acquire()
	if err != nil {
		return err
	}
	err = g.classify(op(s.db))
	s.borrowers.Done()
	if !errors.Is(err, ErrUnreachable) {
		return err
	}

	g.logger.Warn("storage unreachable, reconnecting", "error", err)
	if err := g.reconnect(ctx, s); err != nil {
		return err
	}

	s, err = g.acquire()
	if err != nil {
		return err
	}
	defer s.borrowers.Done()
	return g.classify(op(s.db))
}

// Close waits for in-flight operations and closes the handle.
func (g *Gateway) Close() error {
	g.mu.Lock()
	s := g.slot
	g.slot = nil
	g.mu.Unlock()
	if s == nil {
		return nil
	}
	s.borrowers.Wait()
	return db.Close(s.db)
}

// acquire borrows the current slot. The caller must call borrowers.Done.
func (g *Gateway) acquire() (*slot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.slot == nil {
		return nil, ErrNotConnected
	}
	g.slot.borrowers.Add(1)
	return g.slot, nil
}

func (g *Gateway) reconnect(ctx context.Context, failed *slot) error {
	g.reconnectMu.Lock()
	defer g.reconnectMu.Unlock()

	g.mu.RLock()
	cur := g.slot
	g.mu.RUnlock()
	if cur == nil {
		return ErrNotConnected
	}
	if cur != failed {
		// Another caller already replaced the broken handle.
		return nil
	}

	fresh, err := g.dial(ctx)
	if err != nil {
		g.crash(ctx, "unable to reconnect to the storage backend", err)
		return fmt.Errorf("storage reconnect: %w", err)
	}

	g.mu.Lock()
	old := g.slot
	g.slot = &slot{db: fresh}
	g.mu.Unlock()
	g.retire(old)

	g.logger.Info("storage reconnected")
	if g.onReconnect != nil {
		g.onReconnect()
	}
	return nil
}

func (g *Gateway) dial(ctx context.Context) (*sql.DB, error) {
	var h *sql.DB
	err := g.policy.Do(ctx, func() error {
		opened, err := g.open(ctx)
		if err != nil {
			return g.classify(err)
		}
		h = opened
		return nil
	})
	return h, err
}

func (g *Gateway) classify(err error) error {
	if err == nil || errors.Is(err, ErrUnreachable) {
		return err
	}
	if g.unreachable(err) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return err
}

// retire closes a replaced slot once its borrowers are done. Borrows only
// happen under mu.RLock on the installed slot, so none can start after the
// swap.
func (g *Gateway) retire(s *slot) {
	if s == nil {
		return
	}
	go func() {
		s.borrowers.Wait()
		if err := s.db.Close(); err != nil {
			g.logger.Warn("close replaced storage handle", "error", err)
		}
	}()
}

// crash reports a fatal failure unless the caller gave up first.
func (g *Gateway) crash(ctx context.Context, msg string, err error) {
	if g.crasher == nil || ctx.Err() != nil {
		return
	}
	g.crasher.Crash(fmt.Sprintf("%s: %v", msg, err))
}
