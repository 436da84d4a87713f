package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nedroden/Kraken-Backend/internal/metrics"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
)

var (
	// ErrLinkClosed is returned by Link.Receive once the link has been closed.
	ErrLinkClosed = errors.New("mqtt link closed")
	// ErrNotConnected is returned by Listen before a successful Connect.
	ErrNotConnected = errors.New("mqtt consumer not connected")
	// ErrStopped is returned by Connect after Disconnect.
	ErrStopped = errors.New("mqtt consumer stopped")
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Delivery is one message taken from the queue.
type Delivery interface {
	Payload() []byte
	Ack()
}

// Link is an established receiver on a queue.
type Link interface {
	// Receive blocks until a delivery arrives, the link closes, or ctx ends.
	Receive(ctx context.Context) (Delivery, error)
	// Close releases the receiver, the session and the connection, in that order.
	Close() error
}

// Dialer opens a Link to queue at address.
type Dialer interface {
	Dial(ctx context.Context, address, queue string) (Link, error)
}

// BatchHandler processes one stamped batch.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch types.Batch) error
}

type BatchHandlerFunc func(ctx context.Context, batch types.Batch) error

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch types.Batch) error {
	return f(ctx, batch)
}

// Consumer reads measurement batches from a queue and hands them to a
// BatchHandler, one at a time, in arrival order.
type Consumer struct {
	dialer  Dialer
	handler BatchHandler
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	link  Link
	state State

	stopped  atomic.Bool
	stopOnce sync.Once
}

func NewConsumer(dialer Dialer, handler BatchHandler, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		dialer:  dialer,
		handler: handler,
		logger:  logger,
		metrics: m,
	}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the link. It does not retry; wrap it in a retry policy.
func (c *Consumer) Connect(ctx context.Context, address, queue string) error {
	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	link, err := c.dialer.Dial(ctx, address, queue)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFaulted
		return fmt.Errorf("mqtt connect %s: %w", address, err)
	}
	if c.stopped.Load() {
		// Disconnect raced with the dial; nothing else owns this link.
		_ = link.Close()
		return ErrStopped
	}
	c.link = link
	c.state = StateListening
	c.logger.Info("mqtt consumer connected", "address", address, "queue", queue)
	return nil
}

// Listen runs the receive loop until Disconnect is called, ctx ends, or the
// link fails. It blocks and is meant to run on its own goroutine.
func (c *Consumer) Listen(ctx context.Context) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}

	for {
		d, err := link.Receive(ctx)
		if c.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrLinkClosed) {
				return nil
			}
			c.setState(StateFaulted)
			return fmt.Errorf("mqtt receive: %w", err)
		}

		// Acked before handling: a batch that fails to persist is not redelivered.
		d.Ack()
		c.handle(ctx, d.Payload())
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	c.metrics.BatchReceived()

	var batch types.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		c.metrics.DecodeFailed()
		c.logger.Warn("failed to decode measurement batch",
			"error", err,
			"size", len(payload),
		)
		return
	}
	batch.Stamp()

	c.logger.Debug("received measurement batch",
		"timestamp", batch.Timestamp,
		"measurements", batch.Len(),
	)

	if err := c.handler.HandleBatch(ctx, batch); err != nil {
		c.metrics.HandlerFailed()
		c.logger.Error("measurement batch handler failed",
			"timestamp", batch.Timestamp,
			"error", err,
		)
	}
}

// Disconnect stops the receive loop and closes the link if one was
// established. Idempotent and safe to call before Connect.
func (c *Consumer) Disconnect() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)

		c.mu.Lock()
		link := c.link
		c.link = nil
		c.state = StateStopped
		c.mu.Unlock()

		if link != nil {
			if err := link.Close(); err != nil {
				c.logger.Warn("mqtt link close", "error", err)
			}
		}
		c.logger.Info("mqtt consumer disconnected")
	})
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	if c.state != StateStopped {
		c.state = s
	}
	c.mu.Unlock()
}
