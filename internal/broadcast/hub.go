// Package broadcast fans ingested batches out to live dashboard clients.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nedroden/Kraken-Backend/internal/metrics"
)

const (
	DefaultSendTimeout        = 5 * time.Second
	DefaultMaxConcurrentSends = 64
)

// Client is one live connection.
type Client interface {
	Open() bool
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type Hub struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	sendTimeout   time.Duration
	maxConcurrent int

	mu      sync.Mutex
	clients []Client
}

type Option func(*Hub)

func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

func WithMaxConcurrentSends(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxConcurrent = n
		}
	}
}

func NewHub(logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:        logger,
		metrics:       m,
		sendTimeout:   DefaultSendTimeout,
		maxConcurrent: DefaultMaxConcurrentSends,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) AddClient(c Client) {
	h.mu.Lock()
	h.clients = append(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetClients(n)
	h.logger.Debug("broadcast client added", "clients", n)
}

// Len is the number of registered clients, including any not yet pruned.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify encodes v once and sends it to every open client. Sends run
// concurrently and each is bounded by the send timeout; a client whose send
// fails is closed and dropped on the next prune.
func (h *Hub) Notify(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broadcast encode: %w", err)
	}

	open := h.prune()
	if len(open) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(h.maxConcurrent)
	for _, c := range open {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				h.metrics.BroadcastFailed()
				h.logger.Warn("broadcast send failed", "error", err)
				_ = c.Close()
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every client and empties the set.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	h.metrics.SetClients(0)
}

// prune drops clients that are no longer open and returns the rest.
func (h *Hub) prune() []Client {
	h.mu.Lock()
	kept := h.clients[:0]
	for _, c := range h.clients {
		if c.Open() {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(h.clients); i++ {
		h.clients[i] = nil
	}
	h.clients = kept
	open := make([]Client, len(kept))
	copy(open, kept)
	h.mu.Unlock()

	h.metrics.SetClients(len(open))
	return open
}
