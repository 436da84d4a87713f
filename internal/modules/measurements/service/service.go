package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nedroden/Kraken-Backend/internal/metrics"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
)

// Creator persists one record and assigns its id.
type Creator[T any] interface {
	Create(ctx context.Context, rec *T) error
}

// Notifier delivers an ingested batch to live clients.
type Notifier interface {
	Notify(ctx context.Context, v any) error
}

// LiveWriter mirrors the newest measurement per entity into a fast store.
type LiveWriter interface {
	Put(ctx context.Context, kind, entityID string, createdAt time.Time, v any) error
}

type Service struct {
	houses  Creator[types.House]
	pipes   Creator[types.Pipe]
	sources Creator[types.Source]

	notifier Notifier
	live     LiveWriter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

// WithLive enables the live cache. A nil writer leaves it disabled.
func WithLive(w LiveWriter) Option {
	return func(s *Service) { s.live = w }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	houses Creator[types.House],
	pipes Creator[types.Pipe],
	sources Creator[types.Source],
	notifier Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		houses:   houses,
		pipes:    pipes,
		sources:  sources,
		notifier: notifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleBatch lets the service act as the queue consumer's handler.
func (s *Service) HandleBatch(ctx context.Context, batch types.Batch) error {
	return s.Ingest(ctx, batch)
}

// Ingest writes every measurement of a stamped batch, then notifies live
// clients with the batch. Writes are independent: a failed one neither stops
// the others nor rolls them back, and clients are notified either way. A
// measurement whose write failed is broadcast with an empty id.
func (s *Service) Ingest(ctx context.Context, batch types.Batch) error {
	var errs []error

	for i := range batch.Houses {
		m := &batch.Houses[i]
		errs = append(errs, s.persist(ctx, types.KindHouse, m.HouseID, func() error {
			return s.houses.Create(ctx, m)
		}, m.CreatedAt, m))
	}
	for i := range batch.Pipes {
		m := &batch.Pipes[i]
		errs = append(errs, s.persist(ctx, types.KindPipe, m.PipeID, func() error {
			return s.pipes.Create(ctx, m)
		}, m.CreatedAt, m))
	}
	for i := range batch.Sources {
		m := &batch.Sources[i]
		errs = append(errs, s.persist(ctx, types.KindSource, m.SourceID, func() error {
			return s.sources.Create(ctx, m)
		}, m.CreatedAt, m))
	}

	persistErr := errors.Join(errs...)

	if err := s.notifier.Notify(ctx, batch); err != nil {
		s.logger.Error("failed to broadcast batch", "timestamp", batch.Timestamp, "error", err)
		return errors.Join(persistErr, fmt.Errorf("notify: %w", err))
	}

	s.logger.Debug("ingested batch",
		"timestamp", batch.Timestamp,
		"houses", len(batch.Houses),
		"pipes", len(batch.Pipes),
		"sources", len(batch.Sources),
	)
	return persistErr
}

func (s *Service) persist(ctx context.Context, kind types.Kind, entityID string, create func() error, createdAt time.Time, rec any) error {
	err := create()
	s.metrics.Persisted(string(kind), err)
	if err != nil {
		s.logger.Error("failed to insert measurement",
			"kind", kind,
			"entity_id", entityID,
			"error", err,
		)
		return fmt.Errorf("insert %s measurement %s: %w", kind, entityID, err)
	}

	if s.live != nil {
		if err := s.live.Put(ctx, string(kind), entityID, createdAt, rec); err != nil {
			s.metrics.CacheFailed()
			s.logger.Warn("failed to update live cache",
				"kind", kind,
				"entity_id", entityID,
				"error", err,
			)
		}
	}
	return nil
}
