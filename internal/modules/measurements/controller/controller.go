package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/repository"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
)

const basePath = "/api/measurements/"

// Store is the slice of a measurement collection the HTTP layer needs.
type Store[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	All(ctx context.Context) ([]T, error)
	LatestPerGroup(ctx context.Context, key func(T) string) ([]T, error)
	Create(ctx context.Context, rec *T) error
	Update(ctx context.Context, rec T) error
	Remove(ctx context.Context, rec T) error
	Exists(ctx context.Context, id string) (bool, error)
}

// LiveReader serves the newest cached measurement per entity.
type LiveReader interface {
	All(ctx context.Context, kind string) ([]json.RawMessage, error)
}

type MeasurementController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type measurementControllerImpl struct {
	houses  *kindHandlers[types.House]
	pipes   *kindHandlers[types.Pipe]
	sources *kindHandlers[types.Source]
}

// NewMeasurementController builds handlers for every measurement kind. live
// may be nil, in which case the live routes answer 404.
func NewMeasurementController(
	houses Store[types.House],
	pipes Store[types.Pipe],
	sources Store[types.Source],
	live LiveReader,
) MeasurementController {
	return &measurementControllerImpl{
		houses: &kindHandlers[types.House]{
			kind:  types.KindHouse,
			store: houses,
			live:  live,
			key:   repository.HouseKey,
			prepare: func(m *types.House, id string, now time.Time) {
				m.ID = id
				if m.CreatedAt.IsZero() {
					m.CreatedAt = now
				}
			},
			now: time.Now,
		},
		pipes: &kindHandlers[types.Pipe]{
			kind:  types.KindPipe,
			store: pipes,
			live:  live,
			key:   repository.PipeKey,
			prepare: func(m *types.Pipe, id string, now time.Time) {
				m.ID = id
				if m.CreatedAt.IsZero() {
					m.CreatedAt = now
				}
			},
			now: time.Now,
		},
		sources: &kindHandlers[types.Source]{
			kind:  types.KindSource,
			store: sources,
			live:  live,
			key:   repository.SourceKey,
			prepare: func(m *types.Source, id string, now time.Time) {
				m.ID = id
				if m.CreatedAt.IsZero() {
					m.CreatedAt = now
				}
			},
			now: time.Now,
		},
	}
}

func (c *measurementControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	c.houses.register(mux)
	c.pipes.register(mux)
	c.sources.register(mux)
}
