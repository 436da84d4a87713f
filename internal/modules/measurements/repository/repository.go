package repository

import (
	"time"

	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
	"github.com/nedroden/Kraken-Backend/internal/storage"
)

// Repository groups the three measurement collections.
type Repository struct {
	Houses  *storage.Collection[types.House]
	Pipes   *storage.Collection[types.Pipe]
	Sources *storage.Collection[types.Source]
}

func NewRepository(gw *storage.Gateway) *Repository {
	return &Repository{
		Houses:  storage.NewCollection(gw, HouseSchema),
		Pipes:   storage.NewCollection(gw, PipeSchema),
		Sources: storage.NewCollection(gw, SourceSchema),
	}
}

var HouseSchema = storage.Schema[types.House]{
	Table:   "house_measurements",
	Columns: []string{"id", "house_id", "consumption", "created_at"},
	Values: func(m types.House) []any {
		return []any{m.ID, m.HouseID, m.Consumption, m.CreatedAt.UTC()}
	},
	Scan: func(s storage.Scanner) (types.House, error) {
		var m types.House
		err := s.Scan(&m.ID, &m.HouseID, &m.Consumption, &m.CreatedAt)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	},
	ID:        func(m types.House) string { return m.ID },
	SetID:     func(m *types.House, id string) { m.ID = id },
	CreatedAt: func(m types.House) time.Time { return m.CreatedAt },
}

var PipeSchema = storage.Schema[types.Pipe]{
	Table:   "pipe_measurements",
	Columns: []string{"id", "pipe_id", "water_flow_volume", "water_quality", "created_at"},
	Values: func(m types.Pipe) []any {
		return []any{m.ID, m.PipeID, m.WaterFlowVolume, m.WaterQuality, m.CreatedAt.UTC()}
	},
	Scan: func(s storage.Scanner) (types.Pipe, error) {
		var m types.Pipe
		err := s.Scan(&m.ID, &m.PipeID, &m.WaterFlowVolume, &m.WaterQuality, &m.CreatedAt)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	},
	ID:        func(m types.Pipe) string { return m.ID },
	SetID:     func(m *types.Pipe, id string) { m.ID = id },
	CreatedAt: func(m types.Pipe) time.Time { return m.CreatedAt },
}

var SourceSchema = storage.Schema[types.Source]{
	Table:   "source_measurements",
	Columns: []string{"id", "source_id", "production", "water_quality", "created_at"},
	Values: func(m types.Source) []any {
		return []any{m.ID, m.SourceID, m.Production, m.WaterQuality, m.CreatedAt.UTC()}
	},
	Scan: func(s storage.Scanner) (types.Source, error) {
		var m types.Source
		err := s.Scan(&m.ID, &m.SourceID, &m.Production, &m.WaterQuality, &m.CreatedAt)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	},
	ID:        func(m types.Source) string { return m.ID },
	SetID:     func(m *types.Source, id string) { m.ID = id },
	CreatedAt: func(m types.Source) time.Time { return m.CreatedAt },
}

// Group keys used by the latest-per-entity queries.
func HouseKey(m types.House) string   { return m.HouseID }
func PipeKey(m types.Pipe) string     { return m.PipeID }
func SourceKey(m types.Source) string { return m.SourceID }
