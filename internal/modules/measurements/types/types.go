package types

import "time"

// Kind names a measurement collection in routes, metrics and cache keys.
type Kind string

const (
	KindHouse  Kind = "house"
	KindPipe   Kind = "pipe"
	KindSource Kind = "source"
)

var Kinds = []Kind{KindHouse, KindPipe, KindSource}

type House struct {
	ID          string    `json:"id"`
	HouseID     string    `json:"houseId"`
	Consumption float64   `json:"consumption"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Pipe struct {
	ID              string    `json:"id"`
	PipeID          string    `json:"pipeId"`
	WaterFlowVolume float64   `json:"waterFlowVolume"`
	WaterQuality    float64   `json:"waterQuality"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Source struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"sourceId"`
	Production   float64   `json:"production"`
	WaterQuality float64   `json:"waterQuality"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Batch is one queue message. Timestamp is the capture time in milliseconds
// since the Unix epoch.
type Batch struct {
	Timestamp int64    `json:"timestamp"`
	Houses    []House  `json:"houses"`
	Pipes     []Pipe   `json:"pipes"`
	Sources   []Source `json:"sources"`
}

// CapturedAt is the batch timestamp as a UTC instant.
func (b Batch) CapturedAt() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Stamp sets every measurement's CreatedAt to the capture time, replacing
// whatever the producer sent. Missing lists become empty.
func (b *Batch) Stamp() {
	at := b.CapturedAt()
	if b.Houses == nil {
		b.Houses = []House{}
	}
	if b.Pipes == nil {
		b.Pipes = []Pipe{}
	}
	if b.Sources == nil {
		b.Sources = []Source{}
	}
	for i := range b.Houses {
		b.Houses[i].CreatedAt = at
	}
	for i := range b.Pipes {
		b.Pipes[i].CreatedAt = at
	}
	for i := range b.Sources {
		b.Sources[i].CreatedAt = at
	}
}

// Len is the number of measurements across all kinds.
func (b Batch) Len() int {
	return len(b.Houses) + len(b.Pipes) + len(b.Sources)
}
