// Command simulator publishes synthetic measurement batches to the broker the
// sensor service consumes from. It is meant for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nedroden/Kraken-Backend/internal/config"
	"github.com/nedroden/Kraken-Backend/internal/logging"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
	"github.com/nedroden/Kraken-Backend/internal/mqtt"
)

const appName = "simulator"

var version = "dev"

func main() {
	interval := flag.Duration("interval", 3*time.Second, "time between batches")
	houses := flag.Int("houses", 5, "number of simulated houses")
	pipes := flag.Int("pipes", 3, "number of simulated pipes")
	sources := flag.Int("sources", 2, "number of simulated sources")
	count := flag.Int("count", 0, "stop after this many batches (0 runs until interrupted)")
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := mqtt.NewPublisher(cfg.MQTTAddress(), cfg.MQTTClientID+"-simulator", cfg.MQTTTopic, logger)
	defer pub.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = pub.Connect(connectCtx)
	cancel()
	if err != nil {
		slog.Error("mqtt connect failed", "address", cfg.MQTTAddress(), "error", err)
		os.Exit(1)
	}

	gen := newGenerator(*houses, *pipes, *sources)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		batch := gen.next(time.Now())
		if err := pub.PublishBatch(ctx, batch); err != nil {
			slog.Error("publish failed", "error", err)
		} else {
			slog.Info("batch published", "timestamp", batch.Timestamp, "measurements", batch.Len())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type generator struct {
	houses, pipes, sources int
	rng                    *rand.Rand
}

func newGenerator(houses, pipes, sources int) *generator {
	return &generator{
		houses:  houses,
		pipes:   pipes,
		sources: sources,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

func (g *generator) next(now time.Time) types.Batch {
	b := types.Batch{
		Timestamp: now.UnixMilli(),
		Houses:    make([]types.House, 0, g.houses),
		Pipes:     make([]types.Pipe, 0, g.pipes),
		Sources:   make([]types.Source, 0, g.sources),
	}
	for i := 1; i <= g.houses; i++ {
		b.Houses = append(b.Houses, types.House{
			HouseID:     fmt.Sprintf("house-%d", i),
			Consumption: 5 + g.rng.Float64()*20,
		})
	}
	for i := 1; i <= g.pipes; i++ {
		b.Pipes = append(b.Pipes, types.Pipe{
			PipeID:          fmt.Sprintf("pipe-%d", i),
			WaterFlowVolume: 50 + g.rng.Float64()*100,
			WaterQuality:    0.8 + g.rng.Float64()*0.2,
		})
	}
	for i := 1; i <= g.sources; i++ {
		b.Sources = append(b.Sources, types.Source{
			SourceID:     fmt.Sprintf("source-%d", i),
			Production:   200 + g.rng.Float64()*300,
			WaterQuality: 0.85 + g.rng.Float64()*0.15,
		})
	}
	return b
}
