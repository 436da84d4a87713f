package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
)

// Publisher sends measurement batches to a topic. The simulator and the
// end-to-end tests use it to feed the consumer.
type Publisher struct {
	client paho.Client
	topic  string
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(address, clientID, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:  topic,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(address)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("mqtt publisher connected", "broker", address)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt publisher connection lost", "error", err)
	})

	p.client = paho.NewClient(opts)
	return p
}

// Connect waits for the initial connection, honoring ctx and Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}
	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	for {
		if token.WaitTimeout(connectPoll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

func (p *Publisher) PublishBatch(ctx context.Context, batch types.Batch) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt publisher not connected")
	}
	if batch.Timestamp == 0 {
		batch.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	token := p.client.Publish(p.topic, qosAtLeastOnce, false, data)
	select {
	case <-token.Done():
	case <-time.After(tokenTimeout):
		return fmt.Errorf("publish timeout for topic %s", p.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish batch", "topic", p.topic, "error", err)
		return fmt.Errorf("publish batch: %w", err)
	}

	p.logger.Debug("published batch", "topic", p.topic, "measurements", batch.Len())
	return nil
}

// Disconnect is idempotent. After it, Connect returns an error.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(250)
	p.logger.Info("mqtt publisher disconnected")
}
