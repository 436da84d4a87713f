package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	qosAtLeastOnce = byte(1)
	connectPoll    = 200 * time.Millisecond
	tokenTimeout   = 5 * time.Second
)

// PahoDialer opens persistent-session subscriptions on an MQTT broker.
// Messages are acked manually so an unacked batch is redelivered after a
// restart under the same client id.
type PahoDialer struct {
	ClientID string
	Logger   *slog.Logger
}

func NewPahoDialer(clientID string, logger *slog.Logger) *PahoDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PahoDialer{ClientID: clientID, Logger: logger}
}

func (d *PahoDialer) Dial(ctx context.Context, address, queue string) (Link, error) {
	l := &pahoLink{
		queue:      queue,
		logger:     d.Logger,
		deliveries: make(chan Delivery),
		closed:     make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(address)
	opts.SetClientID(d.ClientID)

	// Persistent session: the broker keeps the subscription and queued
	// QoS 1 messages while we are away.
	opts.SetCleanSession(false)
	opts.SetAutoAckDisabled(true)
	opts.SetOrderMatters(true)

	// Initial connect retries are owned by the caller's retry policy.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Session messages can arrive before Subscribe returns.
	opts.SetDefaultPublishHandler(l.onMessage)

	opts.SetOnConnectHandler(func(c paho.Client) {
		if !l.subscribed() {
			return
		}
		if err := l.subscribe(c); err != nil {
			l.logger.Error("mqtt resubscribe failed", "queue", queue, "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		l.logger.Warn("mqtt connection lost", "error", err)
	})

	l.client = paho.NewClient(opts)

	token := l.client.Connect()
	for {
		if token.WaitTimeout(connectPoll) {
			if err := token.Error(); err != nil {
				return nil, err
			}
			break
		}
		select {
		case <-ctx.Done():
			l.client.Disconnect(0)
			return nil, ctx.Err()
		default:
		}
	}

	if err := l.subscribe(l.client); err != nil {
		l.client.Disconnect(0)
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	l.markSubscribed()
	return l, nil
}

type pahoLink struct {
	client paho.Client
	queue  string
	logger *slog.Logger

	deliveries chan Delivery
	closed     chan struct{}
	closeOnce  sync.Once

	mu     sync.Mutex
	subbed bool
}

func (l *pahoLink) subscribe(c paho.Client) error {
	token := c.Subscribe(l.queue, qosAtLeastOnce, l.onMessage)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", l.queue)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", l.queue, err)
	}
	l.logger.Info("subscribed to mqtt topic", "topic", l.queue, "qos", qosAtLeastOnce)
	return nil
}

func (l *pahoLink) markSubscribed() {
	l.mu.Lock()
	l.subbed = true
	l.mu.Unlock()
}

func (l *pahoLink) subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subbed
}

// onMessage runs on the paho router goroutine. Blocking here holds back
// further messages, which keeps delivery in order.
func (l *pahoLink) onMessage(_ paho.Client, msg paho.Message) {
	select {
	case l.deliveries <- pahoDelivery{msg: msg}:
	case <-l.closed:
	}
}

func (l *pahoLink) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-l.deliveries:
		return d, nil
	case <-l.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pahoLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.client.IsConnected() {
			token := l.client.Unsubscribe(l.queue)
			if !token.WaitTimeout(2 * time.Second) {
				err = errors.New("unsubscribe timeout")
			} else {
				err = token.Error()
			}
		}
		l.client.Disconnect(250)
	})
	return err
}

type pahoDelivery struct {
	msg paho.Message
}

func (d pahoDelivery) Payload() []byte { return d.msg.Payload() }
func (d pahoDelivery) Ack()            { d.msg.Ack() }
