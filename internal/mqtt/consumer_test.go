package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedroden/Kraken-Backend/internal/metrics"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
)

type fakeDelivery struct {
	payload []byte
	log     *eventLog
}

func (d fakeDelivery) Payload() []byte { return d.payload }
func (d fakeDelivery) Ack()            { d.log.add("ack") }

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeLink struct {
	in     chan Delivery
	errs   chan error
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		in:     make(chan Delivery, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (l *fakeLink) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-l.in:
		return d, nil
	case err := <-l.errs:
		return nil, err
	case <-l.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	l.once.Do(func() { close(l.closed) })
	return nil
}

type fakeDialer struct {
	link  *fakeLink
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(context.Context, string, string) (Link, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

type recordingHandler struct {
	log     *eventLog
	mu      sync.Mutex
	batches []types.Batch
	err     error
}

func (h *recordingHandler) HandleBatch(_ context.Context, b types.Batch) error {
	h.log.add("handle")
	h.mu.Lock()
	h.batches = append(h.batches, b)
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) received() []types.Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Batch(nil), h.batches...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	consumer *Consumer
	link     *fakeLink
	dialer   *fakeDialer
	handler  *recordingHandler
	log      *eventLog
	done     chan error
}

func startConsumer(t *testing.T) *harness {
	t.Helper()
	log := &eventLog{}
	h := &harness{
		link:    newFakeLink(),
		handler: &recordingHandler{log: log},
		log:     log,
		done:    make(chan error, 1),
	}
	h.dialer = &fakeDialer{link: h.link}
	h.consumer = NewConsumer(h.dialer, h.handler, quietLogger(), metrics.New())

	require.NoError(t, h.consumer.Connect(context.Background(), "tcp://broker:1883", "measurements"))
	go func() { h.done <- h.consumer.Listen(context.Background()) }()
	t.Cleanup(h.consumer.Disconnect)
	return h
}

func (h *harness) deliver(payload string) {
	h.link.in <- fakeDelivery{payload: []byte(payload), log: h.log}
}

func TestListen_StampsAndHandlesBatch(t *testing.T) {
	h := startConsumer(t)

	h.deliver(`{"timestamp":1700000000000,"houses":[{"houseId":"H1","consumption":12.5,"createdAt":"1999-01-01T00:00:00Z"}],"pipes":[],"sources":[]}`)

	require.Eventually(t, func() bool { return len(h.handler.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	b := h.handler.received()[0]
	require.Len(t, b.Houses, 1)
	assert.Equal(t, "H1", b.Houses[0].HouseID)
	assert.Equal(t, 12.5, b.Houses[0].Consumption)
	assert.True(t, b.Houses[0].CreatedAt.Equal(time.UnixMilli(1700000000000)))
	assert.Equal(t, time.UTC, b.Houses[0].CreatedAt.Location())
	assert.NotNil(t, b.Pipes)
	assert.NotNil(t, b.Sources)
}

func TestListen_AcksBeforeHandling(t *testing.T) {
	h := startConsumer(t)

	h.deliver(`{"timestamp":1,"houses":[],"pipes":[],"sources":[]}`)

	require.Eventually(t, func() bool { return len(h.log.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ack", "handle"}, h.log.all())
}

func TestListen_DecodeFailureIsSkipped(t *testing.T) {
	h := startConsumer(t)

	h.deliver(`{not json`)
	h.deliver(`{"timestamp":2,"houses":[],"pipes":[],"sources":[]}`)

	require.Eventually(t, func() bool { return len(h.handler.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), h.handler.received()[0].Timestamp)
	assert.Equal(t, []string{"ack", "ack", "handle"}, h.log.all())
	assert.Equal(t, StateListening, h.consumer.State())
}

func TestListen_HandlerErrorKeepsListening(t *testing.T) {
	h := startConsumer(t)
	h.handler.err = errors.New("storage down")

	h.deliver(`{"timestamp":1}`)
	h.deliver(`{"timestamp":2}`)

	require.Eventually(t, func() bool { return len(h.handler.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestListen_PreservesArrivalOrder(t *testing.T) {
	h := startConsumer(t)

	for i := 0; i < 10; i++ {
		h.link.in <- fakeDelivery{payload: []byte(`{"timestamp":` + string(rune('0'+i)) + `}`), log: h.log}
	}

	require.Eventually(t, func() bool { return len(h.handler.received()) == 10 }, 2*time.Second, 5*time.Millisecond)
	for i, b := range h.handler.received() {
		assert.Equal(t, int64(i), b.Timestamp)
	}
}

func TestDisconnect_StopsListenQuietly(t *testing.T) {
	h := startConsumer(t)

	h.consumer.Disconnect()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after Disconnect")
	}
	assert.Equal(t, StateStopped, h.consumer.State())
	assert.Equal(t, int32(1), h.link.closes.Load())
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := startConsumer(t)

	h.consumer.Disconnect()
	h.consumer.Disconnect()
	h.consumer.Disconnect()

	assert.Equal(t, int32(1), h.link.closes.Load())
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	c := NewConsumer(&fakeDialer{link: newFakeLink()}, &recordingHandler{log: &eventLog{}}, quietLogger(), nil)

	c.Disconnect()

	assert.Equal(t, StateStopped, c.State())
	assert.ErrorIs(t, c.Connect(context.Background(), "tcp://broker:1883", "q"), ErrStopped)
}

func TestListen_BeforeConnect(t *testing.T) {
	c := NewConsumer(&fakeDialer{}, &recordingHandler{log: &eventLog{}}, quietLogger(), nil)
	assert.ErrorIs(t, c.Listen(context.Background()), ErrNotConnected)
}

func TestConnect_FailureFaults(t *testing.T) {
	dialErr := errors.New("connection refused")
	c := NewConsumer(&fakeDialer{err: dialErr}, &recordingHandler{log: &eventLog{}}, quietLogger(), nil)

	err := c.Connect(context.Background(), "tcp://broker:1883", "q")

	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, StateFaulted, c.State())
}

func TestConnect_AlreadyConnectedDoesNotRedial(t *testing.T) {
	h := startConsumer(t)

	require.NoError(t, h.consumer.Connect(context.Background(), "tcp://broker:1883", "measurements"))
	assert.Equal(t, int32(1), h.dialer.dials.Load())
}

func TestListen_ReceiveErrorFaults(t *testing.T) {
	h := startConsumer(t)

	h.link.errs <- errors.New("protocol error")

	select {
	case err := <-h.done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return")
	}
	assert.Equal(t, StateFaulted, h.consumer.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "state(42)", State(42).String())
}
