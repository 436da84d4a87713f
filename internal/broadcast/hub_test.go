package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	open    bool
	frames  [][]byte
	sendErr error
	block   bool
	closes  atomic.Int32
}

func newFakeClient() *fakeClient { return &fakeClient{open: true} }

func (f *fakeClient) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeClient) Send(ctx context.Context, payload []byte) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeClient) Close() error {
	f.closes.Add(1)
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sample struct {
	Timestamp int64    `json:"timestamp"`
	Houses    []string `json:"houses"`
}

func TestNotify_SkipsAndPrunesClosedClients(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	a, b, c := newFakeClient(), newFakeClient(), newFakeClient()
	b.open = false
	hub.AddClient(a)
	hub.AddClient(b)
	hub.AddClient(c)

	require.NoError(t, hub.Notify(context.Background(), sample{Timestamp: 1, Houses: []string{}}))

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())
	assert.Len(t, c.received(), 1)
	assert.Equal(t, 2, hub.Len())
}

func TestNotify_SerializesOnceAsCamelCaseJSON(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	a, b := newFakeClient(), newFakeClient()
	hub.AddClient(a)
	hub.AddClient(b)

	require.NoError(t, hub.Notify(context.Background(), sample{Timestamp: 1700000000000, Houses: []string{}}))

	fa, fb := a.received(), b.received()
	require.Len(t, fa, 1)
	require.Len(t, fb, 1)
	assert.JSONEq(t, `{"timestamp":1700000000000,"houses":[]}`, string(fa[0]))
	assert.Same(t, &fa[0][0], &fb[0][0], "every client should receive the same encoded buffer")
}

func TestNotify_FailedSendClosesClient(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	bad, good := newFakeClient(), newFakeClient()
	bad.sendErr = errors.New("broken pipe")
	hub.AddClient(bad)
	hub.AddClient(good)

	require.NoError(t, hub.Notify(context.Background(), sample{}))
	assert.Equal(t, int32(1), bad.closes.Load())

	require.NoError(t, hub.Notify(context.Background(), sample{}))
	assert.Len(t, good.received(), 2)
	assert.Equal(t, 1, hub.Len())
}

func TestNotify_SlowClientDoesNotStallOthers(t *testing.T) {
	hub := NewHub(quietLogger(), nil, WithSendTimeout(200*time.Millisecond))
	slow := newFakeClient()
	slow.block = true
	fast := newFakeClient()
	hub.AddClient(slow)
	hub.AddClient(fast)

	start := time.Now()
	require.NoError(t, hub.Notify(context.Background(), sample{}))

	assert.Len(t, fast.received(), 1)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, slow.Open(), "timed out client should be closed")
}

func TestNotify_NoClients(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	assert.NoError(t, hub.Notify(context.Background(), sample{}))
}

func TestNotify_EncodeError(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	hub.AddClient(newFakeClient())
	assert.Error(t, hub.Notify(context.Background(), make(chan int)))
}

func TestNotify_PreservesPerClientOrder(t *testing.T) {
	hub := NewHub(quietLogger(), nil, WithMaxConcurrentSends(2))
	clients := []*fakeClient{newFakeClient(), newFakeClient(), newFakeClient()}
	for _, c := range clients {
		hub.AddClient(c)
	}

	for i := int64(0); i < 20; i++ {
		require.NoError(t, hub.Notify(context.Background(), sample{Timestamp: i}))
	}

	for _, c := range clients {
		frames := c.received()
		require.Len(t, frames, 20)
		for i, f := range frames {
			assert.Contains(t, string(f), `"timestamp":`+strconv.Itoa(i)+`,`)
		}
	}
}

func TestClose_ClosesAllClients(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	a, b := newFakeClient(), newFakeClient()
	hub.AddClient(a)
	hub.AddClient(b)

	hub.Close()

	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, int32(1), a.closes.Load())
	assert.Equal(t, int32(1), b.closes.Load())
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	h := NewHandler(NewHub(quietLogger(), nil), quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_WebsocketReceivesTextFrames(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	srv := httptest.NewServer(NewHandler(hub, quietLogger()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Notify(context.Background(), sample{Timestamp: 42, Houses: []string{}}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"timestamp":42,"houses":[]}`, string(data))
}

func TestHandler_DisconnectedClientIsPruned(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	srv := httptest.NewServer(NewHandler(hub, quietLogger()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		_ = hub.Notify(context.Background(), sample{})
		return hub.Len() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
