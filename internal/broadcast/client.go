package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("broadcast client closed")

// WSClient adapts a websocket connection to Client. Writes are serialized;
// inbound frames are read only to notice the peer going away.
type WSClient struct {
	conn   *websocket.Conn
	closed atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{conn: conn, done: make(chan struct{})}
}

func (c *WSClient) Open() bool { return !c.closed.Load() }

// Send writes payload as a single text frame. The context deadline, if any,
// bounds the write.
func (c *WSClient) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultSendTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ReadPump discards client frames until the connection fails or closes.
// It blocks, so callers run it on the handler goroutine.
func (c *WSClient) ReadPump() {
	defer func() { _ = c.Close() }()
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// Done is closed once the client is closed.
func (c *WSClient) Done() <-chan struct{} { return c.done }

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
