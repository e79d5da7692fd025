package socketclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/transports/internal/logger"
	"github.com/codefionn/transports/internal/session"
	"github.com/gorilla/websocket"
)

// ErrDisconnected is returned by Receive and Send while the socket is closed.
var ErrDisconnected = session.ErrDisconnected

var _ session.Duplex[[]byte] = (*Client)(nil)

// wait is the single outstanding receive. Every caller sharing it observes
// the same result.
type wait struct {
	done    chan struct{}
	data    []byte
	err     error
	waiters int
}

// Client is a session.Duplex over a WebSocket connection.
type Client struct {
	config *Config
	url    string
	dialer *websocket.Dialer
	log    *logger.Component

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	connected bool
	queue     [][]byte
	pending   *wait
	readDone  chan struct{}
}

// NewClient creates a client for the endpoint described by config.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	u, err := config.URL()
	if err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		url:    u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		log: logger.Named("socket"),
	}, nil
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string {
	return c.url
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the endpoint, presenting clientID in the configured header,
// and starts delivering inbound messages to the queue.
func (c *Client) Connect(ctx context.Context, clientID string) (string, error) {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return "", errors.New("already connected")
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.config.Origin != "" {
		header.Set("Origin", c.config.Origin)
	}
	if clientID != "" && c.config.ClientHeader != "" {
		header.Set(c.config.ClientHeader, clientID)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	if c.config.ReadLimit > 0 {
		conn.SetReadLimit(c.config.ReadLimit)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	done := make(chan struct{})
	c.mu.Lock()
	c.readDone = done
	// frames left over from an earlier connection belong to that session
	c.queue = nil
	c.onOpen()
	c.mu.Unlock()

	go c.readLoop(conn, done)

	c.log.Debug("connected to %s", c.url)
	return clientID, nil
}

// onOpen must be called with mu held.
func (c *Client) onOpen() {
	c.connected = true
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read error: %v", err)
			}
			c.onClose()
			return
		}
		c.onMessage(data)
	}
}

func (c *Client) onClose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if w := c.pending; w != nil {
		w.err = ErrDisconnected
		c.pending = nil
		close(w.done)
	}
	c.log.Debug("disconnected from %s", c.url)
}

func (c *Client) onMessage(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, data)
	if w := c.pending; w != nil {
		w.data = c.popLocked()
		c.pending = nil
		close(w.done)
	}
}

func (c *Client) popLocked() []byte {
	item := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return item
}

// Receive returns the oldest queued message. With an empty queue it fails
// with ErrDisconnected when the socket is closed, and otherwise waits for the
// next message. Concurrent callers share one wait and all observe the same
// message; serialize calls when each must get its own.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		item := c.popLocked()
		c.mu.Unlock()
		return item, nil
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	w := c.pending
	if w == nil {
		w = &wait{done: make(chan struct{})}
		c.pending = w
	}
	w.waiters++
	c.mu.Unlock()

	select {
	case <-w.done:
		return w.data, w.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-w.done:
		// resolved while we were giving up; do not drop it
		return w.data, w.err
	default:
	}
	w.waiters--
	if w.waiters == 0 && c.pending == w {
		c.pending = nil
	}
	return nil, ctx.Err()
}

// waiting reports how many callers share the outstanding wait.
func (c *Client) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0
	}
	return c.pending.waiters
}

// Send writes update as a text frame. There is no acknowledgement.
func (c *Client) Send(ctx context.Context, update []byte) error {
	if !c.Connected() {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrDisconnected
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, update); err != nil {
		return fmt.Errorf("%w: failed to write message: %v", ErrDisconnected, err)
	}
	return nil
}

// Disconnect closes the socket and waits for the read loop to observe it.
func (c *Client) Disconnect(ctx context.Context) error {
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	c.writeMu.Unlock()

	if conn == nil {
		return nil
	}
	closeErr := conn.Close()

	c.mu.Lock()
	done := c.readDone
	c.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("failed to close socket: %w", closeErr)
	}
	return nil
}
