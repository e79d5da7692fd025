package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/transports/internal/session"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

var (
	_ session.Duplex[[]byte] = (*Conn)(nil)
	_ session.Identifier     = (*Conn)(nil)
)

// Conn is the host side of one WebSocket session. Connect performs the
// upgrade; until then it only holds the pending HTTP exchange.
type Conn struct {
	hub          *Hub
	upgrader     *websocket.Upgrader
	w            http.ResponseWriter
	r            *http.Request
	clientHeader string

	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	idMu sync.RWMutex
	id   string
}

// NewConn wraps an incoming upgrade request.
func NewConn(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, clientHeader string) *Conn {
	return &Conn{
		hub:          hub,
		upgrader:     upgrader,
		w:            w,
		r:            r,
		clientHeader: clientHeader,
	}
}

// Connect upgrades the request and returns the identity the client
// presented, or "" when it sent none.
func (c *Conn) Connect(ctx context.Context, _ string) (string, error) {
	conn, err := c.upgrader.Upgrade(c.w, c.r, nil)
	if err != nil {
		return "", fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	id := c.r.Header.Get(c.clientHeader)
	c.idMu.Lock()
	c.id = id
	c.idMu.Unlock()
	return id, nil
}

// SetClientID records the identity the routing layer assigned and registers
// the connection with the hub under it.
func (c *Conn) SetClientID(id string) {
	c.idMu.Lock()
	c.id = id
	c.idMu.Unlock()
	if c.hub != nil {
		c.hub.Register(c)
	}
}

// ClientID returns the session identity, "" until one is known.
func (c *Conn) ClientID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

// Receive reads the next frame. A closed socket yields session.ErrDisconnected.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return nil, session.ErrDisconnected
	}

	// unblock the read when ctx ends; the socket is unusable afterwards
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Debug("read error on %s: %v", c.ClientID(), err)
		}
		return nil, fmt.Errorf("%w: %v", session.ErrDisconnected, err)
	}
	return data, nil
}

// Send writes update as a text frame.
func (c *Conn) Send(ctx context.Context, update []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil || c.closed {
		return session.ErrDisconnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, update); err != nil {
		return fmt.Errorf("%w: %v", session.ErrDisconnected, err)
	}
	return nil
}

// Disconnect closes the socket; closing twice is not an error.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.writeMu.Lock()
	if c.conn == nil || c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()

	if c.hub != nil {
		c.hub.Unregister(c)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
