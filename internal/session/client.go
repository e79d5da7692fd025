package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefionn/transports/internal/logger"
	"github.com/codefionn/transports/internal/model"
	"github.com/codefionn/transports/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Client runs the client side of a session: connect, handshake, pump, close.
//
// The routing layer binds the initial model under transport.InitialClientID,
// so the pumps route with that key. clientID is the identity presented to
// the remote host when connecting.
type Client[T any] struct {
	conn     Duplex[T]
	router   Router[T]
	clientID string
	log      *logger.Component
}

// NewClient binds conn to router.
func NewClient[T any](conn Duplex[T], router Router[T], clientID string) *Client[T] {
	return &Client[T]{
		conn:     conn,
		router:   router,
		clientID: clientID,
		log:      logger.Named("session"),
	}
}

// ClientID returns the identity the connection was established with.
func (c *Client[T]) ClientID() string {
	return c.clientID
}

// Open connects, notifies the routing layer, receives exactly one initial
// update and hands it to the routing layer, returning the bound model.
func (c *Client[T]) Open(ctx context.Context) (model.Model, error) {
	id, err := c.conn.Connect(ctx, c.clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if id != "" {
		c.clientID = id
	}

	if err := c.router.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to notify transport of connection: %w", err)
	}

	initial, err := c.conn.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive initial update: %w", err)
	}

	m, err := c.router.OnInitial(ctx, initial)
	if err != nil {
		return nil, fmt.Errorf("failed to register initial update: %w", err)
	}
	c.log.Debug("session open: model %s (%s)", m.ID(), m.TypeName())
	return m, nil
}

// Initial is Open under its handshake name.
func (c *Client[T]) Initial(ctx context.Context) (model.Model, error) {
	return c.Open(ctx)
}

// Close resets routing state before closing the stream.
func (c *Client[T]) Close(ctx context.Context) error {
	routeErr := c.router.Disconnect(ctx)
	connErr := c.conn.Disconnect(ctx)
	c.log.Debug("session closed")
	return errors.Join(routeErr, connErr)
}

// Receiver runs the inbound pump for this session.
func (c *Client[T]) Receiver(ctx context.Context) error {
	return Receiver(ctx, c.conn, c.router, transport.InitialClientID)
}

// Sender runs the outbound pump for this session.
func (c *Client[T]) Sender(ctx context.Context) error {
	return Sender(ctx, c.conn, c.router, transport.InitialClientID)
}

// Handle drives the inbound pump until it stops, then closes the session.
// Disconnection and cancellation end the pump normally; other failures are
// returned.
func (c *Client[T]) Handle(ctx context.Context) error {
	err := c.Receiver(ctx)
	return c.finish(ctx, err)
}

// HandleDuplex drives both pumps concurrently until either stops, then
// closes the session.
func (c *Client[T]) HandleDuplex(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Receiver(gctx) })
	g.Go(func() error { return c.Sender(gctx) })
	return c.finish(ctx, g.Wait())
}

func (c *Client[T]) finish(ctx context.Context, pumpErr error) error {
	if Terminated(pumpErr) {
		pumpErr = nil
	} else {
		c.log.Warn("pump stopped: %v", pumpErr)
	}
	return errors.Join(pumpErr, c.Close(context.WithoutCancel(ctx)))
}
