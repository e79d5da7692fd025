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

// Server runs the host side of a session for one connection: accept, host the
// model for the client, send the initial update, then pump both ways.
type Server[T any] struct {
	conn     Duplex[T]
	router   HostRouter[T]
	model    model.Model
	opts     transport.HostOptions
	clientID string
	log      *logger.Component
}

// NewServer hosts m on conn through router.
func NewServer[T any](conn Duplex[T], router HostRouter[T], m model.Model, opts transport.HostOptions) *Server[T] {
	return &Server[T]{
		conn:   conn,
		router: router,
		model:  m,
		opts:   opts,
		log:    logger.Named("session"),
	}
}

// ClientID returns the identity assigned during OnOpen.
func (s *Server[T]) ClientID() string {
	return s.clientID
}

// OnOpen accepts the connection, hosts the model and sends the initial update.
func (s *Server[T]) OnOpen(ctx context.Context) error {
	id, err := s.conn.Connect(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to accept connection: %w", err)
	}

	id, err = s.router.OnConnect(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}
	if ider, ok := s.conn.(Identifier); ok {
		ider.SetClientID(id)
	}

	if err := s.router.Host(ctx, s.model, id, s.opts); err != nil {
		return fmt.Errorf("failed to host model: %w", err)
	}
	s.clientID = id

	initial, err := s.router.Initial(id)
	if err != nil {
		return fmt.Errorf("failed to build initial update: %w", err)
	}
	if err := s.conn.Send(ctx, initial); err != nil {
		return fmt.Errorf("failed to send initial update: %w", err)
	}
	s.log.Debug("hosting session for %s", id)
	return nil
}

// OnClose releases the client's server-side state. The stream itself is
// closed by whoever owns it.
func (s *Server[T]) OnClose(ctx context.Context) error {
	if s.clientID == "" {
		return nil
	}
	return s.router.OnDisconnect(ctx, s.model, s.clientID)
}

// Handle runs OnOpen, both pumps until either stops, and always OnClose.
func (s *Server[T]) Handle(ctx context.Context) (err error) {
	defer func() {
		err = errors.Join(err, s.OnClose(context.WithoutCancel(ctx)))
	}()

	if err := s.OnOpen(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return Receiver(gctx, s.conn, s.router, s.clientID) })
	g.Go(func() error { return Sender(gctx, s.conn, s.router, s.clientID) })

	if werr := g.Wait(); !Terminated(werr) {
		s.log.Warn("session %s pump stopped: %v", s.clientID, werr)
		return werr
	}
	return nil
}
