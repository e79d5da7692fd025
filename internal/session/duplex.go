// Package session sequences duplex connections: the lifecycle contract of a
// bidirectional stream, the inbound and outbound pump loops, and the client
// and server handshakes that bind a stream to a routing layer.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefionn/transports/internal/model"
	"github.com/codefionn/transports/internal/transport"
)

var (
	// ErrNotImplemented is returned by Unimplemented's methods.
	ErrNotImplemented = errors.New("method must be implemented")
	// ErrDisconnected is returned when the stream is not open.
	ErrDisconnected = errors.New("disconnected")
)

// Duplex is a bidirectional stream of wire values of type T.
type Duplex[T any] interface {
	// Connect opens the stream and returns the session identity it was
	// established with.
	Connect(ctx context.Context, clientID string) (string, error)
	Disconnect(ctx context.Context) error
	Receive(ctx context.Context) (T, error)
	Send(ctx context.Context, update T) error
}

// Identifier is implemented by streams that want to learn the identity the
// routing layer assigned to them on the host side.
type Identifier interface {
	SetClientID(id string)
}

// Unimplemented can be embedded by partial Duplex implementations; every
// method it provides fails with ErrNotImplemented.
type Unimplemented[T any] struct{}

func (Unimplemented[T]) Connect(context.Context, string) (string, error) {
	return "", fmt.Errorf("connect: %w", ErrNotImplemented)
}

func (Unimplemented[T]) Disconnect(context.Context) error {
	return fmt.Errorf("disconnect: %w", ErrNotImplemented)
}

func (Unimplemented[T]) Receive(context.Context) (T, error) {
	var zero T
	return zero, fmt.Errorf("receive: %w", ErrNotImplemented)
}

func (Unimplemented[T]) Send(context.Context, T) error {
	return fmt.Errorf("send: %w", ErrNotImplemented)
}

// Pump is the part of the routing layer the pump loops drive.
type Pump[T any] interface {
	Send(ctx context.Context, clientID string) (T, error)
	Receive(ctx context.Context, clientID string, update T) error
}

// Router is the client-side routing layer.
type Router[T any] interface {
	Pump[T]
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	OnInitial(ctx context.Context, update T) (model.Model, error)
}

// HostRouter is the server-side routing layer.
type HostRouter[T any] interface {
	Pump[T]
	OnConnect(ctx context.Context, clientID string) (string, error)
	Host(ctx context.Context, m model.Model, clientID string, opts transport.HostOptions) error
	OnDisconnect(ctx context.Context, fallback model.Model, clientID string) error
	Initial(clientID string) (T, error)
}

var (
	_ Router[*model.Update]     = (*transport.Transport)(nil)
	_ Router[[]byte]            = (*transport.JSONTransport)(nil)
	_ HostRouter[*model.Update] = (*transport.Transport)(nil)
	_ HostRouter[[]byte]        = (*transport.JSONTransport)(nil)
)

// Receiver is the inbound pump: it forwards every value conn receives to the
// routing layer, in order, until either call fails or ctx is done.
func Receiver[T any](ctx context.Context, conn Duplex[T], router Pump[T], clientID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		update, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		if err := router.Receive(ctx, clientID, update); err != nil {
			return err
		}
	}
}

// Sender is the outbound pump: it forwards every update the routing layer
// produces for clientID to conn until either call fails or ctx is done.
func Sender[T any](ctx context.Context, conn Duplex[T], router Pump[T], clientID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		update, err := router.Send(ctx, clientID)
		if err != nil {
			return err
		}
		if err := conn.Send(ctx, update); err != nil {
			return err
		}
	}
}

// Terminated reports whether err is an expected way for a pump to stop.
func Terminated(err error) bool {
	return err == nil ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, context.Canceled)
}
