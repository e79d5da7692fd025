package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/transports/internal/model"
	"github.com/codefionn/transports/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the order of lifecycle calls across fakes.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeConn delivers inbound values from a channel and records outbound ones.
type fakeConn struct {
	rec        *recorder
	in         chan string
	connectID  string
	connectErr error
	sendErr    error

	mu   sync.Mutex
	sent []string
}

func newFakeConn(rec *recorder, inbound ...string) *fakeConn {
	c := &fakeConn{rec: rec, in: make(chan string, len(inbound)+8)}
	for _, v := range inbound {
		c.in <- v
	}
	return c
}

func (c *fakeConn) Connect(ctx context.Context, clientID string) (string, error) {
	c.rec.add("conn.Connect:" + clientID)
	if c.connectErr != nil {
		return "", c.connectErr
	}
	if c.connectID != "" {
		return c.connectID, nil
	}
	return clientID, nil
}

func (c *fakeConn) Disconnect(ctx context.Context) error {
	c.rec.add("conn.Disconnect")
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (string, error) {
	select {
	case v, ok := <-c.in:
		if !ok {
			return "", ErrDisconnected
		}
		c.rec.add("conn.Receive:" + v)
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Send(ctx context.Context, update string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, update)
	c.mu.Unlock()
	c.rec.add("conn.Send:" + update)
	return nil
}

func (c *fakeConn) sentValues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// fakeRouter implements Router[string] and HostRouter[string].
type fakeRouter struct {
	rec        *recorder
	out        chan string
	model      model.Model
	receiveErr error

	mu       sync.Mutex
	received []string
	routed   []string
}

func newFakeRouter(rec *recorder) *fakeRouter {
	return &fakeRouter{rec: rec, out: make(chan string, 8), model: &stub{Base: model.NewBase()}}
}

func (r *fakeRouter) Connect(ctx context.Context) error {
	r.rec.add("router.Connect")
	return nil
}

func (r *fakeRouter) Disconnect(ctx context.Context) error {
	r.rec.add("router.Disconnect")
	return nil
}

func (r *fakeRouter) OnInitial(ctx context.Context, update string) (model.Model, error) {
	r.rec.add("router.OnInitial:" + update)
	return r.model, nil
}

func (r *fakeRouter) Send(ctx context.Context, clientID string) (string, error) {
	select {
	case v := <-r.out:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *fakeRouter) Receive(ctx context.Context, clientID string, update string) error {
	if r.receiveErr != nil {
		return r.receiveErr
	}
	r.mu.Lock()
	r.received = append(r.received, update)
	r.routed = append(r.routed, clientID)
	r.mu.Unlock()
	return nil
}

func (r *fakeRouter) OnConnect(ctx context.Context, clientID string) (string, error) {
	r.rec.add("router.OnConnect:" + clientID)
	if clientID == "" {
		clientID = "generated"
	}
	return clientID, nil
}

func (r *fakeRouter) Host(ctx context.Context, m model.Model, clientID string, opts transport.HostOptions) error {
	r.rec.add("router.Host:" + clientID)
	return nil
}

func (r *fakeRouter) OnDisconnect(ctx context.Context, fallback model.Model, clientID string) error {
	r.rec.add("router.OnDisconnect:" + clientID)
	return nil
}

func (r *fakeRouter) Initial(clientID string) (string, error) {
	return "initial-for-" + clientID, nil
}

func (r *fakeRouter) receivedValues() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.received...), append([]string(nil), r.routed...)
}

type stub struct {
	model.Base
}

func (s *stub) TypeName() string                             { return "Stub" }
func (s *stub) Receive(context.Context, *model.Update) error { return nil }

var (
	_ Router[string]     = (*fakeRouter)(nil)
	_ HostRouter[string] = (*fakeRouter)(nil)
	_ Duplex[string]     = (*fakeConn)(nil)
)

func TestUnimplemented(t *testing.T) {
	var d Duplex[[]byte] = Unimplemented[[]byte]{}
	ctx := context.Background()

	_, err := d.Connect(ctx, "x")
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, d.Disconnect(ctx), ErrNotImplemented)
	v, err := d.Receive(ctx)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Nil(t, v)
	assert.ErrorIs(t, d.Send(ctx, nil), ErrNotImplemented)
}

func TestOpenOrdering(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "hello")
	router := newFakeRouter(rec)

	client := NewClient[string](conn, router, "alice")
	m, err := client.Open(context.Background())
	require.NoError(t, err)
	assert.Same(t, router.model, m)
	assert.Equal(t, "alice", client.ClientID())

	assert.Equal(t, []string{
		"conn.Connect:alice",
		"router.Connect",
		"conn.Receive:hello",
		"router.OnInitial:hello",
	}, rec.list())
}

func TestOpenAdoptsConnectionIdentity(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "hello")
	conn.connectID = "assigned"

	client := NewClient[string](conn, newFakeRouter(rec), "")
	_, err := client.Initial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "assigned", client.ClientID())
}

func TestOpenFailures(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec)
	conn.connectErr = errors.New("refused")

	_, err := NewClient[string](conn, newFakeRouter(rec), "").Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Equal(t, []string{"conn.Connect:"}, rec.list())

	// the stream closes before the initial update arrives
	rec = &recorder{}
	conn = newFakeConn(rec)
	close(conn.in)
	_, err = NewClient[string](conn, newFakeRouter(rec), "").Open(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestCloseOrdering(t *testing.T) {
	rec := &recorder{}
	client := NewClient[string](newFakeConn(rec), newFakeRouter(rec), "")

	require.NoError(t, client.Close(context.Background()))
	assert.Equal(t, []string{"router.Disconnect", "conn.Disconnect"}, rec.list())
}

func TestReceiverForwardsInOrder(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "a", "b", "c")
	close(conn.in)
	router := newFakeRouter(rec)

	err := Receiver[string](context.Background(), conn, router, "alice")
	assert.ErrorIs(t, err, ErrDisconnected)

	received, routed := router.receivedValues()
	assert.Equal(t, []string{"a", "b", "c"}, received)
	assert.Equal(t, []string{"alice", "alice", "alice"}, routed)
}

func TestReceiverStopsOnRouterError(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "a", "b")
	router := newFakeRouter(rec)
	router.receiveErr = transport.ErrReadOnly

	err := Receiver[string](context.Background(), conn, router, "alice")
	assert.ErrorIs(t, err, transport.ErrReadOnly)
	assert.Equal(t, []string{"conn.Receive:a"}, rec.list())
}

func TestReceiverStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Receiver[string](ctx, newFakeConn(rec, "a"), newFakeRouter(rec), "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.list())
}

func TestSenderForwardsInOrder(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec)
	router := newFakeRouter(rec)
	router.out <- "x"
	router.out <- "y"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sender[string](ctx, conn, router, "alice") }()

	require.Eventually(t, func() bool { return len(conn.sentValues()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{"x", "y"}, conn.sentValues())
}

func TestSenderStopsOnSendError(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec)
	conn.sendErr = ErrDisconnected
	router := newFakeRouter(rec)
	router.out <- "x"

	err := Sender[string](context.Background(), conn, router, "")
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestHandleAbsorbsDisconnect(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "initial", "u1")
	router := newFakeRouter(rec)

	client := NewClient[string](conn, router, "")
	_, err := client.Open(context.Background())
	require.NoError(t, err)

	close(conn.in)
	require.NoError(t, client.Handle(context.Background()))

	received, routed := router.receivedValues()
	assert.Equal(t, []string{"u1"}, received)
	assert.Equal(t, []string{transport.InitialClientID}, routed)

	calls := rec.list()
	assert.Equal(t, []string{"router.Disconnect", "conn.Disconnect"}, calls[len(calls)-2:])
}

func TestHandleReportsRoutingFailure(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "bad")
	router := newFakeRouter(rec)
	router.receiveErr = &transport.UnknownTypeError{Name: "Ghost"}

	client := NewClient[string](conn, router, "")
	err := client.Handle(context.Background())
	assert.ErrorIs(t, err, transport.ErrUnknownType)
	assert.Contains(t, rec.list(), "conn.Disconnect")
}

func TestHandleDuplex(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "in")
	router := newFakeRouter(rec)
	router.out <- "out"

	client := NewClient[string](conn, router, "")
	done := make(chan error, 1)
	go func() { done <- client.HandleDuplex(context.Background()) }()

	require.Eventually(t, func() bool { return len(conn.sentValues()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		received, _ := router.receivedValues()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	close(conn.in)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("HandleDuplex did not return after disconnect")
	}
}

func TestServerHandshake(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec)
	conn.connectID = "bob"
	router := newFakeRouter(rec)

	srv := NewServer[string](conn, router, router.model, transport.HostOptions{Shared: true})
	require.NoError(t, srv.OnOpen(context.Background()))
	assert.Equal(t, "bob", srv.ClientID())
	assert.Equal(t, []string{"initial-for-bob"}, conn.sentValues())

	require.NoError(t, srv.OnClose(context.Background()))
	assert.Equal(t, []string{
		"conn.Connect:",
		"router.OnConnect:bob",
		"router.Host:bob",
		"conn.Send:initial-for-bob",
		"router.OnDisconnect:bob",
	}, rec.list())
}

func TestServerHandle(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec, "u1")
	router := newFakeRouter(rec)

	srv := NewServer[string](conn, router, router.model, transport.HostOptions{})
	done := make(chan error, 1)
	go func() { done <- srv.Handle(context.Background()) }()

	require.Eventually(t, func() bool {
		received, _ := router.receivedValues()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)
	close(conn.in)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after disconnect")
	}

	_, routed := router.receivedValues()
	assert.Equal(t, []string{"generated"}, routed)
	assert.Contains(t, rec.list(), "router.OnDisconnect:generated")
}

func TestServerOpenFailureSkipsOnClose(t *testing.T) {
	rec := &recorder{}
	conn := newFakeConn(rec)
	conn.connectErr = errors.New("upgrade failed")

	srv := NewServer[string](conn, newFakeRouter(rec), nil, transport.HostOptions{})
	err := srv.Handle(context.Background())
	require.Error(t, err)
	assert.NotContains(t, rec.list(), "router.OnDisconnect:")
}

func TestTerminated(t *testing.T) {
	assert.True(t, Terminated(nil))
	assert.True(t, Terminated(ErrDisconnected))
	assert.True(t, Terminated(context.Canceled))
	assert.False(t, Terminated(transport.ErrNotBound))
	assert.False(t, Terminated(context.DeadlineExceeded))
}

type identifiedConn struct {
	*fakeConn
}

func (c identifiedConn) SetClientID(id string) {
	c.rec.add("conn.SetClientID:" + id)
}

func TestServerTellsConnAssignedID(t *testing.T) {
	rec := &recorder{}
	conn := identifiedConn{newFakeConn(rec)}
	router := newFakeRouter(rec)

	srv := NewServer[string](conn, router, router.model, transport.HostOptions{Shared: true})
	require.NoError(t, srv.OnOpen(context.Background()))
	assert.Equal(t, "generated", srv.ClientID())
	assert.Equal(t, []string{
		"conn.Connect:",
		"router.OnConnect:",
		"conn.SetClientID:generated",
		"router.Host:generated",
		"conn.Send:initial-for-generated",
	}, rec.list())
}
