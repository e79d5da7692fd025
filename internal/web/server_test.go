package web

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/codefionn/transports/internal/demo"
	"github.com/codefionn/transports/internal/session"
	"github.com/codefionn/transports/internal/socketclient"
	"github.com/codefionn/transports/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, board *demo.Board, opts transport.HostOptions) (*Server, *transport.JSONTransport) {
	t.Helper()

	tr := transport.NewJSON()
	demo.Register(tr)

	srv := NewServer(tr, board, Options{Addr: "127.0.0.1:0", Host: opts})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		assert.NoError(t, srv.Stop())
	})
	return srv, tr
}

func dial(t *testing.T, srv *Server, clientID string) (*session.Client[[]byte], *transport.JSONTransport) {
	t.Helper()

	cfg := socketclient.DefaultConfig()
	cfg.Host = srv.Addr()
	conn, err := socketclient.NewClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, srv.URL(), conn.URL())

	tr := transport.NewJSON()
	demo.Register(tr)
	return session.NewClient[[]byte](conn, tr, clientID), tr
}

func TestHealth(t *testing.T) {
	srv, _ := startServer(t, demo.NewBoard("ops"), transport.HostOptions{Shared: true})

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Clients)
	assert.Equal(t, []string{"Board", "Counter"}, body.Types)
}

func TestOpenDeliversInitialModel(t *testing.T) {
	board := demo.NewBoard("ops", demo.NewCounter("a", 1))
	srv, hostTr := startServer(t, board, transport.HostOptions{Shared: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, clientTr := dial(t, srv, "tester")
	m, err := client.Open(ctx)
	require.NoError(t, err)
	defer client.Close(context.Background())

	got, ok := m.(*demo.Board)
	require.True(t, ok, "expected *demo.Board, got %T", m)
	assert.Equal(t, board.ID(), got.ID())
	title, values := got.Snapshot()
	assert.Equal(t, "ops", title)
	assert.Equal(t, map[string]int{"a": 1}, values)

	bound, ok := clientTr.Bound(transport.InitialClientID)
	require.True(t, ok)
	assert.Same(t, m, bound)
	_, ok = clientTr.ServerModel(board.ID())
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		owner, ok := hostTr.ClientFor(board.ID())
		return ok && owner == "tester"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Hub().ClientCount())
}

func TestUnsharedHostingCopiesModel(t *testing.T) {
	board := demo.NewBoard("ops")
	srv, _ := startServer(t, board, transport.HostOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _ := dial(t, srv, "")
	m, err := client.Open(ctx)
	require.NoError(t, err)
	defer client.Close(context.Background())

	assert.NotEqual(t, board.ID(), m.ID())
	assert.Equal(t, "Board", m.TypeName())
}

func TestDuplexExchange(t *testing.T) {
	board := demo.NewBoard("ops", demo.NewCounter("a", 1))
	hostChanged := make(chan struct{}, 4)
	board.OnChange(func(*demo.Board) { hostChanged <- struct{}{} })

	srv, _ := startServer(t, board, transport.HostOptions{Shared: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _ := dial(t, srv, "tester")
	m, err := client.Open(ctx)
	require.NoError(t, err)
	local := m.(*demo.Board)

	localChanged := make(chan struct{}, 4)
	local.OnChange(func(*demo.Board) { localChanged <- struct{}{} })

	done := make(chan error, 1)
	go func() { done <- client.HandleDuplex(ctx) }()

	// host -> client
	require.NoError(t, board.Increment("a", 2))
	select {
	case <-localChanged:
	case <-ctx.Done():
		t.Fatal("client never applied the host update")
	}
	_, values := local.Snapshot()
	assert.Equal(t, 3, values["a"])

	// client -> host
	require.NoError(t, local.Increment("b", 5))
	select {
	case <-hostChanged:
	case <-ctx.Done():
		t.Fatal("host never applied the client update")
	}
	_, values = board.Snapshot()
	assert.Equal(t, map[string]int{"a": 3, "b": 5}, values)

	// host shutdown ends the client session without error
	require.NoError(t, srv.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("client session did not end after host shutdown")
	}
}

func TestReadOnlyHostRejectsUpdates(t *testing.T) {
	board := demo.NewBoard("ops", demo.NewCounter("a", 1))
	srv, _ := startServer(t, board, transport.HostOptions{ReadOnly: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _ := dial(t, srv, "viewer")
	m, err := client.Open(ctx)
	require.NoError(t, err)
	local := m.(*demo.Board)

	done := make(chan error, 1)
	go func() { done <- client.HandleDuplex(ctx) }()

	// the host drops the session on the rejected update, which the client
	// observes as a normal disconnect
	require.NoError(t, local.Increment("a", 1))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("read-only host kept the session open")
	}

	_, values := board.Snapshot()
	assert.Equal(t, 1, values["a"])
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSharedHostingServesConcurrentSessions(t *testing.T) {
	board := demo.NewBoard("ops", demo.NewCounter("a", 0))
	srv, _ := startServer(t, board, transport.HostOptions{Shared: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	writer, _ := dial(t, srv, "writer")
	m, err := writer.Open(ctx)
	require.NoError(t, err)
	local := m.(*demo.Board)

	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	done := make(chan error, 1)
	go func() { done <- writer.HandleDuplex(writerCtx) }()

	stop := make(chan struct{})
	changed := make(chan struct{})
	go func() {
		defer close(changed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := local.Increment("a", 1); err != nil {
				return
			}
			if err := board.Increment("b", 1); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 10; i++ {
		reader, _ := dial(t, srv, "")
		rm, err := reader.Open(ctx)
		require.NoError(t, err)
		assert.Equal(t, board.ID(), rm.ID())
		title, _ := rm.(*demo.Board).Snapshot()
		assert.Equal(t, "ops", title)
		require.NoError(t, reader.Close(context.Background()))
	}

	close(stop)
	<-changed
	stopWriter()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("writer session did not end")
	}
}

func TestConnIDFollowsAssignedClientID(t *testing.T) {
	board := demo.NewBoard("ops")
	srv, hostTr := startServer(t, board, transport.HostOptions{Shared: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _ := dial(t, srv, "")
	_, err := client.Open(ctx)
	require.NoError(t, err)
	defer client.Close(context.Background())

	var owner string
	require.Eventually(t, func() bool {
		var ok bool
		owner, ok = hostTr.ClientFor(board.ID())
		return ok && owner != ""
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		ids := srv.Hub().IDs()
		return len(ids) == 1 && ids[0] == owner
	}, 2*time.Second, 10*time.Millisecond)
}
