// Package web hosts models over WebSocket: every connection to the socket
// endpoint gets the hosted model's initial state and then exchanges updates
// with it through a session.Server.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/transports/internal/logger"
	"github.com/codefionn/transports/internal/model"
	"github.com/codefionn/transports/internal/session"
	"github.com/codefionn/transports/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/netutil"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "localhost:8936"
	// DefaultPath is the socket endpoint path.
	DefaultPath = "/ws"
	// DefaultClientHeader is the handshake header read for the client identity.
	DefaultClientHeader = "client-id"
)

var log = logger.Named("web")

// Options configures a Server.
type Options struct {
	Addr         string
	Path         string
	ClientHeader string
	// MaxConns caps simultaneously open connections; 0 means no limit.
	MaxConns int
	Host     transport.HostOptions
}

// Server represents the web server
type Server struct {
	opts       Options
	transport  *transport.JSONTransport
	model      model.Model
	hub        *Hub
	upgrader   websocket.Upgrader
	router     *httprouter.Router
	httpServer *http.Server
	listener   net.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a server hosting m through tr.
func NewServer(tr *transport.JSONTransport, m model.Model, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.ClientHeader == "" {
		opts.ClientHeader = DefaultClientHeader
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		transport: tr,
		model:     m,
		hub:       NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // sessions carry no ambient credentials
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}

	s.router = httprouter.New()
	s.router.GET(opts.Path, s.handleWebSocket)
	s.router.GET("/healthz", s.handleHealth)
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	if s.opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConns)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("http")),
	}

	go func() {
		log.Info("Web server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// URL returns the socket endpoint URL.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + s.opts.Path
}

// Stop ends every session and shuts the HTTP server down. Later calls
// return the first result.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	return s.stopErr
}

func (s *Server) stop() error {
	log.Info("Stopping web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.cancel()
	s.hub.CloseAll(ctx)

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shutdown HTTP server: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// handleWebSocket runs one hosted session for the lifetime of the socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.ctx.Err() != nil {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn := NewConn(s.hub, &s.upgrader, w, r, s.opts.ClientHeader)
	sess := session.NewServer[[]byte](conn, s.transport, s.model, s.opts.Host)

	err := sess.Handle(s.ctx)
	if closeErr := conn.Disconnect(context.Background()); closeErr != nil {
		log.Debug("close %s: %v", sess.ClientID(), closeErr)
	}
	if err != nil {
		log.Error("session %s ended: %v", sess.ClientID(), err)
	}
}

type healthResponse struct {
	Status  string   `json:"status"`
	Clients int      `json:"clients"`
	Types   []string `json:"types"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  "ok",
		Clients: s.hub.ClientCount(),
		Types:   s.transport.Types(),
	})
}
