package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/u3640877/transitive/internal/history"
	"github.com/u3640877/transitive/internal/infrastructure/config"
	"github.com/u3640877/transitive/internal/infrastructure/logging"
	"github.com/u3640877/transitive/internal/mqttsync"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Sync    *mqttsync.Sync
	History *history.Recorder // optional
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	sync    *mqttsync.Sync
	history *history.Recorder
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sync == nil {
		return nil, fmt.Errorf("sync core is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		sync:    deps.Sync,
		history: deps.History,
		version: deps.Version,
		hub:     NewHub(deps.Logger),
	}

	// The hub relays every flat cache change to subscribed WebSocket
	// clients.
	s.hub.Attach(deps.Sync.Data)

	return s, nil
}

// Start begins listening for HTTP requests. It returns once the listener
// is bound; serving continues on a background goroutine until Close() or
// context cancellation.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	go s.hub.Run(ctx)
	go func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
		}
	}()

	s.logger.Info("api server listening", "addr", addr)
	return nil
}

// Close gracefully shuts the server down, waiting briefly for in-flight
// requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
