package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/controller/history"
	"github.com/nerrad567/houseflow-core/internal/controller/status"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/houseflow-core/internal/provider"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

var (
	errNoLogger   = errors.New("api: logger is required")
	errNoProvider = errors.New("api: provider is required")
	errNotStarted = errors.New("api: server not started")
)

// StatusSource answers last-known accessory state.
type StatusSource interface {
	Accessories(ctx context.Context) ([]status.Snapshot, error)
	Accessory(ctx context.Context, id uuid.UUID) (status.Snapshot, error)
}

// HistorySource answers recorded characteristic history.
type HistorySource interface {
	History(ctx context.Context, accessoryID uuid.UUID, limit int) ([]history.Entry, error)
}

var (
	_ StatusSource  = (*status.Controller)(nil)
	_ HistorySource = (*history.Controller)(nil)
)

// HealthChecker is implemented by infrastructure clients reported on
// the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports a provider's registry size.
type StatsSource interface {
	Name() string
	Stats(ctx context.Context) (provider.Stats, error)
}

// DBStatsSource reports connection pool statistics.
type DBStatsSource interface {
	Stats() sql.DBStats
}

// Deps wires the server to the rest of the daemon.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	// Provider serves the characteristic endpoints. Usually the Master.
	Provider provider.Provider

	// Upgrade is the provider endpoint mounted at /websocket and /ws.
	Upgrade http.Handler

	Status  StatusSource  // optional
	History HistorySource // optional

	// Events is the UI event stream. If nil the server creates its own.
	Events *Hub

	Checks   map[string]HealthChecker
	Stats    []StatsSource
	Database DBStatsSource

	Version string
}

// Server is the HTTP boundary of a hub or server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	provider provider.Provider
	upgrade  http.Handler
	status   StatusSource
	history  HistorySource
	checks   map[string]HealthChecker
	stats    []StatsSource
	database DBStatsSource
	version  string

	cors        *corsPolicy
	hub         *Hub
	externalHub bool
	server      *http.Server
	cancel      context.CancelFunc
	startTime   time.Time
}

// New validates deps and returns an unstarted server. Without
// deps.Events it owns a private hub, run from Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errNoLogger
	case deps.Provider == nil:
		return nil, errNoProvider
	}

	s := &Server{
		cfg:       deps.Config,
		cors:      newCORSPolicy(deps.Config.CORS),
		logger:    deps.Logger.With("component", "api"),
		provider:  deps.Provider,
		upgrade:   deps.Upgrade,
		status:    deps.Status,
		history:   deps.History,
		checks:    deps.Checks,
		stats:     deps.Stats,
		database:  deps.Database,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Events != nil {
		s.hub = deps.Events
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Events returns the event stream hub so it can be registered as a
// controller.
func (s *Server) Events() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener, so an unusable address fails here, and then
// serves in the background until Close. Requests and provider sessions
// inherit a context that ends with ctx or Close.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", addr, err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if !s.externalHub {
		go s.hub.Run(serveCtx)
	}

	t := s.cfg.Timeouts
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: time.Duration(t.Read) * time.Second,
		ReadTimeout:       time.Duration(t.Read) * time.Second,
		WriteTimeout:      time.Duration(t.Write) * time.Second,
		IdleTimeout:       time.Duration(t.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return serveCtx },
	}

	tls := s.cfg.TLS
	s.logger.Info("api listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api stopped serving", "error", err)
		}
	}()
	return nil
}

// Close ends the serve context, which closes provider sessions, and
// drains in-flight requests for up to shutdownGrace.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("api shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.server == nil {
		return errNotStarted
	}
	return nil
}
