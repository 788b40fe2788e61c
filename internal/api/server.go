package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-registry/internal/device"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds a single /health request.
const healthCheckTimeout = 5 * time.Second

// HealthChecker is implemented by every component that can report its health
// (store, MQTT client, InfluxDB client).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DeviceLister is the read-only slice of device.Registry the health summary needs.
type DeviceLister interface {
	List(ctx context.Context) ([]device.Device, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Version string

	// Gatherer backs /metrics. Required.
	Gatherer prometheus.Gatherer

	// Registerer receives the HTTP request counter. Optional.
	Registerer prometheus.Registerer

	// Devices feeds the liveness summary in /health. Optional.
	Devices DeviceLister

	// Checks are run by /health, keyed by component name.
	Checks map[string]HealthChecker
}

// Server is the HTTP server exposing health and metrics.
//
// It is created with New(), started with Start() and stopped with Close().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	version   string
	gatherer  prometheus.Gatherer
	devices   DeviceLister
	checks    map[string]HealthChecker
	requests  *prometheus.CounterVec
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gatherer == nil {
		return nil, fmt.Errorf("metrics gatherer is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		version:   deps.Version,
		gatherer:  deps.Gatherer,
		devices:   deps.Devices,
		checks:    make(map[string]HealthChecker, len(deps.Checks)),
		startTime: time.Now(),
	}
	for name, check := range deps.Checks {
		if check != nil {
			s.checks[name] = check
		}
	}

	if deps.Registerer != nil {
		s.requests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graylogic",
				Subsystem: "registry",
				Name:      "http_requests_total",
				Help:      "HTTP requests served by the registry's operator endpoints.",
			},
			[]string{"method", "route", "status"},
		)
		if err := deps.Registerer.Register(s.requests); err != nil {
			return nil, fmt.Errorf("registering http request counter: %w", err)
		}
	}

	return s, nil
}

// Start binds the listener and serves HTTP in a background goroutine.
//
// Port 0 binds an ephemeral port; Addr reports the bound address.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
