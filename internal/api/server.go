package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/logging"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
	"github.com/nerrad567/linebuffer/internal/ingest"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds the TSDB probe made by GET /health.
const healthCheckTimeout = 5 * time.Second

// Writer is the part of the TSDB client the relay needs.
// It is satisfied by *tsdb.Client.
type Writer interface {
	WriteLine(line string) error
	WritePoint(p tsdb.Point) error
	Pending() int
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Writer Writer

	// DefaultMeasurement names JSON points that carry no measurement.
	DefaultMeasurement string

	// IngestMetrics reports MQTT bridge counters on /metrics. Optional.
	IngestMetrics func() ingest.Metrics

	// FlushFailures reports how many flushes have failed. Optional.
	FlushFailures func() uint64

	Version string
}

// Server is the HTTP write relay.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg                config.APIConfig
	logger             *logging.Logger
	writer             Writer
	defaultMeasurement string
	ingestMetrics      func() ingest.Metrics
	flushFailures      func() uint64
	version            string
	started            time.Time

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// New creates an API server. Call Start to begin listening.
//
// Parameters:
//   - deps: Server dependencies; Writer and Logger are required
//
// Returns:
//   - *Server: Server ready to start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Server{
		cfg:                deps.Config,
		logger:             deps.Logger,
		writer:             deps.Writer,
		defaultMeasurement: deps.DefaultMeasurement,
		ingestMetrics:      deps.IngestMetrics,
		flushFailures:      deps.FlushFailures,
		version:            deps.Version,
		started:            time.Now(),
	}, nil
}

// Start binds the listener and serves requests in the background.
//
// The listener is bound before Start returns, so a port in use is reported
// here rather than logged later.
//
// Parameters:
//   - ctx: Context checked before binding (not used for listener lifetime)
//
// Returns:
//   - error: If the server is already started or cannot bind
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening for API server: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.addr = ln.Addr().String()

	s.logger.Info("API server starting", "address", s.addr)

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
