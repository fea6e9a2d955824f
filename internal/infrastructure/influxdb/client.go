package influxdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	http2 "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Sender writes line protocol batches through the InfluxDB v2 write API.
//
// It implements tsdb.Sender, so a tsdb.Client keeps doing the buffering
// and retry bookkeeping while this type only moves bytes. The blocking
// write API is used so a failed batch comes back to the caller instead of
// the library's own retry queue.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Sender struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	cfg      config.TSDBConfig

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex
}

// NewSender creates a Sender without contacting the server.
//
// Parameters:
//   - cfg: TSDB configuration; URL, Org and Bucket are required, Token is optional
//   - hc: HTTP client to use, or nil for the library default
//
// Returns:
//   - *Sender: Sender ready for use
//   - error: ErrMissingBucket if org or bucket is empty
func NewSender(cfg config.TSDBConfig, hc *http.Client) (*Sender, error) {
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}

	opts := influxdb2.DefaultOptions().SetPrecision(time.Nanosecond)
	if hc != nil {
		opts.SetHTTPClient(hc)
	} else if cfg.RequestTimeout > 0 {
		// #nosec G115 -- validated non-negative by config.Validate
		opts.SetHTTPRequestTimeout(uint(cfg.RequestTimeout / time.Second))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Sender{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}, nil
}

// Connect creates a Sender and verifies the server answers a ping.
//
// Parameters:
//   - ctx: Context for cancellation (used for the ping)
//   - cfg: TSDB configuration
//   - hc: HTTP client to use, or nil for the library default
//
// Returns:
//   - *Sender: Connected sender ready for use
//   - error: ErrMissingBucket, or ErrConnectionFailed if the ping fails
func Connect(ctx context.Context, cfg config.TSDBConfig, hc *http.Client) (*Sender, error) {
	s, err := NewSender(cfg, hc)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := s.client.Ping(pingCtx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		s.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return s, nil
}

// Send writes one batch. Lines are joined with "\n" by the library.
//
// Failures are returned as *tsdb.TransportError wrapping tsdb.ErrWriteFailed,
// carrying the HTTP status and the server's message when there is one.
func (s *Sender) Send(ctx context.Context, lines []string) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	if len(lines) == 0 {
		return nil
	}

	if err := s.writeAPI.WriteRecord(ctx, lines...); err != nil {
		return writeError(err)
	}
	return nil
}

// writeError maps a client library error onto a tsdb.TransportError.
func writeError(err error) error {
	te := &tsdb.TransportError{Op: "write", Err: tsdb.ErrWriteFailed}

	var herr *http2.Error
	if errors.As(err, &herr) {
		te.StatusCode = herr.StatusCode
		if herr.Message != "" {
			te.Body = herr.Message
		} else {
			te.Body = herr.Error()
		}
		return te
	}

	te.Body = err.Error()
	return te
}

// HealthCheck verifies the InfluxDB server is reachable.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Sender) HealthCheck(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := s.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns false once Close has been called.
func (s *Sender) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Close releases the underlying client. Safe to call more than once.
func (s *Sender) Close() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if wasConnected {
		s.client.Close()
	}
}
