package tsdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
)

// defaultConnectTimeout bounds the health check performed by Connect.
const defaultConnectTimeout = 10 * time.Second

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithSender replaces the HTTP write path, e.g. with a test double.
// Queries and health checks still use HTTP.
func WithSender(s Sender) Option {
	return func(c *Client) {
		c.sender = s
	}
}

// WithHTTPClient sets the HTTP client used for writes, queries and health checks.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger at construction time.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client buffers encoded points in memory and writes them to the TSDB in
// batches using InfluxDB line protocol.
//
// A batch is flushed when the queue reaches the configured batch size,
// when the flush interval timer fires, on an explicit Flush, and once more
// on Close. A batch whose send fails is put back at the head of the queue
// in its original order and retried by the next flush. There is no backoff
// and no bound on the queue.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg        config.TSDBConfig
	httpClient *http.Client
	gateway    *HTTPTransport
	sender     Sender

	queue *buffer

	// flushMu serialises drain, send and re-queue so at most one batch is in flight.
	flushMu sync.Mutex

	// kick wakes the flush goroutine when the batch size is reached.
	kick      chan struct{}
	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup

	// closeMu orders writers against Close: enqueue holds it shared,
	// Close takes it exclusively to set closed.
	closeMu   sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	onError func(err error)
	logger  Logger
}

// New creates a Client and starts its periodic flush. It performs no
// network I/O.
//
// A zero or negative BatchSize or FlushInterval falls back to the defaults
// (1000 lines, 5s). cfg is copied; later changes to it have no effect.
//
// Parameters:
//   - cfg: TSDB configuration from config.yaml
//   - opts: Optional overrides (sender, HTTP client, logger)
//
// Returns:
//   - *Client: Running client; call Close to stop it
//   - error: If cfg.URL is empty
func New(cfg config.TSDBConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("tsdb: url is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}

	c := &Client{
		cfg:    cfg,
		queue:  newBuffer(cfg.BatchSize),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.gateway = NewHTTPTransport(cfg, c.httpClient)
	if c.sender == nil {
		c.sender = c.gateway
	}

	c.flushTick = time.NewTicker(cfg.FlushInterval)
	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

// Connect creates a Client and verifies the TSDB is reachable.
//
// Parameters:
//   - ctx: Context for cancellation (used for health check)
//   - cfg: TSDB configuration from config.yaml
//   - opts: Optional overrides
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the health check fails
func Connect(ctx context.Context, cfg config.TSDBConfig, opts ...Option) (*Client, error) {
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	healthCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := c.HealthCheck(healthCtx); err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// flushLoop flushes on the interval timer and when the batch size is reached.
// Failed flushes are reported and never stop the loop.
func (c *Client) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.flushTick.C:
			_ = c.Flush(context.Background())
		case <-c.kick:
			_ = c.Flush(context.Background())
		case <-c.done:
			return
		}
	}
}

// WritePoint encodes p and appends it to the queue. It never waits on
// network I/O.
//
// An encoding failure is logged and returned; the point is dropped and the
// queue is untouched. Transport failures are never returned from here; they
// are reported through SetOnError and the logger when the batch is flushed.
//
// Returns:
//   - error: *EncodingError, or ErrClosed after Close
func (c *Client) WritePoint(p Point) error {
	if c.closed.Load() {
		return ErrClosed
	}

	line, err := Encode(p)
	if err != nil {
		c.getLogger().Warn("dropping point", "measurement", p.Measurement, "error", err)
		return err
	}

	return c.enqueue(line)
}

// WriteLine appends an already encoded line to the queue.
//
// The line must parse as exactly one line protocol point. A line the TSDB
// would reject is refused here, since once queued it would hold back every
// batch behind it.
//
// Returns:
//   - error: *EncodingError wrapping ErrInvalidLine, or ErrClosed after Close
func (c *Client) WriteLine(line string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	line = strings.TrimRight(line, " \t")
	if err := validateLine(line); err != nil {
		err = &EncodingError{Err: fmt.Errorf("%w: %w", ErrInvalidLine, err)}
		c.getLogger().Warn("dropping line", "error", err)
		return err
	}

	return c.enqueue(line)
}

// enqueue appends a line and wakes the flush goroutine once the batch size
// is reached. The wake-up is coalesced and never blocks.
//
// closeMu is held shared across the closed check and the append, so a line
// accepted here is always seen by the final flush in Close.
func (c *Client) enqueue(line string) error {
	c.closeMu.RLock()
	if c.closed.Load() {
		c.closeMu.RUnlock()
		return ErrClosed
	}
	n := c.queue.append(line)
	c.closeMu.RUnlock()

	if n < c.cfg.BatchSize {
		return nil
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Flush sends everything currently queued as one batch.
//
// Concurrent calls are serialised; a caller that finds the queue already
// drained returns nil without sending. Lines written while the batch is in
// flight are not part of it. If the send fails the batch is put back at the
// head of the queue, ahead of those newer lines, and the error is reported
// and returned.
//
// The context is passed to the transport; no timeout is added here.
func (c *Client) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	lines := c.queue.drain()
	if len(lines) == 0 {
		return nil
	}

	if err := c.sender.Send(ctx, lines); err != nil {
		c.queue.requeue(lines)
		c.getLogger().Error("flush failed, batch re-queued",
			"lines", len(lines),
			"pending", c.queue.len(),
			"error", err,
		)
		c.reportError(err)
		return err
	}

	c.getLogger().Debug("flushed batch", "lines", len(lines))
	return nil
}

// Close stops the periodic flush, then flushes whatever is still queued
// and waits for that send to finish.
//
// Only the first call does any work; later calls return the same result.
// Writes after Close return ErrClosed.
//
// Returns:
//   - error: The final flush error, if any
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closed.Store(true)
		c.closeMu.Unlock()

		c.flushTick.Stop()
		close(c.done)
		c.wg.Wait()

		c.closeErr = c.Flush(ctx)
	})
	return c.closeErr
}

// HealthCheck verifies the TSDB connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.gateway.HealthCheck(ctx)
}

// Pending returns the number of lines waiting to be sent.
func (c *Client) Pending() int {
	return c.queue.len()
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// SetOnError sets a callback to be invoked when a flush fails.
//
// Since writes are batched and flushed asynchronously, errors are
// delivered via this callback rather than returned from write methods.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// SetLogger sets the logger for dropped points and failed flushes.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// reportError delivers an error to the onError callback if set.
func (c *Client) reportError(err error) {
	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()

	if callback != nil {
		callback(err)
	}
}
