package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/mqtt"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
)

// Subscriber is the subset of the MQTT client the bridge needs.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// PointWriter accepts decoded points. *tsdb.Client satisfies it.
type PointWriter interface {
	WritePoint(p tsdb.Point) error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge.
type Options struct {
	// Config lists the topic filters and the fallback measurement.
	Config config.IngestConfig

	// QoS is the subscription QoS (0, 1 or 2).
	QoS byte

	// Subscriber is the MQTT client implementation.
	Subscriber Subscriber

	// Writer receives every decoded point.
	Writer PointWriter

	// Logger is optional.
	Logger Logger
}

// Bridge subscribes to ingest topics and feeds each message, decoded as a
// point, into the write buffer.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg    config.IngestConfig
	qos    byte
	sub    Subscriber
	writer PointWriter

	// active holds the filters subscribed by Start, in order.
	active []string
	mu     sync.Mutex

	stopOnce sync.Once

	received atomic.Uint64
	written  atomic.Uint64
	rejected atomic.Uint64

	logger Logger
}

// Metrics contains bridge counters.
type Metrics struct {
	Received uint64
	Written  uint64
	Rejected uint64
}

// New creates a bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("point writer is required")
	}
	if len(opts.Config.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	return &Bridge{
		cfg:    opts.Config,
		qos:    opts.QoS,
		sub:    opts.Subscriber,
		writer: opts.Writer,
		logger: opts.Logger,
	}, nil
}

// Start subscribes to every configured topic filter.
//
// If any subscription fails, the ones already made are removed and the
// error is returned.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range b.cfg.Topics {
		if err := ctx.Err(); err != nil {
			b.unsubscribeLocked()
			return err
		}
		if err := b.sub.Subscribe(topic, b.qos, b.Handle); err != nil {
			b.unsubscribeLocked()
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.active = append(b.active, topic)
		b.logInfo("subscribed to ingest topic", "topic", topic)
	}

	return nil
}

// Stop unsubscribes from all topics. Messages already being handled finish
// normally. Only the first call does any work.
func (b *Bridge) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		err = b.unsubscribeLocked()
		b.mu.Unlock()

		m := b.GetMetrics()
		b.logInfo("ingest bridge stopped",
			"received", m.Received,
			"written", m.Written,
			"rejected", m.Rejected)
	})
	return err
}

func (b *Bridge) unsubscribeLocked() error {
	var errs []error
	for _, topic := range b.active {
		if err := b.sub.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe from %s: %w", topic, err))
		}
	}
	b.active = nil
	return errors.Join(errs...)
}

// Handle decodes one message and writes it. It is the MQTT handler for
// every ingest topic and is exported for direct use.
//
// The returned error is logged by the MQTT client's handler wrapper.
func (b *Bridge) Handle(topic string, payload []byte) error {
	b.received.Add(1)

	p, err := Decode(topic, payload, b.cfg.DefaultMeasurement)
	if err != nil {
		b.rejected.Add(1)
		return err
	}

	if err := b.writer.WritePoint(p); err != nil {
		b.rejected.Add(1)
		return fmt.Errorf("write point from %s: %w", topic, err)
	}

	b.written.Add(1)
	b.logDebug("ingested point", "topic", topic, "measurement", p.Measurement)
	return nil
}

// Topics returns the currently subscribed filters.
func (b *Bridge) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.active...)
}

// GetMetrics returns the message counters.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		Received: b.received.Load(),
		Written:  b.written.Load(),
		Rejected: b.rejected.Load(),
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}
