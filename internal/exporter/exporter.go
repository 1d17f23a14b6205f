// Package exporter buffers spans and delivers them to the collector on a fixed
// interval, with a synchronous final flush on shutdown.
package exporter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/JSGette/span_conduit/internal/buffer"
	"github.com/JSGette/span_conduit/internal/span"
)

const (
	// DefaultFlushInterval is the pause between two auto-flush cycles.
	DefaultFlushInterval = 5 * time.Second

	// DefaultShutdownTimeout bounds how long Shutdown waits for the auto-flush loop.
	DefaultShutdownTimeout = 10 * time.Second
)

// Drop reasons reported to Metrics.
const (
	DropNoDestination = "no_destination"
	DropBufferFull    = "buffer_full"
	DropShutdown      = "shutdown"
)

// Sender delivers records. *delivery.Sender implements it.
type Sender interface {
	HasDestination() bool
	SendAsync(ctx context.Context, records []span.Record) error
	SendSync(ctx context.Context, records []span.Record) error
	CloseAsync()
}

// DeadLetter receives spans that could not be delivered at shutdown.
type DeadLetter interface {
	WriteRecords(records []span.Record) (string, error)
}

// Metrics receives exporter events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SpansEnqueued(added, duplicates int)
	SpansDropped(reason string, n int)
	FlushCompleted(mode string, spans int, elapsed time.Duration, err error)
	BufferSize(n int)
}

// Config holds the exporter settings.
type Config struct {
	FlushInterval   time.Duration
	ShutdownTimeout time.Duration

	// MaxBufferSpans bounds the buffer with drop-oldest eviction. Zero is unbounded.
	MaxBufferSpans int

	// Span controls conversion of SDK spans in ExportSpans.
	Span span.Options
}

// Option configures optional collaborators of an Exporter.
type Option func(*Exporter)

// WithClock replaces the clock driving the auto-flush loop and shutdown wait.
func WithClock(clock clockz.Clock) Option {
	return func(e *Exporter) {
		e.clock = clock
	}
}

// WithDeadLetter sets where spans abandoned at shutdown are written.
func WithDeadLetter(dl DeadLetter) Option {
	return func(e *Exporter) {
		e.deadLetter = dl
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Exporter) {
		e.metrics = m
	}
}

// Exporter is the buffering span exporter. It implements sdktrace.SpanExporter.
type Exporter struct {
	cfg        Config
	buf        *buffer.Buffer
	sender     Sender
	deadLetter DeadLetter
	metrics    Metrics
	clock      clockz.Clock
	logger     *slog.Logger

	// flushMu serializes flush cycles; ingestion never takes it.
	flushMu sync.Mutex

	lifecycleMu       sync.Mutex
	started           bool
	loopDone          chan struct{}
	stop              chan struct{}
	stopOnce          sync.Once
	shutdownRequested atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// New creates an Exporter. A nil logger uses slog.Default(). The auto-flush loop
// is not running until Start is called.
func New(cfg Config, sender Sender, logger *slog.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	e := &Exporter{
		cfg:     cfg,
		sender:  sender,
		metrics: nopMetrics{},
		clock:   clockz.RealClock,
		logger:  logger.With("component", "exporter"),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.buf = buffer.New(
		buffer.WithMaxSpans(cfg.MaxBufferSpans),
		buffer.WithDropHandler(e.onEvict),
	)

	return e
}

// Enqueue adds records to the buffer, skipping any whose (traceId, spanId) is
// already tracked. It never blocks on delivery and returns the number added.
func (e *Exporter) Enqueue(records []span.Record) int {
	if len(records) == 0 {
		return 0
	}

	added := e.buf.Enqueue(records)
	duplicates := len(records) - added

	e.metrics.SpansEnqueued(added, duplicates)
	e.metrics.BufferSize(e.buf.Len())

	if duplicates > 0 {
		e.logger.Debug("Skipped duplicate spans",
			"duplicates", duplicates,
			"added", added,
		)
	}

	return added
}

// ExportSpans converts finished SDK spans and buffers them. Delivery happens on
// the next flush cycle, so it always returns nil.
func (e *Exporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.Enqueue(span.FromReadOnlySpans(spans, e.cfg.Span))
	return nil
}

// Len returns the number of spans waiting for delivery.
func (e *Exporter) Len() int {
	return e.buf.Len()
}

// Tracked returns the number of spans the exporter deduplicates against,
// including those in flight.
func (e *Exporter) Tracked() int {
	return e.buf.Tracked()
}

// onEvict runs under the buffer lock.
func (e *Exporter) onEvict(dropped []span.Record) {
	e.metrics.SpansDropped(DropBufferFull, len(dropped))
	e.logger.Warn("Buffer full, dropped oldest spans",
		"dropped", len(dropped),
		"max_buffer_spans", e.cfg.MaxBufferSpans,
	)
}

type nopMetrics struct{}

func (nopMetrics) SpansEnqueued(int, int) {}
func (nopMetrics) SpansDropped(string, int) {}
func (nopMetrics) FlushCompleted(string, int, time.Duration, error) {}
func (nopMetrics) BufferSize(int) {}
