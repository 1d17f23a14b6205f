package exporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/JSGette/span_conduit/internal/delivery"
	"github.com/JSGette/span_conduit/internal/span"
)

// Flush modes reported to Metrics.
const (
	ModeAuto     = "auto"
	ModeManual   = "manual"
	ModeShutdown = "shutdown"
)

// Flush runs one flush cycle with asynchronous delivery. Drained spans are
// restored to the front of the buffer when delivery fails, and the failure is
// returned. Without a destination the spans are discarded with a warning.
func (e *Exporter) Flush(ctx context.Context) error {
	return e.flush(ctx, ModeManual)
}

func (e *Exporter) flush(ctx context.Context, mode string) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	records := e.drain()
	if len(records) == 0 {
		return nil
	}

	if !e.sender.HasDestination() {
		e.discard(records)
		return nil
	}

	e.logger.Debug("Flushing spans", "spans", len(records), "mode", mode)

	start := e.clock.Now()
	err := e.sender.SendAsync(ctx, records)
	e.metrics.FlushCompleted(mode, len(records), e.clock.Since(start), err)

	if err == nil {
		e.buf.ReleaseKeys(records)
		e.logger.Info("Flushed spans", "spans", len(records))
		return nil
	}

	if errors.Is(err, delivery.ErrNoDestination) {
		e.discard(records)
		return nil
	}

	e.buf.Restore(records)
	e.metrics.BufferSize(e.buf.Len())

	if errors.Is(err, delivery.ErrSenderClosed) {
		e.logger.Warn("Delivery substrate closed, spans restored for the final flush",
			"spans", len(records),
			"error", err,
		)
	} else {
		e.logger.Error("Failed to flush spans, restored to buffer",
			"spans", len(records),
			"buffered", e.buf.Len(),
			"error", err,
		)
	}

	return fmt.Errorf("failed to flush %d spans: %w", len(records), err)
}

// flushFinal runs the last flush cycle with synchronous delivery. A failure is
// terminal: spans are not restored and their keys stay tracked.
func (e *Exporter) flushFinal(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	records := e.drain()
	if len(records) == 0 {
		e.logger.Debug("No spans to flush at shutdown")
		return nil
	}

	if !e.sender.HasDestination() {
		e.discard(records)
		return nil
	}

	e.logger.Info("Sending remaining spans", "spans", len(records))

	start := e.clock.Now()
	err := e.sender.SendSync(ctx, records)
	e.metrics.FlushCompleted(ModeShutdown, len(records), e.clock.Since(start), err)

	if err == nil {
		e.buf.ReleaseKeys(records)
		e.logger.Info("Sent remaining spans", "spans", len(records))
		return nil
	}

	if errors.Is(err, delivery.ErrNoDestination) {
		e.discard(records)
		return nil
	}

	e.logger.Error("Failed to send spans at shutdown, abandoning them",
		"spans", len(records),
		"error", err,
	)
	e.metrics.SpansDropped(DropShutdown, len(records))
	e.writeDeadLetter(records)

	return fmt.Errorf("failed to send %d spans at shutdown: %w", len(records), err)
}

func (e *Exporter) drain() []span.Record {
	records := e.buf.Drain()
	if len(records) > 0 {
		e.metrics.BufferSize(e.buf.Len())
	}
	return records
}

// discard drops records when no destination is configured. Keys are released
// so the same spans are accepted again later.
func (e *Exporter) discard(records []span.Record) {
	e.logger.Warn("Server URL is not set, discarding spans", "spans", len(records))
	e.buf.ReleaseKeys(records)
	e.metrics.SpansDropped(DropNoDestination, len(records))
}

func (e *Exporter) writeDeadLetter(records []span.Record) {
	if e.deadLetter == nil {
		return
	}

	path, err := e.deadLetter.WriteRecords(records)
	if err != nil {
		e.logger.Error("Failed to write dead-letter file",
			"spans", len(records),
			"error", err,
		)
		return
	}
	if path == "" {
		return
	}

	e.logger.Warn("Wrote undelivered spans to dead-letter file",
		"spans", len(records),
		"path", path,
	)
}
