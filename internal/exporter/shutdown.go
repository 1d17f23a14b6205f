package exporter

import (
	"context"
)

// Shutdown stops the auto-flush loop and sends whatever is still buffered with
// blocking requests. It waits for the loop at most ShutdownTimeout or until ctx
// is done. Calling it again performs an empty final flush.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.shutdownRequested.Store(true)
	e.stopOnce.Do(func() { close(e.stop) })

	e.logger.Info("Shutting down exporter", "buffered", e.buf.Len())

	e.waitForLoop(ctx)
	e.sender.CloseAsync()

	err := e.flushFinal(ctx)

	if remaining := e.buf.Len(); remaining > 0 {
		e.logger.Warn("Buffer not empty after shutdown", "buffered", remaining)
	} else {
		e.logger.Info("Exporter shut down", "buffered", 0)
	}

	return err
}

func (e *Exporter) waitForLoop(ctx context.Context) {
	e.lifecycleMu.Lock()
	done := e.loopDone
	e.lifecycleMu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("Context done before auto-flush stopped", "error", ctx.Err())
	case <-e.clock.After(e.cfg.ShutdownTimeout):
		e.logger.Warn("Auto-flush did not stop in time", "timeout", e.cfg.ShutdownTimeout)
	}
}
