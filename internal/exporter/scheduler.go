package exporter

import (
	"context"
)

// Start launches the auto-flush loop. It is a no-op when the loop is already
// running or shutdown has been requested.
func (e *Exporter) Start() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.started {
		return
	}
	if e.shutdownRequested.Load() {
		e.logger.Warn("Start called after shutdown, auto-flush not started")
		return
	}

	e.started = true
	e.loopDone = make(chan struct{})

	e.logger.Info("Starting auto-flush", "interval", e.cfg.FlushInterval)

	go e.run(e.loopDone)
}

// run flushes, then waits one interval, until shutdown is requested. It never
// flushes on exit; Shutdown owns the final flush.
func (e *Exporter) run(done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	cycles := 0

	for !e.shutdownRequested.Load() {
		cycles++
		if err := e.flush(ctx, ModeAuto); err != nil {
			e.logger.Error("Auto-flush cycle failed",
				"cycle", cycles,
				"error", err,
			)
		}

		select {
		case <-e.stop:
		case <-e.clock.After(e.cfg.FlushInterval):
		}
	}

	e.logger.Info("Auto-flush stopped", "cycles", cycles)
}
