// Package main is the entry point for the Span Conduit service
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/JSGette/span_conduit/internal/config"
	"github.com/JSGette/span_conduit/internal/delivery"
	"github.com/JSGette/span_conduit/internal/exporter"
	"github.com/JSGette/span_conduit/internal/receiver"
	"github.com/JSGette/span_conduit/internal/telemetry"
	"github.com/JSGette/span_conduit/internal/writer"
)

const version = "0.1.0-dev"

var (
	configPath       = pflag.StringP("config", "c", "", "Path to a YAML configuration file")
	serverURL        = pflag.String("server-url", "", "Collector base URL; spans are POSTed to <url>/span")
	apiKey           = pflag.String("api-key", "", "API key sent as 'Authorization: ApiKey <key>'")
	address          = pflag.String("address", config.DefaultReceiverAddress, "Address for the OTLP/gRPC receiver")
	metricsAddress   = pflag.String("metrics-address", config.DefaultMetricsAddress, "Address for /metrics and health endpoints")
	disableMetrics   = pflag.Bool("disable-metrics", false, "Do not serve /metrics and health endpoints")
	flushInterval    = pflag.Duration("flush-interval", exporter.DefaultFlushInterval, "Interval between automatic flushes")
	deadLetterDir    = pflag.String("dead-letter-dir", "", "Directory for spans that could not be delivered at shutdown")
	replayDeadLetter = pflag.Bool("replay-dead-letter", false, "Re-enqueue dead-letter files found at startup")
	logJSON          = pflag.Bool("log-json", false, "Log in JSON format")
	logLevel         = pflag.String("log-level", "info", "Log level: debug, info, warn or error")
)

func main() {
	pflag.Parse()

	logger := newLogger(*logJSON, *logLevel)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Conduit failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger.Info("Starting Span Conduit",
		"version", version,
		"receiver_address", cfg.Receiver.Address,
		"server_url", cfg.ServerURL,
		"flush_interval", cfg.FlushInterval,
		"sampling_rate", cfg.SamplingRate,
		"metrics", cfg.Metrics.Enabled,
	)
	if cfg.ServerURL == "" {
		logger.Warn("Server URL is not set, received spans will be discarded")
	}

	var (
		metrics  *telemetry.Metrics
		observer delivery.Observer
		expOpts  []exporter.Option
	)
	if cfg.Metrics.Enabled {
		metrics = telemetry.NewMetrics(nil)
		observer = metrics
		expOpts = append(expOpts, exporter.WithMetrics(metrics))
	}

	deadLetter, err := writer.NewDeadLetterWriter(writer.Config{
		OutputDir: cfg.DeadLetterDir,
		Enabled:   cfg.DeadLetterDir != "",
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create dead-letter writer: %w", err)
	}
	if deadLetter != nil {
		expOpts = append(expOpts, exporter.WithDeadLetter(deadLetter))
	}

	sender := delivery.NewSender(cfg.SenderConfig(), observer, logger)
	exp := exporter.New(cfg.ExporterConfig(version), sender, logger, expOpts...)

	if *replayDeadLetter && cfg.DeadLetterDir != "" {
		replay(cfg.DeadLetterDir, exp, logger)
	}

	ctx := context.Background()

	tp, err := telemetry.Setup(ctx, telemetry.TracingConfig{
		ServiceName:    "span-conduit",
		ServiceVersion: version,
		ComponentTag:   cfg.ComponentTag,
		SamplingRate:   cfg.SamplingRate,
	}, exp)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tp)

	service := receiver.NewService(exp, cfg.SpanOptions(version), logger,
		receiver.WithTracer(tp.Tracer("span_conduit/receiver")),
	)
	grpcServer := receiver.NewServer(service, cfg.Receiver.MaxRecvBytes, logger)

	listener, err := net.Listen("tcp", cfg.Receiver.Address)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("failed to listen on %s: %w", cfg.Receiver.Address, err)
	}

	serverErrors := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("receiver: %w", err)
		}
	}()

	var httpServer *http.Server
	if metrics != nil {
		httpServer = newHTTPServer(cfg.Metrics.Address, metrics, exp)
		go func() {
			logger.Info("Metrics listening", "address", cfg.Metrics.Address)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	exp.Start()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErrors:
		logger.Error("Server error", "error", runErr)
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())
	}

	logger.Info("Shutting down gracefully...")

	// Stop accepting spans before the final flush
	grpcServer.Stop()

	// The provider flushes its own spans into the exporter, then shuts the exporter down.
	// No overall deadline: the loop wait is bounded by ShutdownTimeout and every
	// final batch by SyncTimeout.
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("Exporter shutdown failed", "error", err)
	}

	if httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(httpCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Shutdown complete")

	return runErr
}

// applyFlags overrides file and environment values with explicitly set flags.
func applyFlags(cfg *config.Config) {
	if pflag.CommandLine.Changed("server-url") {
		cfg.ServerURL = strings.TrimRight(*serverURL, "/")
	}
	if pflag.CommandLine.Changed("api-key") {
		cfg.APIKey = *apiKey
	}
	if pflag.CommandLine.Changed("address") {
		cfg.Receiver.Address = *address
	}
	if pflag.CommandLine.Changed("metrics-address") {
		cfg.Metrics.Address = *metricsAddress
	}
	if *disableMetrics {
		cfg.Metrics.Enabled = false
	}
	if pflag.CommandLine.Changed("flush-interval") {
		cfg.FlushInterval = *flushInterval
	}
	if pflag.CommandLine.Changed("dead-letter-dir") {
		cfg.DeadLetterDir = *deadLetterDir
	}
}

func newLogger(jsonFormat bool, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newHTTPServer(addr string, metrics *telemetry.Metrics, exp *exporter.Exporter) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "buffered=%d tracked=%d\n", exp.Len(), exp.Tracked())
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// replay re-enqueues spans left behind by a previous run.
func replay(dir string, exp *exporter.Exporter, logger *slog.Logger) {
	files, err := writer.Pending(dir)
	if err != nil {
		logger.Error("Failed to list dead-letter files", "error", err, "dir", dir)
		return
	}

	for _, path := range files {
		records, err := writer.ReadRecords(path)
		if err != nil {
			logger.Error("Failed to read dead-letter file", "error", err, "file", path)
			continue
		}

		added := exp.Enqueue(records)
		if err := writer.MarkReplayed(path); err != nil {
			logger.Warn("Failed to mark dead-letter file replayed", "error", err)
		}

		logger.Info("Replayed dead-letter file",
			"file", path,
			"spans", len(records),
			"added", added,
		)
	}
}
