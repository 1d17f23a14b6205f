// Package config holds the conduit configuration: defaults, an optional YAML
// file, AIQA_* environment overrides and validation.
package config

import (
	"time"

	"github.com/JSGette/span_conduit/internal/batch"
	"github.com/JSGette/span_conduit/internal/delivery"
	"github.com/JSGette/span_conduit/internal/exporter"
	"github.com/JSGette/span_conduit/internal/receiver"
	"github.com/JSGette/span_conduit/internal/span"
)

// Default values for configuration fields.
const (
	DefaultSamplingRate    = 1.0
	DefaultReceiverAddress = "localhost:4317"
	DefaultMetricsAddress  = "localhost:9464"
)

// Config is the complete conduit configuration.
type Config struct {
	// ServerURL is the collector base URL; spans are POSTed to <ServerURL>/span.
	// Empty disables delivery and buffered spans are discarded.
	ServerURL string `yaml:"server_url"`
	APIKey    string `yaml:"api_key"`

	FlushInterval     time.Duration `yaml:"flush_interval"`
	MaxBatchSizeBytes int           `yaml:"max_batch_size_bytes"`
	MaxBufferSpans    int           `yaml:"max_buffer_spans"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	SyncTimeout       time.Duration `yaml:"sync_timeout"`
	AsyncTimeout      time.Duration `yaml:"async_timeout"`

	// ComponentTag is set as the "component" attribute on every span started
	// through the conduit's own tracer provider.
	ComponentTag string  `yaml:"component_tag"`
	SamplingRate float64 `yaml:"sampling_rate"`

	DataFilters   []string `yaml:"data_filters"`
	DeadLetterDir string   `yaml:"dead_letter_dir"`

	Receiver ReceiverConfig `yaml:"receiver"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ReceiverConfig configures the OTLP/gRPC receiver.
type ReceiverConfig struct {
	Address      string `yaml:"address"`
	MaxRecvBytes int    `yaml:"max_recv_bytes"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	cfg := &Config{
		SamplingRate: DefaultSamplingRate,
		DataFilters:  append([]string(nil), span.DefaultFilters...),
		Metrics:      MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Fields where zero is meaningful
// (MaxBufferSpans, SamplingRate, DataFilters) are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = exporter.DefaultFlushInterval
	}
	if cfg.MaxBatchSizeBytes == 0 {
		cfg.MaxBatchSizeBytes = batch.DefaultMaxBytes
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = exporter.DefaultShutdownTimeout
	}
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = delivery.DefaultSyncTimeout
	}
	if cfg.AsyncTimeout == 0 {
		cfg.AsyncTimeout = delivery.DefaultAsyncTimeout
	}
	if cfg.Receiver.Address == "" {
		cfg.Receiver.Address = DefaultReceiverAddress
	}
	if cfg.Receiver.MaxRecvBytes == 0 {
		cfg.Receiver.MaxRecvBytes = receiver.DefaultMaxRecvBytes
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}
}

// SenderConfig returns the delivery settings.
func (c *Config) SenderConfig() delivery.Config {
	return delivery.Config{
		ServerURL:     c.ServerURL,
		APIKey:        c.APIKey,
		MaxBatchBytes: c.MaxBatchSizeBytes,
		SyncTimeout:   c.SyncTimeout,
		AsyncTimeout:  c.AsyncTimeout,
	}
}

// ExporterConfig returns the buffering and scheduling settings.
func (c *Config) ExporterConfig(libraryVersion string) exporter.Config {
	return exporter.Config{
		FlushInterval:   c.FlushInterval,
		ShutdownTimeout: c.ShutdownTimeout,
		MaxBufferSpans:  c.MaxBufferSpans,
		Span:            c.SpanOptions(libraryVersion),
	}
}

// SpanOptions returns the conversion settings shared by the SDK exporter and
// the receiver.
func (c *Config) SpanOptions(libraryVersion string) span.Options {
	return span.Options{
		Filters:        span.NewFilters(c.DataFilters),
		LibraryName:    span.DefaultLibraryName,
		LibraryVersion: libraryVersion,
	}
}
