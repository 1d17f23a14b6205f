package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JSGette/span_conduit/internal/span"
)

// Environment variables read by ApplyEnv.
const (
	EnvServerURL      = "AIQA_SERVER_URL"
	EnvAPIKey         = "AIQA_API_KEY"
	EnvFlushInterval  = "AIQA_FLUSH_INTERVAL_SECONDS"
	EnvMaxBatchSize   = "AIQA_MAX_BATCH_SIZE_BYTES"
	EnvMaxBufferSpans = "AIQA_MAX_BUFFER_SPANS"
	EnvComponentTag   = "AIQA_COMPONENT_TAG"
	EnvSamplingRate   = "AIQA_SAMPLING_RATE"
	EnvDataFilters    = "AIQA_DATA_FILTERS"
	EnvDeadLetterDir  = "AIQA_DEAD_LETTER_DIR"
)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
		ApplyDefaults(cfg)
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from the environment. Unparseable numeric values are
// ignored, except the sampling rate which falls back to 1.0.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if val, ok := lookup(EnvServerURL); ok {
		cfg.ServerURL = strings.TrimRight(strings.TrimSpace(val), "/")
	}
	if val, ok := lookup(EnvAPIKey); ok {
		cfg.APIKey = strings.TrimSpace(val)
	}
	if val, ok := lookup(EnvFlushInterval); ok {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && secs > 0 {
			cfg.FlushInterval = time.Duration(secs * float64(time.Second))
		}
	}
	if val, ok := lookup(EnvMaxBatchSize); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n > 0 {
			cfg.MaxBatchSizeBytes = n
		}
	}
	if val, ok := lookup(EnvMaxBufferSpans); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n >= 0 {
			cfg.MaxBufferSpans = n
		}
	}
	if val, ok := lookup(EnvComponentTag); ok {
		cfg.ComponentTag = strings.TrimSpace(val)
	}
	if val, ok := lookup(EnvSamplingRate); ok {
		cfg.SamplingRate = ParseSamplingRate(val)
	}
	if val, ok := lookup(EnvDataFilters); ok {
		cfg.DataFilters = span.ParseFilters(val)
	}
	if val, ok := lookup(EnvDeadLetterDir); ok {
		cfg.DeadLetterDir = strings.TrimSpace(val)
	}
}

// ParseSamplingRate parses a rate and clamps it to [0, 1]. Anything that is
// not a number yields 1.0.
func ParseSamplingRate(val string) float64 {
	rate, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil || rate != rate {
		return DefaultSamplingRate
	}
	return ClampSamplingRate(rate)
}

// ClampSamplingRate limits rate to [0, 1].
func ClampSamplingRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
