package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/JSGette/span_conduit/internal/span"
)

// FieldError is a validation failure for one configuration field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found by Validate.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
// An empty server URL is valid: spans are then discarded with a warning.
func Validate(cfg *Config) error {
	var errs []FieldError

	if cfg.ServerURL != "" {
		u, err := url.Parse(cfg.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{"server_url", fmt.Sprintf("must be an http(s) URL, got %q", cfg.ServerURL)})
		}
	}

	if cfg.FlushInterval <= 0 {
		errs = append(errs, FieldError{"flush_interval", "must be positive"})
	}
	if cfg.MaxBatchSizeBytes <= 0 {
		errs = append(errs, FieldError{"max_batch_size_bytes", "must be positive"})
	}
	if cfg.MaxBufferSpans < 0 {
		errs = append(errs, FieldError{"max_buffer_spans", "must not be negative"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{"shutdown_timeout", "must be positive"})
	}
	if cfg.SyncTimeout <= 0 {
		errs = append(errs, FieldError{"sync_timeout", "must be positive"})
	}
	if cfg.AsyncTimeout <= 0 {
		errs = append(errs, FieldError{"async_timeout", "must be positive"})
	}
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		errs = append(errs, FieldError{"sampling_rate", fmt.Sprintf("must be within [0, 1], got %v", cfg.SamplingRate)})
	}

	for _, name := range cfg.DataFilters {
		switch name {
		case span.FilterPasswords, span.FilterJWT, span.FilterAuthHeaders, span.FilterAPIKeys:
		default:
			errs = append(errs, FieldError{"data_filters", fmt.Sprintf("unknown filter %q", name)})
		}
	}

	if _, _, err := net.SplitHostPort(cfg.Receiver.Address); err != nil {
		errs = append(errs, FieldError{"receiver.address", err.Error()})
	}
	if cfg.Receiver.MaxRecvBytes <= 0 {
		errs = append(errs, FieldError{"receiver.max_recv_bytes", "must be positive"})
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Address); err != nil {
			errs = append(errs, FieldError{"metrics.address", err.Error()})
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
