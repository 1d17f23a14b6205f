package span

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Validate checks that the record carries a 32-hex-digit trace ID, a 16-hex-digit
// span ID and, when present, a 16-hex-digit parent span ID.
func (r *Record) Validate() error {
	if _, err := trace.TraceIDFromHex(r.TraceID); err != nil {
		return fmt.Errorf("invalid trace id %q: %w", r.TraceID, err)
	}
	if _, err := trace.SpanIDFromHex(r.SpanID); err != nil {
		return fmt.Errorf("invalid span id %q: %w", r.SpanID, err)
	}
	if r.ParentSpanID != "" {
		if _, err := trace.SpanIDFromHex(r.ParentSpanID); err != nil {
			return fmt.Errorf("invalid parent span id %q: %w", r.ParentSpanID, err)
		}
	}
	return nil
}
