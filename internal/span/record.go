// Package span defines the SpanRecord model shipped to the collector and the
// conversions that produce it.
package span

import (
	"time"
)

// HrTime is a [seconds, nanoseconds] pair, the wire format for timestamps and durations.
type HrTime [2]int64

// NewHrTime converts a wall-clock time to an HrTime relative to the Unix epoch.
func NewHrTime(t time.Time) HrTime {
	return HrTime{t.Unix(), int64(t.Nanosecond())}
}

// HrDuration converts a duration to an HrTime pair.
func HrDuration(d time.Duration) HrTime {
	return HrTime{int64(d / time.Second), int64(d % time.Second)}
}

// Time returns the HrTime as a time.Time.
func (h HrTime) Time() time.Time {
	return time.Unix(h[0], h[1])
}

// Status codes, OTLP numbering.
const (
	StatusUnset = 0
	StatusOK    = 1
	StatusError = 2
)

// Status is the completion status of a span.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// LinkContext identifies the span a link points to.
type LinkContext struct {
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// Link is a reference from one span to another.
type Link struct {
	Context    LinkContext    `json:"context"`
	Attributes map[string]any `json:"attributes"`
}

// Event is a timestamped annotation within a span.
type Event struct {
	Name       string         `json:"name"`
	Time       HrTime         `json:"time"`
	Attributes map[string]any `json:"attributes"`
}

// Resource carries the attributes of the entity that produced the span.
type Resource struct {
	Attributes map[string]any `json:"attributes"`
}

// InstrumentationLibrary names the tracer that created the span.
type InstrumentationLibrary struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Record is one finished span in the shape the collector expects.
// Records are not modified after construction.
type Record struct {
	Name                   string                 `json:"name"`
	Kind                   int                    `json:"kind"`
	ParentSpanID           string                 `json:"parentSpanId,omitempty"`
	StartTime              HrTime                 `json:"startTime"`
	EndTime                *HrTime                `json:"endTime"`
	Status                 Status                 `json:"status"`
	Attributes             map[string]any         `json:"attributes"`
	Links                  []Link                 `json:"links"`
	Events                 []Event                `json:"events"`
	Resource               Resource               `json:"resource"`
	TraceID                string                 `json:"traceId"`
	SpanID                 string                 `json:"spanId"`
	TraceFlags             int                    `json:"traceFlags"`
	Duration               *HrTime                `json:"duration"`
	Ended                  bool                   `json:"ended"`
	InstrumentationLibrary InstrumentationLibrary `json:"instrumentationLibrary"`
}

// Key identifies a span for deduplication.
type Key struct {
	TraceID string
	SpanID  string
}

// Key returns the (traceId, spanId) pair of the record.
func (r *Record) Key() Key {
	return Key{TraceID: r.TraceID, SpanID: r.SpanID}
}

// SetTiming fills the start, end, duration and ended fields.
// A zero end time marks the span as unterminated.
func (r *Record) SetTiming(start, end time.Time) {
	r.StartTime = NewHrTime(start)
	if end.IsZero() {
		r.EndTime = nil
		r.Duration = nil
		r.Ended = false
		return
	}

	endTime := NewHrTime(end)
	duration := HrDuration(end.Sub(start))
	r.EndTime = &endTime
	r.Duration = &duration
	r.Ended = true
}

// Keys returns the keys of the given records in order.
func Keys(records []Record) []Key {
	keys := make([]Key, len(records))
	for i := range records {
		keys[i] = records[i].Key()
	}
	return keys
}
