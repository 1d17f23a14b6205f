package span

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultLibraryName is reported when a span carries no instrumentation scope name.
const DefaultLibraryName = "span-conduit"

// Options controls how spans are converted into records.
type Options struct {
	// Filters redacts sensitive attribute values.
	Filters Filters

	// LibraryName and LibraryVersion fill instrumentationLibrary when the span's
	// own scope is empty.
	LibraryName    string
	LibraryVersion string
}

// FromReadOnlySpan converts a finished OpenTelemetry SDK span into a Record.
func FromReadOnlySpan(s sdktrace.ReadOnlySpan, opts Options) Record {
	sc := s.SpanContext()

	record := Record{
		Name:       s.Name(),
		Kind:       int(s.SpanKind()),
		Status:     convertStatus(s.Status()),
		Attributes: opts.attributeMap(s.Attributes()),
		Links:      make([]Link, 0, len(s.Links())),
		Events:     make([]Event, 0, len(s.Events())),
		Resource:   Resource{Attributes: opts.resourceMap(s.Resource())},
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		TraceFlags: int(sc.TraceFlags()),
		InstrumentationLibrary: opts.library(
			s.InstrumentationScope().Name,
			s.InstrumentationScope().Version,
		),
	}

	if s.Parent().HasSpanID() {
		record.ParentSpanID = s.Parent().SpanID().String()
	}

	record.SetTiming(s.StartTime(), s.EndTime())

	for _, link := range s.Links() {
		record.Links = append(record.Links, Link{
			Context: LinkContext{
				TraceID: link.SpanContext.TraceID().String(),
				SpanID:  link.SpanContext.SpanID().String(),
			},
			Attributes: opts.attributeMap(link.Attributes),
		})
	}

	for _, event := range s.Events() {
		record.Events = append(record.Events, Event{
			Name:       event.Name,
			Time:       NewHrTime(event.Time),
			Attributes: opts.attributeMap(event.Attributes),
		})
	}

	return record
}

// FromReadOnlySpans converts a slice of SDK spans, preserving order.
func FromReadOnlySpans(spans []sdktrace.ReadOnlySpan, opts Options) []Record {
	records := make([]Record, 0, len(spans))
	for _, s := range spans {
		records = append(records, FromReadOnlySpan(s, opts))
	}
	return records
}

func (o Options) attributeMap(attrs []attribute.KeyValue) map[string]any {
	result := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		key := string(kv.Key)
		result[key] = o.Filters.Apply(key, SerializeValue(kv.Value))
	}
	return result
}

func (o Options) resourceMap(res *resource.Resource) map[string]any {
	if res == nil {
		return map[string]any{}
	}
	return o.attributeMap(res.Attributes())
}

func (o Options) library(name, version string) InstrumentationLibrary {
	if name == "" {
		name = o.LibraryName
		version = o.LibraryVersion
	}
	if name == "" {
		name = DefaultLibraryName
	}
	return InstrumentationLibrary{Name: name, Version: version}
}

// convertStatus maps SDK status codes onto OTLP numbering.
// Go OTel codes: 0 = Unset, 1 = Error, 2 = Ok
// OTLP codes: 0 = Unset, 1 = Ok, 2 = Error
func convertStatus(status sdktrace.Status) Status {
	code := StatusUnset
	switch status.Code {
	case codes.Error:
		code = StatusError
	case codes.Ok:
		code = StatusOK
	}

	return Status{
		Code:    code,
		Message: status.Description,
	}
}
