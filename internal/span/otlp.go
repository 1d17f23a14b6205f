package span

import (
	"encoding/hex"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// FromResourceSpans flattens an OTLP export payload into records, in payload order.
func FromResourceSpans(resourceSpans []*tracepb.ResourceSpans, opts Options) []Record {
	var records []Record
	for _, rs := range resourceSpans {
		for _, ss := range rs.GetScopeSpans() {
			for _, s := range ss.GetSpans() {
				records = append(records, FromOTLP(rs.GetResource(), ss.GetScope(), s, opts))
			}
		}
	}
	return records
}

// FromOTLP converts one OTLP protobuf span into a Record.
func FromOTLP(res *resourcepb.Resource, scope *commonpb.InstrumentationScope, s *tracepb.Span, opts Options) Record {
	record := Record{
		Name: s.GetName(),
		Kind: int(s.GetKind()),
		Status: Status{
			Code:    int(s.GetStatus().GetCode()),
			Message: s.GetStatus().GetMessage(),
		},
		Attributes:             opts.keyValueMap(s.GetAttributes()),
		Links:                  make([]Link, 0, len(s.GetLinks())),
		Events:                 make([]Event, 0, len(s.GetEvents())),
		Resource:               Resource{Attributes: opts.keyValueMap(res.GetAttributes())},
		TraceID:                hex.EncodeToString(s.GetTraceId()),
		SpanID:                 hex.EncodeToString(s.GetSpanId()),
		TraceFlags:             int(s.GetFlags() & 0xff),
		InstrumentationLibrary: opts.library(scope.GetName(), scope.GetVersion()),
	}

	if parent := s.GetParentSpanId(); len(parent) > 0 && !allZero(parent) {
		record.ParentSpanID = hex.EncodeToString(parent)
	}

	var end time.Time
	if s.GetEndTimeUnixNano() != 0 {
		end = unixNano(s.GetEndTimeUnixNano())
	}
	record.SetTiming(unixNano(s.GetStartTimeUnixNano()), end)

	for _, link := range s.GetLinks() {
		record.Links = append(record.Links, Link{
			Context: LinkContext{
				TraceID: hex.EncodeToString(link.GetTraceId()),
				SpanID:  hex.EncodeToString(link.GetSpanId()),
			},
			Attributes: opts.keyValueMap(link.GetAttributes()),
		})
	}

	for _, event := range s.GetEvents() {
		record.Events = append(record.Events, Event{
			Name:       event.GetName(),
			Time:       NewHrTime(unixNano(event.GetTimeUnixNano())),
			Attributes: opts.keyValueMap(event.GetAttributes()),
		})
	}

	return record
}

func (o Options) keyValueMap(attrs []*commonpb.KeyValue) map[string]any {
	result := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		result[kv.GetKey()] = o.Filters.Apply(kv.GetKey(), Serialize(anyValue(kv.GetValue())))
	}
	return result
}

// anyValue unwraps an OTLP AnyValue into plain Go values.
func anyValue(v *commonpb.AnyValue) any {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return val.BoolValue
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return val.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		values := val.ArrayValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = anyValue(item)
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		values := val.KvlistValue.GetValues()
		out := make(map[string]any, len(values))
		for _, kv := range values {
			out[kv.GetKey()] = anyValue(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}

func unixNano(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
