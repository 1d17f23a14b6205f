// Package receiver implements the OTLP/gRPC trace service and feeds received
// spans into the exporter.
package receiver

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/JSGette/span_conduit/internal/span"
)

// Sink accepts converted records. *exporter.Exporter implements it.
type Sink interface {
	Enqueue(records []span.Record) int
}

// Service implements the OTLP TraceService Export RPC
type Service struct {
	collectortrace.UnimplementedTraceServiceServer

	sink   Sink
	opts   span.Options
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTracer traces every Export call with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// NewService creates a new trace service instance
func NewService(sink Sink, opts span.Options, logger *slog.Logger, options ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Initializing OTLP trace service")

	s := &Service{
		sink:   sink,
		opts:   opts,
		tracer: noop.NewTracerProvider().Tracer(""),
		logger: logger.With("component", "receiver"),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Export converts the request's spans and buffers them. Spans with malformed
// ids are rejected through a partial success; delivery errors are never
// reported back to the client.
func (s *Service) Export(
	ctx context.Context,
	req *collectortrace.ExportTraceServiceRequest,
) (*collectortrace.ExportTraceServiceResponse, error) {

	if req == nil {
		return nil, status.Error(grpccodes.InvalidArgument, "request is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	_, traceSpan := s.tracer.Start(ctx, "otlp.Export", trace.WithSpanKind(trace.SpanKindServer))
	defer traceSpan.End()

	records := span.FromResourceSpans(req.GetResourceSpans(), s.opts)

	valid := records[:0]
	var rejected int64
	var firstErr error
	for i := range records {
		if err := records[i].Validate(); err != nil {
			rejected++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		valid = append(valid, records[i])
	}

	added := s.sink.Enqueue(valid)

	s.logger.Debug("Received spans",
		"resource_spans", len(req.GetResourceSpans()),
		"spans", len(records),
		"added", added,
		"rejected", rejected,
		"request_bytes", proto.Size(req),
	)

	traceSpan.SetAttributes(
		attribute.Int("conduit.spans.received", len(records)),
		attribute.Int("conduit.spans.added", added),
		attribute.Int64("conduit.spans.rejected", rejected),
	)

	resp := &collectortrace.ExportTraceServiceResponse{}
	if rejected > 0 {
		traceSpan.SetStatus(codes.Error, "invalid span ids")
		s.logger.Warn("Rejected spans with invalid ids",
			"rejected", rejected,
			"error", firstErr,
		)
		resp.PartialSuccess = &collectortrace.ExportTracePartialSuccess{
			RejectedSpans: rejected,
			ErrorMessage:  fmt.Sprintf("rejected %d spans: %v", rejected, firstErr),
		}
	}

	return resp, nil
}
