package receiver

import (
	"context"
	"net"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/JSGette/span_conduit/internal/span"
)

type recordingSink struct {
	mu      sync.Mutex
	records []span.Record
	seen    map[span.Key]bool
}

func (s *recordingSink) Enqueue(records []span.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen == nil {
		s.seen = make(map[span.Key]bool)
	}
	added := 0
	for _, r := range records {
		if s.seen[r.Key()] {
			continue
		}
		s.seen[r.Key()] = true
		s.records = append(s.records, r)
		added++
	}
	return added
}

func traceID() []byte {
	return []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
}

func otlpSpan(name string, spanID byte) *tracepb.Span {
	return &tracepb.Span{
		TraceId:           traceID(),
		SpanId:            []byte{0, 0, 0, 0, 0, 0, 0, spanID},
		Name:              name,
		Kind:              tracepb.Span_SPAN_KIND_SERVER,
		StartTimeUnixNano: 1_700_000_000_000_000_000,
		EndTimeUnixNano:   1_700_000_001_000_000_000,
		Attributes: []*commonpb.KeyValue{
			{Key: "http.method", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "GET"}}},
		},
	}
}

func request(spans ...*tracepb.Span) *collectortrace.ExportTraceServiceRequest {
	return &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					{Key: "service.name", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "checkout"}}},
				},
			},
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{Name: "net/http", Version: "1.0.0"},
				Spans: spans,
			}},
		}},
	}
}

func dial(t *testing.T, service *Service) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	server := NewServer(service, 0, nil)

	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

// TestExportOverGRPC tests that spans sent by an OTLP client reach the sink
func TestExportOverGRPC(t *testing.T) {
	sink := &recordingSink{}
	conn := dial(t, NewService(sink, span.Options{}, nil))

	client := collectortrace.NewTraceServiceClient(conn)
	resp, err := client.Export(context.Background(), request(otlpSpan("GET /cart", 1), otlpSpan("db.query", 2)))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if resp.GetPartialSuccess().GetRejectedSpans() != 0 {
		t.Errorf("expected no rejected spans, got %d", resp.GetPartialSuccess().GetRejectedSpans())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(sink.records))
	}
	r := sink.records[0]
	if r.Name != "GET /cart" {
		t.Errorf("expected name GET /cart, got %q", r.Name)
	}
	if r.TraceID != "0102030405060708090a0b0c0d0e0f10" {
		t.Errorf("unexpected trace id %s", r.TraceID)
	}
	if r.Resource.Attributes["service.name"] != "checkout" {
		t.Errorf("expected resource attribute, got %v", r.Resource.Attributes)
	}
	if r.InstrumentationLibrary.Name != "net/http" {
		t.Errorf("expected scope name net/http, got %q", r.InstrumentationLibrary.Name)
	}
}

// TestExportDuplicateSpans tests that a resent span is accepted but not buffered twice
func TestExportDuplicateSpans(t *testing.T) {
	sink := &recordingSink{}
	conn := dial(t, NewService(sink, span.Options{}, nil))
	client := collectortrace.NewTraceServiceClient(conn)

	for i := 0; i < 2; i++ {
		if _, err := client.Export(context.Background(), request(otlpSpan("retry", 7))); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 {
		t.Errorf("expected 1 record, got %d", len(sink.records))
	}
}

// TestExportRejectsInvalidIDs tests partial success for malformed spans
func TestExportRejectsInvalidIDs(t *testing.T) {
	sink := &recordingSink{}
	service := NewService(sink, span.Options{}, nil)

	bad := otlpSpan("bad", 0)
	bad.SpanId = []byte{1, 2}

	resp, err := service.Export(context.Background(), request(otlpSpan("good", 1), bad))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if resp.GetPartialSuccess().GetRejectedSpans() != 1 {
		t.Errorf("expected 1 rejected span, got %d", resp.GetPartialSuccess().GetRejectedSpans())
	}
	if resp.GetPartialSuccess().GetErrorMessage() == "" {
		t.Error("expected an error message")
	}
	if len(sink.records) != 1 || sink.records[0].Name != "good" {
		t.Errorf("expected only the valid span, got %+v", sink.records)
	}
}

// TestExportEmptyRequest tests that an empty request succeeds
func TestExportEmptyRequest(t *testing.T) {
	sink := &recordingSink{}
	service := NewService(sink, span.Options{}, nil)

	resp, err := service.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if resp.GetPartialSuccess() != nil {
		t.Errorf("expected no partial success, got %v", resp.GetPartialSuccess())
	}
}

// TestHealthService tests that the receiver reports itself as serving
func TestHealthService(t *testing.T) {
	conn := dial(t, NewService(&recordingSink{}, span.Options{}, nil))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{
		Service: collectortrace.TraceService_ServiceDesc.ServiceName,
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.GetStatus())
	}
}

// TestExportIsTraced tests that each Export call produces a server span
func TestExportIsTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	sink := &recordingSink{}
	service := NewService(sink, span.Options{}, nil, WithTracer(tp.Tracer("receiver")))

	if _, err := service.Export(context.Background(), request(otlpSpan("a", 1), otlpSpan("b", 2))); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "otlp.Export" {
		t.Errorf("expected otlp.Export, got %q", ended[0].Name())
	}

	attrs := map[string]int64{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	if attrs["conduit.spans.received"] != 2 || attrs["conduit.spans.added"] != 2 {
		t.Errorf("unexpected attributes %v", attrs)
	}
}
