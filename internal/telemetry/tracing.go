// Package telemetry builds the tracer provider that feeds the exporter and the
// Prometheus metrics describing it.
package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ComponentKey is the span attribute carrying the component tag.
const ComponentKey = attribute.Key("component")

// TracingConfig configures the tracer provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string

	// ComponentTag is set on every started span when not empty.
	ComponentTag string

	// SamplingRate is the fraction of new traces kept, clamped to [0, 1].
	// Child spans follow their parent's decision.
	SamplingRate float64
}

// Setup creates a tracer provider that samples by trace ID ratio, tags spans
// with the component and hands finished spans to exporter through a batch
// span processor. The caller owns the returned provider and must shut it down;
// doing so also shuts down exporter.
func Setup(ctx context.Context, cfg TracingConfig, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("service.instance.id", uuid.NewString()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.SamplingRate)),
	}
	if cfg.ComponentTag != "" {
		opts = append(opts, sdktrace.WithSpanProcessor(NewComponentProcessor(cfg.ComponentTag)))
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// NewSampler returns a parent-based trace ID ratio sampler. A rate of 0 drops
// every new trace and 1 keeps every trace.
func NewSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate != rate || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// ComponentProcessor sets the component attribute on span start.
type ComponentProcessor struct {
	tag attribute.KeyValue
}

var _ sdktrace.SpanProcessor = (*ComponentProcessor)(nil)

// NewComponentProcessor creates a processor tagging spans with component.
func NewComponentProcessor(component string) *ComponentProcessor {
	return &ComponentProcessor{tag: ComponentKey.String(component)}
}

func (p *ComponentProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	s.SetAttributes(p.tag)
}

func (p *ComponentProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (p *ComponentProcessor) Shutdown(context.Context) error { return nil }

func (p *ComponentProcessor) ForceFlush(context.Context) error { return nil }
