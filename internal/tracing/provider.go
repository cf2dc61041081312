// Package tracing wires the engine's canonical run events into
// OpenTelemetry spans and Prometheus metrics. Tracing is opt-in via the
// CASCADE_TRACE environment variable; the engine core stays unaware of the
// export path.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceEnvVar selects the span export path: unset, "0", or "false" disables
// tracing; "stdout" prints spans; any other value exports OTLP over HTTP
// (endpoint from the standard OTEL_EXPORTER_OTLP_* variables).
const TraceEnvVar = "CASCADE_TRACE"

const (
	serviceName = "cascade"
	tracerName  = "github.com/cascade-run/cascade"
)

// Provider owns the tracer and meter providers plus the Prometheus
// registry behind the metrics handler.
type Provider struct {
	tp      *sdktrace.TracerProvider
	mp      *sdkmetric.MeterProvider
	metrics *Metrics
	enabled bool
}

// NewProviderFromEnv builds a provider according to CASCADE_TRACE. With
// tracing disabled the provider still serves metrics; spans become no-ops.
func NewProviderFromEnv(ctx context.Context, version string) (*Provider, error) {
	mode := strings.ToLower(os.Getenv(TraceEnvVar))
	return NewProvider(ctx, version, mode)
}

// NewProvider builds a provider for an explicit export mode.
func NewProvider(ctx context.Context, version, mode string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}
	switch mode {
	case "", "0", "false":
		// Tracing stays off; metrics still export.
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
		)
		p.enabled = true
	default:
		exporter, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
		)
		p.enabled = true
	}
	if p.tp != nil {
		otel.SetTracerProvider(p.tp)
	}

	prom, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(prom),
	)
	p.metrics, err = NewMetrics(p.mp)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Enabled reports whether spans are being exported.
func (p *Provider) Enabled() bool { return p.enabled }

// Tracer returns the engine tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tp == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return p.tp.Tracer(tracerName)
}

// Metrics returns the run/step metric instruments.
func (p *Provider) Metrics() *Metrics { return p.metrics }

// MetricsHandler serves the Prometheus scrape endpoint.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tp != nil {
		firstErr = p.tp.Shutdown(ctx)
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
