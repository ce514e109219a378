// Package tracing installs the global OpenTelemetry tracer provider that the
// scheduler tick and dispatch spans report to. Disabled, the global provider
// stays the no-op one.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	logx "remindbot/pkg/logx"
)

type Config struct {
	Enabled bool

	// Exporter is "otlp" (gRPC, default) or "stdout".
	Exporter string
	Endpoint string // otlp only, host:port
	Insecure bool   // otlp only

	ServiceName string
	SampleRatio float64 // outside (0,1] means 1
}

type options struct {
	exporter sdktrace.SpanExporter
}

type Option func(*options)

// WithExporter replaces the configured exporter.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// Provider owns the installed tracer provider; the zero value is a no-op.
type Provider struct {
	tp *sdktrace.TracerProvider
}

func Setup(ctx context.Context, cfg Config, log logx.Logger, opts ...Option) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	exp := o.exporter
	if exp == nil {
		var err error
		if exp, err = newExporter(ctx, cfg); err != nil {
			return nil, err
		}
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "remindbot"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(512), sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Info("tracing enabled",
		logx.String("exporter", exporterName(cfg)),
		logx.String("endpoint", cfg.Endpoint),
		logx.Float64("sample_ratio", ratio))
	return &Provider{tp: tp}, nil
}

func exporterName(cfg Config) string {
	e := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if e == "" {
		return "otlp"
	}
	return e
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch exporterName(cfg) {
	case "otlp":
		opts := []otlptracegrpc.Option{}
		if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(ep))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p != nil && p.tp != nil }

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
