package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	logx "remindbot/pkg/logx"
)

// keepSpans survives provider shutdown so the test can read what was flushed.
type keepSpans struct{ *tracetest.InMemoryExporter }

func (keepSpans) Shutdown(context.Context) error { return nil }

func TestSetupExportsSpansOnShutdown(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	ctx := context.Background()

	exp := keepSpans{tracetest.NewInMemoryExporter()}
	p, err := Setup(ctx, Config{Enabled: true, ServiceName: "remindbot-test"}, logx.Nop(), WithExporter(exp))
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := otel.Tracer("test").Start(ctx, "work")
	span.End()
	require.NoError(t, p.Shutdown(ctx))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "work", spans[0].Name)
}

func TestSetupDisabledIsNoop(t *testing.T) {
	t.Parallel()
	p, err := Setup(context.Background(), Config{}, logx.Nop())
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NoError(t, p.Shutdown(context.Background()))

	var zero *Provider
	require.NoError(t, zero.Shutdown(context.Background()))
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	t.Parallel()
	_, err := Setup(context.Background(), Config{Enabled: true, Exporter: "zipkin"}, logx.Nop())
	require.ErrorContains(t, err, "unknown exporter")
}
