package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/class-reports/internal/config"
)

// Init mutates otel globals, so these tests do not run in parallel.

func TestInitWithoutExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	providers, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "class-reports-test"}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))
}

func TestInitWithOTLPEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	providers, err := Init(context.Background(), config.TelemetryConfig{
		ServiceName:  "class-reports-test",
		OTLPEndpoint: "http://127.0.0.1:4318",
	}, reg)
	require.NoError(t, err)
	require.NotNil(t, providers.Tracer)
	require.NotNil(t, providers.Meter)
	// Export to the unreachable collector may fail; only shutdown ordering matters here.
	_ = providers.Shutdown(context.Background())
}

func TestNilProvidersShutdown(t *testing.T) {
	var p *Providers
	require.NoError(t, p.Shutdown(context.Background()))
}
