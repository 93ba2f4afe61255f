// Package observability provides OpenTelemetry trace export over OTLP HTTP.
//
// Spans are delivered to a local collector endpoint (an OTel Collector or a
// vendor agent listening on OTLP HTTP, default localhost:4318). Export setup
// is best-effort: if the exporter cannot be created the process runs with
// tracing disabled rather than failing startup.
//
// Configuration (~/.copilot/config.yaml):
//
//	otel:
//	  enabled: true
//	  endpoint: "localhost:4318"
//	  environment: "dev"
//	  service_name: "copilot"
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/koopa0/copilot/internal/config"
)

// DefaultEndpoint is the default OTLP HTTP endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP HTTP exporter with Genkit's TracerProvider and
// returns a shutdown function that flushes pending spans. When tracing is
// disabled the returned shutdown is a no-op.
func Setup(ctx context.Context, cfg config.OtelConfig) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads these for resource attribution.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	slog.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
