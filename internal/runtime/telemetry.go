package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scribelabs/scribe-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// telemetry bundles the runtime's tracer and meter providers with the
// prometheus scrape handler served on the dedicated metrics listener.
type telemetry struct {
	traces  *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	metrics http.Handler
}

func newTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	t := &telemetry{}

	exporter, err := newTraceExporter(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}
	t.traces = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(t.traces)

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if promExporter, err := prometheus.New(); err != nil {
		logger.Warn("prometheus exporter unavailable, metrics will not be scraped",
			slog.String("error", err.Error()))
	} else {
		metricOpts = append(metricOpts, sdkmetric.WithReader(promExporter))
		t.metrics = promhttp.Handler()
	}
	t.meters = sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(t.meters)

	return t, nil
}

// newTraceExporter prefers the configured OTLP collector and falls back to
// pretty-printed stdout spans for local development.
func newTraceExporter(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		logger.Info("tracing to OTLP collector", slog.String("endpoint", endpoint))
		return otlptracegrpc.New(ctx, opts...)
	}
	logger.Info("no OTLP endpoint configured, tracing to stdout")
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.meters != nil {
		if err := t.meters.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.traces != nil {
		if err := t.traces.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
