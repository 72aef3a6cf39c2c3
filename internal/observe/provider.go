package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "medconnect-voice".
	ServiceName string

	// ServiceVersion is reported in telemetry when non-empty.
	ServiceVersion string

	// TraceExporter receives finished spans. When nil, spans are recorded
	// but not exported.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider registers global meter and tracer providers and the W3C trace
// context propagator. Metrics are exposed through a Prometheus exporter,
// served by [MetricsHandler].
//
// The returned shutdown function flushes and closes the providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "medconnect-voice"
	}

	// 1. Describe the service.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// 2. Meter provider backed by the Prometheus exporter.
	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	// 3. Tracer provider, batching to the exporter when one is configured.
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	// 4. W3C trace context propagation.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	shutdownFuncs := []func(context.Context) error{mp.Shutdown, tp.Shutdown}
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if e := fn(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		return errors.Join(errs...)
	}, nil
}

// MetricsHandler serves the Prometheus exposition of the default registry,
// which the exporter registered by [InitProvider] writes to.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
