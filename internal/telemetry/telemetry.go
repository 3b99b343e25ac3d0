// Package telemetry sets up OpenTelemetry tracing and Prometheus-backed
// metrics for the service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

// Config selects the exporters.
type Config struct {
	// ServiceName is reported as service.name.
	ServiceName string
	// Environment is reported as deployment.environment.
	Environment string
	// OTLPEndpoint enables the OTLP gRPC trace exporter when set.
	OTLPEndpoint string
	// OTLPInsecure disables TLS for the OTLP exporter.
	OTLPInsecure bool
	// StdoutTraces prints spans when no OTLP endpoint is set.
	StdoutTraces bool
	// TraceWriter is where stdout traces go. Defaults to os.Stdout.
	TraceWriter io.Writer
}

// Telemetry owns the tracer and meter providers.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metricsHandler http.Handler
	exporter       string
}

// Setup builds the providers and installs them as the otel globals.
// Without an OTLP endpoint or stdout tracing, spans are sampled out.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "speechstitch"
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	t := &Telemetry{}
	if err := t.initTracer(ctx, cfg, res); err != nil {
		return nil, err
	}
	if err := t.initMetrics(res); err != nil {
		_ = t.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	logger.Info("telemetry initialized", slog.String("exporter", t.exporter))
	return t, nil
}

func (t *Telemetry) initTracer(ctx context.Context, cfg Config, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch endpoint := strings.TrimSpace(cfg.OTLPEndpoint); {
	case endpoint != "":
		eopts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			eopts = append(eopts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, eopts...)
		if err != nil {
			return fmt.Errorf("telemetry: create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		t.exporter = "otlp"
	case cfg.StdoutTraces:
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return fmt.Errorf("telemetry: create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		t.exporter = "stdout"
	default:
		opts = append(opts, sdktrace.WithSampler(sdktrace.NeverSample()))
		t.exporter = "none"
	}

	t.tracerProvider = sdktrace.NewTracerProvider(opts...)
	return nil
}

// initMetrics uses a private registry so repeated setups in one process
// do not collide on the default registerer.
func (t *Telemetry) initMetrics(res *resource.Resource) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	t.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return nil
}

// MetricsHandler serves the Prometheus exposition format.
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// Meter returns a meter from the owned provider.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.meterProvider.Meter(name)
}

// Tracer returns a tracer from the owned provider.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.tracerProvider.Tracer(name)
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
