package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// ControllerMetrics holds the instruments the Controller records against.
type ControllerMetrics struct {
	FramesRead       metric.Int64Counter
	RequestsTotal    metric.Int64Counter
	RequestErrors    metric.Int64Counter
	DispatchDuration metric.Float64Histogram
	WorkersGauge     metric.Int64UpDownCounter
	ReadyQueueGauge  metric.Int64UpDownCounter
	ReaperEvictions  metric.Int64Counter
}

// InitMetrics sets up a global OTLP metrics exporter (push). Returns a shutdown func.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, metrics ControllerMetrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed, metrics disabled", "error", err)
		return func(context.Context) error { return nil }, newInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, newInstruments()
}

func newInstruments() ControllerMetrics {
	meter := otel.Meter(TracerName)
	framesRead, _ := meter.Int64Counter("fabric_frames_read_total")
	requests, _ := meter.Int64Counter("fabric_requests_total")
	requestErrors, _ := meter.Int64Counter("fabric_request_errors_total")
	dispatch, _ := meter.Float64Histogram("fabric_dispatch_duration_ms")
	workers, _ := meter.Int64UpDownCounter("fabric_workers_registered")
	readyQueue, _ := meter.Int64UpDownCounter("fabric_ready_queue_depth")
	reaperEvictions, _ := meter.Int64Counter("fabric_reaper_evictions_total")
	return ControllerMetrics{
		FramesRead:       framesRead,
		RequestsTotal:    requests,
		RequestErrors:    requestErrors,
		DispatchDuration: dispatch,
		WorkersGauge:     workers,
		ReadyQueueGauge:  readyQueue,
		ReaperEvictions:  reaperEvictions,
	}
}
