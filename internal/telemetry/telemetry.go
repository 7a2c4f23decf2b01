// Package telemetry adapts libs/go/core/otelinit from the teacher
// monorepo: a tracer and a meter provider wired over OTLP/gRPC, both
// falling back to a no-op shutdown when the collector is unreachable so
// that the supervisor never fails to start for want of a collector.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// Shutdown functions returned by InitTracer/InitMetrics; both are always
// non-nil and safe to call unconditionally during teardown.
type Shutdown func(context.Context) error

func endpoint() string {
	if e := os.Getenv("SUPERVISOR_OTLP_ENDPOINT"); e != "" {
		return e
	}
	if e := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); e != "" {
		return e
	}
	return "localhost:4317"
}

// InitTracer configures a global tracer provider with an OTLP/gRPC
// exporter, named for service.
func InitTracer(ctx context.Context, service string) Shutdown {
	ep := endpoint()
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(ep),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel tracer init failed, continuing without export", "error", err)
		return func(context.Context) error { return nil }
	}
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		attribute.String("service.name", service),
	))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", ep)
	return tp.Shutdown
}

// Metrics holds the instruments shared across the supervisor's components,
// mirroring dag_engine.go's taskDuration/taskRetries/parallelismGauge
// pattern but scoped to lifecycle transitions and dispatcher throughput.
type Metrics struct {
	Transitions   metric.Int64Counter
	StopTimeouts  metric.Int64Counter
	Commands      metric.Int64Counter
	CommandsDrops metric.Int64Counter
	RunningGauge  metric.Int64UpDownCounter
}

// InitMetrics configures a global OTLP/gRPC meter provider, falling back
// to a no-op exporter, and returns the common instrument set.
func InitMetrics(ctx context.Context, service string) (Shutdown, Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		attribute.String("service.name", service),
	))
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint()),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics init failed, continuing without export", "error", err)
		return func(context.Context) error { return nil }, buildInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint())
	return mp.Shutdown, buildInstruments()
}

func buildInstruments() Metrics {
	meter := otel.Meter("supervisor")
	transitions, _ := meter.Int64Counter("supervisor_service_transitions_total")
	stopTimeouts, _ := meter.Int64Counter("supervisor_stop_timeouts_total")
	commands, _ := meter.Int64Counter("supervisor_dispatcher_commands_total")
	drops, _ := meter.Int64Counter("supervisor_dispatcher_commands_dropped_total")
	running, _ := meter.Int64UpDownCounter("supervisor_services_running")
	return Metrics{
		Transitions:   transitions,
		StopTimeouts:  stopTimeouts,
		Commands:      commands,
		CommandsDrops: drops,
		RunningGauge:  running,
	}
}

// Flush bounds shutdown to 3s, matching libs/go/core/otelinit.Flush.
func Flush(ctx context.Context, shutdown Shutdown) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
