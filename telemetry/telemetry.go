//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package telemetry exports containment decisions, safety events and
// committed cost over OpenTelemetry. Without Start the globals are
// no-ops, so instrumented code pays nothing when telemetry is off.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	noopt "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// Tracer is the global tracer for containment spans.
	Tracer trace.Tracer = noopt.Tracer{}
	// Meter is the global meter for containment instruments.
	Meter metric.Meter = noopm.Meter{}
)

const scopeName = "trpc.agent.guard"

// Start wires the OTLP gRPC exporters and swaps the global tracer and
// meter in. The returned clean function flushes and shuts both
// providers down.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{
		tracesEndpoint:   tracesEndpoint(),
		metricsEndpoint:  metricsEndpoint(),
		serviceName:      "guard",
		serviceVersion:   "v0.1.0",
		serviceNamespace: "trpc-agent-guard",
	}
	for _, opt := range opts {
		opt(options)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(options.serviceNamespace),
			semconv.ServiceName(options.serviceName),
			semconv.ServiceVersion(options.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracesConn, err := newConn(options.tracesEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize traces connection: %w", err)
	}
	shutdownTracerProvider, err := initTracerProvider(ctx, res, tracesConn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
	}

	metricsConn := tracesConn
	if options.metricsEndpoint != options.tracesEndpoint {
		metricsConn, err = newConn(options.metricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", err)
		}
	}
	shutdownMeterProvider, err := initMeterProvider(ctx, res, metricsConn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}

	clean = func() error {
		var err error
		if tracerErr := shutdownTracerProvider(ctx); tracerErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown TracerProvider: %w", tracerErr))
		}
		if meterErr := shutdownMeterProvider(ctx); meterErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown MeterProvider: %w", meterErr))
		}
		return err
	}

	Tracer = otel.Tracer(scopeName)
	Meter = otel.Meter(scopeName)
	return clean, nil
}

func tracesEndpoint() string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "localhost:4317"
}

func metricsEndpoint() string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "localhost:4318"
}

func initTracerProvider(ctx context.Context, res *resource.Resource, conn *grpc.ClientConn) (func(context.Context) error, error) {
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tracerProvider.Shutdown, nil
}

func initMeterProvider(ctx context.Context, res *resource.Resource, conn *grpc.ClientConn) (func(context.Context) error, error) {
	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return meterProvider.Shutdown, nil
}

func newConn(endpoint string) (*grpc.ClientConn, error) {
	// Note the use of insecure transport here. TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, err
}

// Option is a function that configures telemetry options.
type Option func(*options)

type options struct {
	tracesEndpoint   string
	metricsEndpoint  string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
}

// WithTracesEndpoint sets the traces endpoint (host and port) the
// exporter will connect to, e.g. "example.com:4317". The OTEL_EXPORTER
// environment variables apply when the option is absent.
func WithTracesEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.tracesEndpoint = endpoint
	}
}

// WithMetricsEndpoint sets the metrics endpoint (host and port) the
// exporter will connect to.
func WithMetricsEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.metricsEndpoint = endpoint
	}
}

// WithServiceName overrides the reported service name.
func WithServiceName(name string) Option {
	return func(opts *options) {
		opts.serviceName = name
	}
}
