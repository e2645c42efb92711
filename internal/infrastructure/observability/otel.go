package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "github.com/visitscribe/backend"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount    metric.Int64Counter
	RequestDuration metric.Float64Histogram
	DBQueryDuration metric.Float64Histogram

	SweepStaleVisits   metric.Int64Counter
	SweepRetriedVisits metric.Int64Counter
	SweepFailedVisits  metric.Int64Counter

	OperationAttempts    metric.Int64Counter
	OperationFailures    metric.Int64Counter
	OperationAlerts      metric.Int64Counter
	OperationEscalations metric.Int64Counter
}

// Setup initializes OpenTelemetry
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace provider
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Set up metric exporter
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return nil, err
	}

	// Shutdown function
	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dbQueryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sweepStale, err := meter.Int64Counter(
		"pipeline.sweep.stale_visits",
		metric.WithDescription("Stale visits found by the sweeper, by stage"),
	)
	if err != nil {
		return nil, err
	}

	sweepRetried, err := meter.Int64Counter(
		"pipeline.sweep.retried_visits",
		metric.WithDescription("Visits the sweeper reset for another attempt"),
	)
	if err != nil {
		return nil, err
	}

	sweepFailed, err := meter.Int64Counter(
		"pipeline.sweep.failed_visits",
		metric.WithDescription("Visits the sweeper moved to failed"),
	)
	if err != nil {
		return nil, err
	}

	opAttempts, err := meter.Int64Counter(
		"pipeline.post_commit.attempts",
		metric.WithDescription("Post-commit operation attempts"),
	)
	if err != nil {
		return nil, err
	}

	opFailures, err := meter.Int64Counter(
		"pipeline.post_commit.failures",
		metric.WithDescription("Post-commit operation failures"),
	)
	if err != nil {
		return nil, err
	}

	opAlerts, err := meter.Int64Counter(
		"pipeline.post_commit.alerts",
		metric.WithDescription("Operations past the alert threshold"),
	)
	if err != nil {
		return nil, err
	}

	opEscalations, err := meter.Int64Counter(
		"pipeline.post_commit.escalations",
		metric.WithDescription("Operations escalated to the operator queue"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCount:         requestCount,
		RequestDuration:      requestDuration,
		DBQueryDuration:      dbQueryDuration,
		SweepStaleVisits:     sweepStale,
		SweepRetriedVisits:   sweepRetried,
		SweepFailedVisits:    sweepFailed,
		OperationAttempts:    opAttempts,
		OperationFailures:    opFailures,
		OperationAlerts:      opAlerts,
		OperationEscalations: opEscalations,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(meterName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records a request metric with attributes
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDBMetric records a database operation metric
func RecordDBMetric(ctx context.Context, metrics *Metrics, operation string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
	}
	metrics.DBQueryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordOperationAttempt records one post-commit operation attempt
func RecordOperationAttempt(ctx context.Context, metrics *Metrics, operation string, succeeded bool) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pipeline.operation", operation))
	metrics.OperationAttempts.Add(ctx, 1, attrs)
	if !succeeded {
		metrics.OperationFailures.Add(ctx, 1, attrs)
	}
}
